package templateutil

import (
	"fmt"
	"regexp"
	"strings"
)

// ParameterPattern matches template parameters like {{1}}, {{name}}, {{order_id}}
var ParameterPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// ParamNames extracts parameter names from template body content.
// Supports both positional ({{1}}, {{2}}) and named ({{name}}, {{order_id}})
// parameters. Returns names in order of first occurrence, without duplicates.
func ParamNames(content string) []string {
	matches := ParameterPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var names []string
	for _, match := range matches {
		if len(match) > 1 {
			name := strings.TrimSpace(match[1])
			if name != "" && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// ResolveParams resolves a queue entry's variables against a template body
// into the ordered parameter list the API expects. Named keys win; positional
// keys (1-indexed) are the fallback; missing values resolve to "". Returns nil
// when vars is empty or the body has no placeholders.
func ResolveParams(bodyContent string, vars map[string]string) []string {
	if len(vars) == 0 {
		return nil
	}

	paramNames := ParamNames(bodyContent)
	if len(paramNames) == 0 {
		return nil
	}

	result := make([]string, len(paramNames))
	for i, name := range paramNames {
		if val, ok := vars[name]; ok {
			result[i] = val
			continue
		}
		key := fmt.Sprintf("%d", i+1)
		if val, ok := vars[key]; ok {
			result[i] = val
			continue
		}
		result[i] = ""
	}
	return result
}

// Render replaces both named and positional placeholders in content with the
// resolved variable values. Used to record the rendered body on the outgoing
// message row.
func Render(bodyContent string, vars map[string]string) string {
	if bodyContent == "" || len(vars) == 0 {
		return bodyContent
	}

	paramNames := ParamNames(bodyContent)
	content := bodyContent
	for i, name := range paramNames {
		var val string
		if v, ok := vars[name]; ok {
			val = v
		} else if v, ok := vars[fmt.Sprintf("%d", i+1)]; ok {
			val = v
		}

		content = strings.ReplaceAll(content, fmt.Sprintf("{{%s}}", name), val)
		content = strings.ReplaceAll(content, fmt.Sprintf("{{%d}}", i+1), val)
	}
	return content
}
