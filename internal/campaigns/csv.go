package campaigns

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// ContactRow is one parsed CSV row before validation
type ContactRow struct {
	Phone     string
	Variables map[string]string
}

// ParseContactsCSV parses campaign contact input. The first column is the
// recipient phone; every remaining column is a named template variable, the
// header row supplying the names. Fully empty rows are skipped.
func ParseContactsCSV(data []byte) ([]ContactRow, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	// Rows may have trailing empty cells; don't enforce a fixed width.
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	if len(header) == 0 || strings.TrimSpace(header[0]) == "" {
		return nil, fmt.Errorf("csv header must name the phone column first")
	}

	varNames := make([]string, 0, len(header)-1)
	for _, h := range header[1:] {
		varNames = append(varNames, strings.TrimSpace(h))
	}

	var rows []ContactRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}

		empty := true
		for _, cell := range record {
			if strings.TrimSpace(cell) != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}

		row := ContactRow{
			Phone:     strings.TrimSpace(record[0]),
			Variables: make(map[string]string, len(varNames)),
		}
		for i, name := range varNames {
			if name == "" {
				continue
			}
			if i+1 < len(record) {
				row.Variables[name] = strings.TrimSpace(record[i+1])
			}
		}
		rows = append(rows, row)
	}

	return rows, nil
}
