package campaigns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContactsCSV(t *testing.T) {
	data := []byte("phone,name,order_id\n919876543210,Asha,ORD-1\n919876543211,Ravi,ORD-2\n")

	rows, err := ParseContactsCSV(data)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "919876543210", rows[0].Phone)
	assert.Equal(t, map[string]string{"name": "Asha", "order_id": "ORD-1"}, rows[0].Variables)
	assert.Equal(t, "919876543211", rows[1].Phone)
	assert.Equal(t, "Ravi", rows[1].Variables["name"])
}

func TestParseContactsCSV_SkipsEmptyRows(t *testing.T) {
	data := []byte("phone,name\n919876543210,Asha\n,\n\"\",\"\"\n919876543211,Ravi\n")

	rows, err := ParseContactsCSV(data)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestParseContactsCSV_ShortRows(t *testing.T) {
	// Rows may omit trailing variable cells
	data := []byte("phone,name,order_id\n919876543210,Asha\n")

	rows, err := ParseContactsCSV(data)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Asha", rows[0].Variables["name"])
	assert.Empty(t, rows[0].Variables["order_id"])
}

func TestParseContactsCSV_NoVariableColumns(t *testing.T) {
	data := []byte("phone\n919876543210\n")

	rows, err := ParseContactsCSV(data)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].Variables)
}

func TestParseContactsCSV_Empty(t *testing.T) {
	_, err := ParseContactsCSV([]byte(""))
	assert.Error(t, err)
}
