package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtraVars(t *testing.T) {
	values, err := ParseExtraVars([]string{
		"name=Alice",
		"query=a=b",
		"age:=30",
		"admin:=true",
		"tags:=[\"x\",\"y\"]",
		"meta:={\"k\":1}",
		"empty",
		"",
	})
	require.NoError(t, err)

	assert.Equal(t, "Alice", values["name"])
	assert.Equal(t, "a=b", values["query"])
	assert.Equal(t, json.Number("30"), values["age"])
	assert.Equal(t, true, values["admin"])
	assert.Equal(t, []any{"x", "y"}, values["tags"])
	assert.Equal(t, map[string]any{"k": json.Number("1")}, values["meta"])
	assert.Equal(t, "", values["empty"])
	assert.Len(t, values, 7)
}

func TestParseExtraVarsErrors(t *testing.T) {
	_, err := ParseExtraVars([]string{"=value"})
	assert.ErrorContains(t, err, "missing name")

	_, err = ParseExtraVars([]string{":=1"})
	assert.ErrorContains(t, err, "missing name")

	_, err = ParseExtraVars([]string{"age:=thirty"})
	assert.ErrorContains(t, err, "invalid JSON for variable 'age'")

	_, err = ParseExtraVars([]string{"age:=1 2"})
	assert.ErrorContains(t, err, "trailing data")
}
