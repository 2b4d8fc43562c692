package testutil

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// AssertFileContains asserts that a file contains the expected substring.
func AssertFileContains(t testing.TB, path, expected string, msgAndArgs ...interface{}) {
	t.Helper()

	content, err := os.ReadFile(path)
	require.NoError(t, err, "failed to read file: %s", path)
	assert.Contains(t, string(content), expected, msgAndArgs...)
}

// AssertYAMLFile asserts that the YAML file at path is semantically equal
// to expected.
func AssertYAMLFile(t testing.TB, path, expected string, msgAndArgs ...interface{}) {
	t.Helper()

	content, err := os.ReadFile(path)
	require.NoError(t, err, "failed to read file: %s", path)

	var expectedValue, actualValue interface{}
	require.NoError(t, yaml.Unmarshal([]byte(expected), &expectedValue), "failed to parse expected YAML")
	require.NoError(t, yaml.Unmarshal(content, &actualValue), "failed to parse %s", path)
	assert.Equal(t, expectedValue, actualValue, msgAndArgs...)
}
