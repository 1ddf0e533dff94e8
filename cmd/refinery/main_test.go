package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const testConfig = `
version: "1.0"
name: cli test
pipelines:
  - id: passthrough
    name: Passthrough
    stages:
      - id: extract
        name: Extract
        type: extract
        order: 1
      - id: clean
        name: Clean
        type: transform
        order: 2
      - id: load
        name: Load
        type: load
        order: 3
`

const testInput = `
- name: ada
  score: 10
- name: grace
  score: 20
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Refinery dev")
	assert.Contains(t, out, "commit: none")
}

func TestValidateCmd(t *testing.T) {
	path := writeTemp(t, "refinery.yaml", testConfig)

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "1 pipeline(s) valid")

	_, err = execute(t, "validate", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRunCmd(t *testing.T) {
	cfgPath := writeTemp(t, "refinery.yaml", testConfig)
	inPath := writeTemp(t, "input.yaml", testInput)
	outPath := filepath.Join(t.TempDir(), "output.yaml")

	out, err := execute(t, "run", cfgPath, "--input", inPath, "--output", outPath)
	require.NoError(t, err)
	assert.Contains(t, out, "pipeline passthrough: completed")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, yaml.Unmarshal(data, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "ada", rows[0]["name"])
}

func TestRunCmdUnknownPipeline(t *testing.T) {
	cfgPath := writeTemp(t, "refinery.yaml", testConfig)

	_, err := execute(t, "run", cfgPath, "--pipeline", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pipeline matched")
}
