package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlScenarios = `
scenarios:
  - name: upload_then_get
    description: big upload followed by a pipelined GET
    connection: per-group
    groups:
      - requests:
          - name: upload
            method: POST
            path: /upload
            headers:
              content-type: application/octet-stream
              Content-Type: text/plain
            body:
              size: big
              content: "0123456789"
            expect:
              echoLength: true
          - method: GET
            path: /
            expect:
              status: 200
`

const jsonScenarios = `{
  "scenarios": [
    {
      "name": "json_head",
      "groups": [
        {"requests": [
          {"method": "HEAD", "path": "/", "headers": {"X-A": "1", "x-a": "2"}},
          {"method": "GET", "path": "/missing", "expect": {"error": true}}
        ]}
      ]
    }
  ]
}`

func TestParseFile_YAML(t *testing.T) {
	scripts, err := ParseFile([]byte(yamlScenarios), "scenarios.yaml")
	require.NoError(t, err)
	require.Len(t, scripts, 1)

	s := scripts[0]
	assert.Equal(t, "upload_then_get", s.Name)
	assert.Equal(t, ConnPerGroup, s.Connection)
	require.Len(t, s.Groups, 1)
	require.Len(t, s.Groups[0].Requests, 2)

	upload := s.Groups[0].Requests[0]
	assert.Equal(t, "upload", upload.Name)
	assert.Equal(t, BodyBig, upload.Body.Size)
	assert.Equal(t, "0123456789", upload.Body.Content)
	assert.True(t, upload.Expect.EchoLength)
	// Later keys win regardless of case.
	assert.Equal(t, Header{"Content-Type": "text/plain"}, upload.Headers)

	assert.Equal(t, 200, s.Groups[0].Requests[1].Expect.Status)
}

func TestParseFile_JSON(t *testing.T) {
	scripts, err := ParseFile([]byte(jsonScenarios), "scenarios.json")
	require.NoError(t, err)
	require.Len(t, scripts, 1)

	reqs := scripts[0].Groups[0].Requests
	assert.Equal(t, Header{"X-A": "2"}, reqs[0].Headers)
	assert.True(t, reqs[1].Expect.Error)
}

func TestParseFile_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "No scenarios", doc: "scenarios: []"},
		{name: "Unknown field", doc: "scenarios:\n  - name: x\n    groups: [{requests: [{method: GET, path: /}]}]\n    retries: 3\n"},
		{name: "Bad method", doc: "scenarios:\n  - name: x\n    groups: [{requests: [{method: FETCH, path: /}]}]\n"},
		{name: "Bad size", doc: "scenarios:\n  - name: x\n    groups: [{requests: [{method: POST, path: /, body: {size: huge}}]}]\n"},
		{name: "Empty group", doc: "scenarios:\n  - name: x\n    groups: [{requests: []}]\n"},
		{name: "Status out of range", doc: "scenarios:\n  - name: x\n    groups: [{requests: [{method: GET, path: /, expect: {status: 42}}]}]\n"},
		{name: "Not YAML", doc: "scenarios: [unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFile([]byte(tt.doc), "bad.yaml")
			assert.Error(t, err)
		})
	}
}

func TestRegistry_LoadFiles(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "custom.yaml")
	jsonPath := filepath.Join(dir, "custom.json")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlScenarios), 0o644))
	require.NoError(t, os.WriteFile(jsonPath, []byte(jsonScenarios), 0o644))

	r, err := NewRegistry(Builtin()...)
	require.NoError(t, err)
	require.NoError(t, r.LoadFiles(yamlPath, jsonPath))

	assert.Contains(t, r.Names(), "upload_then_get")
	assert.Contains(t, r.Names(), "json_head")
	assert.Contains(t, r.Names(), "head_get")

	// Loading the same file twice collides on scenario names.
	err = r.LoadFiles(yamlPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	err = r.LoadFiles(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
