package jsonpath

import (
	"testing"
)

const echoBody = `{
	"method": "POST",
	"path": "/upload",
	"received": 65536,
	"asText": "1024",
	"ratio": 0.5,
	"headers": [
		{"name": "Content-Type", "value": "application/octet-stream"},
		{"name": "X-Pipeline-Seq", "value": "2"}
	],
	"trailer": null
}`

func TestExtract(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		expected      string
		expectedError bool
	}{
		{name: "Simple property", path: "$.method", expected: "POST"},
		{name: "Property without root", path: "path", expected: "/upload"},
		{name: "Numeric property", path: "$.received", expected: "65536"},
		{name: "Array element", path: "$.headers[1].value", expected: "2"},
		{name: "Bracket notation", path: "$['method']", expected: "POST"},
		{name: "Null value", path: "$.trailer", expected: "null"},
		{name: "Missing property", path: "$.missing", expectedError: true},
		{name: "Empty path", path: "", expectedError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Extract([]byte(echoBody), tt.path)
			if tt.expectedError {
				if err == nil {
					t.Errorf("Extract(%q) expected error, got %q", tt.path, result)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract(%q) unexpected error: %v", tt.path, err)
			}
			if result != tt.expected {
				t.Errorf("Extract(%q) = %q, want %q", tt.path, result, tt.expected)
			}
		})
	}
}

func TestExtract_InvalidDocument(t *testing.T) {
	if _, err := Extract(nil, "$.a"); err == nil {
		t.Error("expected error for empty document")
	}
	if _, err := Extract([]byte(`{"a":`), "$.a"); err == nil {
		t.Error("expected error for truncated document")
	}
}

func TestExtractInt(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		expected      int64
		expectedError bool
	}{
		{name: "Number", path: "received", expected: 65536},
		{name: "Numeric string", path: "$.asText", expected: 1024},
		{name: "Fraction", path: "$.ratio", expectedError: true},
		{name: "Non-numeric string", path: "$.method", expectedError: true},
		{name: "Object", path: "$.headers[0]", expectedError: true},
		{name: "Missing", path: "$.nope", expectedError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ExtractInt([]byte(echoBody), tt.path)
			if tt.expectedError {
				if err == nil {
					t.Errorf("ExtractInt(%q) expected error, got %d", tt.path, n)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractInt(%q) unexpected error: %v", tt.path, err)
			}
			if n != tt.expected {
				t.Errorf("ExtractInt(%q) = %d, want %d", tt.path, n, tt.expected)
			}
		})
	}
}

func TestConvertToGjsonPath(t *testing.T) {
	tests := []struct {
		jsonPath  string
		gjsonPath string
	}{
		{"$.name", "name"},
		{"name", "name"},
		{"$['name']", "name"},
		{`$["name"]`, "name"},
		{"$.user.name", "user.name"},
		{"$.items[0]", "items.0"},
		{"$.items[0].name", "items.0.name"},
		{"$.deeply.nested[0].array[1].value", "deeply.nested.0.array.1.value"},
		{"$", "@this"},
		{"$[0]", "0"},
		{"$[0].name", "0.name"},
	}

	for _, tt := range tests {
		t.Run(tt.jsonPath, func(t *testing.T) {
			result := convertToGjsonPath(tt.jsonPath)
			if result != tt.gjsonPath {
				t.Errorf("convertToGjsonPath(%q) = %q, want %q", tt.jsonPath, result, tt.gjsonPath)
			}
		})
	}
}
