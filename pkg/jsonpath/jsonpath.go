// Package jsonpath extracts values from JSON response bodies.
package jsonpath

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Extract extracts a value from a JSON document using a JSONPath expression
func Extract(json []byte, path string) (string, error) {
	result, err := lookup(json, path)
	if err != nil {
		return "", err
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// ExtractInt extracts an integer value from a JSON document. Numeric strings
// are accepted as well as JSON numbers.
func ExtractInt(json []byte, path string) (int64, error) {
	result, err := lookup(json, path)
	if err != nil {
		return 0, err
	}

	switch result.Type {
	case gjson.Number:
		if result.Num != float64(int64(result.Num)) {
			return 0, fmt.Errorf("value at %s is not an integer: %s", path, result.Raw)
		}
		return result.Int(), nil
	case gjson.String:
		var n int64
		if _, err := fmt.Sscanf(result.Str, "%d", &n); err != nil {
			return 0, fmt.Errorf("value at %s is not an integer: %q", path, result.Str)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("value at %s is not an integer: %s", path, result.Raw)
	}
}

func lookup(json []byte, path string) (gjson.Result, error) {
	if len(json) == 0 {
		return gjson.Result{}, fmt.Errorf("empty JSON document")
	}
	if path == "" {
		return gjson.Result{}, fmt.Errorf("empty JSONPath expression")
	}
	if !gjson.ValidBytes(json) {
		return gjson.Result{}, fmt.Errorf("invalid JSON document")
	}

	result := gjson.GetBytes(json, convertToGjsonPath(path))
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("path not found: %s", path)
	}
	return result, nil
}

// convertToGjsonPath converts a JSONPath expression to a gjson path format
//
//	JSONPath: $.users[0].name
//	gjson:    users.0.name
func convertToGjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	// Bracketed keys: ['name'] and ["name"]
	path = strings.NewReplacer("['", ".", "']", "", `["`, ".", `"]`, "").Replace(path)

	// Array indices: [0] -> .0
	path = strings.NewReplacer("[", ".", "]", "").Replace(path)

	return strings.TrimPrefix(path, ".")
}
