package script

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/pipestress/pkg/jsonschema"
)

// File is the on-disk form of a set of scenario definitions.
//
// Example YAML:
//
//	scenarios:
//	  - name: post_then_get
//	    connection: persistent
//	    groups:
//	      - requests:
//	          - method: POST
//	            path: /upload
//	            body: {size: big}
//	            expect: {echoLength: true}
//	          - method: GET
//	            path: /
type File struct {
	Scenarios []*TrafficScript `json:"scenarios" yaml:"scenarios"`
}

// fileSchema describes the accepted structure of a scenario file.
const fileSchema = `{
	"type": "object",
	"required": ["scenarios"],
	"additionalProperties": false,
	"properties": {
		"scenarios": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name", "groups"],
				"additionalProperties": false,
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"description": {"type": "string"},
					"connection": {"enum": ["persistent", "per-group"]},
					"groups": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"required": ["requests"],
							"additionalProperties": false,
							"properties": {
								"requests": {
									"type": "array",
									"minItems": 1,
									"items": {"$ref": "#/definitions/request"}
								}
							}
						}
					}
				}
			}
		}
	},
	"definitions": {
		"request": {
			"type": "object",
			"required": ["method", "path"],
			"additionalProperties": false,
			"properties": {
				"name": {"type": "string"},
				"method": {"enum": ["GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS", "PATCH", "TRACE"]},
				"path": {"type": "string", "minLength": 1},
				"headers": {"type": "object", "additionalProperties": {"type": "string"}},
				"raw": {"type": "boolean"},
				"body": {
					"type": "object",
					"additionalProperties": false,
					"properties": {
						"size": {"enum": ["empty", "small", "big"]},
						"content": {"type": "string"}
					}
				},
				"expect": {
					"type": "object",
					"additionalProperties": false,
					"properties": {
						"status": {"type": "integer", "minimum": 100, "maximum": 599},
						"error": {"type": "boolean"},
						"echoLength": {"type": "boolean"},
						"echoHeader": {"type": "string"},
						"echoJsonPath": {"type": "string"},
						"bodySchema": {"type": "string"}
					}
				}
			}
		}
	}
}`

// LoadFile reads scenario definitions from a YAML or JSON file.
//
// The format is determined by extension: .json is JSON, anything else is
// parsed as YAML. The document is checked against the scenario file schema
// before it is decoded.
func LoadFile(path string) ([]*TrafficScript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scripts, err := ParseFile(data, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scripts, nil
}

// ParseFile parses scenario definitions. path is only used to pick the format.
func ParseFile(data []byte, path string) ([]*TrafficScript, error) {
	isJSON := strings.ToLower(filepath.Ext(path)) == ".json"

	if err := checkSchema(data, isJSON); err != nil {
		return nil, err
	}

	var file File
	if isJSON {
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse JSON scenarios: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse YAML scenarios: %w", err)
		}
	}

	for _, s := range file.Scenarios {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return file.Scenarios, nil
}

// checkSchema validates the raw document against fileSchema. YAML is first
// normalized through JSON so the validator sees plain JSON values.
func checkSchema(data []byte, isJSON bool) error {
	var doc interface{}
	if isJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse JSON scenarios: %w", err)
		}
	} else {
		var raw interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("failed to parse YAML scenarios: %w", err)
		}
		normalized, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("scenario file is not representable as JSON: %w", err)
		}
		if err := json.Unmarshal(normalized, &doc); err != nil {
			return err
		}
	}

	schema, err := jsonschema.Compile(fileSchema)
	if err != nil {
		return err
	}
	if errs := schema.ValidateValue(doc); errs != nil {
		return fmt.Errorf("invalid scenario file: %w", errs)
	}
	return nil
}

// LoadFiles registers every scenario found in the given files.
func (r *Registry) LoadFiles(paths ...string) error {
	for _, path := range paths {
		scripts, err := LoadFile(path)
		if err != nil {
			return err
		}
		for _, s := range scripts {
			if err := r.Register(s); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
	}
	return nil
}
