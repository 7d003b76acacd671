// Package script defines traffic scripts: the named, declarative request mixes
// that a stress run sends to a target.
package script

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/textproto"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// BodySize identifies the size class of a request body.
type BodySize string

const (
	// BodyEmpty is a zero-length body.
	BodyEmpty BodySize = "empty"

	// BodySmall fits comfortably in a single network segment.
	BodySmall BodySize = "small"

	// BodyBig is large enough to force multi-segment transmission.
	BodyBig BodySize = "big"
)

// ConnectionPolicy controls how a run maps request groups onto connections.
type ConnectionPolicy string

const (
	// ConnPersistent reuses one connection for every group of a run.
	ConnPersistent ConnectionPolicy = "persistent"

	// ConnPerGroup opens a fresh connection for every group.
	ConnPerGroup ConnectionPolicy = "per-group"
)

// Methods lists the request methods a script may use.
var Methods = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"POST":    true,
	"PUT":     true,
	"DELETE":  true,
	"OPTIONS": true,
	"PATCH":   true,
	"TRACE":   true,
}

// TrafficScript is an ordered sequence of request groups.
//
// A script is immutable once registered; the registry hands out copies.
type TrafficScript struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Connection  ConnectionPolicy `json:"connection,omitempty" yaml:"connection,omitempty"`
	Groups      []RequestGroup   `json:"groups" yaml:"groups"`
}

// RequestGroup is one pipeline unit: its requests are written together and
// their responses are expected in the same order.
type RequestGroup struct {
	Requests []RequestSpec `json:"requests" yaml:"requests"`
}

// RequestSpec describes a single request of a script.
type RequestSpec struct {
	// Name is used in metrics and failure reports
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Method  string   `json:"method" yaml:"method"`
	Path    string   `json:"path" yaml:"path"`
	Headers Header   `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    BodySpec `json:"body,omitempty" yaml:"body,omitempty"`

	// Raw selects unchecked construction, for intentionally invalid requests
	Raw bool `json:"raw,omitempty" yaml:"raw,omitempty"`

	Expect Expectation `json:"expect,omitempty" yaml:"expect,omitempty"`
}

// BodySpec describes a request body by size class and fill pattern.
type BodySpec struct {
	Size BodySize `json:"size,omitempty" yaml:"size,omitempty"`

	// Content is repeated or truncated to the size of the class
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
}

// Expectation describes what a valid response to a request looks like.
type Expectation struct {
	// Status is the exact status code expected; zero means any success code
	Status int `json:"status,omitempty" yaml:"status,omitempty"`

	// Error marks a request that is expected to be rejected (4xx/5xx)
	Error bool `json:"error,omitempty" yaml:"error,omitempty"`

	// EchoLength requires the target to report the full body as received
	EchoLength bool `json:"echoLength,omitempty" yaml:"echoLength,omitempty"`

	// EchoHeader names the response header carrying the received length
	EchoHeader string `json:"echoHeader,omitempty" yaml:"echoHeader,omitempty"`

	// EchoJSONPath locates the received length in a JSON response body
	EchoJSONPath string `json:"echoJsonPath,omitempty" yaml:"echoJsonPath,omitempty"`

	// BodySchema is a JSON Schema the response body must satisfy
	BodySchema string `json:"bodySchema,omitempty" yaml:"bodySchema,omitempty"`
}

// DisplayName returns the request name, or "METHOD path" if it has none.
func (r *RequestSpec) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Method + " " + r.Path
}

// Clone returns a deep copy of the request spec.
func (r RequestSpec) Clone() RequestSpec {
	r.Headers = r.Headers.Clone()
	return r
}

// Clone returns a deep copy of the script.
func (s *TrafficScript) Clone() *TrafficScript {
	out := *s
	out.Groups = make([]RequestGroup, len(s.Groups))
	for i, g := range s.Groups {
		reqs := make([]RequestSpec, len(g.Requests))
		for j, r := range g.Requests {
			reqs[j] = r.Clone()
		}
		out.Groups[i] = RequestGroup{Requests: reqs}
	}
	return &out
}

// RequestCount returns the total number of requests over all groups.
func (s *TrafficScript) RequestCount() int {
	n := 0
	for _, g := range s.Groups {
		n += len(g.Requests)
	}
	return n
}

// Validate checks the structural invariants of a script.
func (s *TrafficScript) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("script name is required")
	}
	switch s.Connection {
	case "", ConnPersistent, ConnPerGroup:
	default:
		return fmt.Errorf("script %s: unknown connection policy %q", s.Name, s.Connection)
	}
	if len(s.Groups) == 0 {
		return fmt.Errorf("script %s: at least one group is required", s.Name)
	}
	for i, g := range s.Groups {
		if len(g.Requests) == 0 {
			return fmt.Errorf("script %s: group %d is empty", s.Name, i)
		}
		for j, r := range g.Requests {
			switch r.Body.Size {
			case "", BodyEmpty, BodySmall, BodyBig:
			default:
				return fmt.Errorf("script %s: group %d request %d: unknown body size %q", s.Name, i, j, r.Body.Size)
			}
		}
	}
	return nil
}

// Header is a request header set with case-insensitive keys.
//
// Keys are stored in canonical MIME form, so setting "content-length" after
// "Content-Length" replaces the earlier value.
type Header map[string]string

// Set stores value under the canonical form of key.
func (h Header) Set(key, value string) {
	h[textproto.CanonicalMIMEHeaderKey(key)] = value
}

// Get returns the value stored under key, ignoring case.
func (h Header) Get(key string) string {
	v, _ := h.Lookup(key)
	return v
}

// Lookup reports the value stored under key, ignoring case.
func (h Header) Lookup(key string) (string, bool) {
	if h == nil {
		return "", false
	}
	v, ok := h[textproto.CanonicalMIMEHeaderKey(key)]
	return v, ok
}

// Del removes key, ignoring case.
func (h Header) Del(key string) {
	delete(h, textproto.CanonicalMIMEHeaderKey(key))
}

// Keys returns the header names in sorted order.
func (h Header) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a copy of the header set.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Canonical rewrites keys into canonical form. Among keys that differ only by
// case, the one sorting last wins.
func (h Header) Canonical() Header {
	if h == nil {
		return nil
	}
	out := make(Header, len(h))
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.Set(strings.TrimSpace(k), h[k])
	}
	return out
}

// UnmarshalYAML decodes a header mapping in document order, so a later key
// overrides an earlier one that differs only by case.
func (h *Header) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("headers: expected a mapping, got %v", node.Tag)
	}
	out := make(Header, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var key, value string
		if err := node.Content[i].Decode(&key); err != nil {
			return err
		}
		if err := node.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("header %s: %w", key, err)
		}
		out.Set(key, value)
	}
	*h = out
	return nil
}

// UnmarshalJSON decodes a header object in document order, so a later key
// overrides an earlier one that differs only by case.
func (h *Header) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*h = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("headers: expected an object")
	}
	out := make(Header)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("header %s: %w", key, err)
		}
		out.Set(key, value)
	}
	*h = out
	return nil
}
