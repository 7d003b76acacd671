package http

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/wesleyorama2/pipestress/internal/script"
)

// DefaultBodyPattern fills bodies whose spec carries no content.
const DefaultBodyPattern = "abcdefghijklmnopqrstuvwxyz"

// BodySizes maps body size classes to byte counts.
type BodySizes struct {
	// Small should fit in a single network segment
	Small int `json:"small" yaml:"small"`

	// Big should span several segments
	Big int `json:"big" yaml:"big"`
}

// DefaultBodySizes returns the size classes used when none are configured.
func DefaultBodySizes() BodySizes {
	return BodySizes{Small: 64, Big: 64 * 1024}
}

// Bytes returns the byte count of a size class.
func (s BodySizes) Bytes(size script.BodySize) int {
	switch size {
	case script.BodySmall:
		return s.Small
	case script.BodyBig:
		return s.Big
	default:
		return 0
	}
}

// MalformedSpecError is returned when a request spec cannot be turned into a
// well-formed request.
type MalformedSpecError struct {
	Request string
	Reason  string
}

func (e *MalformedSpecError) Error() string {
	return fmt.Sprintf("malformed request %q: %s", e.Request, e.Reason)
}

// Builder turns request specs into wire bytes.
//
// Output is deterministic: the same spec always yields the same bytes.
// Builder is safe for concurrent use.
type Builder struct {
	sizes BodySizes
	host  string
}

// BuilderOption is a function that configures a Builder
type BuilderOption func(*Builder)

// WithBodySizes sets the byte counts of the body size classes
func WithBodySizes(sizes BodySizes) BuilderOption {
	return func(b *Builder) {
		b.sizes = sizes
	}
}

// WithHost sets the Host header used when a spec does not carry one
func WithHost(host string) BuilderOption {
	return func(b *Builder) {
		b.host = host
	}
}

// NewBuilder creates a new request builder with the given options
func NewBuilder(options ...BuilderOption) *Builder {
	b := &Builder{
		sizes: DefaultBodySizes(),
		host:  "localhost",
	}
	for _, option := range options {
		option(b)
	}
	return b
}

// Sizes returns the configured body size classes.
func (b *Builder) Sizes() BodySizes {
	return b.sizes
}

// Body returns the body bytes described by a body spec.
func (b *Builder) Body(body script.BodySpec) []byte {
	n := b.sizes.Bytes(body.Size)
	if n <= 0 {
		return nil
	}
	pattern := body.Content
	if pattern == "" {
		pattern = DefaultBodyPattern
	}
	return bytes.Repeat([]byte(pattern), n/len(pattern)+1)[:n]
}

// Materialize builds a request, honoring the spec's Raw flag.
func (b *Builder) Materialize(spec script.RequestSpec) ([]byte, error) {
	if spec.Raw {
		return b.BuildRaw(spec), nil
	}
	return b.Build(spec)
}

// Build constructs the wire form of a well-formed request.
//
// A Content-Length header is added when the spec declares neither a length
// nor chunked transfer coding and the request has a body or is a POST, PUT or
// PATCH. Chunked bodies are sent as a single chunk.
func (b *Builder) Build(spec script.RequestSpec) ([]byte, error) {
	name := spec.DisplayName()
	malformed := func(format string, args ...interface{}) error {
		return &MalformedSpecError{Request: name, Reason: fmt.Sprintf(format, args...)}
	}

	if !script.Methods[spec.Method] {
		return nil, malformed("unsupported method %q", spec.Method)
	}
	if spec.Path == "" || strings.ContainsAny(spec.Path, " \r\n") {
		return nil, malformed("invalid path %q", spec.Path)
	}

	headers := spec.Headers.Canonical()
	if headers == nil {
		headers = script.Header{}
	}
	for k, v := range headers {
		if k == "" || strings.ContainsAny(k, " :\r\n") || strings.ContainsAny(v, "\r\n") {
			return nil, malformed("invalid header %q", k)
		}
	}

	body := b.Body(spec.Body)
	if spec.Method == "HEAD" && len(body) > 0 {
		return nil, malformed("HEAD request cannot carry a body")
	}

	declared, hasLength := headers.Lookup("Content-Length")
	chunked := isChunked(headers.Get("Transfer-Encoding"))
	if hasLength && chunked {
		return nil, malformed("both Content-Length and chunked Transfer-Encoding declared")
	}

	switch {
	case hasLength:
		n, err := strconv.Atoi(strings.TrimSpace(declared))
		if err != nil || n < 0 {
			return nil, malformed("invalid Content-Length %q", declared)
		}
		if n != len(body) {
			return nil, malformed("Content-Length %d does not match body length %d", n, len(body))
		}
	case chunked:
		body = chunk(body)
	case len(body) > 0 || needsLength(spec.Method):
		headers.Set("Content-Length", strconv.Itoa(len(body)))
	}

	return b.write(spec.Method, spec.Path, headers, body), nil
}

// BuildRaw constructs a request without any checks. Headers are written as
// given and the body is appended verbatim; only Host is added if missing.
func (b *Builder) BuildRaw(spec script.RequestSpec) []byte {
	return b.write(spec.Method, spec.Path, spec.Headers.Canonical(), b.Body(spec.Body))
}

func (b *Builder) write(method, path string, headers script.Header, body []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(256 + len(body))

	buf.WriteString(method)
	buf.WriteByte(' ')
	buf.WriteString(path)
	buf.WriteString(" HTTP/1.1\r\n")

	host, ok := headers.Lookup("Host")
	if !ok {
		host = b.host
	}
	buf.WriteString("Host: ")
	buf.WriteString(host)
	buf.WriteString("\r\n")

	for _, k := range headers.Keys() {
		if k == "Host" {
			continue
		}
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(headers[k])
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

func needsLength(method string) bool {
	return method == "POST" || method == "PUT" || method == "PATCH"
}

func isChunked(te string) bool {
	for _, coding := range strings.Split(te, ",") {
		if strings.EqualFold(strings.TrimSpace(coding), "chunked") {
			return true
		}
	}
	return false
}

func chunk(body []byte) []byte {
	var buf bytes.Buffer
	if len(body) > 0 {
		fmt.Fprintf(&buf, "%x\r\n", len(body))
		buf.Write(body)
		buf.WriteString("\r\n")
	}
	buf.WriteString("0\r\n\r\n")
	return buf.Bytes()
}

// ParsedRequest is a request read back from its wire form.
type ParsedRequest struct {
	Method string
	Path   string
	Proto  string
	Host   string
	Header http.Header
	Body   []byte
}

// ParseRequest parses a single request from wire bytes.
func ParseRequest(wire []byte) (*ParsedRequest, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(wire)))
	if err != nil {
		return nil, err
	}
	defer req.Body.Close()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	return &ParsedRequest{
		Method: req.Method,
		Path:   req.RequestURI,
		Proto:  req.Proto,
		Host:   req.Host,
		Header: req.Header,
		Body:   body,
	}, nil
}
