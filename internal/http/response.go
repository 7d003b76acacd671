package http

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// PipelineSeqHeader carries a request's position in its group. Targets that
// echo it back let the validator detect reordered responses.
const PipelineSeqHeader = "X-Pipeline-Seq"

// ResponseRecord is one response as observed on a connection.
//
// Records are produced by the pipeline driver and handed to the validator;
// they are not shared between goroutines afterwards.
type ResponseRecord struct {
	// ConnID identifies the connection the response arrived on
	ConnID uint64 `json:"connId"`

	// Group is the index of the request group in the script
	Group int `json:"group"`

	// Seq is the arrival position within the group
	Seq int `json:"seq"`

	// ConnSeq is the arrival position on the connection
	ConnSeq int `json:"connSeq"`

	// EchoSeq is the group position echoed by the target, or -1
	EchoSeq int `json:"echoSeq"`

	StatusCode    int           `json:"statusCode"`
	Status        string        `json:"status"`
	Proto         string        `json:"proto"`
	Headers       http.Header   `json:"headers,omitempty"`
	Body          []byte        `json:"-"`
	ContentLength int64         `json:"contentLength"`
	Close         bool          `json:"close,omitempty"`

	// Latency is the time this response took to arrive after the previous
	// one on the connection, or after the group was flushed for the first
	// response of a group. Summed over a group it gives the group latency.
	Latency time.Duration `json:"latency"`
}

// ReadResponse reads one response to a request with the given method.
//
// The body is read in full. For HEAD requests no body is read, whatever the
// Content-Length header says; the caller decides what to do with any bytes a
// target sent anyway.
func ReadResponse(r *bufio.Reader, method string) (*ResponseRecord, error) {
	resp, err := http.ReadResponse(r, &http.Request{Method: method})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	rec := &ResponseRecord{
		EchoSeq:       -1,
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Proto:         resp.Proto,
		Headers:       resp.Header,
		Body:          body,
		ContentLength: resp.ContentLength,
		Close:         resp.Close,
	}
	if v := resp.Header.Get(PipelineSeqHeader); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rec.EchoSeq = n
		}
	}
	return rec, nil
}

// GetHeader returns the value of the specified header
func (r *ResponseRecord) GetHeader(key string) string {
	return r.Headers.Get(key)
}

// IsSuccess returns true if the response status code is in the 2xx range
func (r *ResponseRecord) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsRedirect returns true if the response status code is in the 3xx range
func (r *ResponseRecord) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// IsClientError returns true if the response status code is in the 4xx range
func (r *ResponseRecord) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

// IsServerError returns true if the response status code is in the 5xx range
func (r *ResponseRecord) IsServerError() bool {
	return r.StatusCode >= 500 && r.StatusCode < 600
}

// IsError returns true for 4xx and 5xx responses
func (r *ResponseRecord) IsError() bool {
	return r.IsClientError() || r.IsServerError()
}
