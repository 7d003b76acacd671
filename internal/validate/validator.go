// Package validate checks responses against the expectations implied by the
// requests that produced them.
package validate

import (
	"fmt"
	"strconv"
	"strings"

	phttp "github.com/wesleyorama2/pipestress/internal/http"
	"github.com/wesleyorama2/pipestress/internal/script"
	"github.com/wesleyorama2/pipestress/pkg/jsonpath"
	"github.com/wesleyorama2/pipestress/pkg/jsonschema"
)

// Rule names reported in failures.
const (
	RuleStatus        = "status"
	RuleHeadBody      = "head-body"
	RuleOrder         = "order"
	RuleEchoLength    = "echo-length"
	RuleBodySchema    = "body-schema"
	RuleContentLength = "content-length"
	RuleMissing       = "missing-response"
)

// DefaultEchoHeader carries the received body length when a request does not
// name its own header.
const DefaultEchoHeader = "X-Received-Length"

// Failure is one violated expectation.
type Failure struct {
	Rule    string
	Reason  string
	Request script.RequestSpec
	Record  *phttp.ResponseRecord
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s: %s", f.Request.DisplayName(), f.Rule, f.Reason)
}

// ValidationFailure is the name used for Failure in reports.
type ValidationFailure = Failure

// Outcome is the verdict on one response.
type Outcome struct {
	Passed   bool
	Failures []*Failure
}

func (o *Outcome) fail(rule string, spec script.RequestSpec, rec *phttp.ResponseRecord, format string, args ...interface{}) {
	o.Passed = false
	o.Failures = append(o.Failures, &Failure{
		Rule:    rule,
		Reason:  fmt.Sprintf(format, args...),
		Request: spec,
		Record:  rec,
	})
}

// Validator checks response records. It holds no mutable state and is safe
// for concurrent use.
type Validator struct {
	sizes phttp.BodySizes
}

// New creates a validator. sizes must match the builder that produced the
// requests, so echoed lengths can be compared with what was sent.
func New(sizes phttp.BodySizes) *Validator {
	return &Validator{sizes: sizes}
}

// Validate checks one response against the request it answers.
//
// The record's Seq is taken as the request's position in its group; a target
// that echoed a different position answered out of order.
func (v *Validator) Validate(spec script.RequestSpec, rec *phttp.ResponseRecord) Outcome {
	out := Outcome{Passed: true}
	if rec == nil {
		out.fail(RuleMissing, spec, nil, "no response received")
		return out
	}

	v.checkStatus(&out, spec, rec)

	if rec.EchoSeq >= 0 && rec.EchoSeq != rec.Seq {
		out.fail(RuleOrder, spec, rec, "response for request %d arrived at position %d", rec.EchoSeq, rec.Seq)
	}

	if spec.Method == "HEAD" {
		if len(rec.Body) != 0 {
			out.fail(RuleHeadBody, spec, rec, "HEAD response carried %d body bytes", len(rec.Body))
		}
	} else if rec.ContentLength >= 0 && rec.ContentLength != int64(len(rec.Body)) {
		out.fail(RuleContentLength, spec, rec, "Content-Length %d but %d body bytes read", rec.ContentLength, len(rec.Body))
	}

	if spec.Expect.EchoLength || isBigPost(spec) {
		v.checkEcho(&out, spec, rec)
	}

	if spec.Expect.BodySchema != "" {
		v.checkSchema(&out, spec, rec)
	}
	return out
}

// ValidateGroup pairs the records of group gi with its requests by position
// and validates each pair. Requests without a response fail with
// RuleMissing. The returned outcomes follow request order.
func (v *Validator) ValidateGroup(group script.RequestGroup, gi int, records []*phttp.ResponseRecord) []Outcome {
	outcomes := make([]Outcome, len(group.Requests))
	for i, spec := range group.Requests {
		var rec *phttp.ResponseRecord
		if i < len(records) {
			rec = records[i]
		}
		outcomes[i] = v.Validate(spec, rec)

		if rec != nil && (rec.Seq != i || rec.Group != gi) {
			outcomes[i].fail(RuleOrder, spec, rec, "record for group %d position %d paired with group %d position %d", rec.Group, rec.Seq, gi, i)
		}
	}
	return outcomes
}

func (v *Validator) checkStatus(out *Outcome, spec script.RequestSpec, rec *phttp.ResponseRecord) {
	switch {
	case spec.Expect.Status != 0:
		if rec.StatusCode != spec.Expect.Status {
			out.fail(RuleStatus, spec, rec, "expected status %d, got %s", spec.Expect.Status, statusText(rec))
		}
	case spec.Expect.Error:
		if !rec.IsError() {
			out.fail(RuleStatus, spec, rec, "expected an error status, got %s", statusText(rec))
		}
	default:
		if !rec.IsSuccess() {
			out.fail(RuleStatus, spec, rec, "expected a 2xx status, got %s", statusText(rec))
		}
	}
}

func (v *Validator) checkEcho(out *Outcome, spec script.RequestSpec, rec *phttp.ResponseRecord) {
	sent := int64(v.sizes.Bytes(spec.Body.Size))

	var (
		received int64
		err      error
	)
	if spec.Expect.EchoJSONPath != "" {
		received, err = jsonpath.ExtractInt(rec.Body, spec.Expect.EchoJSONPath)
		if err != nil {
			out.fail(RuleEchoLength, spec, rec, "cannot read echoed length at %q: %v", spec.Expect.EchoJSONPath, err)
			return
		}
	} else {
		header := spec.Expect.EchoHeader
		if header == "" {
			header = DefaultEchoHeader
		}
		raw := strings.TrimSpace(rec.GetHeader(header))
		if raw == "" {
			out.fail(RuleEchoLength, spec, rec, "target did not report a received length in %s", header)
			return
		}
		received, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			out.fail(RuleEchoLength, spec, rec, "invalid %s %q", header, raw)
			return
		}
	}

	if received != sent {
		out.fail(RuleEchoLength, spec, rec, "sent %d body bytes, target received %d", sent, received)
	}
}

func (v *Validator) checkSchema(out *Outcome, spec script.RequestSpec, rec *phttp.ResponseRecord) {
	schema, err := jsonschema.Compile(spec.Expect.BodySchema)
	if err != nil {
		out.fail(RuleBodySchema, spec, rec, "invalid body schema: %v", err)
		return
	}
	if errs := schema.ValidateJSON(rec.Body); errs != nil {
		out.fail(RuleBodySchema, spec, rec, "%v", errs)
	}
}

// isBigPost reports whether spec uploads a big body. Such uploads always
// require the target to confirm the full length.
func isBigPost(spec script.RequestSpec) bool {
	return spec.Method == "POST" && spec.Body.Size == script.BodyBig
}

func statusText(rec *phttp.ResponseRecord) string {
	if rec.Status != "" {
		return rec.Status
	}
	return strconv.Itoa(rec.StatusCode)
}
