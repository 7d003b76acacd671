package output

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestJSONReporter(t *testing.T) {
	var buf bytes.Buffer
	if err := NewJSONReporter(&buf, false).Report("http://t", sampleResults()); err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	var report Report
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatalf("report is not valid JSON: %v\n%s", err, buf.String())
	}

	if report.Target != "http://t" {
		t.Errorf("Target = %q", report.Target)
	}
	if report.Passed {
		t.Error("a failed scenario should fail the report")
	}
	if len(report.Scenarios) != 2 || report.Scenarios[0].Name != "head_get" {
		t.Fatalf("unexpected scenarios: %+v", report.Scenarios)
	}

	head := report.Scenarios[0]
	if head.State != "PASSED" || len(head.Runs) != 0 {
		t.Errorf("head_get: state %s, %d runs listed", head.State, len(head.Runs))
	}
	if head.Metrics == nil || head.Metrics.BytesSent != 1234 {
		t.Errorf("head_get metrics = %+v", head.Metrics)
	}

	post := report.Scenarios[1]
	if post.State != "FAILED" || post.Counts.Skipped != 2 {
		t.Errorf("post_big: state %s, counts %+v", post.State, post.Counts)
	}
	ff := post.FirstFailure
	if ff == nil {
		t.Fatal("post_big should report its first failure")
	}
	if ff.Rule != "echo-length" || ff.Request != "POST big" || ff.ConnID != 7 || ff.Status != 200 {
		t.Errorf("first failure = %+v", ff)
	}
	if ff.Iteration == nil || *ff.Iteration != 1 || ff.Seq == nil || *ff.Seq != 0 {
		t.Errorf("first failure position = %+v", ff)
	}

	if len(post.Runs) != 2 {
		t.Fatalf("only non-passing runs should be listed, got %d", len(post.Runs))
	}
	if len(post.Runs[0].Failures) != 1 || post.Runs[0].Failures[0].Reason != "sent 65536 body bytes, target received 65535" {
		t.Errorf("failed run = %+v", post.Runs[0])
	}
	if post.Runs[1].State != "ABORTED" || post.Runs[1].Error != "connection reset by peer" {
		t.Errorf("aborted run = %+v", post.Runs[1])
	}
}

func TestJSONReporter_IncludeRuns(t *testing.T) {
	report := NewJSONReporter(nil, true).Build("http://t", sampleResults())
	if got := len(report.Scenarios[1].Runs); got != 3 {
		t.Errorf("includeRuns should list every run, got %d", got)
	}
}

func TestJSONReporter_Empty(t *testing.T) {
	report := NewJSONReporter(nil, false).Build("http://t", nil)
	if report.Passed {
		t.Error("a report without scenarios does not pass")
	}
	if report.Scenarios == nil {
		t.Error("scenarios should encode as an empty list")
	}
}
