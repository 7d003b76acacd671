package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wesleyorama2/pipestress/internal/config"
	"github.com/wesleyorama2/pipestress/internal/output"
	"github.com/wesleyorama2/pipestress/internal/script"
	"github.com/wesleyorama2/pipestress/internal/target"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func echoTarget(t *testing.T, opts target.Options) string {
	t.Helper()
	srv := httptest.NewServer(target.NewHandler(opts))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestList(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)

	assert.Contains(t, out, "NAME")
	for _, name := range script.Default().Names() {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "Rarely used requests")
}

func TestList_ExtraScripts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.yaml")
	data := `
scenarios:
  - name: extra_get
    description: One more GET
    groups:
      - requests:
          - method: GET
            path: /extra
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	out, err := execute(t, "list", "--script", path)
	require.NoError(t, err)
	assert.Contains(t, out, "extra_get")
	assert.Contains(t, out, "One more GET")
}

func TestNewRegistry(t *testing.T) {
	registry, err := newRegistry(nil)
	require.NoError(t, err)
	assert.Same(t, script.Default(), registry)

	path := filepath.Join(t.TempDir(), "more.yaml")
	data := "scenarios:\n  - name: more_get\n    groups:\n      - requests:\n          - method: GET\n            path: /more\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	registry, err = newRegistry([]string{path})
	require.NoError(t, err)
	assert.Equal(t, script.Default().Len()+1, registry.Len())

	_, err = script.Default().Resolve("more_get")
	var unknown *script.UnknownScriptError
	assert.True(t, errors.As(err, &unknown), "script files must not change the built-in registry")
}

func TestShow(t *testing.T) {
	out, err := execute(t, "show", "post_small", "--target", "example.test")
	require.NoError(t, err)

	assert.Contains(t, out, "# post_small: POST requests with small body")
	assert.Contains(t, out, "POST /upload HTTP/1.1\r\nHost: example.test\r\n")
	assert.Contains(t, out, "Content-Length: 64\r\n")
	assert.Contains(t, out, "X-Pipeline-Seq: 0\r\n")
}

func TestShow_Options(t *testing.T) {
	out, err := execute(t, "show", "post_big", "--no-tag")
	require.NoError(t, err)
	assert.NotContains(t, out, "X-Pipeline-Seq")
	assert.Contains(t, out, "more bytes")

	out, err = execute(t, "show", "post_big", "--big", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "Content-Length: 100\r\n")
	assert.NotContains(t, out, "more bytes")
}

func TestShow_UnknownScenario(t *testing.T) {
	_, err := execute(t, "show", "nope")
	var unknown *script.UnknownScriptError
	assert.True(t, errors.As(err, &unknown))
}

func TestRun_Passes(t *testing.T) {
	addr := echoTarget(t, target.Options{})

	out, err := execute(t, "run", "--target", addr, "-n", "2", "-i", "3", "head_get", "post_small")
	require.NoError(t, err, out)
	assert.Contains(t, out, "pipestress http://"+addr)
	assert.Contains(t, out, "2 scenarios: 2 passed, 0 failed, 0 aborted")
}

func TestRun_FailureExitsWithError(t *testing.T) {
	addr := echoTarget(t, target.Options{ShortEcho: true})

	out, err := execute(t, "run", "--target", addr, "post_big")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 scenarios did not pass")
	assert.Contains(t, out, "echo-length")
}

func TestRun_ConfigFileWithFlagOverrides(t *testing.T) {
	addr := echoTarget(t, target.Options{})
	dir := t.TempDir()

	cfgPath := filepath.Join(dir, "run.yaml")
	cfg := "target:\n  address: " + addr + "\niterations: 5\nconcurrency: 2\nscenarios: [head_get]\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	reportPath := filepath.Join(dir, "report.json")

	out, err := execute(t, "run", "--config", cfgPath, "--iterations", "2", "--json", "--output", reportPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Report written to "+reportPath)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report output.Report
	require.NoError(t, json.Unmarshal(data, &report))

	assert.True(t, report.Passed)
	require.Len(t, report.Scenarios, 1)
	assert.Equal(t, "head_get", report.Scenarios[0].Name)
	assert.Equal(t, 4, report.Scenarios[0].Counts.Runs)
}

func TestRun_InvalidConfig(t *testing.T) {
	_, err := execute(t, "run", "--concurrency", "0", "--connection", "sometimes")

	var verrs *config.ValidationErrors
	require.True(t, errors.As(err, &verrs), "got %v", err)
	assert.Len(t, verrs.Errors, 2)
}

func TestRun_UnknownScenario(t *testing.T) {
	_, err := execute(t, "run", "--target", "127.0.0.1:1", "no_such_scenario")
	var unknown *script.UnknownScriptError
	assert.True(t, errors.As(err, &unknown))
}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServe(t *testing.T) {
	var out syncBuffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"serve", "--listen", "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Echo target listening on 127.0.0.1:")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel), "debug is hidden unless verbose")

	logger, err = newLogger(true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}
