package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	phttp "github.com/wesleyorama2/pipestress/internal/http"
	"github.com/wesleyorama2/pipestress/internal/script"
	"github.com/wesleyorama2/pipestress/internal/target"
)

func echoTarget(t *testing.T, opts target.Options) Endpoint {
	t.Helper()
	srv := httptest.NewServer(target.NewHandler(opts))
	t.Cleanup(srv.Close)
	return Endpoint{Address: strings.TrimPrefix(srv.URL, "http://")}
}

// fakeTarget accepts connections and hands each to handle. It is used for
// targets that misbehave in ways a net/http server cannot.
func fakeTarget(t *testing.T, handle func(c net.Conn, r *bufio.Reader)) Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				handle(c, bufio.NewReader(c))
			}()
		}
	}()
	return Endpoint{Address: ln.Addr().String()}
}

func readRequests(r *bufio.Reader, n int) ([]*http.Request, error) {
	reqs := make([]*http.Request, 0, n)
	for i := 0; i < n; i++ {
		req, err := http.ReadRequest(r)
		if err != nil {
			return reqs, err
		}
		io.Copy(io.Discard, req.Body)
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func writeResponse(w io.Writer, seq string, extra string) {
	fmt.Fprintf(w, "HTTP/1.1 200 OK\r\nX-Pipeline-Seq: %s\r\n%sContent-Length: 2\r\n\r\nok", seq, extra)
}

func twoGets(name string) *script.TrafficScript {
	return &script.TrafficScript{
		Name: name,
		Groups: []script.RequestGroup{{Requests: []script.RequestSpec{
			{Method: "GET", Path: "/a"},
			{Method: "GET", Path: "/b"},
		}}},
	}
}

func TestDriver_Run_GroupYieldsRecordsInOrder(t *testing.T) {
	ep := echoTarget(t, target.Options{})
	d := NewDriver(phttp.NewBuilder(hostOf(ep)), DefaultConfig())

	s, err := script.Default().Resolve("pipeline")
	require.NoError(t, err)

	records, err := d.Run(context.Background(), s, ep)
	require.NoError(t, err)
	require.Len(t, records, s.RequestCount())

	var total time.Duration
	for i, rec := range records {
		assert.Equal(t, 0, rec.Group)
		assert.Equal(t, i, rec.Seq)
		assert.Equal(t, i, rec.ConnSeq)
		assert.Equal(t, i, rec.EchoSeq)
		assert.Equal(t, records[0].ConnID, rec.ConnID)
		assert.Equal(t, 200, rec.StatusCode)
		assert.GreaterOrEqual(t, rec.Latency, time.Duration(0))
		total += rec.Latency
	}
	assert.Positive(t, total)

	// HEAD responses carry no body.
	assert.Empty(t, records[0].Body)
	assert.NotEmpty(t, records[1].Body)
	assert.Empty(t, records[3].Body)
}

func TestDriver_Run_ConnectionPolicies(t *testing.T) {
	ep := echoTarget(t, target.Options{})

	s, err := script.Default().Resolve("mixed")
	require.NoError(t, err)
	require.Len(t, s.Groups, 2)

	t.Run("Persistent", func(t *testing.T) {
		records, err := NewDriver(nil, DefaultConfig()).Run(context.Background(), s, ep)
		require.NoError(t, err)
		require.Len(t, records, 6)
		for i, rec := range records {
			assert.Equal(t, records[0].ConnID, rec.ConnID)
			assert.Equal(t, i, rec.ConnSeq)
		}
		assert.Equal(t, 1, records[3].Group)
		assert.Equal(t, 0, records[3].Seq)
	})

	t.Run("PerGroup", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Connection = script.ConnPerGroup
		records, err := NewDriver(nil, cfg).Run(context.Background(), s, ep)
		require.NoError(t, err)
		require.Len(t, records, 6)
		assert.NotEqual(t, records[0].ConnID, records[3].ConnID)
		assert.Equal(t, 0, records[3].ConnSeq)
		assert.Equal(t, 2, records[5].ConnSeq)
	})
}

func TestDriver_Run_OutOfOrderIsNotTransportError(t *testing.T) {
	ep := fakeTarget(t, func(c net.Conn, r *bufio.Reader) {
		reqs, err := readRequests(r, 2)
		if err != nil {
			return
		}
		// Answer in reverse order.
		writeResponse(c, reqs[1].Header.Get(phttp.PipelineSeqHeader), "")
		writeResponse(c, reqs[0].Header.Get(phttp.PipelineSeqHeader), "")
	})

	records, err := NewDriver(nil, DefaultConfig()).Run(context.Background(), twoGets("swap"), ep)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 0, records[0].Seq)
	assert.Equal(t, 1, records[0].EchoSeq)
	assert.Equal(t, 1, records[1].Seq)
	assert.Equal(t, 0, records[1].EchoSeq)
}

func TestDriver_Run_LatencyIsPerResponse(t *testing.T) {
	ep := fakeTarget(t, func(c net.Conn, r *bufio.Reader) {
		if _, err := readRequests(r, 2); err != nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
		writeResponse(c, "0", "")
		time.Sleep(100 * time.Millisecond)
		writeResponse(c, "1", "")
	})

	records, err := NewDriver(nil, DefaultConfig()).Run(context.Background(), twoGets("slow"), ep)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.GreaterOrEqual(t, rec.Latency, 90*time.Millisecond)
		assert.Less(t, rec.Latency, 190*time.Millisecond, "latency of response %d includes the previous one", rec.Seq)
	}
}

func TestDriver_Run_HeadBodyIsCaptured(t *testing.T) {
	headThenGet := &script.TrafficScript{
		Name: "head_then_get",
		Groups: []script.RequestGroup{{Requests: []script.RequestSpec{
			{Method: "HEAD", Path: "/"},
			{Method: "GET", Path: "/"},
		}}},
	}
	headOnly := &script.TrafficScript{
		Name: "head_only",
		Groups: []script.RequestGroup{{Requests: []script.RequestSpec{
			{Method: "HEAD", Path: "/"},
		}}},
	}

	tests := []struct {
		name   string
		script *script.TrafficScript
		wait   time.Duration
		delay  time.Duration
	}{
		{name: "HEAD followed by GET", script: headThenGet, wait: 20 * time.Millisecond},
		{name: "HEAD last in group", script: headOnly, wait: 20 * time.Millisecond},
		{name: "Body arrives late", script: headOnly, wait: 500 * time.Millisecond, delay: 50 * time.Millisecond},
		{name: "Buffered body without wait", script: headThenGet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := tt.script.RequestCount()
			ep := fakeTarget(t, func(c net.Conn, r *bufio.Reader) {
				if _, err := readRequests(r, n); err != nil {
					return
				}
				head := "HTTP/1.1 200 OK\r\nX-Pipeline-Seq: 0\r\nContent-Length: 5\r\n\r\n"
				rest := "hello"
				if n > 1 {
					rest += "HTTP/1.1 200 OK\r\nX-Pipeline-Seq: 1\r\nContent-Length: 2\r\n\r\nok"
				}
				if tt.delay > 0 {
					io.WriteString(c, head)
					time.Sleep(tt.delay)
					io.WriteString(c, rest)
				} else {
					io.WriteString(c, head+rest)
				}
				io.Copy(io.Discard, r)
			})

			cfg := DefaultConfig()
			cfg.HeadBodyWait = tt.wait
			records, err := NewDriver(nil, cfg).Run(context.Background(), tt.script, ep)
			require.NoError(t, err)
			require.Len(t, records, n)

			assert.Equal(t, "hello", string(records[0].Body))
			if n > 1 {
				assert.Equal(t, 1, records[1].EchoSeq)
				assert.Equal(t, "ok", string(records[1].Body))
			}
		})
	}
}

func TestDriver_Run_HeadWithoutBodyKeepsNextResponse(t *testing.T) {
	ep := fakeTarget(t, func(c net.Conn, r *bufio.Reader) {
		if _, err := readRequests(r, 2); err != nil {
			return
		}
		io.WriteString(c, "HTTP/1.1 200 OK\r\nX-Pipeline-Seq: 0\r\nContent-Length: 5\r\n\r\n")
		time.Sleep(30 * time.Millisecond)
		writeResponse(c, "1", "")
	})

	s := &script.TrafficScript{
		Name: "head_get",
		Groups: []script.RequestGroup{{Requests: []script.RequestSpec{
			{Method: "HEAD", Path: "/"},
			{Method: "GET", Path: "/"},
		}}},
	}
	cfg := DefaultConfig()
	cfg.HeadBodyWait = time.Second
	records, err := NewDriver(nil, cfg).Run(context.Background(), s, ep)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Empty(t, records[0].Body)
	assert.Equal(t, int64(5), records[0].ContentLength)
	assert.Equal(t, "ok", string(records[1].Body))
}

func TestDriver_Run_UntaggedRequests(t *testing.T) {
	seen := make(chan string, 2)
	ep := fakeTarget(t, func(c net.Conn, r *bufio.Reader) {
		reqs, err := readRequests(r, 2)
		if err != nil {
			return
		}
		for _, req := range reqs {
			seen <- req.Header.Get(phttp.PipelineSeqHeader)
			io.WriteString(c, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
		}
	})

	cfg := DefaultConfig()
	cfg.TagRequests = false
	records, err := NewDriver(nil, cfg).Run(context.Background(), twoGets("untagged"), ep)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, -1, records[0].EchoSeq)
	assert.Equal(t, "", <-seen)
	assert.Equal(t, "", <-seen)
}

func TestDriver_Run_TransportFailures(t *testing.T) {
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })

	tests := []struct {
		name      string
		handle    func(c net.Conn, r *bufio.Reader)
		records   int
		request   int
		timeout   bool
		premature bool
	}{
		{
			name: "Reset before any response",
			handle: func(c net.Conn, r *bufio.Reader) {
				readRequests(r, 2)
			},
			records: 0,
			request: 0,
		},
		{
			name: "Reset after first response",
			handle: func(c net.Conn, r *bufio.Reader) {
				readRequests(r, 2)
				writeResponse(c, "0", "")
			},
			records: 1,
			request: 1,
		},
		{
			name: "Garbage response",
			handle: func(c net.Conn, r *bufio.Reader) {
				readRequests(r, 2)
				io.WriteString(c, "this is not http\r\n\r\n")
			},
			records: 0,
			request: 0,
		},
		{
			name: "Close announced mid-group",
			handle: func(c net.Conn, r *bufio.Reader) {
				readRequests(r, 2)
				writeResponse(c, "0", "Connection: close\r\n")
				<-stop
			},
			records:   1,
			request:   1,
			premature: true,
		},
		{
			name: "Silent target",
			handle: func(c net.Conn, r *bufio.Reader) {
				readRequests(r, 2)
				<-stop
			},
			records: 0,
			request: 0,
			timeout: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := fakeTarget(t, tt.handle)
			cfg := DefaultConfig()
			cfg.ReadTimeout = 200 * time.Millisecond

			records, err := NewDriver(nil, cfg).Run(context.Background(), twoGets("broken"), ep)
			require.Error(t, err)
			assert.Len(t, records, tt.records)

			var te *TransportError
			require.True(t, errors.As(err, &te), "expected TransportError, got %T: %v", err, err)
			assert.Equal(t, "read", te.Op)
			assert.Equal(t, 0, te.Group)
			assert.Equal(t, tt.request, te.Request)
			assert.NotZero(t, te.ConnID)
			assert.Equal(t, tt.timeout, te.Timeout())
			assert.Equal(t, tt.premature, errors.Is(err, ErrPrematureClose))
		})
	}
}

func TestDriver_Run_FailureStopsLaterGroups(t *testing.T) {
	conns := make(chan struct{}, 4)
	ep := fakeTarget(t, func(c net.Conn, r *bufio.Reader) {
		conns <- struct{}{}
		readRequests(r, 1)
	})

	s := &script.TrafficScript{
		Name:       "two_groups",
		Connection: script.ConnPerGroup,
		Groups: []script.RequestGroup{
			{Requests: []script.RequestSpec{{Method: "GET", Path: "/"}}},
			{Requests: []script.RequestSpec{{Method: "GET", Path: "/"}}},
		},
	}
	_, err := NewDriver(nil, DefaultConfig()).Run(context.Background(), s, ep)
	require.Error(t, err)
	assert.Len(t, conns, 1)
}

func TestDriver_Run_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewDriver(nil, DefaultConfig()).Run(context.Background(), twoGets("nobody"), Endpoint{Address: addr})
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "dial", te.Op)
	assert.Equal(t, -1, te.Group)
	assert.Zero(t, te.ConnID)
}

func TestDriver_Run_CancelClosesConnection(t *testing.T) {
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	ep := fakeTarget(t, func(c net.Conn, r *bufio.Reader) {
		readRequests(r, 2)
		<-stop
	})

	cfg := DefaultConfig()
	cfg.ReadTimeout = 0
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := NewDriver(nil, cfg).Run(ctx, twoGets("cancelled"), ep)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDriver_Run_TLS(t *testing.T) {
	srv := httptest.NewTLSServer(target.NewHandler(target.Options{}))
	defer srv.Close()

	ep := Endpoint{
		Address:            strings.TrimPrefix(srv.URL, "https://"),
		TLS:                true,
		InsecureSkipVerify: true,
	}
	s, err := script.Default().Resolve("head_get")
	require.NoError(t, err)

	records, err := NewDriver(nil, DefaultConfig()).Run(context.Background(), s, ep)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 200, records[1].StatusCode)
	assert.Equal(t, "https://"+ep.Address, ep.String())
}

func TestDriver_Prepare(t *testing.T) {
	d := NewDriver(phttp.NewBuilder(phttp.WithHost("h")), DefaultConfig())

	plan, err := d.Prepare(twoGets("tagged"))
	require.NoError(t, err)
	assert.Equal(t, script.ConnPersistent, plan.Connection)
	assert.Equal(t, "GET /b HTTP/1.1\r\nHost: h\r\nX-Pipeline-Seq: 1\r\n\r\n", string(plan.Wire(0, 1)))
	assert.Equal(t, len(plan.Wire(0, 0))+len(plan.Wire(0, 1)), plan.Bytes())

	bad := &script.TrafficScript{
		Name: "bad",
		Groups: []script.RequestGroup{{Requests: []script.RequestSpec{
			{Method: "HEAD", Path: "/", Body: script.BodySpec{Size: script.BodySmall}},
		}}},
	}
	_, err = d.Prepare(bad)
	var malformed *phttp.MalformedSpecError
	require.True(t, errors.As(err, &malformed))
}

// hostOf sets the builder's Host header to the endpoint address.
func hostOf(ep Endpoint) phttp.BuilderOption {
	return phttp.WithHost(ep.Address)
}
