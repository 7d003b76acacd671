// Package target implements a reference echo server that answers pipelined
// requests in order and reports what it received.
package target

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	phttp "github.com/wesleyorama2/pipestress/internal/http"
)

// ReceivedLengthHeader reports the number of request body bytes received.
const ReceivedLengthHeader = "X-Received-Length"

// Options configures the echo server.
type Options struct {
	// ShortEcho makes the server under-report received body lengths by one
	// byte for non-empty bodies
	ShortEcho bool

	// Delay is added before every response
	Delay time.Duration

	Logger *zap.Logger
}

// Echo is the JSON body of every response.
type Echo struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	Received int64  `json:"received"`
}

// NewHandler returns the echo handler.
//
// Every request is answered with an Echo body. /status/<code> answers with
// that status code; everything else answers 200. The X-Pipeline-Seq request
// header is copied to the response.
func NewHandler(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	echo := func(w http.ResponseWriter, r *http.Request, status int) {
		received, err := io.Copy(io.Discard, r.Body)
		if err != nil {
			logger.Warn("failed to read request body", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if opts.ShortEcho && received > 0 {
			received--
		}
		if opts.Delay > 0 {
			time.Sleep(opts.Delay)
		}

		if seq := r.Header.Get(phttp.PipelineSeqHeader); seq != "" {
			w.Header().Set(phttp.PipelineSeqHeader, seq)
		}
		w.Header().Set(ReceivedLengthHeader, strconv.FormatInt(received, 10))
		w.Header().Set("Content-Type", "application/json")

		if status == http.StatusNoContent || status == http.StatusNotModified {
			w.WriteHeader(status)
		} else {
			body, _ := json.Marshal(Echo{Method: r.Method, Path: r.URL.RequestURI(), Received: received})
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(status)
			if r.Method != http.MethodHead {
				w.Write(body)
			}
		}

		logger.Debug("request echoed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int64("received", received),
			zap.Int("status", status),
		)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status/{code}", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(r.PathValue("code"))
		if err != nil || code < 200 || code > 599 {
			echo(w, r, http.StatusBadRequest)
			return
		}
		echo(w, r, code)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		echo(w, r, http.StatusOK)
	})
	return mux
}

// Server is a running echo server.
type Server struct {
	listener net.Listener
	server   *http.Server
	logger   *zap.Logger
	done     chan error
}

// Start listens on addr and serves in the background. Use "127.0.0.1:0" for
// an ephemeral port.
func Start(addr string, opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		listener: ln,
		server: &http.Server{
			Handler:           NewHandler(opts),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
			ErrorLog:          zap.NewStdLog(logger),
		},
		logger: logger,
		done:   make(chan error, 1),
	}

	go func() {
		err := s.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()

	logger.Info("echo target listening", zap.String("address", s.Addr()))
	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Wait blocks until the server stops and returns its serve error, if any.
func (s *Server) Wait() error {
	return <-s.done
}

// Shutdown stops accepting connections and waits for active ones to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Close stops the server immediately.
func (s *Server) Close() error {
	return s.server.Close()
}
