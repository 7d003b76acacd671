// Package pipeline drives traffic scripts over raw connections, writing each
// request group back-to-back and reading the responses in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	phttp "github.com/wesleyorama2/pipestress/internal/http"
	"github.com/wesleyorama2/pipestress/internal/script"
)

// Endpoint is the target a driver connects to.
type Endpoint struct {
	// Network defaults to "tcp"
	Network string `json:"network,omitempty"`

	// Address is host:port
	Address string `json:"address"`

	TLS                bool   `json:"tls,omitempty"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty"`
	ServerName         string `json:"serverName,omitempty"`
}

// String returns the endpoint as a URL-like string.
func (e Endpoint) String() string {
	if e.TLS {
		return "https://" + e.Address
	}
	return "http://" + e.Address
}

// Config holds the transport settings of a driver.
type Config struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// TagRequests adds an X-Pipeline-Seq header carrying each request's
	// position in its group. Raw requests are never tagged.
	TagRequests bool

	// Connection overrides the connection policy of every script when set
	Connection script.ConnectionPolicy

	// HeadBodyWait is how long to watch for body bytes a target sends after
	// a HEAD response that declares a Content-Length. Zero only inspects
	// bytes already received.
	HeadBodyWait time.Duration
}

// DefaultConfig returns the transport settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		TagRequests:  true,
		HeadBodyWait: 20 * time.Millisecond,
	}
}

// Driver runs traffic scripts against an endpoint. A Driver holds no
// per-connection state and may be shared by many goroutines; every Run opens
// its own connections.
type Driver struct {
	builder *phttp.Builder
	config  Config
	logger  *zap.Logger
}

// Option is a function that configures a Driver
type Option func(*Driver)

// WithLogger sets the logger used for connection events
func WithLogger(logger *zap.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDriver creates a driver that materializes requests with builder.
func NewDriver(builder *phttp.Builder, config Config, options ...Option) *Driver {
	if builder == nil {
		builder = phttp.NewBuilder()
	}
	d := &Driver{
		builder: builder,
		config:  config,
		logger:  zap.NewNop(),
	}
	for _, option := range options {
		option(d)
	}
	return d
}

// Builder returns the request builder used by the driver.
func (d *Driver) Builder() *phttp.Builder {
	return d.builder
}

// prepared is one request in wire form.
type prepared struct {
	method string
	wire   []byte
}

// Plan is a script with every request already materialized. A Plan is
// read-only and can be run any number of times concurrently.
type Plan struct {
	Script     *script.TrafficScript
	Connection script.ConnectionPolicy
	groups     [][]prepared
}

// Wire returns the bytes sent for request ri of group gi.
func (p *Plan) Wire(gi, ri int) []byte {
	return p.groups[gi][ri].wire
}

// Bytes returns the total number of request bytes sent per run.
func (p *Plan) Bytes() int {
	n := 0
	for _, g := range p.groups {
		for _, r := range g {
			n += len(r.wire)
		}
	}
	return n
}

// Prepare materializes every request of s. It fails with the builder's
// *phttp.MalformedSpecError if any request is malformed.
func (d *Driver) Prepare(s *script.TrafficScript) (*Plan, error) {
	plan := &Plan{
		Script:     s,
		Connection: s.Connection,
		groups:     make([][]prepared, len(s.Groups)),
	}
	if d.config.Connection != "" {
		plan.Connection = d.config.Connection
	}
	if plan.Connection == "" {
		plan.Connection = script.ConnPersistent
	}

	for gi, group := range s.Groups {
		if len(group.Requests) == 0 {
			return nil, fmt.Errorf("script %s: group %d is empty", s.Name, gi)
		}
		plan.groups[gi] = make([]prepared, len(group.Requests))
		for ri, req := range group.Requests {
			spec := req.Clone()
			if d.config.TagRequests && !spec.Raw {
				if spec.Headers == nil {
					spec.Headers = script.Header{}
				}
				spec.Headers.Set(phttp.PipelineSeqHeader, strconv.Itoa(ri))
			}
			wire, err := d.builder.Materialize(spec)
			if err != nil {
				return nil, fmt.Errorf("script %s: %w", s.Name, err)
			}
			plan.groups[gi][ri] = prepared{method: spec.Method, wire: wire}
		}
	}
	return plan, nil
}

// Run prepares s and runs it once against ep.
func (d *Driver) Run(ctx context.Context, s *script.TrafficScript, ep Endpoint) ([]*phttp.ResponseRecord, error) {
	plan, err := d.Prepare(s)
	if err != nil {
		return nil, err
	}
	return d.RunPlan(ctx, plan, ep)
}

// RunPlan sends every group of plan in order and returns one record per
// response received, in arrival order.
//
// A transport failure stops the run: the records received so far are
// returned together with a *TransportError. Cancelling ctx closes the open
// connection at once.
func (d *Driver) RunPlan(ctx context.Context, plan *Plan, ep Endpoint) ([]*phttp.ResponseRecord, error) {
	var (
		records []*phttp.ResponseRecord
		c       *conn
	)
	defer func() {
		if c != nil {
			d.closeConn(c)
		}
	}()

	for gi, group := range plan.groups {
		if err := ctx.Err(); err != nil {
			return records, fmt.Errorf("run interrupted before group %d: %w", gi, err)
		}

		// A target that closed after the previous group gets a new connection.
		if c != nil && (plan.Connection == script.ConnPerGroup || c.closed) {
			d.closeConn(c)
			c = nil
		}
		if c == nil {
			var err error
			if c, err = d.dial(ctx, ep); err != nil {
				return records, err
			}
		}

		cur := c
		stop := context.AfterFunc(ctx, func() {
			cur.close()
		})
		recs, err := c.roundTrip(gi, group, d.config)
		stop()

		records = append(records, recs...)
		if err != nil {
			var te *TransportError
			if ctxErr := ctx.Err(); ctxErr != nil && errors.As(err, &te) {
				te.Err = ctxErr
			}
			return records, err
		}
	}
	return records, nil
}

func (d *Driver) closeConn(c *conn) {
	if err := c.close(); err != nil {
		d.logger.Debug("connection close failed", zap.Uint64("conn", c.id), zap.Error(err))
		return
	}
	d.logger.Debug("connection closed", zap.Uint64("conn", c.id), zap.Int("responses", c.seq))
}
