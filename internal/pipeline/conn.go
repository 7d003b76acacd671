package pipeline

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	phttp "github.com/wesleyorama2/pipestress/internal/http"
)

// connIDs numbers connections across the process.
var connIDs atomic.Uint64

// conn is one transport stream. It is owned by a single goroutine.
type conn struct {
	id  uint64
	nc  net.Conn
	r   *bufio.Reader
	w   *bufio.Writer
	seq int

	// closed is set once the target announced Connection: close
	closed bool
}

func (d *Driver) dial(ctx context.Context, ep Endpoint) (*conn, error) {
	network := ep.Network
	if network == "" {
		network = "tcp"
	}

	dialer := &net.Dialer{Timeout: d.config.DialTimeout}
	nc, err := dialer.DialContext(ctx, network, ep.Address)
	if err != nil {
		return nil, &TransportError{Op: "dial", Group: -1, Request: -1, Err: err}
	}

	if ep.TLS {
		serverName := ep.ServerName
		if serverName == "" {
			serverName, _, _ = net.SplitHostPort(ep.Address)
		}
		tc := tls.Client(nc, &tls.Config{
			ServerName:         serverName,
			InsecureSkipVerify: ep.InsecureSkipVerify,
			NextProtos:         []string{"http/1.1"},
		})
		hsCtx := ctx
		if d.config.DialTimeout > 0 {
			var cancel context.CancelFunc
			hsCtx, cancel = context.WithTimeout(ctx, d.config.DialTimeout)
			defer cancel()
		}
		if err := tc.HandshakeContext(hsCtx); err != nil {
			nc.Close()
			return nil, &TransportError{Op: "dial", Group: -1, Request: -1, Err: err}
		}
		nc = tc
	}

	c := &conn{
		id: connIDs.Add(1),
		nc: nc,
		r:  bufio.NewReaderSize(nc, 32*1024),
		w:  bufio.NewWriterSize(nc, 32*1024),
	}
	d.logger.Debug("connection opened",
		zap.Uint64("conn", c.id),
		zap.String("address", ep.Address),
		zap.Bool("tls", ep.TLS),
	)
	return c, nil
}

func (c *conn) close() error {
	return c.nc.Close()
}

// roundTrip writes the whole group, flushes once and reads one response per
// request. Records read before a failure are returned with the error.
func (c *conn) roundTrip(gi int, group []prepared, cfg Config) ([]*phttp.ResponseRecord, error) {
	fail := func(op string, pos int, err error) *TransportError {
		return &TransportError{Op: op, Group: gi, Request: pos, ConnID: c.id, Err: err}
	}

	if cfg.WriteTimeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout)); err != nil {
			return nil, fail("write", 0, err)
		}
	}
	for i, req := range group {
		if _, err := c.w.Write(req.wire); err != nil {
			return nil, fail("write", i, err)
		}
	}
	if err := c.w.Flush(); err != nil {
		return nil, fail("write", len(group)-1, err)
	}
	mark := time.Now()

	records := make([]*phttp.ResponseRecord, 0, len(group))
	for i, req := range group {
		if c.closed {
			return records, fail("read", i, ErrPrematureClose)
		}
		if cfg.ReadTimeout > 0 {
			if err := c.nc.SetReadDeadline(time.Now().Add(cfg.ReadTimeout)); err != nil {
				return records, fail("read", i, err)
			}
		}

		rec, err := c.readFinal(req.method)
		if err != nil {
			return records, fail("read", i, err)
		}

		arrived := time.Now()
		rec.ConnID = c.id
		rec.Group = gi
		rec.Seq = i
		rec.ConnSeq = c.seq
		rec.Latency = arrived.Sub(mark)
		mark = arrived

		if req.method == "HEAD" {
			if err := c.readHeadBody(rec, cfg); err != nil {
				return records, fail("read", i, err)
			}
		}
		c.seq++
		c.closed = rec.Close
		records = append(records, rec)
	}
	return records, nil
}

// readFinal skips informational responses other than 101.
func (c *conn) readFinal(method string) (*phttp.ResponseRecord, error) {
	for {
		rec, err := phttp.ReadResponse(c.r, method)
		if err != nil {
			return nil, err
		}
		if rec.StatusCode >= 200 || rec.StatusCode == 101 {
			return rec, nil
		}
	}
}

// statusLinePrefix starts every response on the wire.
const statusLinePrefix = "HTTP/"

// readHeadBody moves body bytes a target sent after a HEAD response into
// rec.Body, so they are validated instead of parsed as the next response.
//
// At most the declared Content-Length is taken. When a length is declared
// and cfg.HeadBodyWait is set, the connection is watched that long for
// late bytes; otherwise only bytes already received are inspected. Bytes
// that start a status line belong to the next response and are left alone.
func (c *conn) readHeadBody(rec *phttp.ResponseRecord, cfg Config) error {
	n := len(statusLinePrefix)
	limit := rec.ContentLength
	if cfg.HeadBodyWait > 0 && limit > 0 {
		if err := c.nc.SetReadDeadline(time.Now().Add(cfg.HeadBodyWait)); err != nil {
			return err
		}
		// Reads of the next response set their own deadline when one is configured.
		defer c.nc.SetReadDeadline(time.Time{})
	} else {
		buffered := c.r.Buffered()
		if buffered < n {
			n = buffered
		}
		if limit <= 0 || limit > int64(buffered) {
			limit = int64(buffered)
		}
	}
	if n == 0 {
		return nil
	}

	peek, err := c.r.Peek(n)
	if len(peek) == 0 {
		if err == nil || isTimeout(err) || err == io.EOF {
			return nil
		}
		return err
	}
	if p := string(peek); strings.HasPrefix(p, statusLinePrefix) || strings.HasPrefix(statusLinePrefix, p) {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(c.r, limit))
	rec.Body = body
	if err != nil && !isTimeout(err) {
		return err
	}
	return nil
}
