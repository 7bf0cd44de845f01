// Package stream is the client side of oplog replication: it connects to an
// upstream member over HTTP and reads its oplog as newline delimited JSON.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pitrdb/pkg/compression"
	"pitrdb/pkg/dberrors"
	"pitrdb/pkg/oplog"
	"pitrdb/pkg/types"
)

const (
	HealthPath = "/health"
	OplogPath  = "/api/internal/oplog"
	RefsPath   = "/api/internal/oplog/refs/"

	defaultDialTimeout = 3 * time.Second
)

// Dialer opens connections to upstream members.
type Dialer struct {
	client      *http.Client
	dialTimeout time.Duration
	logger      *slog.Logger
}

func NewDialer(dialTimeout time.Duration, logger *slog.Logger) *Dialer {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		// no client timeout: streams are long lived and bound by the caller's context
		client:      &http.Client{},
		dialTimeout: dialTimeout,
		logger:      logger,
	}
}

// Dial probes host's health endpoint and returns a client for it.
func (d *Dialer) Dial(ctx context.Context, host string) (*Client, error) {
	base := strings.TrimRight(host, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	probeCtx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, base+HealthPath, nil)
	if err != nil {
		return nil, dberrors.Newf(dberrors.ErrConnectFailed, "bad host %q: %v", host, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, dberrors.Newf(dberrors.ErrConnectFailed, "%s: %v", host, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, dberrors.Newf(dberrors.ErrConnectFailed, "%s: health status=%d", host, resp.StatusCode)
	}

	return &Client{
		host:    host,
		baseURL: base,
		http:    d.client,
		logger:  d.logger.With("source", host),
	}, nil
}

// Client reads one upstream member's oplog. It is not safe for concurrent use.
type Client struct {
	host    string
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	from   oplog.Position
	body   io.ReadCloser
	dec    *json.Decoder
	peeked *oplog.Entry
	err    error
}

func (c *Client) Host() string {
	return c.host
}

// StreamFrom opens a stream of upstream entries with GTID >= pos.GTID.
// Reads are bound to ctx.
func (c *Client) StreamFrom(ctx context.Context, pos oplog.Position) error {
	c.closeBody()

	u := c.baseURL + OplogPath + "?from=" + url.QueryEscape(pos.GTID.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return dberrors.Newf(dberrors.ErrTransientStream, "build request: %v", err)
	}
	req.Header.Set("Accept-Encoding", compression.Accept)
	resp, err := c.http.Do(req)
	if err != nil {
		return dberrors.Wrap(dberrors.ErrTransientStream, err, "open stream from "+c.host)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return dberrors.Newf(dberrors.ErrTransientStream, "stream status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	encoding := resp.Header.Get("Content-Encoding")
	r, err := compression.NewReader(encoding, resp.Body)
	if err != nil {
		resp.Body.Close()
		return dberrors.Wrap(dberrors.ErrTransientStream, err, "stream from "+c.host)
	}

	c.from = pos
	c.body = &decodedBody{ReadCloser: r, raw: resp.Body}
	c.dec = json.NewDecoder(r)
	c.peeked = nil
	c.err = nil
	c.logger.Debug("stream opened", "from", pos, "encoding", encoding)
	return nil
}

// More reports whether another entry is available. It returns false when the
// upstream has no more entries or when reading failed; Err tells them apart.
func (c *Client) More() bool {
	if c.peeked != nil {
		return true
	}
	if c.dec == nil || c.err != nil {
		return false
	}

	var e oplog.Entry
	if err := c.dec.Decode(&e); err != nil {
		if !errors.Is(err, io.EOF) {
			c.err = dberrors.Wrap(dberrors.ErrTransientStream, err, "read stream from "+c.host)
		}
		c.closeBody()
		return false
	}
	c.peeked = &e
	return true
}

// Next returns the next entry. Call More first.
func (c *Client) Next() (oplog.Entry, error) {
	if !c.More() {
		if c.err != nil {
			return oplog.Entry{}, c.err
		}
		return oplog.Entry{}, dberrors.Newf(dberrors.ErrTransientStream, "stream from %s exhausted", c.host)
	}
	e := *c.peeked
	c.peeked = nil
	return e, nil
}

// Err returns the error that ended the stream, if any.
func (c *Client) Err() error {
	return c.err
}

// DetectDivergence checks that the upstream history contains the local
// position. The matching first entry is consumed, so the stream continues
// strictly after the local tail.
func (c *Client) DetectDivergence() (bool, error) {
	if c.from.GTID.IsInitial() {
		return false, nil
	}
	if !c.More() {
		if c.err != nil {
			return false, c.err
		}
		c.logger.Warn("upstream has no entry at local position", "local", c.from)
		return true, nil
	}

	first := *c.peeked
	if first.GTID != c.from.GTID || first.Hash != c.from.Hash {
		c.logger.Warn("upstream history diverged", "local", c.from, "upstream", first.Position())
		return true, nil
	}
	c.peeked = nil
	return false, nil
}

// LoadRefs fetches the out of line operations of a big transaction.
func (c *Client) LoadRefs(ctx context.Context, ref string) ([]oplog.Op, error) {
	if _, err := types.ParseGTID(ref); err != nil {
		return nil, dberrors.Newf(dberrors.ErrTransientStream, "bad ref %q: %v", ref, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+RefsPath+url.PathEscape(ref), nil)
	if err != nil {
		return nil, dberrors.Newf(dberrors.ErrTransientStream, "build request: %v", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, dberrors.Wrap(dberrors.ErrTransientStream, err, "load refs "+ref)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, dberrors.Newf(dberrors.ErrTransientStream, "load refs %s status=%d body=%s", ref, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var ops []oplog.Op
	if err := json.NewDecoder(resp.Body).Decode(&ops); err != nil {
		return nil, dberrors.Wrap(dberrors.ErrTransientStream, err, fmt.Sprintf("decode refs %s", ref))
	}
	return ops, nil
}

func (c *Client) closeBody() {
	if c.body != nil {
		_ = c.body.Close()
		c.body = nil
	}
	c.dec = nil
}

type decodedBody struct {
	io.ReadCloser
	raw io.Closer
}

func (b *decodedBody) Close() error {
	_ = b.ReadCloser.Close()
	return b.raw.Close()
}

func (c *Client) Close() error {
	c.closeBody()
	c.peeked = nil
	return nil
}
