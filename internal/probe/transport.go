// Copyright New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package probe is a transparent interceptor on outgoing HTTP/HTTPS
// requests. Go has no process-global "request()" entry point to patch the
// way the source's Node.js runtime does; the idiomatic equivalent is an
// http.RoundTripper decorator combined with net/http/httptrace.ClientTrace
// for the fine-grained lifecycle anchors — the same mechanism the teacher
// repo's pkg/http.WithTracer already built for its own diagnostic logging,
// generalized here to produce one normalized metric Record per request
// instead of a debug log line.
package probe

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/newrelic/openwhisk-activation-metrics/internal/actxt"
	"github.com/newrelic/openwhisk-activation-metrics/pkg/log"
)

var plog = log.WithComponent("HttpProbe")

// Transport decorates an inner http.RoundTripper, emitting one Record per
// request. The active activation's Agent is recovered from the request's
// context via internal/actxt and gets the Record directly
// (agent.Send("http", record.ToMetrics())); cb, when non-nil, is also
// invoked for every request regardless of scope — the hook Install exposes
// for a process-wide sink and what tests use to inspect Records without a
// full Agent. It never alters the request's semantics: errors and
// responses flow through unchanged even if building the Record fails.
type Transport struct {
	inner     http.RoundTripper
	cb        func(Record)
	userAgent string
}

// NewTransport wraps inner (http.DefaultTransport if nil) so every request
// it serves produces one Record, delivered to the scoped Agent (if any) and
// to cb (if non-nil), except requests carrying the agent's own
// ingestUserAgent (loop-breaker).
func NewTransport(inner http.RoundTripper, ingestUserAgent string, cb func(Record)) *Transport {
	if inner == nil {
		inner = http.DefaultTransport
	}
	return &Transport{inner: inner, cb: cb, userAgent: ingestUserAgent}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == t.userAgent {
		return t.inner.RoundTrip(req)
	}

	rec := &activeRecord{cb: t.cb, ctx: req.Context()}
	rec.record.start = time.Now()
	rec.record.Method = method(req)
	rec.record.Protocol = protocolOf(req)
	rec.record.Host = hostOf(req)
	rec.record.Port = portOf(req, rec.record.Protocol)
	rec.record.Path = pathOf(req)
	rec.record.Domain = domainOf(rec.record.Host)
	rec.record.URL = buildURL(rec.record.Protocol, rec.record.Host, rec.record.Port, rec.record.Path)

	req = req.WithContext(httptrace.WithClientTrace(req.Context(), rec.clientTrace()))

	if req.Body != nil {
		req.Body = &countingReadCloser{inner: req.Body, n: &rec.record.RequestBodySize}
	}

	resp, err := safeRoundTrip(t.inner, req)
	if err != nil {
		rec.recordError(err)
		return resp, err
	}

	rec.onResponse(resp)
	// A known Content-Length already set ResponseBodySize in onResponse; the
	// body bytes are summed into it only when that header is absent.
	counter := &rec.record.ResponseBodySize
	if resp.ContentLength >= 0 {
		counter = new(int64)
	}
	resp.Body = &countingReadCloser{
		inner: resp.Body,
		n:     counter,
		onEOF: func() { rec.trigger() },
	}
	return resp, nil
}

// addrHost strips the port off a net.Addr, giving just the IP (or, for a
// unix socket, the path) — what the spec's localIPAddress/serverIPAddress
// attributes mean, as opposed to the TLS SNI hostname.
func addrHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// safeRoundTrip recovers a panicking inner transport so a probe-adjacent
// bug never surfaces as a crash in caller code (Error taxonomy, §7).
func safeRoundTrip(rt http.RoundTripper, req *http.Request) (resp *http.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			plog.WithField("panic", r).Error("inner transport panicked")
			err = http.ErrAbortHandler
		}
	}()
	return rt.RoundTrip(req)
}

// activeRecord is the mutable, once-armed state for a single in-flight request.
type activeRecord struct {
	mu     sync.Mutex
	once   sync.Once
	cb     func(Record)
	ctx    context.Context
	record Record
}

func (a *activeRecord) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(string) {
			a.mu.Lock()
			a.record.socketAvailable = time.Now()
			a.mu.Unlock()
		},
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Conn == nil {
				return
			}
			a.mu.Lock()
			a.record.LocalIPAddress = addrHost(info.Conn.LocalAddr())
			a.record.ServerIPAddress = addrHost(info.Conn.RemoteAddr())
			a.mu.Unlock()
		},
		DNSStart: func(httptrace.DNSStartInfo) {
			a.mu.Lock()
			if a.record.dnsLookup.IsZero() {
				a.record.dnsLookup = time.Now()
			}
			a.mu.Unlock()
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			a.mu.Lock()
			a.record.dnsLookup = time.Now()
			a.mu.Unlock()
		},
		ConnectDone: func(network, addr string, err error) {
			if err != nil {
				return
			}
			a.mu.Lock()
			a.record.tcpConnected = time.Now()
			a.mu.Unlock()
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			if err != nil {
				return
			}
			a.mu.Lock()
			a.record.tlsHandshaken = time.Now()
			a.mu.Unlock()
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			a.mu.Lock()
			a.record.requestFinished = time.Now()
			a.mu.Unlock()
		},
		GotFirstResponseByte: func() {
			a.mu.Lock()
			a.record.firstByte = time.Now()
			a.mu.Unlock()
		},
	}
}

func (a *activeRecord) onResponse(resp *http.Response) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record.ResponseCode = resp.StatusCode
	a.record.ResponseStatus = resp.Status
	a.record.ContentType = resp.Header.Get("Content-Type")
	a.record.ServerRequestID = serverRequestID(resp.Header)
	if resp.ContentLength >= 0 {
		a.record.ResponseBodySize = resp.ContentLength
	}
}

func (a *activeRecord) recordError(err error) {
	code := errorCode(err)
	msg := err.Error()
	if code == etimedout {
		msg = "Connection timed out"
	}

	a.mu.Lock()
	a.record.errorAt = time.Now()
	a.record.Error = true
	a.record.ErrorMessage = msg
	a.record.ErrorCode = code
	a.mu.Unlock()
	a.trigger()
}

// trigger fires the Record at most once per request, regardless of whether
// response-end, error, and timeout all occur. It delivers to the scoped
// Agent (recovered from the request's context) and to cb; a request that
// fires outside any open activation scope is logged at Warn and dropped,
// per the context error-handling rule — it never panics.
func (a *activeRecord) trigger() {
	a.once.Do(func() {
		a.mu.Lock()
		if a.record.responseEnd.IsZero() && !a.record.Error {
			a.record.responseEnd = time.Now()
		}
		rec := a.record
		a.mu.Unlock()

		if agent, ok := actxt.Get(a.ctx); ok {
			agent.Send("http", rec.ToMetrics())
		} else {
			plog.Warn("probe fired outside any open activation scope, dropping record")
		}
		if a.cb != nil {
			a.cb(rec)
		}
	})
}

// countingReadCloser wraps a body to count bytes and invoke onEOF once the
// stream is exhausted or closed — the probe's only way to learn
// response-end when Content-Length is absent.
type countingReadCloser struct {
	inner   io.ReadCloser
	n       *int64
	onEOF   func()
	onEOFed bool
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.inner.Read(p)
	if n > 0 {
		*c.n += int64(n)
	}
	if err == io.EOF {
		c.fireOnEOF()
	}
	return n, err
}

func (c *countingReadCloser) Close() error {
	c.fireOnEOF()
	return c.inner.Close()
}

func (c *countingReadCloser) fireOnEOF() {
	if c.onEOFed {
		return
	}
	c.onEOFed = true
	if c.onEOF != nil {
		c.onEOF()
	}
}
