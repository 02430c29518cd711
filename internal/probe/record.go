// Copyright New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Record is the normalized metric record built during one outgoing HTTP
// request's lifetime: request attributes, response attributes, timing
// attributes, and error attributes, merged at emission time.
type Record struct {
	// request attributes
	Protocol string
	Host     string
	Port     int
	Path     string
	URL      string
	Method   string
	Domain   string

	// response attributes
	ResponseCode    int
	ResponseStatus  string
	ContentType     string
	LocalIPAddress  string
	ServerIPAddress string
	ServerRequestID string

	// byte counters
	RequestBodySize  int64
	ResponseBodySize int64

	// timing anchors, monotonic
	start           time.Time
	socketAvailable time.Time
	dnsLookup       time.Time
	tcpConnected    time.Time
	tlsHandshaken   time.Time
	requestFinished time.Time
	firstByte       time.Time
	responseEnd     time.Time
	errorAt         time.Time

	// error attributes
	Error        bool
	ErrorMessage string
	ErrorCode    int
}

// defaultPort returns the conventional port for a protocol, used when the
// request didn't specify one explicitly.
func defaultPort(protocol string) int {
	if protocol == "https:" {
		return 443
	}
	return 80
}

// domainOf implements the deliberately simple "last two dot-components"
// registrable-domain heuristic the spec pins down (wrong for suffixes like
// co.uk, and the spec accepts that error — see SPEC_FULL.md §9).
func domainOf(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

func buildURL(protocol, host string, port int, path string) string {
	hostPort := host
	if port != 0 && port != defaultPort(protocol) {
		hostPort = fmt.Sprintf("%s:%d", host, port)
	}
	return fmt.Sprintf("%s//%s%s", protocol, hostPort, path)
}

// durationMillis returns the millisecond delta between two monotonic
// timestamps, and false when either endpoint is unknown (zero) — timing
// attributes are omitted, not zeroed, per spec.
func durationMillis(from, to time.Time) (int64, bool) {
	if from.IsZero() || to.IsZero() {
		return 0, false
	}
	return to.Sub(from).Milliseconds(), true
}

func earliest(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() {
		return a
	}
	if a.Before(b) {
		return a
	}
	return b
}

// ToMetrics flattens the record into the event shape agent.Send("http", ...)
// enqueues: request, response, timing, and error attribute groups merged
// into a single flat map (further flattened by internal/flatten before
// shipping).
func (r *Record) ToMetrics() map[string]interface{} {
	m := map[string]interface{}{
		"protocol": r.Protocol,
		"host":     r.Host,
		"port":     r.Port,
		"path":     r.Path,
		"url":      r.URL,
		"method":   r.Method,
		"domain":   r.Domain,
	}

	if r.ResponseCode != 0 {
		m["responseCode"] = r.ResponseCode
		m["responseStatus"] = r.ResponseStatus
	}
	if r.ContentType != "" {
		m["contentType"] = r.ContentType
	}
	if r.LocalIPAddress != "" {
		m["localIPAddress"] = r.LocalIPAddress
	}
	if r.ServerIPAddress != "" {
		m["serverIPAddress"] = r.ServerIPAddress
	}
	if r.ServerRequestID != "" {
		m["serverRequestId"] = r.ServerRequestID
	}

	m["requestBodySize"] = r.RequestBodySize
	if r.ResponseBodySize > 0 || r.ResponseCode != 0 {
		m["responseBodySize"] = r.ResponseBodySize
	}

	end := earliest(r.errorAt, r.responseEnd)
	if d, ok := durationMillis(r.start, end); ok {
		m["duration"] = d
	}
	if d, ok := durationMillis(r.start, r.socketAvailable); ok {
		m["durationBlocked"] = d
	}
	if d, ok := durationMillis(r.socketAvailable, r.dnsLookup); ok {
		m["durationDNS"] = d
	}
	connectFrom := r.dnsLookup
	if connectFrom.IsZero() {
		connectFrom = r.socketAvailable
	}
	if d, ok := durationMillis(connectFrom, r.tcpConnected); ok {
		m["durationConnect"] = d
	}
	if r.Protocol == "https:" {
		if d, ok := durationMillis(r.tcpConnected, r.tlsHandshaken); ok {
			m["durationSSL"] = d
		}
	}
	sendFrom := r.tlsHandshaken
	if sendFrom.IsZero() {
		sendFrom = r.tcpConnected
	}
	if d, ok := durationMillis(sendFrom, r.requestFinished); ok {
		m["durationSend"] = d
	}
	if d, ok := durationMillis(r.requestFinished, r.firstByte); ok {
		m["durationWait"] = d
	}
	if d, ok := durationMillis(r.firstByte, r.responseEnd); ok {
		m["durationReceive"] = d
	}

	if r.Error {
		m["error"] = true
		m["errorMessage"] = r.ErrorMessage
		m["errorCode"] = r.ErrorCode
	}

	return m
}

func serverRequestID(h http.Header) string {
	if v := h.Get("x-request-id"); v != "" {
		return v
	}
	return h.Get("x-correlation-id")
}

func parsePort(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
