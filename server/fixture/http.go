// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	stdlibtime "time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Request sends one request over the pooled HTTP/1.1 client and reads the whole response.
func (tc *httpTestClient) Request(
	ctx context.Context, tb testing.TB, method, path string, body io.Reader, header http.Header,
) *Response {
	tb.Helper()

	req, err := http.NewRequestWithContext(ctx, method, "http://"+tc.serverAddr+path, body)
	require.NoError(tb, err)
	for name, values := range header {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}
	resp, err := tc.client.Do(req)
	require.NoError(tb, err)
	defer func() { assert.NoError(tb, resp.Body.Close()) }()
	assert.Equal(tb, "HTTP/1.1", resp.Proto)
	b, err := io.ReadAll(resp.Body)
	require.NoError(tb, err)

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: string(b)}
}

// Exchange writes raw bytes on a fresh connection and parses the first response that comes back.
// The connection and its reader are returned so the caller can keep talking whatever protocol was negotiated.
func (tc *httpTestClient) Exchange(ctx context.Context, tb testing.TB, raw []byte) (net.Conn, *bufio.Reader, *http.Response) {
	tb.Helper()

	conn := tc.dial(ctx, tb)
	_, err := conn.Write(raw)
	require.NoError(tb, err)
	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, nil)
	require.NoError(tb, err)
	if resp.StatusCode != http.StatusSwitchingProtocols {
		tb.Cleanup(func() { _ = resp.Body.Close() }) //nolint:errcheck // Test cleanup.
	}

	return conn, reader, resp
}

func (tc *httpTestClient) dial(ctx context.Context, tb testing.TB) net.Conn {
	tb.Helper()

	conn, err := new(net.Dialer).DialContext(ctx, "tcp", tc.serverAddr)
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = conn.Close() }) //nolint:errcheck // Might be closed already.
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = stdlibtime.Now().Add(dialTimeout)
	}
	require.NoError(tb, conn.SetDeadline(deadline))

	return conn
}

func (tc *httpTestClient) TestHealthCheck(ctx context.Context, tb testing.TB) {
	tb.Helper()

	resp := tc.Request(ctx, tb, http.MethodGet, "/health-check", nil, http.Header{"CF-Connecting-IP": []string{"1.2.3.4"}})
	assert.Equal(tb, `{"clientIp":"1.2.3.4"}`, resp.Body)
	assert.Equal(tb, http.StatusOK, resp.Status)
	require.Equal(tb, http.Header{"Content-Length": []string{"22"}, "Content-Type": []string{"application/json; charset=utf-8"}}, resp.Header)
}
