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

	"github.com/ice-blockchain/httpupgrade/server"
)

// Public API.

type (
	HTTPTestClient interface {
		Request(ctx context.Context, tb testing.TB, method, path string, body io.Reader, header http.Header) *Response
		Exchange(ctx context.Context, tb testing.TB, raw []byte) (net.Conn, *bufio.Reader, *http.Response)
	}
	Response struct {
		Header http.Header
		Body   string
		Status int
	}
	// TestServer is a real server listening on a random local port.
	TestServer struct {
		*httpTestClient
		server server.Server
		cancel context.CancelFunc
		done   chan struct{}
	}
)

// Private API.

const (
	dialTimeout  = 5 * stdlibtime.Second
	pollInterval = 10 * stdlibtime.Millisecond
)

type (
	httpTestClient struct {
		client     *http.Client
		serverAddr string
	}
)
