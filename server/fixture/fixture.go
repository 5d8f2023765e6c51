// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	stdlibtime "time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/httpupgrade/server"
)

// StartTestServer runs service on a random port and waits until it accepts connections.
func StartTestServer(ctx context.Context, service server.Service, cfgKey string) (*TestServer, error) {
	srv := server.New(service, cfgKey)
	ctx, cancel := context.WithCancel(ctx)
	ts := &TestServer{server: srv, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(ts.done)
		srv.ListenAndServe(ctx, cancel)
	}()
	ticker := stdlibtime.NewTicker(pollInterval)
	defer ticker.Stop()
	deadline := stdlibtime.After(dialTimeout)
	for srv.Addr() == nil {
		select {
		case <-ts.done:
			cancel()

			return nil, errors.New("server stopped before listening")
		case <-deadline:
			ts.Stop()

			return nil, errors.Errorf("server did not start listening in %v", dialTimeout)
		case <-ticker.C:
		}
	}
	ts.httpTestClient = &httpTestClient{
		client:     &http.Client{Transport: new(http.Transport), Timeout: dialTimeout},
		serverAddr: srv.Addr().String(),
	}

	return ts, nil
}

func (ts *TestServer) Addr() string {
	return ts.serverAddr
}

// Stop cancels the server and waits until it is fully shut down.
func (ts *TestServer) Stop() {
	if ts.httpTestClient != nil {
		ts.client.CloseIdleConnections()
	}
	ts.cancel()
	<-ts.done
}

// Dial opens a raw TCP connection, for tests that speak the wire protocol themselves.
func (ts *TestServer) Dial(ctx context.Context, tb testing.TB) net.Conn {
	tb.Helper()

	return ts.dial(ctx, tb)
}

func (ts *TestServer) DialWebsocket(
	ctx context.Context, tb testing.TB, path string, subprotocols ...string,
) (*websocket.Conn, *http.Response) {
	tb.Helper()
	dialer := &websocket.Dialer{Subprotocols: subprotocols, HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, fmt.Sprintf("ws://%v%v", ts.serverAddr, path), nil)
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = conn.Close() }) //nolint:errcheck // Might be closed already.

	return conn, resp
}
