// SPDX-License-Identifier: ice License 1.0

package server_test

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	stdlibtime "time"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/ice-blockchain/httpupgrade/http1"
	"github.com/ice-blockchain/httpupgrade/log"
	"github.com/ice-blockchain/httpupgrade/pipeline"
	"github.com/ice-blockchain/httpupgrade/server"
	"github.com/ice-blockchain/httpupgrade/server/fixture"
	apptesting "github.com/ice-blockchain/httpupgrade/testing"
	"github.com/ice-blockchain/httpupgrade/upgrade/websocket"
)

const (
	testDeadline = 10 * stdlibtime.Second
	clientKey    = "dGhlIHNhbXBsZSBub25jZQ=="
)

//nolint:gochecknoglobals // Shared by every test of the package.
var (
	testServer *fixture.TestServer
	testSvc    = new(service)
)

type (
	service struct {
		h2cFrames atomic.Int64
	}
	echo       struct{}
	frameCount struct {
		counter *atomic.Int64
	}
)

func (*service) Init(context.Context, context.CancelFunc) {}

func (*service) Close(context.Context) error {
	return nil
}

func (*service) CheckHealth(context.Context) error {
	return nil
}

func (*service) RegisterRoutes(r *server.Router) {
	r.GET("hello", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"hello": c.Query("name")})
	})
	r.POST("echo", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusInternalServerError)

			return
		}
		c.Data(http.StatusOK, "text/plain", body)
	})
}

func (*service) NewWebsocketHandler(ws.Handshake) any {
	return new(echo)
}

func (s *service) NewH2CHandler(*http1.RequestHead, []http2.Setting) any {
	return &frameCount{counter: &s.h2cFrames}
}

func (*echo) ChannelRead(ctx *pipeline.Context, msg any) {
	if m, ok := msg.(websocket.Message); ok {
		ctx.WriteAndFlush(m)
	}
}

func (f *frameCount) ChannelRead(_ *pipeline.Context, msg any) {
	if _, ok := msg.(http2.Frame); ok {
		f.counter.Add(1)
	}
}

func TestMain(m *testing.M) {
	ctx, cancel := context.WithCancel(context.Background())
	var err error
	if testServer, err = fixture.StartTestServer(ctx, testSvc, "self"); err != nil {
		cancel()
		log.Panic(err)
	}
	code := m.Run()
	testServer.Stop()
	cancel()
	os.Exit(code)
}

func TestPlainHTTPRequestsAreServedByTheRouter(t *testing.T) {
	t.Parallel()
	ctx := apptesting.Context(t)

	testServer.TestHealthCheck(ctx, t)
	resp := testServer.Request(ctx, t, http.MethodGet, "/hello?name=bob", nil, nil)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, &map[string]string{"hello": "bob"}, apptesting.MustUnmarshal[map[string]string](t, resp.Body))
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))

	resp = testServer.Request(ctx, t, http.MethodPost, "/echo", strings.NewReader(`{"a":1}`), http.Header{"Content-Type": []string{"application/json"}})
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, `{"a":1}`, resp.Body)

	resp = testServer.Request(ctx, t, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestWebsocketUpgrade(t *testing.T) {
	t.Parallel()
	ctx := apptesting.Context(t)

	conn, resp := testServer.DialWebsocket(ctx, t, "/chat", "superchat")
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, "superchat", conn.Subprotocol())
	require.NoError(t, conn.SetReadDeadline(stdlibtime.Now().Add(testDeadline)))
	for _, text := range []string{"hello", "world"} {
		require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte(text)))
		typ, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, gorillaws.TextMessage, typ)
		assert.Equal(t, text, string(msg))
	}
	require.NoError(t, conn.WriteControl(gorillaws.CloseMessage, gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, ""), stdlibtime.Now().Add(testDeadline))) //nolint:lll // .
	_, _, err := conn.ReadMessage()
	require.True(t, gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure), err)
}

func TestBytesSentRightAfterTheUpgradeRequestAreNotLost(t *testing.T) {
	t.Parallel()
	ctx := apptesting.Context(t)
	frame, err := ws.CompileFrame(ws.MaskFrame(ws.NewTextFrame([]byte("early"))))
	require.NoError(t, err)
	raw := fmt.Appendf(nil, "GET /chat HTTP/1.1\r\nHost: localhost\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n"+
		"Sec-WebSocket-Version: 13\r\nSec-WebSocket-Key: %v\r\n\r\n%s", clientKey, frame)

	_, reader, resp := testServer.Exchange(ctx, t, raw)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, "websocket", resp.Header.Get("Upgrade"))
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", resp.Header.Get("Sec-Websocket-Accept"))
	echoed, err := ws.ReadFrame(reader)
	require.NoError(t, err)
	assert.Equal(t, ws.OpText, echoed.Header.OpCode)
	assert.Equal(t, "early", string(echoed.Payload))
}

func TestH2CUpgrade(t *testing.T) {
	t.Parallel()
	ctx := apptesting.Context(t)
	before := testSvc.h2cFrames.Load()

	conn, reader, resp := testServer.Exchange(ctx, t, []byte("GET / HTTP/1.1\r\nHost: localhost\r\nConnection: Upgrade, HTTP2-Settings\r\n"+
		"Upgrade: h2c\r\nHTTP2-Settings: AAMAAABkAAQAAP__\r\n\r\n"))
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, "h2c", resp.Header.Get("Upgrade"))

	framer := http2.NewFramer(conn, reader)
	frame, err := framer.ReadFrame()
	require.NoError(t, err)
	settings, ok := frame.(*http2.SettingsFrame)
	require.True(t, ok)
	assert.False(t, settings.IsAck())

	_, err = io.WriteString(conn, http2.ClientPreface)
	require.NoError(t, err)
	require.NoError(t, framer.WriteSettings())
	frame, err = framer.ReadFrame()
	require.NoError(t, err)
	settings, ok = frame.(*http2.SettingsFrame)
	require.True(t, ok)
	assert.True(t, settings.IsAck())
	apptesting.Eventually(t, func() bool { return testSvc.h2cFrames.Load() > before })
}

func TestUnknownUpgradeIsServedAsPlainHTTP(t *testing.T) {
	t.Parallel()
	ctx := apptesting.Context(t)
	conn := testServer.Dial(ctx, t)

	_, err := io.WriteString(conn, "GET /hello?name=x HTTP/1.1\r\nHost: localhost\r\nUpgrade: foo\r\nConnection: Upgrade\r\n\r\n"+
		"GET /hello?name=y HTTP/1.1\r\nHost: localhost\r\n\r\n")
	require.NoError(t, err)
	reader := bufio.NewReader(conn)
	for _, name := range []string{"x", "y"} {
		resp, rErr := http.ReadResponse(reader, nil)
		require.NoError(t, rErr)
		body, rErr := io.ReadAll(resp.Body)
		require.NoError(t, rErr)
		require.NoError(t, resp.Body.Close())
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, fmt.Sprintf(`{"hello":%q}`, name), string(body))
	}
}

func TestMalformedRequestIsRejected(t *testing.T) {
	t.Parallel()
	ctx := apptesting.Context(t)

	_, reader, resp := testServer.Exchange(ctx, t, []byte("NOT A REQUEST\r\n\r\n"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, resp.Close)
	_, err := reader.ReadByte()
	require.ErrorIs(t, err, io.EOF)
}

func TestMetricsAreExposed(t *testing.T) {
	t.Parallel()
	ctx := apptesting.Context(t)
	conn, _ := testServer.DialWebsocket(ctx, t, "/chat")
	require.NoError(t, conn.Close())

	apptesting.Eventually(t, func() bool {
		resp := testServer.Request(ctx, t, http.MethodGet, "/metrics", nil, nil)

		return resp.Status == http.StatusOK &&
			strings.Contains(resp.Body, `httpupgrade_negotiations_total{outcome="upgraded"}`) &&
			strings.Contains(resp.Body, `httpupgrade_transitions_total{protocol="websocket",result="success"}`)
	})
}
