// SPDX-License-Identifier: ice License 1.0

package websocket_test

import (
	"strings"
	"testing"

	"github.com/gobwas/httphead"
	"github.com/gobwas/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/httpupgrade/http1"
	"github.com/ice-blockchain/httpupgrade/pipeline"
	"github.com/ice-blockchain/httpupgrade/pipeline/fixture"
	"github.com/ice-blockchain/httpupgrade/upgrade/websocket"
)

const (
	sampleKey    = "dGhlIHNhbXBsZSBub25jZQ=="
	sampleAccept = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
)

type (
	anchor struct{}
	echo   struct {
		hs ws.Handshake
	}
)

func (*anchor) ChannelRead(ctx *pipeline.Context, msg any) {
	ctx.FireChannelRead(msg)
}

func (*echo) ChannelRead(ctx *pipeline.Context, msg any) {
	if m, ok := msg.(websocket.Message); ok {
		ctx.WriteAndFlush(m)

		return
	}
	ctx.FireChannelRead(msg)
}

func handshakeRequest(pairs ...string) *http1.RequestHead {
	return &http1.RequestHead{
		Method:  "GET",
		URI:     "/chat",
		Version: http1.Version{Major: 1, Minor: 1},
		Headers: http1.NewHeaders(append([]string{
			"Upgrade", "websocket",
			"Connection", "Upgrade",
			"Sec-WebSocket-Version", "13",
		}, pairs...)...),
	}
}

func proposed() *http1.Headers {
	return http1.NewHeaders("connection", "upgrade", "upgrade", websocket.Protocol)
}

func TestBuildResponseHeaders(t *testing.T) {
	t.Parallel()
	capability := websocket.New(&websocket.Config{Subprotocols: []string{"chat", "superchat"}}, nil)
	assert.Equal(t, websocket.Protocol, capability.Protocol())
	assert.Empty(t, capability.RequiredHeaders())

	headers, err := capability.BuildResponseHeaders(handshakeRequest(
		"Sec-WebSocket-Key", sampleKey,
		"Sec-WebSocket-Protocol", "v10.stomp, superchat, chat",
	), proposed())

	require.NoError(t, err)
	assert.Equal(t, []string{"connection", "upgrade", "sec-websocket-accept", "sec-websocket-protocol"}, headers.Names())
	assert.Equal(t, sampleAccept, headers.Get("Sec-WebSocket-Accept"))
	assert.Equal(t, "superchat", headers.Get("Sec-WebSocket-Protocol"))
}

func TestBuildResponseHeadersNegotiatesExtensions(t *testing.T) {
	t.Parallel()
	capability := websocket.New(nil, nil, websocket.WithExtensionNegotiation(func(opt httphead.Option) (httphead.Option, error) {
		if string(opt.Name) != "permessage-deflate" {
			return httphead.Option{}, nil
		}

		return httphead.NewOption("permessage-deflate", map[string]string{"server_no_context_takeover": ""}), nil
	}))

	headers, err := capability.BuildResponseHeaders(handshakeRequest(
		"Sec-WebSocket-Key", sampleKey,
		"Sec-WebSocket-Extensions", "x-webkit-deflate-frame, permessage-deflate; client_max_window_bits",
	), proposed())

	require.NoError(t, err)
	assert.Equal(t, "permessage-deflate;server_no_context_takeover", headers.Get("Sec-WebSocket-Extensions"))

	selecting := websocket.New(nil, nil, websocket.WithExtensions(func(opt httphead.Option) bool {
		return string(opt.Name) == "x-webkit-deflate-frame"
	}))
	headers, err = selecting.BuildResponseHeaders(handshakeRequest(
		"Sec-WebSocket-Key", sampleKey,
		"Sec-WebSocket-Extensions", "x-webkit-deflate-frame, permessage-deflate",
	), proposed())
	require.NoError(t, err)
	assert.Equal(t, "x-webkit-deflate-frame", headers.Get("Sec-WebSocket-Extensions"))
}

func TestBuildResponseHeadersRejectsBadHandshakes(t *testing.T) {
	t.Parallel()
	capability := websocket.New(nil, nil)

	_, err := capability.BuildResponseHeaders(handshakeRequest(), proposed())
	require.ErrorIs(t, err, websocket.ErrBadKey)

	_, err = capability.BuildResponseHeaders(handshakeRequest("Sec-WebSocket-Key", "abc"), proposed())
	require.ErrorIs(t, err, websocket.ErrBadKey)

	_, err = capability.BuildResponseHeaders(handshakeRequest("Sec-WebSocket-Key", sampleKey, "Sec-WebSocket-Key", sampleKey), proposed())
	require.ErrorIs(t, err, websocket.ErrBadKey)

	req := handshakeRequest("Sec-WebSocket-Key", sampleKey)
	req.Headers.Set("Sec-WebSocket-Version", "8")
	_, err = capability.BuildResponseHeaders(req, proposed())
	require.ErrorIs(t, err, websocket.ErrBadVersion)
}

func installed(tb testing.TB, cfg *websocket.Config) (*fixture.EmbeddedChannel, *echo) {
	tb.Helper()
	var app *echo
	capability := websocket.New(cfg, func(hs ws.Handshake) any {
		app = &echo{hs: hs}

		return app
	})
	a := new(anchor)
	ch := fixture.NewEmbeddedChannel().Add("upgrade-gate", a)
	var err error
	ch.Exec(func() {
		err = capability.Install(ch.Pipeline().Context(a), handshakeRequest("Sec-WebSocket-Key", sampleKey)).Err()
	})
	require.NoError(tb, err)
	require.Equal(tb, []string{"upgrade-gate", websocket.CodecHandlerName, websocket.ApplicationHandlerName, fixture.RecorderName}, ch.Names())

	return ch, app
}

func clientFrame(tb testing.TB, frame ws.Frame) string {
	tb.Helper()
	compiled, err := ws.CompileFrame(ws.MaskFrame(frame))
	require.NoError(tb, err)

	return string(compiled)
}

func serverFrames(tb testing.TB, out string) []ws.Frame {
	tb.Helper()
	var frames []ws.Frame
	reader := strings.NewReader(out)
	for reader.Len() > 0 {
		frame, err := ws.ReadFrame(reader)
		require.NoError(tb, err)
		require.False(tb, frame.Header.Masked)
		frames = append(frames, frame)
	}

	return frames
}

func TestCodecEchoesMessagesSplitAcrossReads(t *testing.T) {
	t.Parallel()
	ch, _ := installed(t, nil)
	raw := clientFrame(t, ws.NewTextFrame([]byte("hello")))

	ch.WriteInboundBytes(raw[:1], raw[1:4], raw[4:])

	frames := serverFrames(t, ch.Outbound())
	require.Len(t, frames, 1)
	assert.Equal(t, ws.OpText, frames[0].Header.OpCode)
	assert.True(t, frames[0].Header.Fin)
	assert.Equal(t, "hello", string(frames[0].Payload))
	assert.Empty(t, ch.Recorder.Errors)
}

func TestCodecJoinsFragmentsAndAnswersPings(t *testing.T) {
	t.Parallel()
	ch, _ := installed(t, nil)

	ch.WriteInboundBytes(
		clientFrame(t, ws.NewFrame(ws.OpBinary, false, []byte("hel")))+
			clientFrame(t, ws.NewPingFrame([]byte("are you there"))),
		clientFrame(t, ws.NewFrame(ws.OpContinuation, true, []byte("lo"))),
	)

	frames := serverFrames(t, ch.Outbound())
	require.Len(t, frames, 2)
	assert.Equal(t, ws.OpPong, frames[0].Header.OpCode)
	assert.Equal(t, "are you there", string(frames[0].Payload))
	assert.Equal(t, ws.OpBinary, frames[1].Header.OpCode)
	assert.Equal(t, "hello", string(frames[1].Payload))
}

func TestCodecAnswersCloseAndClosesTheChannel(t *testing.T) {
	t.Parallel()
	ch, _ := installed(t, nil)

	ch.WriteInboundBytes(clientFrame(t, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusGoingAway, "bye"))) +
		clientFrame(t, ws.NewTextFrame([]byte("ignored"))))

	frames := serverFrames(t, ch.Outbound())
	require.Len(t, frames, 1)
	assert.Equal(t, ws.OpClose, frames[0].Header.OpCode)
	code, _ := ws.ParseCloseFrameData(frames[0].Payload)
	assert.Equal(t, ws.StatusGoingAway, code)
	assert.True(t, ch.Transport.Closed)
}

func TestCodecFailsOnProtocolViolations(t *testing.T) {
	t.Parallel()
	for name, tc := range map[string]struct {
		raw    func(testing.TB) string
		target error
		status ws.StatusCode
	}{
		"unmasked": {
			raw: func(tb testing.TB) string {
				tb.Helper()

				return string(ws.MustCompileFrame(ws.NewTextFrame([]byte("plain"))))
			},
			target: ws.ErrProtocolMaskRequired,
			status: ws.StatusProtocolError,
		},
		"unexpected continuation": {
			raw: func(tb testing.TB) string {
				tb.Helper()

				return clientFrame(tb, ws.NewFrame(ws.OpContinuation, true, []byte("x")))
			},
			target: ws.ErrProtocolContinuationUnexpected,
			status: ws.StatusProtocolError,
		},
		"too big": {
			raw: func(tb testing.TB) string {
				tb.Helper()

				return clientFrame(tb, ws.NewTextFrame([]byte("much too long")))
			},
			target: websocket.ErrMessageTooBig,
			status: ws.StatusMessageTooBig,
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ch, _ := installed(t, &websocket.Config{MaxMessageSize: 8})

			ch.WriteInboundBytes(tc.raw(t))

			require.Len(t, ch.Recorder.Errors, 1)
			require.ErrorIs(t, ch.Recorder.Errors[0], tc.target)
			frames := serverFrames(t, ch.Outbound())
			require.Len(t, frames, 1)
			code, _ := ws.ParseCloseFrameData(frames[0].Payload)
			assert.Equal(t, tc.status, code)
			assert.True(t, ch.Transport.Closed)
		})
	}
}

func TestInstallPassesHandshakeToFactory(t *testing.T) {
	t.Parallel()
	var got ws.Handshake
	capability := websocket.New(&websocket.Config{Subprotocols: []string{"chat"}}, func(hs ws.Handshake) any {
		got = hs

		return new(echo)
	})
	a := new(anchor)
	ch := fixture.NewEmbeddedChannel().Add("upgrade-gate", a)

	ch.Exec(func() {
		capability.Install(ch.Pipeline().Context(a), handshakeRequest("Sec-WebSocket-Key", sampleKey, "Sec-WebSocket-Protocol", "chat"))
	})

	assert.Equal(t, "chat", got.Protocol)
}
