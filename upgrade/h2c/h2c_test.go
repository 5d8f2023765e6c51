// SPDX-License-Identifier: ice License 1.0

package h2c_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/ice-blockchain/httpupgrade/http1"
	"github.com/ice-blockchain/httpupgrade/pipeline"
	"github.com/ice-blockchain/httpupgrade/pipeline/fixture"
	"github.com/ice-blockchain/httpupgrade/upgrade/h2c"
)

const validSettings = "AAMAAABkAAQAAP__"

type anchor struct{}

func (*anchor) ChannelRead(ctx *pipeline.Context, msg any) {
	ctx.FireChannelRead(msg)
}

func upgradeRequest(settings ...string) *http1.RequestHead {
	pairs := []string{"Host", "localhost", "Connection", "Upgrade, HTTP2-Settings", "Upgrade", "h2c"}
	for _, value := range settings {
		pairs = append(pairs, "HTTP2-Settings", value)
	}

	return &http1.RequestHead{Method: "GET", URI: "/", Version: http1.Version{Major: 1, Minor: 1}, Headers: http1.NewHeaders(pairs...)}
}

func TestBuildResponseHeadersValidatesSettings(t *testing.T) {
	t.Parallel()
	capability := h2c.New(nil, nil)
	assert.Equal(t, h2c.Protocol, capability.Protocol())
	assert.Equal(t, []string{"upgrade", "http2-settings"}, capability.RequiredHeaders())
	proposed := http1.NewHeaders("connection", "upgrade", "upgrade", h2c.Protocol)

	headers, err := capability.BuildResponseHeaders(upgradeRequest(validSettings), proposed)
	require.NoError(t, err)
	assert.Same(t, proposed, headers)

	_, err = capability.BuildResponseHeaders(upgradeRequest(validSettings+"=="), proposed)
	require.NoError(t, err)

	_, err = capability.BuildResponseHeaders(upgradeRequest(""), proposed)
	require.NoError(t, err)

	for name, settings := range map[string][]string{
		"missing":            nil,
		"duplicated":         {validSettings, validSettings},
		"not base64":         {"!!!"},
		"truncated setting":  {"AAMAAAA"},
		"invalid enablePush": {"AAIAAAAC"},
	} {
		_, err = capability.BuildResponseHeaders(upgradeRequest(settings...), proposed)
		require.ErrorIs(t, err, h2c.ErrBadSettings, name)
	}
}

func readFrames(tb testing.TB, out string, fn func(http2.Frame)) {
	tb.Helper()
	framer := http2.NewFramer(nil, strings.NewReader(out))
	for {
		frame, err := framer.ReadFrame()
		if err == io.EOF { //nolint:errorlint // Returned as is by the framer.
			return
		}
		require.NoError(tb, err)
		fn(frame)
	}
}

func clientBytes(tb testing.TB, write func(*http2.Framer) error) string {
	tb.Helper()
	var buf bytes.Buffer
	require.NoError(tb, write(http2.NewFramer(&buf, nil)))

	return buf.String()
}

func installed(tb testing.TB) *fixture.EmbeddedChannel {
	tb.Helper()
	capability := h2c.New(&h2c.Config{MaxConcurrentStreams: 10, InitialWindowSize: 1 << 20}, nil)
	a := new(anchor)
	ch := fixture.NewEmbeddedChannel().Add("upgrade-gate", a)
	req := upgradeRequest(validSettings)
	var done bool
	ch.Exec(func() {
		capability.Install(ch.Pipeline().Context(a), req).OnComplete(func(err error) {
			require.NoError(tb, err)
			done = true
		})
	})
	require.True(tb, done)
	require.Len(tb, ch.Recorder.Events, 1)
	event, ok := ch.Recorder.Events[0].(h2c.UpgradedRequest)
	require.True(tb, ok)
	require.Same(tb, req, event.Request)
	require.Equal(tb, []http2.Setting{
		{ID: http2.SettingMaxConcurrentStreams, Val: 100},
		{ID: http2.SettingInitialWindowSize, Val: 65535},
	}, event.Settings)

	return ch
}

func TestInstallSendsServerSettingsFirst(t *testing.T) {
	t.Parallel()
	ch := installed(t)

	var frames int
	readFrames(t, ch.Transport.TakeFlushed(), func(frame http2.Frame) {
		frames++
		settings, ok := frame.(*http2.SettingsFrame)
		require.True(t, ok)
		assert.False(t, settings.IsAck())
		v, found := settings.Value(http2.SettingMaxConcurrentStreams)
		assert.True(t, found)
		assert.Equal(t, uint32(10), v)
		v, found = settings.Value(http2.SettingInitialWindowSize)
		assert.True(t, found)
		assert.Equal(t, uint32(1<<20), v)
	})
	assert.Equal(t, 1, frames)
	assert.Equal(t, []string{"upgrade-gate", h2c.PrefaceHandlerName, fixture.RecorderName}, ch.Names())
}

func TestPrefaceThenFramesAreForwarded(t *testing.T) {
	t.Parallel()
	ch := installed(t)
	ch.Transport.TakeFlushed()
	settings := clientBytes(t, func(f *http2.Framer) error { return f.WriteSettings() })
	ping := clientBytes(t, func(f *http2.Framer) error { return f.WritePing(false, [8]byte{1, 2, 3}) })
	raw := http2.ClientPreface + settings + ping

	ch.WriteInboundBytes(raw[:10], raw[10:30], raw[30:])

	require.Len(t, ch.Recorder.Inbound, 2)
	assert.IsType(t, new(http2.SettingsFrame), ch.Recorder.Inbound[0])
	pingFrame, ok := ch.Recorder.Inbound[1].(*http2.PingFrame)
	require.True(t, ok)
	assert.Equal(t, [8]byte{1, 2, 3}, pingFrame.Data)
	var acks int
	readFrames(t, ch.Outbound(), func(frame http2.Frame) {
		if s, isSettings := frame.(*http2.SettingsFrame); isSettings && s.IsAck() {
			acks++
		}
	})
	assert.Equal(t, 1, acks)
	assert.Empty(t, ch.Recorder.Errors)
}

func TestInvalidPrefaceIsAConnectionError(t *testing.T) {
	t.Parallel()
	for name, raw := range map[string]string{
		"http/1 request": "GET / HTTP/1.1\r\n\r\n",
		"first frame not settings": http2.ClientPreface +
			"\x00\x00\x08\x06\x00\x00\x00\x00\x00" + "\x00\x00\x00\x00\x00\x00\x00\x00",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ch := installed(t)
			ch.Transport.TakeFlushed()

			ch.WriteInboundBytes(raw)

			require.Len(t, ch.Recorder.Errors, 1)
			require.ErrorIs(t, ch.Recorder.Errors[0], h2c.ErrBadPreface)
			var goAway bool
			readFrames(t, ch.Outbound(), func(frame http2.Frame) {
				if g, ok := frame.(*http2.GoAwayFrame); ok {
					goAway = g.ErrCode == http2.ErrCodeProtocol
				}
			})
			assert.True(t, goAway)
			assert.True(t, ch.Transport.Closed)
		})
	}
}
