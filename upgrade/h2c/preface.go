// SPDX-License-Identifier: ice License 1.0

package h2c

import (
	"bytes"

	"github.com/pkg/errors"
	"golang.org/x/net/http2"

	"github.com/ice-blockchain/httpupgrade/eventloop"
	"github.com/ice-blockchain/httpupgrade/pipeline"
	"github.com/ice-blockchain/httpupgrade/terror"
)

// The server connection preface is a SETTINGS frame, it must be the first thing sent after the 101.
func (h *prefaceHandler) start(ctx *pipeline.Context) *eventloop.Future {
	var out bytes.Buffer
	if err := http2.NewFramer(&out, nil).WriteSettings(h.serverSettings...); err != nil {
		return ctx.Loop().Failed(errors.Wrap(err, "failed to write server settings"))
	}

	return ctx.WriteAndFlush(out.Bytes()).Map(func() error {
		ctx.FireUserEventTriggered(UpgradedRequest{Request: h.request, Settings: h.clientSettings})

		return nil
	})
}

func (h *prefaceHandler) ChannelRead(ctx *pipeline.Context, msg any) {
	data, ok := msg.([]byte)
	if !ok {
		ctx.FireChannelRead(msg)

		return
	}
	if h.failed {
		return
	}
	h.buf = append(h.buf, data...)
	if !h.prefaceSeen {
		n := min(len(h.buf), len(http2.ClientPreface))
		if !bytes.Equal(h.buf[:n], []byte(http2.ClientPreface[:n])) {
			h.fail(ctx, http2.ErrCodeProtocol, errors.Wrapf(ErrBadPreface, "got %q", h.buf[:n]))

			return
		}
		if n < len(http2.ClientPreface) {
			return
		}
		h.prefaceSeen, h.buf = true, h.buf[n:]
	}
	for !h.failed && len(h.buf) >= frameHeaderLen {
		length := int(h.buf[0])<<16 | int(h.buf[1])<<8 | int(h.buf[2])
		if length > maxReadFrameLen {
			h.fail(ctx, http2.ErrCodeFrameSize, errors.Wrapf(ErrBadFrame, "%v bytes frame", length))

			return
		}
		if len(h.buf) < frameHeaderLen+length {
			return
		}
		raw := h.buf[:frameHeaderLen+length]
		h.buf = h.buf[frameHeaderLen+length:]
		h.onFrame(ctx, raw)
	}
}

func (*prefaceHandler) ChannelReadComplete(ctx *pipeline.Context) {
	ctx.FireChannelReadComplete()
}

func (h *prefaceHandler) onFrame(ctx *pipeline.Context, raw []byte) {
	frame, err := http2.NewFramer(nil, bytes.NewReader(raw)).ReadFrame()
	if err != nil {
		code := http2.ErrCodeProtocol
		var connErr http2.ConnectionError
		if errors.As(err, &connErr) {
			code = http2.ErrCode(connErr)
		}
		h.fail(ctx, code, errors.Wrapf(ErrBadFrame, "%v", err))

		return
	}
	settings, isSettings := frame.(*http2.SettingsFrame)
	if !h.settingsSeen {
		if !isSettings || settings.IsAck() {
			h.fail(ctx, http2.ErrCodeProtocol, errors.Wrapf(ErrBadPreface, "first frame is %v, not SETTINGS", frame.Header().Type))

			return
		}
		h.settingsSeen = true
	}
	if isSettings && !settings.IsAck() {
		var out bytes.Buffer
		if err = http2.NewFramer(&out, nil).WriteSettingsAck(); err == nil {
			ctx.WriteAndFlush(out.Bytes())
		}
	}
	ctx.FireChannelRead(frame)
}

func (h *prefaceHandler) fail(ctx *pipeline.Context, code http2.ErrCode, err error) {
	h.failed, h.buf = true, nil
	ctx.FireErrorCaught(terror.New(err, map[string]any{"channel": ctx.Channel().ID(), "code": code.String()}))
	var out bytes.Buffer
	if wErr := http2.NewFramer(&out, nil).WriteGoAway(0, code, nil); wErr != nil {
		ctx.Close()

		return
	}
	ctx.WriteAndFlush(out.Bytes()).OnComplete(func(error) { ctx.Close() })
}
