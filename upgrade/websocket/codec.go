// SPDX-License-Identifier: ice License 1.0

package websocket

import (
	"bytes"
	"io"

	"github.com/gobwas/ws"
	"github.com/pkg/errors"

	"github.com/ice-blockchain/httpupgrade/eventloop"
	"github.com/ice-blockchain/httpupgrade/log"
	"github.com/ice-blockchain/httpupgrade/pipeline"
	"github.com/ice-blockchain/httpupgrade/terror"
)

func newCodec(maxMessageSize int64) *codec {
	return &codec{maxMessageSize: maxMessageSize}
}

// ChannelRead decodes client frames from []byte. Control frames are answered here, data frames are joined into Message values.
func (c *codec) ChannelRead(ctx *pipeline.Context, msg any) {
	data, ok := msg.([]byte)
	if !ok {
		ctx.FireChannelRead(msg)

		return
	}
	if c.failed || c.closing {
		return
	}
	c.buf = append(c.buf, data...)
	for !c.failed && !c.closing {
		frame, complete, err := c.nextFrame()
		if err != nil {
			c.fail(ctx, err)

			return
		}
		if !complete {
			return
		}
		if err = c.handle(ctx, frame); err != nil {
			c.fail(ctx, err)

			return
		}
	}
}

func (*codec) ChannelReadComplete(ctx *pipeline.Context) {
	ctx.FireChannelReadComplete()
}

func (c *codec) nextFrame() (frame ws.Frame, complete bool, err error) {
	reader := bytes.NewReader(c.buf)
	header, err := ws.ReadHeader(reader)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return frame, false, nil
		}

		return frame, false, errors.Wrap(err, "invalid frame header")
	}
	state := ws.StateServerSide
	if c.fragmented {
		state = state.Set(ws.StateFragmented)
	}
	if err = ws.CheckHeader(header, state); err != nil {
		return frame, false, errors.Wrap(err, "frame rejected")
	}
	if header.Length > c.maxMessageSize || int64(len(c.fragments))+header.Length > c.maxMessageSize {
		return frame, false, errors.Wrapf(ErrMessageTooBig, "%v bytes", int64(len(c.fragments))+header.Length)
	}
	headerSize := ws.HeaderSize(header)
	if int64(len(c.buf)-headerSize) < header.Length {
		return frame, false, nil
	}
	end := headerSize + int(header.Length)
	payload := bytes.Clone(c.buf[headerSize:end])
	c.buf = c.buf[end:]
	ws.Cipher(payload, header.Mask, 0)
	header.Masked = false

	return ws.Frame{Header: header, Payload: payload}, true, nil
}

//nolint:exhaustive // Reserved opcodes are rejected by ws.CheckHeader.
func (c *codec) handle(ctx *pipeline.Context, frame ws.Frame) error {
	switch frame.Header.OpCode {
	case ws.OpPing:
		c.writeFrame(ctx, ws.NewPongFrame(frame.Payload))
	case ws.OpPong:
	case ws.OpClose:
		code, reason := ws.ParseCloseFrameData(frame.Payload)
		log.Debug("websocket closed by peer", "channel", ctx.Channel().ID(), "code", code, "reason", reason)
		c.closing = true
		body := frame.Payload
		if len(body) != 0 {
			body = ws.NewCloseFrameBody(code, "")
		}
		c.writeFrame(ctx, ws.NewCloseFrame(body)).OnComplete(func(error) { ctx.Close() })
	case ws.OpText, ws.OpBinary:
		if !frame.Header.Fin {
			c.fragmented, c.fragmentOp = true, frame.Header.OpCode
			c.fragments = append(c.fragments[:0], frame.Payload...)

			return nil
		}
		ctx.FireChannelRead(Message{OpCode: frame.Header.OpCode, Payload: frame.Payload})
	case ws.OpContinuation:
		c.fragments = append(c.fragments, frame.Payload...)
		if frame.Header.Fin {
			c.fragmented = false
			payload := c.fragments
			c.fragments = nil
			ctx.FireChannelRead(Message{OpCode: c.fragmentOp, Payload: payload})
		}
	default:
		return errors.Wrapf(ErrUnsupportedOpCode, "%v", frame.Header.OpCode)
	}

	return nil
}

// Protocol errors are reported, answered with a close frame and end the connection.
func (c *codec) fail(ctx *pipeline.Context, err error) {
	c.failed = true
	c.buf, c.fragments = nil, nil
	status := ws.StatusProtocolError
	if errors.Is(err, ErrMessageTooBig) {
		status = ws.StatusMessageTooBig
	}
	ctx.FireErrorCaught(terror.New(err, map[string]any{"channel": ctx.Channel().ID(), "status": int(status)}))
	c.writeFrame(ctx, ws.NewCloseFrame(ws.NewCloseFrameBody(status, ""))).OnComplete(func(error) { ctx.Close() })
}

func (*codec) writeFrame(ctx *pipeline.Context, frame ws.Frame) *eventloop.Future {
	compiled, err := ws.CompileFrame(frame)
	if err != nil {
		return ctx.Loop().Failed(errors.Wrap(err, "failed to compile frame"))
	}

	return ctx.WriteAndFlush(compiled)
}

// Write frames outbound Message values; anything else passes through.
func (*codec) Write(ctx *pipeline.Context, msg any, future *eventloop.Future) {
	var frame ws.Frame
	switch m := msg.(type) {
	case Message:
		frame = ws.NewFrame(m.OpCode, true, m.Payload)
	case ws.Frame:
		frame = m
	default:
		ctx.WriteWithFuture(msg, future)

		return
	}
	compiled, err := ws.CompileFrame(frame)
	if err != nil {
		future.Complete(errors.Wrap(err, "failed to compile frame"))

		return
	}
	ctx.WriteWithFuture(compiled, future)
}
