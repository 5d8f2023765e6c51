// SPDX-License-Identifier: ice License 1.0

package pipeline

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/ice-blockchain/httpupgrade/eventloop"
	"github.com/ice-blockchain/httpupgrade/log"
)

func (h *headHandler) Write(_ *Context, msg any, future *eventloop.Future) {
	if h.channel.closed {
		future.Complete(ErrChannelClosed)

		return
	}
	var data []byte
	switch m := msg.(type) {
	case []byte:
		data = m
	case string:
		data = []byte(m)
	default:
		future.Complete(errors.Wrapf(ErrUnsupportedMessage, "%T", msg))

		return
	}
	if err := h.channel.transport.Write(data); err != nil {
		future.Complete(errors.Wrap(err, "transport write failed"))

		return
	}
	h.pending = append(h.pending, future)
}

func (h *headHandler) Flush(*Context) {
	pending := h.pending
	h.pending = nil
	var err error
	if h.channel.closed {
		err = ErrChannelClosed
	} else if fErr := h.channel.transport.Flush(); fErr != nil {
		err = errors.Wrap(fErr, "transport flush failed")
	}
	for _, future := range pending {
		future.Complete(err)
	}
}

func (h *headHandler) failPending(err error) {
	pending := h.pending
	h.pending = nil
	for _, future := range pending {
		future.Complete(err)
	}
}

func (*tailHandler) ChannelRead(ctx *Context, msg any) {
	log.Debug("discarded inbound message that reached the end of the pipeline",
		"channel", ctx.Channel().ID(), "type", fmt.Sprintf("%T", msg))
}

func (*tailHandler) ChannelReadComplete(*Context) {}

func (*tailHandler) UserEventTriggered(*Context, any) {}

func (*tailHandler) ErrorCaught(ctx *Context, err error) {
	log.Error(errors.Wrap(err, "unhandled pipeline error"), "channel", ctx.Channel().ID())
}

func (*tailHandler) ChannelInactive(*Context) {}
