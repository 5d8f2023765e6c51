// SPDX-License-Identifier: ice License 1.0

package pipeline

import (
	"github.com/ice-blockchain/httpupgrade/eventloop"
)

func (c *Context) Name() string {
	return c.name
}

func (c *Context) Handler() any {
	return c.handler
}

func (c *Context) Pipeline() *Pipeline {
	return c.pipeline
}

func (c *Context) Channel() *Channel {
	return c.pipeline.channel
}

func (c *Context) Loop() *eventloop.Loop {
	return c.pipeline.channel.loop
}

func (c *Context) Removed() bool {
	return c.removed
}

func (c *Context) nextLive() *Context {
	n := c.next
	for n != nil && n.removed {
		n = n.next
	}

	return n
}

func (c *Context) prevLive() *Context {
	p := c.prev
	for p != nil && p.removed {
		p = p.prev
	}

	return p
}

func (c *Context) FireChannelRead(msg any) {
	for n := c.nextLive(); n != nil; n = n.nextLive() {
		if h, ok := n.handler.(InboundHandler); ok {
			h.ChannelRead(n, msg)

			return
		}
	}
}

func (c *Context) FireChannelReadComplete() {
	for n := c.nextLive(); n != nil; n = n.nextLive() {
		if h, ok := n.handler.(ReadCompleteHandler); ok {
			h.ChannelReadComplete(n)

			return
		}
	}
}

func (c *Context) FireUserEventTriggered(event any) {
	for n := c.nextLive(); n != nil; n = n.nextLive() {
		if h, ok := n.handler.(UserEventHandler); ok {
			h.UserEventTriggered(n, event)

			return
		}
	}
}

func (c *Context) FireErrorCaught(err error) {
	for n := c.nextLive(); n != nil; n = n.nextLive() {
		if h, ok := n.handler.(ErrorHandler); ok {
			h.ErrorCaught(n, err)

			return
		}
	}
}

func (c *Context) FireChannelInactive() {
	for n := c.nextLive(); n != nil; n = n.nextLive() {
		if h, ok := n.handler.(InactiveHandler); ok {
			h.ChannelInactive(n)

			return
		}
	}
}

// Write passes msg towards the transport, starting with the closest outbound handler before c.
// The bytes hit the wire only after a Flush.
func (c *Context) Write(msg any) *eventloop.Future {
	future := c.Loop().NewFuture()
	c.WriteWithFuture(msg, future)

	return future
}

func (c *Context) WriteWithFuture(msg any, future *eventloop.Future) {
	for p := c.prevLive(); p != nil; p = p.prevLive() {
		if h, ok := p.handler.(OutboundHandler); ok {
			h.Write(p, msg, future)

			return
		}
	}
}

func (c *Context) Flush() {
	for p := c.prevLive(); p != nil; p = p.prevLive() {
		if h, ok := p.handler.(FlushHandler); ok {
			h.Flush(p)

			return
		}
	}
}

func (c *Context) WriteAndFlush(msg any) *eventloop.Future {
	future := c.Write(msg)
	c.Flush()

	return future
}

func (c *Context) Close() *eventloop.Future {
	return c.pipeline.channel.Close()
}
