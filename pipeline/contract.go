// SPDX-License-Identifier: ice License 1.0

package pipeline

import (
	"bufio"
	"net"

	"github.com/pkg/errors"

	"github.com/ice-blockchain/httpupgrade/eventloop"
)

// Public API.

// A handler is any comparable value (normally a pointer) implementing one or more of the interfaces below.
// Events are delivered only to the handlers that implement the matching interface, the others are skipped.
type (
	InboundHandler interface {
		ChannelRead(ctx *Context, msg any)
	}
	ReadCompleteHandler interface {
		ChannelReadComplete(ctx *Context)
	}
	UserEventHandler interface {
		UserEventTriggered(ctx *Context, event any)
	}
	ErrorHandler interface {
		ErrorCaught(ctx *Context, err error)
	}
	InactiveHandler interface {
		ChannelInactive(ctx *Context)
	}
	OutboundHandler interface {
		// Write must eventually resolve future, either itself or by passing it on with ctx.WriteWithFuture.
		Write(ctx *Context, msg any, future *eventloop.Future)
	}
	FlushHandler interface {
		Flush(ctx *Context)
	}
	AddedHandler interface {
		HandlerAdded(ctx *Context)
	}
	RemovedHandler interface {
		HandlerRemoved(ctx *Context)
	}

	// Transport is the byte sink at the head of the pipeline.
	Transport interface {
		Write(p []byte) error
		Flush() error
		Close() error
	}

	Channel struct {
		transport   Transport
		loop        *eventloop.Loop
		pipeline    *Pipeline
		closeFuture *eventloop.Future
		attributes  map[string]any
		id          string
		closed      bool
	}
	Pipeline struct {
		channel *Channel
		head    *Context
		tail    *Context
		names   map[string]*Context
	}
	Context struct {
		pipeline *Pipeline
		handler  any
		prev     *Context
		next     *Context
		name     string
		removed  bool
	}
)

var (
	ErrDuplicateName      = errors.New("handler name already in use")
	ErrUnknownName        = errors.New("no handler with such name")
	ErrUnsupportedMessage = errors.New("unsupported outbound message type")
	ErrChannelClosed      = errors.New("channel closed")
)

// Private API.

const (
	headName = "head"
	tailName = "tail"
)

type (
	headHandler struct {
		channel *Channel
		pending []*eventloop.Future
	}
	tailHandler struct{}

	connTransport struct {
		conn net.Conn
		w    *bufio.Writer
	}
)
