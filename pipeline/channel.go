// SPDX-License-Identifier: ice License 1.0

package pipeline

import (
	"bufio"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ice-blockchain/httpupgrade/eventloop"
)

func NewChannel(loop *eventloop.Loop, transport Transport) *Channel {
	ch := &Channel{
		id:          uuid.NewString(),
		loop:        loop,
		transport:   transport,
		closeFuture: loop.NewFuture(),
		attributes:  make(map[string]any),
	}
	ch.pipeline = newPipeline(ch)

	return ch
}

func (c *Channel) ID() string {
	return c.id
}

func (c *Channel) Loop() *eventloop.Loop {
	return c.loop
}

func (c *Channel) Pipeline() *Pipeline {
	return c.pipeline
}

// Attribute and SetAttribute must be used from the loop.
func (c *Channel) Attribute(key string) any {
	return c.attributes[key]
}

func (c *Channel) SetAttribute(key string, val any) {
	c.attributes[key] = val
}

func (c *Channel) CloseFuture() *eventloop.Future {
	return c.closeFuture
}

// Close can be called from any goroutine, the actual close happens on the loop.
func (c *Channel) Close() *eventloop.Future {
	c.loop.Execute(c.close)

	return c.closeFuture
}

func (c *Channel) close() {
	if c.closed {
		return
	}
	c.closed = true
	err := c.transport.Close()
	if head, ok := c.pipeline.head.handler.(*headHandler); ok {
		head.failPending(ErrChannelClosed)
	}
	c.pipeline.FireChannelInactive()
	if err != nil {
		err = errors.Wrap(err, "failed to close transport")
	}
	c.closeFuture.Complete(err)
}

// Deliver hands one chunk of received bytes to the pipeline, followed by a read-complete.
func (c *Channel) Deliver(chunk []byte) {
	c.loop.Execute(func() {
		if c.closed {
			return
		}
		c.pipeline.FireChannelRead(chunk)
		c.pipeline.FireChannelReadComplete()
	})
}

// ReadFrom blocks, delivering everything read from r until it fails, then closes the channel.
func (c *Channel) ReadFrom(r io.Reader, bufferSize int) error {
	defer c.Close()
	buf := make([]byte, bufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.Deliver(chunk)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}

			return errors.Wrapf(err, "failed to read from channel %v", c.id)
		}
	}
}

func NewConnTransport(conn net.Conn, bufferSize int) Transport {
	return &connTransport{conn: conn, w: bufio.NewWriterSize(conn, bufferSize)}
}

func (t *connTransport) Write(p []byte) error {
	_, err := t.w.Write(p)

	return errors.Wrap(err, "failed to buffer bytes")
}

func (t *connTransport) Flush() error {
	return errors.Wrap(t.w.Flush(), "failed to flush bytes")
}

func (t *connTransport) Close() error {
	return errors.Wrap(t.conn.Close(), "failed to close conn")
}
