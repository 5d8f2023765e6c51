// SPDX-License-Identifier: ice License 1.0

package pipeline

import (
	"github.com/pkg/errors"

	"github.com/ice-blockchain/httpupgrade/eventloop"
)

// All Pipeline methods must be called from the channel's event loop.

func newPipeline(ch *Channel) *Pipeline {
	p := &Pipeline{channel: ch, names: make(map[string]*Context)}
	p.head = &Context{pipeline: p, name: headName, handler: &headHandler{channel: ch}}
	p.tail = &Context{pipeline: p, name: tailName, handler: new(tailHandler)}
	p.head.next, p.tail.prev = p.tail, p.head

	return p
}

func (p *Pipeline) Channel() *Channel {
	return p.channel
}

func (p *Pipeline) AddLast(name string, handler any) error {
	return p.insertAfter(p.tail.prev, name, handler)
}

func (p *Pipeline) AddFirst(name string, handler any) error {
	return p.insertAfter(p.head, name, handler)
}

func (p *Pipeline) AddAfter(baseName, name string, handler any) error {
	base, found := p.names[baseName]
	if !found {
		return errors.Wrapf(ErrUnknownName, "can't add %v after %v", name, baseName)
	}

	return p.insertAfter(base, name, handler)
}

func (p *Pipeline) AddBefore(baseName, name string, handler any) error {
	base, found := p.names[baseName]
	if !found {
		return errors.Wrapf(ErrUnknownName, "can't add %v before %v", name, baseName)
	}

	return p.insertAfter(base.prev, name, handler)
}

func (p *Pipeline) insertAfter(prev *Context, name string, handler any) error {
	if _, found := p.names[name]; found || name == headName || name == tailName {
		return errors.Wrapf(ErrDuplicateName, "can't add %v", name)
	}
	ctx := &Context{pipeline: p, name: name, handler: handler, prev: prev, next: prev.next}
	prev.next.prev = ctx
	prev.next = ctx
	p.names[name] = ctx
	if h, ok := handler.(AddedHandler); ok {
		h.HandlerAdded(ctx)
	}

	return nil
}

// Remove detaches handler from the pipeline on the next loop turn.
// The returned future succeeds once the handler is gone, also if it was never there.
func (p *Pipeline) Remove(handler any) *eventloop.Future {
	future := p.channel.loop.NewFuture()
	p.channel.loop.Execute(func() {
		if ctx := p.Context(handler); ctx != nil {
			p.unlink(ctx)
		}
		future.Complete(nil)
	})

	return future
}

func (p *Pipeline) RemoveByName(name string) *eventloop.Future {
	future := p.channel.loop.NewFuture()
	p.channel.loop.Execute(func() {
		if ctx, found := p.names[name]; found {
			p.unlink(ctx)
		}
		future.Complete(nil)
	})

	return future
}

// Neighbours of an unlinked context are kept, so whatever it fires from HandlerRemoved still reaches the live pipeline.
func (p *Pipeline) unlink(ctx *Context) {
	ctx.prev.next = ctx.next
	ctx.next.prev = ctx.prev
	ctx.removed = true
	delete(p.names, ctx.name)
	if h, ok := ctx.handler.(RemovedHandler); ok {
		h.HandlerRemoved(ctx)
	}
}

func (p *Pipeline) Get(name string) any {
	if ctx, found := p.names[name]; found {
		return ctx.handler
	}

	return nil
}

func (p *Pipeline) Context(handler any) *Context {
	for ctx := p.head.next; ctx != p.tail; ctx = ctx.next {
		if ctx.handler == handler {
			return ctx
		}
	}

	return nil
}

func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.names))
	for ctx := p.head.next; ctx != p.tail; ctx = ctx.next {
		names = append(names, ctx.name)
	}

	return names
}

func (p *Pipeline) FireChannelRead(msg any) {
	p.head.FireChannelRead(msg)
}

func (p *Pipeline) FireChannelReadComplete() {
	p.head.FireChannelReadComplete()
}

func (p *Pipeline) FireUserEventTriggered(event any) {
	p.head.FireUserEventTriggered(event)
}

func (p *Pipeline) FireErrorCaught(err error) {
	p.head.FireErrorCaught(err)
}

func (p *Pipeline) FireChannelInactive() {
	p.head.FireChannelInactive()
}

func (p *Pipeline) Write(msg any) *eventloop.Future {
	return p.tail.Write(msg)
}

func (p *Pipeline) Flush() {
	p.tail.Flush()
}

func (p *Pipeline) WriteAndFlush(msg any) *eventloop.Future {
	return p.tail.WriteAndFlush(msg)
}
