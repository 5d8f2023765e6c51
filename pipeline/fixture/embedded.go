// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"github.com/ice-blockchain/httpupgrade/eventloop"
	"github.com/ice-blockchain/httpupgrade/pipeline"
)

func NewEmbeddedChannel() *EmbeddedChannel {
	loop := eventloop.New()
	transport := new(Transport)
	recorder := new(Recorder)
	ch := pipeline.NewChannel(loop, transport)
	if err := ch.Pipeline().AddLast(RecorderName, recorder); err != nil {
		panic(err)
	}

	return &EmbeddedChannel{Channel: ch, Loop: loop, Transport: transport, Recorder: recorder}
}

// Add appends handler right before the recorder.
func (e *EmbeddedChannel) Add(name string, handler any) *EmbeddedChannel {
	if err := e.Pipeline().AddBefore(RecorderName, name, handler); err != nil {
		panic(err)
	}

	return e
}

// Run executes every queued loop task, including the ones those tasks enqueue.
func (e *EmbeddedChannel) Run() {
	e.Loop.RunPending()
}

// Exec runs fn on the loop and then drains the loop.
func (e *EmbeddedChannel) Exec(fn func()) {
	e.Loop.Execute(fn)
	e.Run()
}

// WriteInbound fires every msg as a separate read, followed by one read-complete, then drains the loop.
func (e *EmbeddedChannel) WriteInbound(msgs ...any) {
	e.Exec(func() {
		for _, msg := range msgs {
			e.Pipeline().FireChannelRead(msg)
		}
		e.Pipeline().FireChannelReadComplete()
	})
}

// WriteInboundBytes fires each chunk as its own read, like a socket would.
func (e *EmbeddedChannel) WriteInboundBytes(chunks ...string) {
	for _, chunk := range chunks {
		e.Deliver([]byte(chunk))
	}
	e.Run()
}

func (e *EmbeddedChannel) FireUserEvent(event any) {
	e.Exec(func() { e.Pipeline().FireUserEventTriggered(event) })
}

func (e *EmbeddedChannel) Names() []string {
	return e.Pipeline().Names()
}

func (e *EmbeddedChannel) Outbound() string {
	return e.Transport.Flushed()
}

func (e *EmbeddedChannel) Finish() {
	e.Close()
	e.Run()
}

func (t *Transport) Write(p []byte) error {
	if t.WriteErr != nil {
		return t.WriteErr
	}
	t.pending.Write(p)

	return nil
}

func (t *Transport) Flush() error {
	if t.FlushErr != nil {
		return t.FlushErr
	}
	t.Flushes++
	t.flushed.Write(t.pending.Bytes())
	t.pending.Reset()

	return nil
}

func (t *Transport) Close() error {
	t.Closed = true

	return nil
}

func (t *Transport) Flushed() string {
	return t.flushed.String()
}

// TakeFlushed returns the flushed bytes and forgets them.
func (t *Transport) TakeFlushed() string {
	out := t.flushed.String()
	t.flushed.Reset()

	return out
}

func (r *Recorder) ChannelRead(_ *pipeline.Context, msg any) {
	r.Inbound = append(r.Inbound, msg)
}

func (r *Recorder) ChannelReadComplete(*pipeline.Context) {
	r.ReadCompletes++
}

func (r *Recorder) UserEventTriggered(_ *pipeline.Context, event any) {
	r.Events = append(r.Events, event)
}

func (r *Recorder) ErrorCaught(_ *pipeline.Context, err error) {
	r.Errors = append(r.Errors, err)
}

func (r *Recorder) ChannelInactive(*pipeline.Context) {
	r.Inactive++
}

// InboundBytes concatenates every []byte that reached the recorder.
func (r *Recorder) InboundBytes() string {
	var out []byte
	for _, msg := range r.Inbound {
		if b, ok := msg.([]byte); ok {
			out = append(out, b...)
		}
	}

	return string(out)
}
