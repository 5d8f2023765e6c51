// SPDX-License-Identifier: ice License 1.0

package upgrade_test

import (
	"fmt"
	"testing"

	"github.com/ice-blockchain/httpupgrade/eventloop"
	"github.com/ice-blockchain/httpupgrade/http1"
	"github.com/ice-blockchain/httpupgrade/pipeline"
	"github.com/ice-blockchain/httpupgrade/pipeline/fixture"
	"github.com/ice-blockchain/httpupgrade/upgrade"
)

const (
	encoderName = "http-encoder"
	decoderName = "http-decoder"
	gateName    = "upgrade-gate"
	bridgeName  = "http-bridge"
)

type (
	fakeCapability struct {
		buildErr       error
		installErr     error
		pendingInstall *eventloop.Future
		installed      *sequenceRecorder
		protocol       string
		required       []string
		extra          []string
		builds         int
		installs       int
		deferInstall   bool
	}
	// Forwards everything, like an HTTP-only handler would.
	passthrough struct{}
	// Installed by fakeCapability to observe the order in which things reach the new protocol.
	sequenceRecorder struct {
		seq []string
	}
	harness struct {
		*fixture.EmbeddedChannel
		gate        *upgrade.Gate
		completions int
	}
)

func newFake(protocol string, required ...string) *fakeCapability {
	return &fakeCapability{protocol: protocol, required: required}
}

func (f *fakeCapability) Protocol() string {
	return f.protocol
}

func (f *fakeCapability) RequiredHeaders() []string {
	return f.required
}

func (f *fakeCapability) BuildResponseHeaders(_ *http1.RequestHead, proposed *http1.Headers) (*http1.Headers, error) {
	f.builds++
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	for i := 0; i+1 < len(f.extra); i += 2 {
		proposed.Add(f.extra[i], f.extra[i+1])
	}

	return proposed, nil
}

func (f *fakeCapability) Install(ctx *pipeline.Context, _ *http1.RequestHead) *eventloop.Future {
	f.installs++
	if f.installErr != nil {
		return ctx.Loop().Failed(f.installErr)
	}
	f.installed = new(sequenceRecorder)
	if err := ctx.Pipeline().AddAfter(ctx.Name(), f.protocol+"-handler", f.installed); err != nil {
		return ctx.Loop().Failed(err)
	}
	if f.deferInstall {
		f.pendingInstall = ctx.Loop().NewFuture()

		return f.pendingInstall
	}

	return ctx.Loop().Succeeded()
}

func (*passthrough) ChannelRead(ctx *pipeline.Context, msg any) {
	ctx.FireChannelRead(msg)
}

func (s *sequenceRecorder) ChannelRead(ctx *pipeline.Context, msg any) {
	s.seq = append(s.seq, fmt.Sprintf("read:%v", describe(msg)))
	ctx.FireChannelRead(msg)
}

func (s *sequenceRecorder) ChannelReadComplete(ctx *pipeline.Context) {
	s.seq = append(s.seq, "read-complete")
	ctx.FireChannelReadComplete()
}

func (s *sequenceRecorder) UserEventTriggered(ctx *pipeline.Context, event any) {
	s.seq = append(s.seq, fmt.Sprintf("event:%v", describe(event)))
	ctx.FireUserEventTriggered(event)
}

func describe(msg any) string {
	switch m := msg.(type) {
	case upgrade.UpgradeComplete:
		return m.Protocol
	case http1.BodyChunk:
		return string(m.Data)
	case []byte:
		return string(m)
	case *http1.RequestHead:
		return m.Method + " " + m.URI
	default:
		return fmt.Sprintf("%T", msg)
	}
}

func newHarness(tb testing.TB, opts []upgrade.Option, capabilities ...upgrade.Capability) *harness {
	tb.Helper()
	h := new(harness)
	encoder, decoder, bridge := http1.NewResponseEncoder(), new(passthrough), new(passthrough)
	h.gate = upgrade.NewGate(upgrade.NewRegistry(capabilities...), encoder, []any{decoder, bridge}, func(*pipeline.Context) {
		h.completions++
	}, opts...)
	h.EmbeddedChannel = fixture.NewEmbeddedChannel().
		Add(encoderName, encoder).
		Add(decoderName, decoder).
		Add(gateName, h.gate).
		Add(bridgeName, bridge)

	return h
}

func request(pairs ...string) *http1.RequestHead {
	return &http1.RequestHead{
		Method:  "GET",
		URI:     "/",
		Version: http1.Version{Major: 1, Minor: 1},
		Headers: http1.NewHeaders(append([]string{"Host", "example.com"}, pairs...)...),
	}
}
