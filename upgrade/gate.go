// SPDX-License-Identifier: ice License 1.0

package upgrade

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/ice-blockchain/httpupgrade/http1"
	"github.com/ice-blockchain/httpupgrade/log"
	"github.com/ice-blockchain/httpupgrade/pipeline"
	"github.com/ice-blockchain/httpupgrade/terror"
)

// NewGate builds the handler that guards the first request of a connection.
// encoder is removed once the 101 is sent, httpHandlers are removed before it is sent.
func NewGate(registry *Registry, encoder any, httpHandlers []any, onComplete CompletionFunc, opts ...Option) *Gate {
	g := &Gate{
		registry:     registry,
		encoder:      encoder,
		httpHandlers: httpHandlers,
		onComplete:   onComplete,
		policy:       FailurePolicyKeep,
	}
	for _, opt := range opts {
		opt(g)
	}

	return g
}

func WithMetrics(metrics *Metrics) Option {
	return func(g *Gate) {
		g.metrics = metrics
	}
}

func WithFailurePolicy(policy FailurePolicy) Option {
	return func(g *Gate) {
		if policy != "" {
			g.policy = policy
		}
	}
}

func (g *Gate) State() State {
	return g.state
}

func (g *Gate) ChannelRead(ctx *pipeline.Context, msg any) {
	switch g.state {
	case StateIdle:
		g.onIdleRead(ctx, msg)
	case StateDeciding:
		switch msg.(type) {
		case http1.RequestEnd:
			g.setState(ctx, StateTransitioning)
			g.transition(ctx)
		case *http1.RequestHead:
			g.fireOrderingError(ctx, msg)
			ctx.FireChannelRead(msg)
			g.disable(ctx)
		default:
		}
	case StateTransitioning:
		if _, isHead := msg.(*http1.RequestHead); isHead {
			g.fireOrderingError(ctx, msg)
		}
		g.buffer.append(msg)
		g.metrics.messageBuffered()
	case StateDisabled:
		ctx.FireChannelRead(msg)
	}
}

// Read-completes of held messages are replaced by the single one that follows their replay.
func (g *Gate) ChannelReadComplete(ctx *pipeline.Context) {
	if g.state != StateTransitioning {
		ctx.FireChannelReadComplete()
	}
}

func (g *Gate) onIdleRead(ctx *pipeline.Context, msg any) {
	head, ok := msg.(*http1.RequestHead)
	if !ok {
		g.fireOrderingError(ctx, msg)
		ctx.FireChannelRead(msg)
		g.disable(ctx)

		return
	}
	decision, failures := Negotiate(g.registry, head)
	for _, failure := range failures {
		protocol := ""
		var kErr *kindError
		if errors.As(failure, &kErr) {
			protocol = kErr.detail
		}
		g.metrics.candidateFailed(protocol)
		ctx.FireErrorCaught(terror.New(failure, map[string]any{"protocol": protocol, "channel": ctx.Channel().ID()}))
	}
	if decision == nil {
		g.metrics.negotiated(outcomePassthrough)
		ctx.FireChannelRead(msg)
		g.disable(ctx)

		return
	}
	g.metrics.negotiated(outcomeUpgraded)
	g.pending = &pendingUpgrade{decision: decision, request: head}
	g.setState(ctx, StateDeciding)
}

func (g *Gate) fireOrderingError(ctx *pipeline.Context, msg any) {
	g.metrics.negotiated(outcomeOrderingError)
	err := errors.Wrapf(ErrInvalidHTTPOrdering, "unexpected %T while %v", msg, g.state)
	ctx.FireErrorCaught(terror.New(err, map[string]any{
		"state":   g.state.String(),
		"message": fmt.Sprintf("%T", msg),
		"channel": ctx.Channel().ID(),
	}))
}

func (g *Gate) setState(ctx *pipeline.Context, state State) {
	log.Debug("upgrade gate state changed", "channel", ctx.Channel().ID(), "from", g.state.String(), "to", state.String())
	g.state = state
}

func (g *Gate) disable(ctx *pipeline.Context) {
	g.pending = nil
	g.setState(ctx, StateDisabled)
	g.removeSelf(ctx)
}

func (g *Gate) removeSelf(ctx *pipeline.Context) {
	channelID := ctx.Channel().ID()
	ctx.Pipeline().Remove(g).OnComplete(func(err error) {
		log.Error(errors.Wrap(err, "failed to remove upgrade gate"), "channel", channelID)
	})
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDeciding:
		return "deciding"
	case StateTransitioning:
		return "transitioning"
	case StateDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}
