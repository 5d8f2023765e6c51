// SPDX-License-Identifier: ice License 1.0

package upgrade

import (
	stdlibtime "time"

	"github.com/ice-blockchain/httpupgrade/eventloop"
	"github.com/ice-blockchain/httpupgrade/http1"
	"github.com/ice-blockchain/httpupgrade/log"
	"github.com/ice-blockchain/httpupgrade/pipeline"
	"github.com/ice-blockchain/httpupgrade/terror"
)

// Every step runs on ctx's loop and starts only once the previous one succeeded.
// Whatever happens, held messages are replayed and the Gate removes itself at the end.
func (g *Gate) transition(ctx *pipeline.Context) {
	var (
		pending = g.pending
		loop    = ctx.Loop()
		p       = ctx.Pipeline()
		started = stdlibtime.Now()
		step    = "remove http handlers"
	)
	removals := make([]*eventloop.Future, 0, len(g.httpHandlers))
	for _, handler := range g.httpHandlers {
		removals = append(removals, p.Remove(handler))
	}
	eventloop.All(loop, removals...).
		Then(func() *eventloop.Future {
			step = "send switching protocols"

			return ctx.WriteAndFlush(http1.NewSwitchingProtocols(pending.decision.Headers))
		}).
		Then(func() *eventloop.Future {
			step = "remove http encoder"

			return p.Remove(g.encoder)
		}).
		Map(func() error {
			step = "notify completion"
			if g.onComplete != nil {
				g.onComplete(ctx)
			}

			return nil
		}).
		Then(func() *eventloop.Future {
			step = "install " + pending.decision.Protocol

			return pending.decision.Capability.Install(ctx, pending.request)
		}).
		Map(func() error {
			step = "fire upgrade complete"
			ctx.FireUserEventTriggered(UpgradeComplete{Protocol: pending.decision.Protocol, Request: pending.request})
			g.pending = nil

			return nil
		}).
		OnComplete(func(err error) {
			g.metrics.transitioned(pending.decision.Protocol, err, stdlibtime.Since(started))
			if err != nil {
				g.pending = nil
				ctx.FireErrorCaught(terror.New(&kindError{kind: ErrTransitionFailed, cause: err, detail: step}, map[string]any{
					"protocol": pending.decision.Protocol,
					"step":     step,
					"channel":  ctx.Channel().ID(),
				}))
			} else {
				log.Info("connection upgraded", "channel", ctx.Channel().ID(), "protocol", pending.decision.Protocol)
			}
			g.finish(ctx, err)
		})
}

func (g *Gate) finish(ctx *pipeline.Context, transitionErr error) {
	g.setState(ctx, StateDisabled)
	if held := g.buffer.drain(); len(held) != 0 {
		for _, msg := range held {
			ctx.FireChannelRead(msg)
		}
		ctx.FireChannelReadComplete()
	}
	g.removeSelf(ctx)
	if transitionErr != nil && g.policy == FailurePolicyClose {
		log.Warn("closing connection after failed upgrade", "channel", ctx.Channel().ID())
		ctx.Close()
	}
}
