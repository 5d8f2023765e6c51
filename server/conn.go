// SPDX-License-Identifier: ice License 1.0

package server

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
	"syscall"
	stdlibtime "time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gobwas/ws"
	"github.com/pkg/errors"
	"golang.org/x/net/http2"

	"github.com/ice-blockchain/httpupgrade/eventloop"
	"github.com/ice-blockchain/httpupgrade/http1"
	"github.com/ice-blockchain/httpupgrade/log"
	"github.com/ice-blockchain/httpupgrade/pipeline"
	"github.com/ice-blockchain/httpupgrade/upgrade"
	"github.com/ice-blockchain/httpupgrade/upgrade/h2c"
	"github.com/ice-blockchain/httpupgrade/upgrade/websocket"
)

func (s *srv) setupUpgrades() {
	capabilities := make([]upgrade.Capability, 0, len(s.upgradeCfg.Protocols))
	for _, protocol := range s.upgradeCfg.Protocols {
		switch strings.ToLower(protocol) {
		case websocket.Protocol:
			capabilities = append(capabilities, websocket.New(&s.cfg.Websocket, func(hs ws.Handshake) any {
				return s.service.NewWebsocketHandler(hs)
			}))
		case h2c.Protocol:
			var factory h2c.HandlerFactory
			if h2cService, ok := s.service.(H2CService); ok {
				factory = func(req *http1.RequestHead, settings []http2.Setting) any {
					return h2cService.NewH2CHandler(req, settings)
				}
			}
			capabilities = append(capabilities, h2c.New(&s.cfg.H2C, factory))
		default:
			log.Panic(errors.Errorf("unsupported upgrade protocol %q", protocol))
		}
	}
	s.registry = upgrade.NewRegistry(capabilities...)
	log.Info(fmt.Sprintf("upgrades enabled for %v", s.registry.Protocols()))
}

func (s *srv) accept(ctx context.Context) {
	defer log.Info("server stopped listening")
	for {
		conn, err := s.acceptWithRetry(ctx)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				log.Error(errors.Wrap(err, "accept failed"))
				s.quit <- syscall.SIGTERM
			}

			return
		}
		s.serve(ctx, conn)
	}
}

// Temporary accept failures (like running out of file descriptors) are retried with an exponential backoff.
func (s *srv) acceptWithRetry(ctx context.Context) (conn net.Conn, err error) {
	err = backoff.RetryNotify(
		func() error {
			var acceptErr error
			if conn, acceptErr = s.listener.Accept(); acceptErr == nil {
				return nil
			}
			var temporary interface{ Temporary() bool }
			if errors.As(acceptErr, &temporary) && temporary.Temporary() {
				return acceptErr
			}

			return backoff.Permanent(acceptErr)
		},
		backoff.WithContext(&backoff.ExponentialBackOff{
			InitialInterval:     5 * stdlibtime.Millisecond, //nolint:mnd,gomnd // .
			RandomizationFactor: 0.5,                        //nolint:mnd,gomnd // .
			Multiplier:          2,                          //nolint:mnd,gomnd // .
			MaxInterval:         stdlibtime.Second,
			Stop:                backoff.Stop,
			Clock:               backoff.SystemClock,
		}, ctx),
		func(e error, next stdlibtime.Duration) {
			log.Warn(fmt.Sprintf("accept failed, retrying in %v...", next), "error", e.Error())
		})

	return conn, errors.Wrap(err, "failed to accept connection")
}

func (s *srv) serve(ctx context.Context, conn net.Conn) {
	loop := eventloop.New()
	ch := pipeline.NewChannel(loop, pipeline.NewConnTransport(conn, s.cfg.Server.ReadBufferSize))
	connCtx := context.WithoutCancel(ctx)
	loop.Execute(func() {
		if err := s.initPipeline(connCtx, ch, conn.RemoteAddr().String()); err != nil {
			log.Error(errors.Wrapf(err, "failed to init pipeline of %v", ch.ID()))
			ch.Close()
		}
	})
	s.track(ch)
	ch.CloseFuture().OnComplete(func(err error) {
		log.Error(err, "channel", ch.ID())
		s.untrack(ch)
		loop.Close()
	})
	s.wg.Add(2) //nolint:mnd,gomnd // The loop and the reader.
	go func() {
		defer s.wg.Done()
		loop.Run(connCtx)
	}()
	go func() {
		defer s.wg.Done()
		if err := ch.ReadFrom(conn, s.cfg.Server.ReadBufferSize); err != nil {
			log.Debug("connection read failed", "channel", ch.ID(), "error", err.Error())
		}
	}()
}

func (s *srv) initPipeline(ctx context.Context, ch *pipeline.Channel, remoteAddr string) error {
	ch.SetAttribute(HTTPModeAttribute, true)
	encoder := http1.NewResponseEncoder()
	decoder := http1.NewRequestDecoder(s.cfg.Server.MaxHeadSize)
	bridge := &httpBridge{ctx: ctx, router: s.router, remoteAddr: remoteAddr}
	gate := upgrade.NewGate(s.registry, encoder, []any{decoder, bridge}, s.onUpgradeComplete,
		upgrade.WithMetrics(s.metrics), upgrade.WithFailurePolicy(s.upgradeCfg.FailurePolicy))
	p := ch.Pipeline()
	for _, h := range []struct {
		handler any
		name    string
	}{
		{name: EncoderHandlerName, handler: encoder},
		{name: DecoderHandlerName, handler: decoder},
		{name: GateHandlerName, handler: gate},
		{name: BridgeHandlerName, handler: bridge},
	} {
		if err := p.AddLast(h.name, h.handler); err != nil {
			return errors.Wrapf(err, "failed to add %v", h.name)
		}
	}

	return nil
}

func (*srv) onUpgradeComplete(ctx *pipeline.Context) {
	ctx.Channel().SetAttribute(HTTPModeAttribute, false)
	log.Info("connection left http mode", "channel", ctx.Channel().ID())
}

func (s *srv) track(ch *pipeline.Channel) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.channels[ch.ID()] = ch
}

func (s *srv) untrack(ch *pipeline.Channel) {
	s.mx.Lock()
	defer s.mx.Unlock()
	delete(s.channels, ch.ID())
}

func (s *srv) openChannels() []*pipeline.Channel {
	s.mx.Lock()
	defer s.mx.Unlock()
	channels := make([]*pipeline.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	slices.SortFunc(channels, func(a, b *pipeline.Channel) int { return strings.Compare(a.ID(), b.ID()) })

	return channels
}
