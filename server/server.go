// SPDX-License-Identifier: ice License 1.0

package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appCfg "github.com/ice-blockchain/httpupgrade/config"
	"github.com/ice-blockchain/httpupgrade/log"
	"github.com/ice-blockchain/httpupgrade/pipeline"
	"github.com/ice-blockchain/httpupgrade/upgrade"
)

func New(service Service, cfgKey string) Server {
	var (
		cfg        Config
		upgradeCfg upgrade.Config
	)
	s := &srv{
		service:    service,
		cfg:        &cfg,
		upgradeCfg: &upgradeCfg,
		channels:   make(map[string]*pipeline.Channel),
		quit:       make(chan os.Signal, 1),
	}
	appCfg.MustLoadFromKey(cfgKey, &cfg)
	appCfg.MustLoadFromKey(upgrade.ConfigKey, &upgradeCfg)
	appCfg.MustLoadFromKey("development", &s.development)
	if cfg.Server.ReadBufferSize <= 0 {
		cfg.Server.ReadBufferSize = defaultReadBufferSize
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	s.prometheus = prometheus.NewRegistry()
	s.prometheus.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = upgrade.NewMetrics(s.prometheus)

	return s
}

func (s *srv) ListenAndServe(ctx context.Context, cancel context.CancelFunc) {
	s.service.Init(ctx, cancel)
	s.setupRouter() //nolint:contextcheck // Nope, we don't need it.
	s.setupUpgrades()
	if err := s.listen(ctx); err != nil {
		log.Error(err)
		cancel()

		return
	}
	go s.accept(ctx)
	s.wait(ctx)
	s.shutDown() //nolint:contextcheck // Nope, we want to gracefully shutdown on a different context.
}

func (s *srv) Addr() net.Addr {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

func (s *srv) setupRouter() {
	if !s.development {
		gin.SetMode(gin.ReleaseMode)
		s.router = gin.New()
		s.router.Use(gin.Recovery())
	} else {
		gin.ForceConsoleColor()
		s.router = gin.Default()
	}
	log.Info(fmt.Sprintf("GIN Mode: %v\n", gin.Mode()))
	s.router.RemoteIPHeaders = []string{"cf-connecting-ip", "X-Real-IP", "X-Forwarded-For"}
	s.router.HandleMethodNotAllowed = true
	s.router.RemoveExtraSlash = true
	s.router.UseRawPath = true

	log.Info("registering routes...")
	s.service.RegisterRoutes(s.router)
	log.Info(fmt.Sprintf("%v routes registered", len(s.router.Routes())))
	s.setupHealthCheckRoutes()
	s.router.GET("metrics", gin.WrapH(promhttp.HandlerFor(s.prometheus, promhttp.HandlerOpts{Registry: s.prometheus})))
}

func (s *srv) setupHealthCheckRoutes() {
	s.router.GET("health-check", func(c *gin.Context) {
		if err := s.service.CheckHealth(c.Request.Context()); err != nil {
			log.Error(errors.Wrap(err, "health check failed"))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "oops, something went wrong"})

			return
		}
		c.JSON(http.StatusOK, &healthCheck{ClientIP: c.ClientIP()})
	})
}

func (s *srv) listen(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(int(s.cfg.Server.Port)))
	listener, err := new(net.ListenConfig).Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %v", addr)
	}
	s.mx.Lock()
	s.listener = listener
	s.mx.Unlock()
	log.Info(fmt.Sprintf("server started listening on %v...", listener.Addr()))

	return nil
}

func (s *srv) wait(ctx context.Context) {
	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)

	select {
	case <-ctx.Done():
	case <-s.quit:
	}
}

func (s *srv) shutDown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down server...")

	var mErr *multierror.Error
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		mErr = multierror.Append(mErr, errors.Wrap(err, "failed to close listener"))
	}
	for _, ch := range s.openChannels() {
		if err := ch.Close().Wait(ctx); err != nil {
			mErr = multierror.Append(mErr, errors.Wrapf(err, "failed to close channel %v", ch.ID()))
		}
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		mErr = multierror.Append(mErr, errors.Wrap(ctx.Err(), "connections did not stop in time"))
	}
	if err := mErr.ErrorOrNil(); err != nil {
		log.Error(errors.Wrap(err, "server shutdown failed"))
	} else {
		log.Info("server shutdown succeeded")
	}

	if err := s.service.Close(ctx); err != nil && !errors.Is(err, io.EOF) {
		log.Error(errors.Wrap(err, "state close failed"))
	} else {
		log.Info("state close succeeded")
	}
}
