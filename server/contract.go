// SPDX-License-Identifier: ice License 1.0

package server

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"sync"
	stdlibtime "time"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"

	"github.com/ice-blockchain/httpupgrade/http1"
	"github.com/ice-blockchain/httpupgrade/pipeline"
	"github.com/ice-blockchain/httpupgrade/upgrade"
	"github.com/ice-blockchain/httpupgrade/upgrade/h2c"
	"github.com/ice-blockchain/httpupgrade/upgrade/websocket"
)

// Public API.

const (
	EncoderHandlerName = "http-encoder"
	DecoderHandlerName = "http-decoder"
	GateHandlerName    = "upgrade-gate"
	BridgeHandlerName  = "http-bridge"

	// HTTPModeAttribute is a channel attribute, true until the connection switches protocol.
	HTTPModeAttribute = "httpMode"
)

type (
	Router = gin.Engine
	Server interface {
		// ListenAndServe starts everything and blocks indefinitely.
		ListenAndServe(ctx context.Context, cancel context.CancelFunc)
		// Addr is nil until the listener is bound.
		Addr() net.Addr
	}
	// Service is the actual custom behaviour that has to be implemented by users of this package
	// to customize their server`s lifecycle and what runs on an upgraded connection.
	Service interface {
		Init(ctx context.Context, cancel context.CancelFunc)
		Close(ctx context.Context) error
		RegisterRoutes(r *Router)
		CheckHealth(ctx context.Context) error
		// NewWebsocketHandler builds the handler that receives websocket.Message values after an upgrade.
		NewWebsocketHandler(hs ws.Handshake) any
	}
	// H2CService is optionally implemented by a Service that wants the raw frames of upgraded h2c connections.
	H2CService interface {
		NewH2CHandler(req *http1.RequestHead, settings []http2.Setting) any
	}
	Config struct {
		Server struct {
			Host            string              `yaml:"host"`
			Port            uint16              `yaml:"port"`
			ReadBufferSize  int                 `yaml:"readBufferSize"`
			MaxHeadSize     int                 `yaml:"maxHeadSize"`
			ShutdownTimeout stdlibtime.Duration `yaml:"shutdownTimeout"`
		} `yaml:"server"`
		Websocket websocket.Config `yaml:"websocket"`
		H2C       h2c.Config       `yaml:"h2c"`
	}
)

// Private API.

const (
	defaultReadBufferSize  = 4096
	defaultShutdownTimeout = 5 * stdlibtime.Second
)

type (
	healthCheck struct {
		ClientIP string `json:"clientIp"`
	}
	// | srv is the internal representation of everything needed to bootstrap the server.
	srv struct {
		service     Service
		cfg         *Config
		upgradeCfg  *upgrade.Config
		router      *Router
		registry    *upgrade.Registry
		metrics     *upgrade.Metrics
		prometheus  *prometheus.Registry
		listener    net.Listener
		quit        chan os.Signal
		channels    map[string]*pipeline.Channel
		wg          sync.WaitGroup
		mx          sync.Mutex
		development bool
	}
	// | httpBridge serves every plain HTTP request of a connection through the gin router.
	httpBridge struct {
		ctx        context.Context //nolint:containedctx // It's the connection's context.
		router     http.Handler
		request    *http1.RequestHead
		remoteAddr string
		body       bytes.Buffer
		failed     bool
	}
	bufferedResponse struct {
		header http.Header
		body   bytes.Buffer
		status int
	}
)
