// SPDX-License-Identifier: ice License 1.0

package h2c

import (
	"github.com/pkg/errors"
	"golang.org/x/net/http2"

	"github.com/ice-blockchain/httpupgrade/http1"
)

// Public API.

const (
	Protocol = "h2c"

	PrefaceHandlerName     = "h2c-preface"
	ApplicationHandlerName = "h2c-handler"

	DefaultMaxConcurrentStreams = 250
)

var (
	ErrBadSettings = errors.New("invalid HTTP2-Settings header")
	ErrBadPreface  = errors.New("invalid http/2 client connection preface")
	ErrBadFrame    = errors.New("invalid http/2 frame")
)

type (
	// UpgradedRequest is fired once the server SETTINGS frame is out. The request is the one that carried the upgrade,
	// it has to be answered on stream 1.
	UpgradedRequest struct {
		Request  *http1.RequestHead
		Settings []http2.Setting
	}
	// HandlerFactory builds the application handler that receives every decoded http2.Frame.
	HandlerFactory func(req *http1.RequestHead, settings []http2.Setting) any

	Config struct {
		MaxConcurrentStreams uint32 `yaml:"maxConcurrentStreams"`
		InitialWindowSize    uint32 `yaml:"initialWindowSize"`
	}
	Capability struct {
		factory HandlerFactory
		cfg     Config
	}
)

// Private API.

const (
	frameHeaderLen  = 9
	maxReadFrameLen = 16384
)

type (
	prefaceHandler struct {
		request        *http1.RequestHead
		clientSettings []http2.Setting
		serverSettings []http2.Setting
		buf            []byte
		prefaceSeen    bool
		settingsSeen   bool
		failed         bool
	}
)
