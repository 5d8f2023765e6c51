// SPDX-License-Identifier: ice License 1.0

package websocket

import (
	"github.com/gobwas/httphead"
	"github.com/gobwas/ws"
	"github.com/pkg/errors"
)

// Public API.

const (
	Protocol = "websocket"

	CodecHandlerName       = "ws-codec"
	ApplicationHandlerName = "ws-handler"

	DefaultMaxMessageSize = 1 << 20
)

var (
	ErrBadVersion        = errors.New("sec-websocket-version must be 13")
	ErrBadKey            = errors.New("sec-websocket-key must be 16 base64 encoded bytes")
	ErrMessageTooBig     = errors.New("websocket message too big")
	ErrUnsupportedOpCode = errors.New("unsupported websocket opcode")
)

type (
	// Message is a complete data message, fragments already joined.
	Message struct {
		Payload []byte
		OpCode  ws.OpCode
	}
	// HandlerFactory builds the application handler that receives Message values once the connection is switched.
	HandlerFactory func(hs ws.Handshake) any

	Config struct {
		Subprotocols   []string `yaml:"subprotocols"`
		MaxMessageSize int64    `yaml:"maxMessageSize"`
	}
	Capability struct {
		protocol  func(string) bool
		extension func(httphead.Option) bool
		negotiate func(httphead.Option) (httphead.Option, error)
		factory   HandlerFactory
		cfg       Config
	}
	Option func(*Capability)
)

// Private API.

const (
	headerSecKey        = "Sec-Websocket-Key"
	headerSecVersion    = "Sec-Websocket-Version"
	headerSecProtocol   = "Sec-Websocket-Protocol"
	headerSecExtensions = "Sec-Websocket-Extensions"
	headerSecAccept     = "sec-websocket-accept"

	supportedVersion = "13"
	keyLength        = 16
	acceptGUID       = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
)

type (
	codec struct {
		buf            []byte
		fragments      []byte
		maxMessageSize int64
		fragmentOp     ws.OpCode
		fragmented     bool
		closing        bool
		failed         bool
	}
)
