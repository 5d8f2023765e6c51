// SPDX-License-Identifier: ice License 1.0

package http1

import (
	"github.com/pkg/errors"
)

// Public API.

const (
	StatusSwitchingProtocols = 101
	DefaultMaxHeadSize       = 64 * 1024
)

var (
	ErrMalformedRequest = errors.New("malformed http request")
	ErrHeadTooLarge     = errors.New("http request head too large")
)

type (
	Version struct {
		Major int
		Minor int
	}
	// Headers is an ordered, case-insensitive, multi-valued header collection.
	Headers struct {
		fields []field
	}
	RequestHead struct {
		Headers *Headers
		Method  string
		URI     string
		Version Version
	}
	BodyChunk struct {
		Data []byte
	}
	RequestEnd struct {
		Trailers *Headers
	}
	ResponseHead struct {
		Headers *Headers
		Reason  string
		Version Version
		Status  int
	}
	ResponseBody struct {
		Data []byte
	}
	ResponseEnd struct{}

	// RequestDecoder turns inbound []byte into *RequestHead, BodyChunk and RequestEnd.
	// It stops decoding after a request that asks for an Upgrade, until the final response for it is written
	// or until it is removed, in which case the undecoded bytes are forwarded as they are.
	RequestDecoder struct {
		trailers     *Headers
		buf          []byte
		remaining    int64
		maxHeadSize  int
		requests     int
		responses    int
		pausedAt     int
		state        decoderState
		upgradeAsked bool
		failed       bool
	}
	ResponseEncoder struct {
		chunked bool
	}
)

// Private API.

const (
	stateHead decoderState = iota
	stateBody
	stateChunkSize
	stateChunkData
	stateChunkDataEnd
	stateTrailers
)

var (
	//nolint:gochecknoglobals // Constants.
	crlf = []byte("\r\n")
	//nolint:gochecknoglobals // Constants.
	headEnd = []byte("\r\n\r\n")
)

type (
	decoderState uint8
	field        struct {
		name  string
		value string
	}
)
