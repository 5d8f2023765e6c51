// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"bytes"

	"github.com/ice-blockchain/httpupgrade/eventloop"
	"github.com/ice-blockchain/httpupgrade/pipeline"
)

// Public API.

const (
	RecorderName = "recorder"
)

type (
	// EmbeddedChannel is a pipeline.Channel driven manually from the test goroutine.
	// Every handler added through Add sits before a Recorder that captures whatever reaches the end of the pipeline.
	EmbeddedChannel struct {
		*pipeline.Channel
		Loop      *eventloop.Loop
		Transport *Transport
		Recorder  *Recorder
	}
	// Transport keeps written bytes in memory. Only flushed bytes are visible through Flushed.
	Transport struct {
		WriteErr error
		FlushErr error
		pending  bytes.Buffer
		flushed  bytes.Buffer
		Flushes  int
		Closed   bool
	}
	Recorder struct {
		Inbound       []any
		Events        []any
		Errors        []error
		ReadCompletes int
		Inactive      int
	}
)
