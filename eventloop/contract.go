// SPDX-License-Identifier: ice License 1.0

package eventloop

import (
	"sync"

	"github.com/pkg/errors"
)

// Public API.

var (
	ErrLoopClosed = errors.New("event loop closed")
)

type (
	// Loop is a serial executor: every task submitted to it runs on one goroutine, one at a time, in submission order.
	Loop struct {
		wake   chan struct{}
		done   chan struct{}
		tasks  []func()
		mx     sync.Mutex
		closed bool
	}
	// Future is the result of an asynchronous operation bound to a Loop.
	// Callbacks registered on it are always executed on that Loop.
	Future struct {
		loop      *Loop
		completed chan struct{}
		err       error
		callbacks []func(error)
		mx        sync.Mutex
		done      bool
	}
)
