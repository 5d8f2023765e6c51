// SPDX-License-Identifier: ice License 1.0

package testing

import (
	"context"
	"testing"
	stdlibtime "time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

const (
	eventuallyTimeout = 5 * stdlibtime.Second
	eventuallyTick    = 10 * stdlibtime.Millisecond
	contextTimeout    = 10 * stdlibtime.Second
)

// Context is bounded by the test deadline, or by a fixed timeout when the test has none, and is cancelled on cleanup.
func Context(tb testing.TB) context.Context {
	tb.Helper()
	deadline := stdlibtime.Now().Add(contextTimeout)
	if t, ok := tb.(interface{ Deadline() (stdlibtime.Time, bool) }); ok {
		if d, set := t.Deadline(); set && d.Before(deadline) {
			deadline = d
		}
	}
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	tb.Cleanup(cancel)

	return ctx
}

// Eventually polls condition until it holds, failing tb if it still does not after a few seconds.
func Eventually(tb testing.TB, condition func() bool, msgAndArgs ...any) {
	tb.Helper()
	require.Eventually(tb, condition, eventuallyTimeout, eventuallyTick, msgAndArgs...)
}

func MustUnmarshal[T any](tb testing.TB, val string) *T {
	tb.Helper()
	tt := new(T)
	require.NoError(tb, json.UnmarshalContext(context.Background(), []byte(val), tt))

	return tt
}
