// SPDX-License-Identifier: ice License 1.0

package upgrade

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferDrainsOnceInOrder(t *testing.T) {
	t.Parallel()
	var b buffer
	assert.Empty(t, b.drain())

	b.append("one")
	b.append(2)
	b.append([]byte("three"))
	assert.Equal(t, 3, b.len())

	assert.Equal(t, []any{"one", 2, []byte("three")}, b.drain())
	assert.Zero(t, b.len())
	assert.Empty(t, b.drain())
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "transitioning", StateTransitioning.String())
	assert.Equal(t, "state(9)", State(9).String())
}
