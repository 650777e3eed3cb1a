package http2

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPendingSendLazyAllocation(t *testing.T) {
	s := NewStream(1, 65535, 65535)

	assert.Equal(t, 0, s.PendingSendLen())
	assert.Nil(t, s.PendingSendBytes())

	s.AppendPendingSend([]byte("hello "))
	s.AppendPendingSend([]byte("world"))

	assert.Equal(t, "hello world", string(s.PendingSendBytes()))
	assert.Equal(t, 11, s.PendingSendLen())
}

func TestDropPendingSendConsumesFromFront(t *testing.T) {
	s := NewStream(1, 65535, 65535)
	s.AppendPendingSend([]byte("abcdef"))

	s.DropPendingSend(2)
	assert.Equal(t, "cdef", string(s.PendingSendBytes()))

	s.DropPendingSend(4)
	assert.Equal(t, 0, s.PendingSendLen())
}

func TestReleasePendingSendResetsState(t *testing.T) {
	s := NewStream(1, 65535, 65535)
	s.AppendPendingSend([]byte("buffered"))

	s.ReleasePendingSend()

	assert.Equal(t, 0, s.PendingSendLen())
	assert.Nil(t, s.PendingSendBytes())

	// Releasing an already-empty stream must be a no-op, not a panic
	// (RemoveStream calls it unconditionally).
	assert.NotPanics(t, func() { s.ReleasePendingSend() })
}
