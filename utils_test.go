package http2

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestB2SRoundTrip(t *testing.T) {
	orig := []byte("make fasthttp great again")

	s := b2s(orig)
	assert.Equal(t, string(orig), s)

	b := s2b(s)
	assert.Equal(t, orig, b)
}
