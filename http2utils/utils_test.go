package http2utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCutPadding(t *testing.T) {
	payload := append([]byte{13}, []byte("8971293nfasv7asnrnqw9bma 237urkf8KifgiMKFG98UIM8fgnb kifgnrA7JKLK")...)

	got, err := CutPadding(payload, len(payload))
	assert.NoError(t, err)
	assert.Equal(t, len(payload)-1-13, len(got))
}

func TestCutPaddingOutOfRange(t *testing.T) {
	payload := []byte{250, 1, 2, 3}

	_, err := CutPadding(payload, len(payload))
	assert.ErrorIs(t, err, ErrPaddingOutOfRange)
}

func TestUint24RoundTrip(t *testing.T) {
	var b [3]byte
	Uint24ToBytes(b[:], 1<<20+7)
	assert.Equal(t, uint32(1<<20+7), BytesToUint24(b[:]))
}

func TestUint32RoundTrip(t *testing.T) {
	b := AppendUint32Bytes(nil, 0xdeadbeef)
	assert.Equal(t, uint32(0xdeadbeef), BytesToUint32(b))
}
