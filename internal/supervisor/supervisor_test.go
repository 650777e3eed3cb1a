package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCertArgsRewritesLongFlags(t *testing.T) {
	args := []string{"--host", "0.0.0.0", "--cert", "cert.pem", "--key", "key.pem", "--tls"}

	out, err := resolveCertArgs(args, "cert.pem", "key.pem")
	require.NoError(t, err)

	absCert, err := absIfSet("cert.pem")
	require.NoError(t, err)
	absKey, err := absIfSet("key.pem")
	require.NoError(t, err)

	assert.Equal(t, []string{"--host", "0.0.0.0", "--cert", absCert, "--key", absKey, "--tls"}, out)
}

func TestResolveCertArgsRewritesShortFlags(t *testing.T) {
	out, err := resolveCertArgs([]string{"-cert", "a.pem", "-key", "b.pem"}, "a.pem", "b.pem")
	require.NoError(t, err)

	absCert, _ := absIfSet("a.pem")
	absKey, _ := absIfSet("b.pem")

	assert.Equal(t, []string{"-cert", absCert, "-key", absKey}, out)
}

func TestResolveCertArgsLeavesOtherFlagsAlone(t *testing.T) {
	out, err := resolveCertArgs([]string{"--workers", "4", "--log-level", "debug"}, "", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"--workers", "4", "--log-level", "debug"}, out)
}

func TestAbsIfSetEmptyStringStaysEmpty(t *testing.T) {
	got, err := absIfSet("")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSignalAllDoesNotPanicOnEmptySlice(t *testing.T) {
	assert.NotPanics(t, func() { signalAll(nil) })
}
