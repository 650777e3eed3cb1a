package levellog

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   Debug,
		"DEBUG":   Debug,
		"info":    Info,
		"":        Info,
		"bogus":   Info,
		"warn":    Warn,
		"warning": Warn,
		"error":   Error,
		"none":    None,
		"NoNe":    None,
	}

	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestLoggerGating(t *testing.T) {
	var buf bytes.Buffer

	l := &Logger{min: Warn, std: log.New(&buf, "", 0)}

	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	assert.Empty(t, buf.String(), "debug/info should be gated out below Warn")

	l.Warnf("warn %d", 3)
	assert.Contains(t, buf.String(), "warn 3")

	buf.Reset()
	l.Errorf("error %d", 4)
	assert.Contains(t, buf.String(), "error 4")
}

func TestLoggerPrintfIsDebugGated(t *testing.T) {
	var buf bytes.Buffer

	l := &Logger{min: Info, std: log.New(&buf, "", 0)}
	l.Printf("fasthttp chatter")
	assert.Empty(t, buf.String(), "Printf logs at Debug, gated out at min Info")

	l2 := &Logger{min: Debug, std: log.New(&buf, "", 0)}
	l2.Printf("fasthttp chatter")
	assert.Contains(t, buf.String(), "fasthttp chatter")
}

func TestNew(t *testing.T) {
	l := New(Warn, "[test] ")
	assert.NotNil(t, l.std)
	assert.Equal(t, Warn, l.min)
}
