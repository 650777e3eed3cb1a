package reactor

import (
	"crypto/tls"
	"io"
	"net"
)

// capResult is the outcome of a capability call: ok, would-block in
// either direction, or a terminal error — the four-value contract
// design notes call for TLS as an opaque capability.
type capResult int

const (
	capOK capResult = iota
	capWantRead
	capWantWrite
	capErr
)

// tlsCap is the TLS-as-capability facade. crypto/tls.Conn only offers
// a blocking net.Conn-shaped API with no non-blocking handshake
// primitive, so a single per-connection goroutine drives the blocking
// Handshake/Read/Write calls and funnels results through buffered
// channels that negotiate/recv/send poll without blocking (select with
// a default case). The epoll loop itself never blocks on this fd;
// only the facade's own goroutine blocks, and only inside crypto/tls.
type tlsCap struct {
	conn *tls.Conn

	handshakeDone chan error
	started       bool

	readResp  chan readResult
	readPend  bool
	writeResp chan writeResult
	writePend bool
}

type readResult struct {
	b   []byte
	err error
}

type writeResult struct {
	n   int
	err error
}

func newTLSCap(raw net.Conn, cfg *tls.Config) *tlsCap {
	return &tlsCap{
		conn:          tls.Server(raw, cfg),
		handshakeDone: make(chan error, 1),
		readResp:      make(chan readResult, 1),
		writeResp:     make(chan writeResult, 1),
	}
}

// negotiate drives the TLS handshake. The first call starts the
// driving goroutine; subsequent calls poll its result non-blockingly.
func (t *tlsCap) negotiate() capResult {
	if !t.started {
		t.started = true

		go func() {
			t.handshakeDone <- t.conn.Handshake()
		}()
	}

	select {
	case err := <-t.handshakeDone:
		if err != nil {
			return capErr
		}

		return capOK
	default:
		return capWantRead
	}
}

// recv reads into buf without blocking the caller: each call either
// collects a previously-finished read or issues a new one for the
// driving goroutine to perform.
func (t *tlsCap) recv(buf []byte) (int, capResult) {
	if t.readPend {
		select {
		case res := <-t.readResp:
			t.readPend = false

			if res.err != nil {
				return 0, capErr
			}

			return copy(buf, res.b), capOK
		default:
			return 0, capWantRead
		}
	}

	t.readPend = true

	go func(size int) {
		b := make([]byte, size)
		n, err := t.conn.Read(b)
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}

		t.readResp <- readResult{b: b[:n], err: err}
	}(len(buf))

	return 0, capWantRead
}

// send writes p without blocking the caller, same request/response
// shape as recv.
func (t *tlsCap) send(p []byte) (int, capResult) {
	if t.writePend {
		select {
		case res := <-t.writeResp:
			t.writePend = false

			if res.err != nil {
				return 0, capErr
			}

			return res.n, capOK
		default:
			return 0, capWantWrite
		}
	}

	t.writePend = true

	go func(data []byte) {
		n, err := t.conn.Write(data)
		t.writeResp <- writeResult{n: n, err: err}
	}(p)

	return 0, capWantWrite
}

func (t *tlsCap) shutdown() error {
	return t.conn.Close()
}
