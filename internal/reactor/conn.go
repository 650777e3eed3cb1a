package reactor

import (
	"crypto/tls"
	"net"

	"golang.org/x/sys/unix"

	http2 "github.com/h2d-project/h2d"
)

// connPhase is where a given fd sits in the per-connection lifecycle:
// TLS handshake (skipped entirely for plaintext h2c) followed by
// steady-state protocol handling.
type connPhase int

const (
	phaseHandshaking connPhase = iota
	phaseReady
)

// readChunk is the stack-sized temporary every readable cycle reads
// into before appending to the handler's accumulated input.
const readChunk = 16 << 10

// connState is the reactor's per-fd record. It owns the raw fd, the
// optional TLS capability, and the http2.Handler driving the
// connection's protocol state.
type connState struct {
	fd         int
	registered uint32

	phase connPhase
	tls   *tlsCap
	nc    net.Conn // dup'd fd wrapper kept only for address reporting / TLS

	h *http2.Handler
}

func newConnState(fd int, tlsConfig *tls.Config, h *http2.Handler) *connState {
	cs := &connState{
		fd:         fd,
		registered: unix.EPOLLIN,
		h:          h,
	}

	// newFdConn is used purely so the handler can report real
	// local/remote addresses on its request contexts; plaintext reads
	// and writes still go straight through the raw fd below.
	if nc, err := newFdConn(fd); err == nil {
		cs.nc = nc
		h.SetConn(nc)

		if tlsConfig != nil {
			cs.tls = newTLSCap(nc, tlsConfig)
		}
	}

	return cs
}

// step runs one readiness cycle for this connection and reports the
// epoll interest it wants next, and whether it is still alive.
func (cs *connState) step() (interest uint32, alive bool) {
	if cs.tls != nil && cs.phase == phaseHandshaking {
		return cs.stepHandshake()
	}

	return cs.stepReady()
}

func (cs *connState) stepHandshake() (uint32, bool) {
	switch cs.tls.negotiate() {
	case capOK:
		cs.phase = phaseReady
		return unix.EPOLLIN, true
	case capWantRead:
		return unix.EPOLLIN, true
	case capWantWrite:
		return unix.EPOLLOUT, true
	default:
		return 0, false
	}
}

// stepReady drains every readable byte (looping to would-block, for
// both the TLS and plaintext cases), feeds it to the handler, and
// flushes whatever the handler queued to send.
func (cs *connState) stepReady() (uint32, bool) {
	buf := make([]byte, readChunk)

	for {
		n, res := cs.read(buf)
		if res == capErr {
			return 0, false
		}

		if n > 0 {
			if err := cs.h.Feed(buf[:n]); err != nil {
				return 0, false
			}
		}

		if res == capWantRead || res == capWantWrite || n == 0 {
			break
		}
	}

	if !cs.flush() {
		return 0, false
	}

	if cs.h.Closed() {
		return 0, false
	}

	return unix.EPOLLIN, true
}

func (cs *connState) read(buf []byte) (int, capResult) {
	if cs.tls != nil {
		return cs.tls.recv(buf)
	}

	n, err := unix.Read(cs.fd, buf)
	switch {
	case err == nil && n > 0:
		return n, capOK
	case err == nil && n == 0:
		return 0, capErr
	case err == unix.EAGAIN:
		return 0, capWantRead
	default:
		return 0, capErr
	}
}

// flush drains every frame the handler queued for this cycle, for TLS
// via a best-effort send (no retry on would-block — the next wake-up
// retries) and for plaintext via a direct write loop.
func (cs *connState) flush() bool {
	for _, chunk := range cs.h.PendingWrites() {
		if !cs.write(chunk) {
			return false
		}
	}

	return true
}

func (cs *connState) write(p []byte) bool {
	if cs.tls != nil {
		_, res := cs.tls.send(p)
		return res != capErr
	}

	for len(p) > 0 {
		n, err := unix.Write(cs.fd, p)
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}

			return false
		}

		p = p[n:]
	}

	return true
}

func (cs *connState) close() {
	if cs.tls != nil {
		_ = cs.tls.shutdown()
	} else if cs.nc != nil {
		_ = cs.nc.Close()
	}

	_ = unix.Close(cs.fd)
}
