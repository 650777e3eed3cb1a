// Package reactor implements the per-process epoll event loop: one
// SO_REUSEPORT listener shared (kernel-balanced) across every reactor
// in the supervisor's fleet, and one connState per accepted fd driving
// an http2.Handler without ever blocking on that fd's own I/O.
package reactor

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	http2 "github.com/h2d-project/h2d"
)

// epollWaitTimeoutMillis bounds every epoll_wait call so the reactor
// periodically wakes on its own even with no fd ready, mainly to
// notice a shutdown request promptly.
const epollWaitTimeoutMillis = 1000

const maxEpollEvents = 128

// Logger is the subset of leveled logging the reactor needs; satisfied
// by *internal/levellog.Logger.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Options configures a Reactor.
type Options struct {
	Host string
	Port int

	// TLSConfig enables TLS when non-nil; its NextProtos must already
	// advertise "h2". Nil means plaintext h2c.
	TLSConfig *tls.Config

	MaxConnections int
	Logger         Logger

	// NewHandler builds a fresh protocol handler for each accepted
	// connection. Defaults to a plain-text echo handler when nil.
	NewHandler func() *http2.Handler
}

// Reactor is a single-threaded, single-OS-process epoll event loop: it
// owns the epoll fd, the reactor map of live connections, and the
// shared listening socket.
type Reactor struct {
	epfd int
	ln   *listener
	opts Options
	log  Logger

	conns map[int]*connState
}

// New creates a Reactor bound to host:port. The listening socket is
// bound SO_REUSEPORT+SO_REUSEADDR so multiple reactor processes can
// share it with the kernel load-balancing accepts between them.
func New(opts Options) (*Reactor, error) {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 1024
	}

	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}

	ln, err := listen(opts.Host, opts.Port)
	if err != nil {
		return nil, err
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}

	r := &Reactor{
		epfd:  epfd,
		ln:    ln,
		opts:  opts,
		log:   opts.Logger,
		conns: make(map[int]*connState),
	}

	if err := r.epollAdd(ln.fd, unix.EPOLLIN); err != nil {
		_ = r.Close()
		return nil, err
	}

	return r, nil
}

func (r *Reactor) epollAdd(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (r *Reactor) epollMod(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (r *Reactor) epollDel(fd int) {
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Run drives the event loop until stop is closed. It returns once the
// loop has observed the close and torn every connection down.
func (r *Reactor) Run(stop <-chan struct{}) error {
	events := make([]unix.EpollEvent, maxEpollEvents)

	for {
		select {
		case <-stop:
			r.shutdown()
			return nil
		default:
		}

		n, err := unix.EpollWait(r.epfd, events, epollWaitTimeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}

			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)

			if fd == r.ln.fd {
				r.acceptReady()
				continue
			}

			r.fdReady(fd, events[i].Events)
		}
	}
}

func (r *Reactor) acceptReady() {
	fds, err := r.ln.acceptAll()
	if err != nil {
		r.log.Warnf("reactor: accept: %s", err)
	}

	for _, fd := range fds {
		if len(r.conns) >= r.opts.MaxConnections {
			_ = unix.Close(fd)
			continue
		}

		cs := newConnState(fd, r.opts.TLSConfig, r.newHandler())

		if err := r.epollAdd(fd, unix.EPOLLIN); err != nil {
			r.log.Warnf("reactor: epoll_ctl add fd=%d: %s", fd, err)
			_ = unix.Close(fd)
			continue
		}

		r.conns[fd] = cs
		r.log.Debugf("reactor: accepted fd=%d", fd)
	}
}

// defaultMaxConcurrentStreams is used only when the caller supplies no
// NewHandler factory of its own.
const defaultMaxConcurrentStreams = 100

func (r *Reactor) newHandler() *http2.Handler {
	h := r.buildHandler()

	if fl, ok := r.opts.Logger.(fasthttpLogger); ok {
		h.SetLogger(fl)
	}

	return h
}

func (r *Reactor) buildHandler() *http2.Handler {
	if r.opts.NewHandler != nil {
		return r.opts.NewHandler()
	}

	return http2.NewHandler(nil, defaultMaxConcurrentStreams)
}

// fasthttpLogger matches fasthttp.Logger's Printf without importing
// fasthttp here; *levellog.Logger satisfies it.
type fasthttpLogger interface {
	Printf(format string, args ...interface{})
}

func (r *Reactor) fdReady(fd int, events uint32) {
	cs, ok := r.conns[fd]
	if !ok {
		return
	}

	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		r.closeConn(cs)
		return
	}

	interest, ok := cs.step()
	if !ok {
		r.closeConn(cs)
		return
	}

	if interest != cs.registered {
		if err := r.epollMod(fd, interest); err == nil {
			cs.registered = interest
		}
	}
}

func (r *Reactor) closeConn(cs *connState) {
	r.epollDel(cs.fd)
	delete(r.conns, cs.fd)
	cs.close()
}

func (r *Reactor) shutdown() {
	for _, cs := range r.conns {
		r.epollDel(cs.fd)
		cs.close()
	}

	r.conns = make(map[int]*connState)
}

// Close tears the reactor down: every live connection, the epoll fd,
// and the listening socket.
func (r *Reactor) Close() error {
	r.shutdown()
	_ = unix.Close(r.epfd)
	return r.ln.Close()
}

// newFdConn wraps a raw fd as a net.Conn (via a dup'd os.File) so
// tls.Server can drive its blocking handshake/Read/Write from the
// capability's own goroutine (see tlscap.go) without the reactor's
// epoll loop ever calling into crypto/tls directly, and so request
// contexts can report real local/remote addresses.
func newFdConn(fd int) (net.Conn, error) {
	dup, err := unix.Dup(fd)
	if err != nil {
		return nil, err
	}

	f := os.NewFile(uintptr(dup), "reactor-conn")

	c, err := net.FileConn(f)
	_ = f.Close()

	if err != nil {
		return nil, err
	}

	return c, nil
}
