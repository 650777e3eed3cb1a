package http2

import (
	"time"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
)

// StreamState is one of the seven states of the RFC 9113 §5.1 stream
// lifecycle. Reserved/HalfClosed are split into Local/Remote variants
// since a stream reserved or half-closed by the side that created it
// behaves differently than one reserved or half-closed by the peer.
type StreamState int8

const (
	StreamStateIdle StreamState = iota
	StreamStateReservedLocal
	StreamStateReservedRemote
	StreamStateOpen
	StreamStateHalfClosedLocal
	StreamStateHalfClosedRemote
	StreamStateClosed

	// StreamStateReserved and StreamStateHalfClosed are kept as aliases
	// of the *Remote variants: server push (the only source of locally
	// reserved streams) is a declared Non-goal, so every stream this
	// handler creates reaches Reserved/HalfClosed from the remote side.
	StreamStateReserved   = StreamStateReservedRemote
	StreamStateHalfClosed = StreamStateHalfClosedRemote
)

func (ss StreamState) String() string {
	switch ss {
	case StreamStateIdle:
		return "Idle"
	case StreamStateReservedLocal:
		return "ReservedLocal"
	case StreamStateReservedRemote:
		return "ReservedRemote"
	case StreamStateOpen:
		return "Open"
	case StreamStateHalfClosedLocal:
		return "HalfClosedLocal"
	case StreamStateHalfClosedRemote:
		return "HalfClosedRemote"
	case StreamStateClosed:
		return "Closed"
	}

	return "Unknown"
}

// Stream holds all per-stream state tracked by the connection: its
// place in the RFC 9113 lifecycle, its flow-control windows, priority,
// and the in-flight HPACK/request-assembly scratch space.
type Stream struct {
	id    uint32
	state StreamState

	// window is the number of bytes this endpoint is still allowed to
	// send on the stream (credit granted by the peer's WINDOW_UPDATE
	// frames).
	window int64

	// recvWindow is the number of bytes of DATA credit this endpoint
	// has extended to the peer and not yet consumed. It mirrors
	// Connection.recvWindow but scoped to one stream: each DATA frame
	// debits it, and once it drops below half of the local initial
	// window it is topped back up to full and the difference is sent
	// as a stream-level WINDOW_UPDATE.
	recvWindow int64

	// recvWindowInitial is the local SETTINGS_INITIAL_WINDOW_SIZE in
	// effect when this stream was created; ReplenishRecvWindow tops
	// recvWindow back up to this value.
	recvWindowInitial int64

	// pendingSend holds response body bytes that flow control would
	// not yet let through, pool-backed instead of a raw slice;
	// pendingSendEndStream remembers whether the withheld tail should
	// carry END_STREAM once it finally drains. Allocated lazily since
	// most streams never back up.
	pendingSend          *bytebufferpool.ByteBuffer
	pendingSendEndStream bool

	// Priority, RFC 9113 §5.3. Advisory only: this handler does not
	// reorder writes by priority; it only records the values carried
	// by PRIORITY frames.
	weight     uint8
	dependsOn  uint32
	exclusive  bool

	origType FrameType // the frame type (HEADERS) that opened the stream

	recvEndStream bool // END_STREAM seen from the peer
	sentEndStream bool // END_STREAM sent to the peer

	startedAt time.Time

	ctx *fasthttp.RequestCtx

	headersFinished     bool
	previousHeaderBytes []byte
	headerBlockNum      int
	scheme              []byte
}

// NewStream allocates a stream in the Idle state with sendWindow bytes
// of send-side credit (the peer's advertised initial window) and
// recvWindow bytes of receive-side credit (our own advertised initial
// window) extended to the peer.
func NewStream(id uint32, sendWindow, recvWindow int64) *Stream {
	return &Stream{
		id:                id,
		state:             StreamStateIdle,
		window:            sendWindow,
		recvWindow:        recvWindow,
		recvWindowInitial: recvWindow,
	}
}

func (s *Stream) ID() uint32 {
	return s.id
}

func (s *Stream) SetID(id uint32) {
	s.id = id
}

func (s *Stream) State() StreamState {
	return s.state
}

func (s *Stream) SetState(state StreamState) {
	s.state = state
}

// Window returns the remaining send-side flow-control credit.
func (s *Stream) Window() int64 {
	return s.window
}

func (s *Stream) SetWindow(win int64) {
	s.window = win
}

func (s *Stream) IncrWindow(win int64) {
	s.window += win
}

// IncrWindowChecked credits win bytes of send-side flow control, as
// IncrWindow does, but rejects an increment that would push the
// window above the RFC 9113 2^31-1 ceiling.
func (s *Stream) IncrWindowChecked(win int64) error {
	s.window += win
	if s.window > connWindowLimit {
		return NewResetStreamError(FlowControlError, "stream window is above limits")
	}

	return nil
}

// RecvWindow returns the remaining receive-side credit extended to
// the peer for this stream.
func (s *Stream) RecvWindow() int64 {
	return s.recvWindow
}

// ConsumeRecvBudget debits n bytes of the credit extended to the peer,
// returning a FlowControlError if the peer sent more than it was
// allowed.
func (s *Stream) ConsumeRecvBudget(n int64) error {
	if n > s.recvWindow {
		return NewResetStreamError(FlowControlError, "stream recv window exceeded")
	}

	s.recvWindow -= n
	return nil
}

// ReplenishRecvWindow restores recvWindow to its initial value and
// returns the increment to send as a stream-level WINDOW_UPDATE, or 0
// if recvWindow is still at or above half of its initial value.
func (s *Stream) ReplenishRecvWindow() uint32 {
	if s.recvWindow >= s.recvWindowInitial/2 {
		return 0
	}

	incr := s.recvWindowInitial - s.recvWindow
	s.recvWindow = s.recvWindowInitial

	return uint32(incr)
}

func (s *Stream) SetPriority(weight uint8, dependsOn uint32, exclusive bool) {
	s.weight = weight
	s.dependsOn = dependsOn
	s.exclusive = exclusive
}

func (s *Stream) Weight() uint8 {
	return s.weight
}

func (s *Stream) DependsOn() uint32 {
	return s.dependsOn
}

func (s *Stream) Exclusive() bool {
	return s.exclusive
}

func (s *Stream) RecvEndStream() bool {
	return s.recvEndStream
}

func (s *Stream) SetRecvEndStream(v bool) {
	s.recvEndStream = v
}

func (s *Stream) SentEndStream() bool {
	return s.sentEndStream
}

func (s *Stream) SetSentEndStream(v bool) {
	s.sentEndStream = v
}

// ApplyEndStream advances the stream's state machine on an END_STREAM
// flag, per RFC 9113 §5.1. local is true when this endpoint is the one
// sending END_STREAM (the response), false when it was received from
// the peer (the request).
func (s *Stream) ApplyEndStream(local bool) {
	if local {
		s.sentEndStream = true

		switch s.state {
		case StreamStateOpen:
			s.state = StreamStateHalfClosedLocal
		case StreamStateHalfClosedRemote:
			s.state = StreamStateClosed
		}

		return
	}

	s.recvEndStream = true

	switch s.state {
	case StreamStateIdle, StreamStateOpen:
		s.state = StreamStateHalfClosedRemote
	case StreamStateHalfClosedLocal:
		s.state = StreamStateClosed
	}
}

// PendingSendLen returns the number of withheld response body bytes
// still waiting on flow control.
func (s *Stream) PendingSendLen() int {
	if s.pendingSend == nil {
		return 0
	}

	return len(s.pendingSend.B)
}

// PendingSendBytes returns the withheld bytes, or nil if there are none.
func (s *Stream) PendingSendBytes() []byte {
	if s.pendingSend == nil {
		return nil
	}

	return s.pendingSend.B
}

// AppendPendingSend queues body onto the withheld-send buffer,
// allocating it from the pool on first use.
func (s *Stream) AppendPendingSend(body []byte) {
	if s.pendingSend == nil {
		s.pendingSend = bytebufferpool.Get()
	}

	s.pendingSend.Write(body) //nolint:errcheck // ByteBuffer.Write never errors
}

// DropPendingSend discards the first n bytes of the withheld-send
// buffer once they have been written out as a DATA frame.
func (s *Stream) DropPendingSend(n int) {
	b := s.pendingSend.B
	copy(b, b[n:])
	s.pendingSend.B = b[:len(b)-n]
}

// ReleasePendingSend returns the withheld-send buffer to the pool. Safe
// to call on a stream that never backed up.
func (s *Stream) ReleasePendingSend() {
	if s.pendingSend == nil {
		return
	}

	bytebufferpool.Put(s.pendingSend)
	s.pendingSend = nil
}

// Data returns the fasthttp request context backing this stream.
func (s *Stream) Data() interface{} {
	return s.ctx
}

// SetData attaches the fasthttp request context that carries this
// stream's request/response pair.
func (s *Stream) SetData(ctx *fasthttp.RequestCtx) {
	s.ctx = ctx
}
