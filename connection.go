package http2

// ConnectionState is the coarse connection-wide lifecycle, tracked
// independently of any single stream's RFC 9113 §5.1 state.
type ConnectionState int32

const (
	ConnectionWaitingPreface ConnectionState = iota
	ConnectionWaitingSettings
	ConnectionActive
	ConnectionGoingAway
	ConnectionClosed
)

func (cs ConnectionState) String() string {
	switch cs {
	case ConnectionWaitingPreface:
		return "WaitingPreface"
	case ConnectionWaitingSettings:
		return "WaitingSettings"
	case ConnectionActive:
		return "Active"
	case ConnectionGoingAway:
		return "GoingAway"
	case ConnectionClosed:
		return "Closed"
	}

	return "Unknown"
}

const (
	// defaultConnWindow is SETTINGS_INITIAL_WINDOW_SIZE's default,
	// RFC 9113 §6.9.2, applied to the connection-level window too.
	defaultConnWindow = 1<<16 - 1
	connWindowLimit   = 1<<31 - 1
)

// clientPreface is the 24-byte magic a client must send before any
// other HTTP/2 frame.
//
// https://httpwg.org/specs/rfc7540.html#ConnectionHeader
var clientPreface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// Connection owns everything about one HTTP/2 connection that isn't
// the bytes-in/bytes-out boundary: the stream table, both
// connection-level flow-control windows, the preface/SETTINGS/GOAWAY
// lifecycle, and the CONTINUATION reassembly scratch space. A
// Connection never performs I/O; Handler drives it from decoded
// frames and drains the frames it decides to emit.
type Connection struct {
	state ConnectionState

	streams      Streams
	openStreams  int    // peer-initiated (HEADERS-opened) streams currently tracked
	lastStreamID uint32 // highest peer-initiated stream id accepted so far
	nextStreamID uint32 // reserved for server-pushed streams; unused (Non-goal)

	recvWindow int64 // bytes of credit we have extended to the peer
	sendWindow int64 // bytes of credit the peer has extended to us

	settings *SettingsContext

	// While continuationExpected is true, the only legal next frame is
	// CONTINUATION on continuationStreamID; anything else is a
	// connection error, per RFC 9113 §6.10.
	continuationExpected bool
	continuationStreamID uint32

	goawayReceived bool
	goawaySent     bool
	closeRef       uint32 // highest stream id promised to still complete

	// closedStreams remembers ids that were created and later removed,
	// so a frame arriving for one can be diagnosed as "on a closed
	// stream" rather than "on an idle (never seen) stream".
	closedStreams map[uint32]struct{}
}

// NewConnection returns a Connection in WaitingPreface, with both
// connection-level windows at their RFC default and maxConcurrent
// streams accepted from peer-initiated HEADERS.
func NewConnection(maxConcurrentStreams uint32) *Connection {
	c := &Connection{
		state:         ConnectionWaitingPreface,
		recvWindow:    defaultConnWindow,
		sendWindow:    defaultConnWindow,
		settings:      NewSettingsContext(),
		closedStreams: make(map[uint32]struct{}),
	}
	c.settings.Local.SetMaxStreams(maxConcurrentStreams)
	c.settings.Local.SetEnablePush(false)

	return c
}

func (c *Connection) State() ConnectionState     { return c.state }
func (c *Connection) SetState(s ConnectionState) { c.state = s }

func (c *Connection) Settings() *SettingsContext { return c.settings }

// ConsumePreface compares buf's first 24 bytes against the client
// preface literal. It returns the number of bytes consumed (always 0
// or 24) and whether the preface matched. A buf shorter than 24 bytes
// also returns (0, false), the same as a mismatch, so callers check
// the length first to tell "not enough yet" apart.
func (c *Connection) ConsumePreface(buf []byte) (consumed int, ok bool) {
	if len(buf) < len(clientPreface) {
		return 0, false
	}

	for i, b := range clientPreface {
		if buf[i] != b {
			return 0, false
		}
	}

	return len(clientPreface), true
}

// Stream looks up a tracked stream by id.
func (c *Connection) Stream(id uint32) *Stream {
	return c.streams.Search(id)
}

// LastStreamID returns the highest peer-initiated stream id accepted.
func (c *Connection) LastStreamID() uint32 { return c.lastStreamID }

// CreateStream allocates and tracks a new stream for a peer-initiated
// id, enforcing RFC 9113 §5.1.1's monotonicity rule and §6.5.2's
// concurrency cap. The returned error, when non-nil, is already typed
// as either a connection error (id not increasing) or a stream
// refusal (over the concurrency cap) — callers translate directly.
func (c *Connection) CreateStream(id uint32) (*Stream, error) {
	if c.state != ConnectionActive && c.state != ConnectionWaitingSettings {
		return nil, NewGoAwayError(ProtocolError, "stream created while connection not active")
	}

	if id <= c.lastStreamID && c.lastStreamID != 0 {
		return nil, NewGoAwayError(ProtocolError, "stream ID is lower than the latest")
	}

	if c.openStreams >= int(c.settings.Local.MaxStreams()) {
		return nil, NewResetStreamError(RefusedStreamError, "max concurrent streams reached")
	}

	strm := c.newBareStream(id)
	strm.origType = FrameHeaders
	c.lastStreamID = id
	c.openStreams++

	return strm, nil
}

// newBareStream allocates and tracks strm without touching
// last_stream_id or the concurrency cap. It exists for frame types
// other than HEADERS that may legally reach a stream id the
// connection has never seen — PRIORITY and WINDOW_UPDATE are valid
// against an idle stream, RFC 9113 §5.1 — which implicitly creates
// the stream in Idle state without "opening" it.
func (c *Connection) newBareStream(id uint32) *Stream {
	strm := NewStream(id,
		int64(c.settings.Remote.MaxWindowSize()),
		int64(c.settings.Local.MaxWindowSize()))
	c.streams = append(c.streams, strm)

	return strm
}

// RemoveStream drops strm from the table once it has reached Closed
// and all pending writes for it have drained.
func (c *Connection) RemoveStream(id uint32) {
	if strm := c.streams.Del(id); strm != nil {
		if strm.origType == FrameHeaders {
			c.openStreams--
		}

		strm.ReleasePendingSend()
		c.closedStreams[id] = struct{}{}
	}
}

// WasClosed reports whether id once existed and was removed, letting
// callers tell "closed" apart from "never existed" (idle).
func (c *Connection) WasClosed(id uint32) bool {
	_, ok := c.closedStreams[id]
	return ok
}

// Streams returns the live stream table, ordered by ascending id.
func (c *Connection) Streams() Streams { return c.streams }

// IncrSendWindow credits the connection-level send window, returning
// a FlowControlError if it would exceed the RFC 9113 2^31-1 ceiling.
func (c *Connection) IncrSendWindow(n int64) error {
	c.sendWindow += n
	if c.sendWindow > connWindowLimit {
		return NewGoAwayError(FlowControlError, "connection window is above limits")
	}

	return nil
}

func (c *Connection) SendWindow() int64 { return c.sendWindow }

// ConsumeSendWindow debits n bytes of send credit, returning a
// FlowControlError if there isn't enough.
func (c *Connection) ConsumeSendWindow(n int64) error {
	if n > c.sendWindow {
		return NewGoAwayError(FlowControlError, "connection send window exhausted")
	}

	c.sendWindow -= n
	return nil
}

// ConsumeRecvBudget debits n bytes from the credit we extended the
// peer for DATA frames, returning a FlowControlError if the peer
// exceeded it.
func (c *Connection) ConsumeRecvBudget(n int64) error {
	if n > c.recvWindow {
		return NewGoAwayError(FlowControlError, "connection recv window exceeded")
	}

	c.recvWindow -= n
	return nil
}

func (c *Connection) RecvWindow() int64 { return c.recvWindow }

// ReplenishRecvWindow restores the connection-level recv window to
// full and returns the increment to send as a WINDOW_UPDATE, or 0 if
// it's still above the 50%-of-initial threshold.
func (c *Connection) ReplenishRecvWindow() uint32 {
	full := int64(c.settings.Local.MaxWindowSize())
	if c.recvWindow >= full/2 {
		return 0
	}

	incr := full - c.recvWindow
	c.recvWindow = full

	return uint32(incr)
}

// StartContinuation arms CONTINUATION-only mode for strm, per RFC
// 9113 §6.10: every subsequent frame until END_HEADERS must be a
// CONTINUATION on this exact stream.
func (c *Connection) StartContinuation(streamID uint32) {
	c.continuationExpected = true
	c.continuationStreamID = streamID
}

func (c *Connection) EndContinuation() {
	c.continuationExpected = false
	c.continuationStreamID = 0
}

// CheckContinuation enforces the no-interleaving rule: while a
// CONTINUATION sequence is open, fr must be a CONTINUATION on the
// same stream.
func (c *Connection) CheckContinuation(fr *FrameHeader) error {
	if !c.continuationExpected {
		return nil
	}

	if fr.Type() != FrameContinuation || fr.Stream() != c.continuationStreamID {
		return NewGoAwayError(ProtocolError, "expected CONTINUATION, got interleaved frame")
	}

	return nil
}

// MarkGoingAway flips the connection into Going_Away. Called both when
// we send GOAWAY and when we receive one; only for a sent GOAWAY is
// lastStreamID recorded (as CloseRef), the highest stream this side
// still promises to complete.
func (c *Connection) MarkGoingAway(received bool, lastStreamID uint32) {
	if received {
		c.goawayReceived = true
	} else {
		c.goawaySent = true
		c.closeRef = lastStreamID
	}

	c.state = ConnectionGoingAway
}

func (c *Connection) GoAwayReceived() bool { return c.goawayReceived }
func (c *Connection) GoAwaySent() bool     { return c.goawaySent }
func (c *Connection) CloseRef() uint32     { return c.closeRef }

// TruncateAbove closes every tracked stream with an id greater than
// last, per RFC 9113 §6.8: the peer's GOAWAY promises nothing above
// that id will be processed.
func (c *Connection) TruncateAbove(last uint32) (truncated []*Stream) {
	for _, strm := range c.streams {
		if strm.ID() > last {
			strm.SetState(StreamStateClosed)
			truncated = append(truncated, strm)
		}
	}

	for _, strm := range truncated {
		c.RemoveStream(strm.ID())
	}

	return truncated
}
