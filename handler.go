package http2

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

// Handler drives one HTTP/2 connection's worth of Connection state and
// HPACK contexts from decoded frames, without ever performing I/O or
// suspending itself: Feed is handed bytes as they arrive and returns
// once it has consumed everything it can, and PendingWrites drains
// whatever frames that call produced. There is no goroutine, channel
// or blocking call anywhere in this type — the reactor that owns the
// socket is the only thing that ever blocks.
type Handler struct {
	conn *Connection

	enc HPACK
	dec HPACK

	callback fasthttp.RequestHandler

	in      bytes.Buffer
	scratch bytes.Buffer
	bw      *bufio.Writer
	out     [][]byte

	netConn net.Conn
	logger  fasthttp.Logger

	closed bool
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}

var defaultLogger fasthttp.Logger = nopLogger{}

// DefaultRequestHandler is used whenever a Handler is built with a nil
// callback: it echoes the request path back as a text/plain body, per
// the application callback contract's fallback behavior.
func DefaultRequestHandler(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("text/plain")
	ctx.SetStatusCode(fasthttp.StatusOK)
	fmt.Fprintf(ctx, "%s\n", ctx.Path())
}

// NewHandler returns a Handler in the WaitingPreface state, ready to
// be fed bytes from a freshly accepted connection. callback is invoked
// synchronously once per completed request, exactly like a fasthttp
// server's request handler. A nil callback falls back to
// DefaultRequestHandler.
func NewHandler(callback fasthttp.RequestHandler, maxConcurrentStreams uint32) *Handler {
	if callback == nil {
		callback = DefaultRequestHandler
	}

	h := &Handler{
		conn:     NewConnection(maxConcurrentStreams),
		callback: callback,
		logger:   defaultLogger,
	}
	h.bw = bufio.NewWriter(&h.scratch)

	return h
}

// SetConn attaches the net.Conn this handler is serving, so the
// fasthttp.RequestCtx built for every stream can report a real local
// and remote address. The reactor calls this once, right after accept.
func (h *Handler) SetConn(c net.Conn) { h.netConn = c }

// SetLogger overrides the logger used for per-stream request contexts.
func (h *Handler) SetLogger(l fasthttp.Logger) { h.logger = l }

// Closed reports whether this handler has given up on the connection
// (sent or received GOAWAY, or hit an unrecoverable framing error).
// The reactor should stop calling Feed and tear the socket down once
// PendingWrites has been drained after Closed starts returning true.
func (h *Handler) Closed() bool { return h.closed }

// Feed consumes data as connection bytes: completing the preface
// handshake if still pending, then decoding and dispatching as many
// whole frames as are buffered. A trailing partial frame is kept for
// the next call. Feed never blocks and never returns an error for
// protocol violations — those are translated into a queued GOAWAY or
// RST_STREAM, left for PendingWrites to return.
func (h *Handler) Feed(data []byte) error {
	if h.closed {
		return nil
	}

	h.in.Write(data)

	if h.conn.State() == ConnectionWaitingPreface {
		raw := h.in.Bytes()
		if len(raw) < len(clientPreface) {
			return nil
		}

		consumed, ok := h.conn.ConsumePreface(raw)
		if !ok {
			h.fatal(NewGoAwayError(ProtocolError, "invalid connection preface"))
			return nil
		}

		h.in.Next(consumed)
		h.conn.SetState(ConnectionWaitingSettings)
		h.sendInitialSettings()
	}

	for !h.closed {
		raw := h.in.Bytes()
		if len(raw) == 0 {
			break
		}

		rdr := bytes.NewReader(raw)
		bio := bufio.NewReader(rdr)

		fr, err := ReadFrameFromWithSize(bio, h.conn.Settings().Local.FrameSize())
		consumed := len(raw) - rdr.Len() - bio.Buffered()

		if err != nil {
			if isIncompleteFrame(err) {
				break
			}

			if errors.Is(err, ErrUnknownFrameType) {
				// forward-compatibility: skip, don't tear down the connection.
				h.in.Next(consumed)
				continue
			}

			h.in.Next(consumed)
			h.fatal(NewGoAwayError(ProtocolError, "malformed frame: "+err.Error()))
			break
		}

		h.in.Next(consumed)

		h.dispatch(fr)
		ReleaseFrameHeader(fr)
	}

	return nil
}

// isIncompleteFrame reports whether err means "not enough bytes
// buffered yet" rather than a real framing error.
func isIncompleteFrame(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// PendingWrites returns every frame queued since the last call and
// clears the queue. The reactor writes each slice to the socket in
// order.
func (h *Handler) PendingWrites() [][]byte {
	out := h.out
	h.out = nil
	return out
}

// dispatch routes fr to the connection-level or stream-level handling
// path based on its stream id.
func (h *Handler) dispatch(fr *FrameHeader) {
	if err := h.conn.CheckContinuation(fr); err != nil {
		h.fatal(err)
		return
	}

	if fr.Stream() == 0 {
		h.dispatchConnectionFrame(fr)
		return
	}

	if fr.Stream()&1 == 0 {
		h.fatal(NewGoAwayError(ProtocolError, "invalid stream id"))
		return
	}

	switch fr.Type() {
	case FramePing, FramePushPromise:
		h.fatal(NewGoAwayError(ProtocolError, "frame type cannot carry a stream id"))
		return
	}

	h.dispatchStreamFrame(fr)
}

func (h *Handler) dispatchConnectionFrame(fr *FrameHeader) {
	switch fr.Type() {
	case FrameSettings:
		st := fr.Body().(*Settings)
		if !st.IsAck() {
			h.applySettings(st)
		}
	case FrameWindowUpdate:
		win := int64(fr.Body().(*WindowUpdate).Increment())
		if win == 0 {
			h.fatal(NewGoAwayError(ProtocolError, "window increment of 0"))
			return
		}

		if err := h.conn.IncrSendWindow(win); err != nil {
			h.fatal(err)
			return
		}

		h.drainPendingSends()
	case FramePing:
		ping := fr.Body().(*Ping)
		if !ping.IsAck() {
			h.writePong(ping)
		}
	case FrameGoAway:
		ga := fr.Body().(*GoAway)
		h.conn.MarkGoingAway(true, ga.Stream())
		h.conn.TruncateAbove(ga.Stream())
		h.closed = true
	default:
		h.fatal(NewGoAwayError(ProtocolError, "invalid frame"))
	}
}

// applySettings absorbs a peer SETTINGS frame: it updates the remote
// side of the settings context, re-keys the encoder's dynamic table
// limit, rebalances every open stream's send window by the delta in
// the initial window size (RFC 9113 §6.9.2), and ACKs.
func (h *Handler) applySettings(st *Settings) {
	oldWindow := h.conn.Settings().Remote.MaxWindowSize()
	st.CopyTo(&h.conn.Settings().Remote)
	h.enc.SetMaxTableSize(h.conn.Settings().Remote.HeaderTableSize())

	if delta := int64(h.conn.Settings().Remote.MaxWindowSize()) - int64(oldWindow); delta != 0 {
		for _, strm := range h.conn.Streams() {
			strm.SetWindow(strm.Window() + delta)
		}

		h.drainPendingSends()
	}

	if h.conn.State() == ConnectionWaitingSettings {
		h.conn.SetState(ConnectionActive)
	}

	ack := AcquireFrame(FrameSettings).(*Settings)
	ack.SetAck(true)
	h.writeFrame(0, ack)
}

func (h *Handler) writePong(ping *Ping) {
	pong := AcquireFrame(FramePing).(*Ping)
	pong.SetData(ping.Data())
	pong.SetAck(true)
	h.writeFrame(0, pong)
}

// WritePing queues a keepalive PING. Handler never arms its own
// timers, so the reactor calls this on whatever schedule it keeps.
func (h *Handler) WritePing() {
	ping := AcquireFrame(FramePing).(*Ping)
	ping.SetCurrentTime()
	h.writeFrame(0, ping)
}

// Close queues a GOAWAY with code/msg and marks the handler closed,
// for a reactor-driven idle timeout or graceful shutdown.
func (h *Handler) Close(code ErrorCode, msg string) {
	h.writeGoAway(code, msg)
}

func (h *Handler) sendInitialSettings() {
	st := AcquireFrame(FrameSettings).(*Settings)
	h.conn.Settings().Local.CopyTo(st)
	h.writeFrame(0, st)

	if extra := h.conn.RecvWindow() - defaultConnWindow; extra > 0 {
		h.writeWindowUpdate(0, uint32(extra))
	}
}

func (h *Handler) writeWindowUpdate(streamID uint32, increment uint32) {
	wu := AcquireFrame(FrameWindowUpdate).(*WindowUpdate)
	wu.SetIncrement(int(increment))
	h.writeFrame(streamID, wu)
}

func (h *Handler) writeReset(streamID uint32, code ErrorCode) {
	rst := AcquireFrame(FrameResetStream).(*RstStream)
	rst.SetCode(code)
	h.writeFrame(streamID, rst)
}

func (h *Handler) writeGoAway(code ErrorCode, msg string) {
	ga := AcquireFrame(FrameGoAway).(*GoAway)
	ga.SetStream(h.conn.LastStreamID())
	ga.SetCode(code)
	ga.SetData([]byte(msg))
	h.writeFrame(0, ga)

	h.conn.MarkGoingAway(false, h.conn.LastStreamID())
	h.closed = true

	h.logger.Printf("GoAway(stream=%d, code=%s): %s\n", h.conn.LastStreamID(), code, msg)
}

// fatal translates a connection-scoped error into a GOAWAY.
func (h *Handler) fatal(err error) {
	var herr Error
	if !errors.As(err, &herr) {
		h.writeGoAway(InternalError, err.Error())
		return
	}

	h.writeGoAway(herr.Code(), herr.Error())
}

// handleStreamError translates a stream-scoped error into a GOAWAY or
// RST_STREAM, depending on how it was constructed, and closes strm
// when it isn't nil.
func (h *Handler) handleStreamError(strm *Stream, streamID uint32, err error) {
	var herr Error
	switch {
	case !errors.As(err, &herr):
		h.writeReset(streamID, InternalError)
	case herr.frameType == FrameGoAway:
		h.writeGoAway(herr.Code(), herr.Error())
	default:
		h.writeReset(streamID, herr.Code())
	}

	if strm != nil {
		strm.SetState(StreamStateClosed)
		h.conn.RemoveStream(streamID)
	}
}

// writeFrame serializes body under streamID and appends the resulting
// bytes to the pending-write queue.
func (h *Handler) writeFrame(streamID uint32, body Frame) {
	fr := AcquireFrameHeader()
	fr.SetStream(streamID)
	fr.SetBody(body)

	h.scratch.Reset()
	h.bw.Reset(&h.scratch)

	_, err := fr.WriteTo(h.bw)
	if err == nil {
		err = h.bw.Flush()
	}

	ReleaseFrameHeader(fr)

	if err != nil {
		return
	}

	raw := make([]byte, h.scratch.Len())
	copy(raw, h.scratch.Bytes())
	h.out = append(h.out, raw)
}

// dispatchStreamFrame looks up (or opens) the stream fr targets and
// runs it through the frame-type handling and state-machine advance,
// dispatching a finished request and reaping a closed stream.
func (h *Handler) dispatchStreamFrame(fr *FrameHeader) {
	strm := h.conn.Stream(fr.Stream())

	if strm == nil {
		var err error

		strm, err = h.prepareNewStream(fr)
		if err != nil {
			h.handleStreamError(nil, fr.Stream(), err)
			return
		}

		if strm == nil {
			return // frame was absorbed: RST_STREAM or PRIORITY on a closed stream.
		}
	}

	if fr.Type() == FrameHeaders {
		if prev := h.conn.Streams().getPrevious(FrameHeaders); prev != nil && !prev.headersFinished {
			h.handleStreamError(prev, prev.ID(), NewGoAwayError(ProtocolError, "previous stream headers not ended"))
			return
		}

		h.closeStaleIdleStreams(strm)
	}

	if err := h.handleFrame(strm, fr); err != nil {
		h.handleStreamError(strm, strm.ID(), err)
		return
	}

	applyFrameState(fr, strm)

	if strm.State() == StreamStateHalfClosed {
		h.dispatchRequest(strm)
	}

	if strm.State() == StreamStateClosed {
		h.conn.RemoveStream(strm.ID())
	}
}

// prepareNewStream handles a frame that names a stream id the
// connection hasn't tracked yet. On a previously-closed stream, an
// RST_STREAM or PRIORITY is absorbed (nil, nil) and any other frame is
// a STREAM_CLOSED connection error; an RST_STREAM on a never-seen id
// is a PROTOCOL_ERROR. Any other frame type on a truly idle id
// implicitly creates a bare stream; only HEADERS opens a full one.
func (h *Handler) prepareNewStream(fr *FrameHeader) (*Stream, error) {
	id := fr.Stream()

	if fr.Type() == FrameResetStream {
		if !h.conn.WasClosed(id) {
			return nil, NewGoAwayError(ProtocolError, "RST_STREAM on idle stream")
		}

		return nil, nil
	}

	if h.conn.WasClosed(id) {
		if fr.Type() != FramePriority {
			return nil, NewGoAwayError(StreamClosedError, "frame on closed stream")
		}

		return nil, nil
	}

	if fr.Type() != FrameHeaders {
		return h.conn.newBareStream(id), nil
	}

	strm, err := h.conn.CreateStream(id)
	if err != nil {
		return nil, err
	}

	h.initStream(strm)

	return strm, nil
}

func (h *Handler) initStream(strm *Stream) {
	ctx := ctxPool.Get().(*fasthttp.RequestCtx)
	ctx.Request.Reset()
	ctx.Response.Reset()
	ctx.Init2(h.netConn, h.logger, false)

	strm.startedAt = time.Now()
	strm.SetData(ctx)
}

var ctxPool = sync.Pool{
	New: func() interface{} {
		return &fasthttp.RequestCtx{}
	},
}

// closeStaleIdleStreams cancels still-idle, HEADERS-opened streams
// with an id below strm's, per RFC 9113 §5.1.1: the first use of a new
// stream id implicitly closes lower idle ones the client will never
// use. It walks from the head of the ascending stream table and stops
// at the first stream that does not qualify, so an idle stream behind
// a non-idle one is left in place.
func (h *Handler) closeStaleIdleStreams(strm *Stream) {
	for {
		streams := h.conn.Streams()
		if len(streams) == 0 {
			return
		}

		first := streams[0]
		if first.ID() >= strm.ID() || first.State() != StreamStateIdle || first.origType != FrameHeaders {
			return
		}

		first.SetState(StreamStateClosed)
		h.writeReset(first.ID(), StreamCanceled)
		h.conn.RemoveStream(first.ID())
	}
}

// verifyStreamState rejects frame types that RFC 9113 §5.1 forbids in
// strm's current state, ahead of the per-type handling in handleFrame.
func (h *Handler) verifyStreamState(strm *Stream, fr *FrameHeader) error {
	switch strm.State() {
	case StreamStateIdle:
		if fr.Type() != FrameHeaders && fr.Type() != FramePriority {
			return NewGoAwayError(ProtocolError, "wrong frame on idle stream")
		}
	case StreamStateHalfClosed:
		if fr.Type() != FrameWindowUpdate && fr.Type() != FramePriority && fr.Type() != FrameResetStream {
			return NewGoAwayError(StreamClosedError, "wrong frame on half-closed stream")
		}
	}

	return nil
}

// handleFrame runs the per-frame-type handling rules: header decoding,
// request body assembly with dual-level flow-control accounting,
// RST_STREAM/PRIORITY/WINDOW_UPDATE validation.
func (h *Handler) handleFrame(strm *Stream, fr *FrameHeader) error {
	if err := h.verifyStreamState(strm, fr); err != nil {
		return err
	}

	switch fr.Type() {
	case FrameHeaders, FrameContinuation:
		if strm.State() >= StreamStateHalfClosedRemote {
			return NewGoAwayError(ProtocolError, "received headers on a finished stream")
		}

		if err := h.decodeHeaderFrame(strm, fr); err != nil {
			return err
		}

		if fr.Flags().Has(FlagEndHeaders) {
			// headers are only finished if there's no previousHeaderBytes left over.
			strm.headersFinished = len(strm.previousHeaderBytes) == 0
			if !strm.headersFinished {
				return NewGoAwayError(ProtocolError, "END_HEADERS received on an incomplete stream")
			}

			h.conn.EndContinuation()
			// calling req.URI() triggers URL parsing, so delay it until scheme is known.
			strm.ctx.Request.URI().SetSchemeBytes(strm.scheme)
		} else {
			h.conn.StartContinuation(strm.ID())
		}
	case FrameData:
		if !strm.headersFinished {
			return NewGoAwayError(ProtocolError, "stream didn't end the headers")
		}

		if strm.State() >= StreamStateHalfClosedRemote {
			return NewGoAwayError(StreamClosedError, "stream closed")
		}

		data := fr.Body().(*Data).Data()

		if err := h.conn.ConsumeRecvBudget(int64(len(data))); err != nil {
			return err
		}

		if err := strm.ConsumeRecvBudget(int64(len(data))); err != nil {
			return err
		}

		strm.ctx.Request.AppendBody(data)

		if incr := h.conn.ReplenishRecvWindow(); incr > 0 {
			h.writeWindowUpdate(0, incr)
		}

		if incr := strm.ReplenishRecvWindow(); incr > 0 {
			h.writeWindowUpdate(strm.ID(), incr)
		}
	case FrameResetStream:
		if strm.State() == StreamStateIdle {
			return NewGoAwayError(ProtocolError, "RST_STREAM on idle stream")
		}
	case FramePriority:
		if strm.State() != StreamStateIdle && !strm.headersFinished {
			return NewGoAwayError(ProtocolError, "frame priority on an open stream")
		}

		pri := fr.Body().(*Priority)
		if pri.Stream() == strm.ID() {
			return NewGoAwayError(ProtocolError, "stream that depends on itself")
		}

		strm.SetPriority(pri.Weight(), pri.Stream(), false)
	case FrameWindowUpdate:
		if strm.State() == StreamStateIdle {
			return NewGoAwayError(ProtocolError, "window update on idle stream")
		}

		win := int64(fr.Body().(*WindowUpdate).Increment())
		if win == 0 {
			return NewGoAwayError(ProtocolError, "window increment of 0")
		}

		if err := strm.IncrWindowChecked(win); err != nil {
			return err
		}

		h.flushPending(strm)
	default:
		return NewGoAwayError(ProtocolError, "invalid frame")
	}

	return nil
}

// decodeHeaderFrame feeds fr's header block fragment through the
// decoder and copies the resulting fields onto strm's fasthttp
// request, reassembling across CONTINUATION frames via
// previousHeaderBytes when a field representation is split mid-frame.
func (h *Handler) decodeHeaderFrame(strm *Stream, fr *FrameHeader) error {
	if strm.headersFinished && !fr.Flags().Has(FlagEndStream|FlagEndHeaders) {
		// TODO: trailers
		return NewGoAwayError(ProtocolError, "stream not open")
	}

	if hdr, ok := fr.Body().(*Headers); ok && hdr.Stream() == strm.ID() {
		return NewGoAwayError(ProtocolError, "stream that depends on itself")
	}

	b := append(strm.previousHeaderBytes, fr.Body().(FrameWithHeaders).Headers()...)
	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)

	req := &strm.ctx.Request

	var err error
	strm.previousHeaderBytes = strm.previousHeaderBytes[:0]
	fieldsProcessed := 0

	for len(b) > 0 {
		pb := b

		b, err = h.dec.nextField(hf, strm.headerBlockNum, fieldsProcessed, b)
		if err != nil {
			if errors.Is(err, ErrUnexpectedSize) && len(pb) > 0 {
				err = nil
				strm.previousHeaderBytes = append(strm.previousHeaderBytes, pb...)
			} else {
				err = NewGoAwayError(CompressionError, err.Error())
			}

			break
		}

		k, v := hf.KeyBytes(), hf.ValueBytes()
		if !hf.IsPseudo() &&
			!bytes.Equal(k, StringUserAgent) &&
			!bytes.Equal(k, StringContentType) {

			req.Header.AddBytesKV(k, v)
			continue
		}

		if hf.IsPseudo() {
			k = k[1:]
		}

		switch k[0] {
		case 'm': // method
			req.Header.SetMethodBytes(v)
		case 'p': // path
			req.Header.SetRequestURIBytes(v)
		case 's': // scheme
			if !bytes.Equal(k, StringScheme[1:]) {
				return NewGoAwayError(ProtocolError, "invalid pseudoheader")
			}

			strm.scheme = append(strm.scheme[:0], v...)
		case 'a': // authority
			req.Header.SetHostBytes(v)
			req.Header.AddBytesV("Host", v)
		case 'u': // user-agent
			req.Header.SetUserAgentBytes(v)
		case 'c': // content-type
			req.Header.SetContentTypeBytes(v)
		default:
			return NewGoAwayError(ProtocolError, fmt.Sprintf("unknown header field %s", k))
		}

		fieldsProcessed++
	}

	strm.headerBlockNum++

	return err
}

// applyFrameState advances strm's RFC 9113 §5.1 state machine after a
// frame has been accepted from the peer.
func applyFrameState(fr *FrameHeader, strm *Stream) {
	if fr.Type() == FrameResetStream {
		strm.SetState(StreamStateClosed)
		return
	}

	if strm.State() == StreamStateIdle && fr.Type() == FrameHeaders {
		strm.SetState(StreamStateOpen)
	}

	if fr.Flags().Has(FlagEndStream) {
		strm.ApplyEndStream(false)
	}
}

// dispatchRequest invokes the request callback once a stream's request
// is fully assembled, then queues the response headers and body.
func (h *Handler) dispatchRequest(strm *Stream) {
	ctx := strm.ctx
	ctx.Request.Header.SetProtocolBytes(StringHTTP2)

	h.callback(ctx)

	hasBody := ctx.Response.IsBodyStream() || len(ctx.Response.Body()) > 0

	hdr := AcquireFrame(FrameHeaders).(*Headers)
	hdr.SetEndHeaders(true)
	hdr.SetEndStream(!hasBody)

	if !hasBody {
		strm.ApplyEndStream(true)
	}

	fasthttpResponseHeaders(hdr, &h.enc, &ctx.Response)
	h.writeFrame(strm.ID(), hdr)

	if !hasBody {
		return
	}

	if ctx.Response.IsBodyStream() {
		bw := &bodyWriter{h: h, strm: strm, size: int64(ctx.Response.Header.ContentLength())}
		if bw.size == 0 {
			bw.size = -1
		}

		_ = ctx.Response.BodyWriteTo(bw)
	} else {
		h.queueSend(strm, ctx.Response.Body(), true)
	}
}

func fasthttpResponseHeaders(dst *Headers, hp *HPACK, res *fasthttp.Response) {
	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)

	hf.SetKeyBytes(StringStatus)
	hf.SetValue(strconv.FormatInt(int64(res.Header.StatusCode()), 10))
	dst.AppendHeaderField(hp, hf, true)

	if !res.IsBodyStream() {
		res.Header.SetContentLength(len(res.Body()))
	}

	res.Header.Del("Connection")
	res.Header.Del("Transfer-Encoding")

	res.Header.VisitAll(func(k, v []byte) {
		hf.SetBytes(ToLower(k), v)
		dst.AppendHeaderField(hp, hf, false)
	})
}

// queueSend appends body to strm's withheld-send buffer and pushes as
// much of it through as flow control currently allows.
func (h *Handler) queueSend(strm *Stream, body []byte, endStream bool) {
	strm.AppendPendingSend(body)
	strm.pendingSendEndStream = endStream

	h.flushPending(strm)
}

// flushPending drains strm's withheld-send buffer in chunks bounded by
// the stream window, the connection window and the peer's max frame
// size, stopping as soon as any of those runs out.
func (h *Handler) flushPending(strm *Stream) {
	for strm.PendingSendLen() > 0 {
		n := strm.PendingSendLen()

		if win := strm.Window(); win < int64(n) {
			n = int(win)
		}

		if win := h.conn.SendWindow(); win < int64(n) {
			n = int(win)
		}

		if max := int(h.conn.Settings().Remote.FrameSize()); n > max {
			n = max
		}

		if n <= 0 {
			return
		}

		chunk := strm.PendingSendBytes()[:n]
		last := n == strm.PendingSendLen() && strm.pendingSendEndStream

		data := AcquireFrame(FrameData).(*Data)
		data.SetEndStream(last)
		data.SetData(chunk)
		h.writeFrame(strm.ID(), data)

		strm.SetWindow(strm.Window() - int64(n))
		_ = h.conn.ConsumeSendWindow(int64(n))

		strm.DropPendingSend(n)

		if last {
			strm.pendingSendEndStream = false
			strm.ApplyEndStream(true)
		}
	}
}

// drainPendingSends retries every stream with a withheld send buffer,
// in ascending stream id order, after a connection-level WINDOW_UPDATE
// — the order in which RFC 9113 leaves fairness to the implementation.
func (h *Handler) drainPendingSends() {
	for _, strm := range h.conn.Streams() {
		if strm.PendingSendLen() == 0 {
			continue
		}

		h.flushPending(strm)

		if h.conn.SendWindow() <= 0 {
			break
		}
	}
}

var bodyChunkPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, 1<<14)
	},
}

// bodyWriter adapts a streamed fasthttp response body to the
// back-pressured queueSend path instead of a channel-fed streamWrite,
// so a large or slow body never blocks Feed.
type bodyWriter struct {
	h    *Handler
	strm *Stream
	size int64 // -1 when unknown
}

func (bw *bodyWriter) Write(p []byte) (int, error) {
	bw.h.queueSend(bw.strm, p, false)
	return len(p), nil
}

func (bw *bodyWriter) ReadFrom(r io.Reader) (int64, error) {
	if bw.size < 0 {
		if lr, ok := r.(*io.LimitedReader); ok {
			bw.size = lr.N
		}
	}

	buf := bodyChunkPool.Get().([]byte)
	defer bodyChunkPool.Put(buf)

	var num int64

	for {
		n, err := r.Read(buf)
		if n > 0 {
			num += int64(n)
			last := bw.size >= 0 && num >= bw.size
			bw.h.queueSend(bw.strm, buf[:n], last)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if bw.size < 0 {
					bw.h.queueSend(bw.strm, nil, true)
				}

				return num, nil
			}

			return num, err
		}
	}
}
