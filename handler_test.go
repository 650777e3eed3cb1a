package http2

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func buildFrame(t *testing.T, streamID uint32, body Frame) []byte {
	t.Helper()

	fr := AcquireFrameHeader()
	fr.SetStream(streamID)
	fr.SetBody(body)

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)

	_, err := fr.WriteTo(bw)
	assert.NoError(t, err)
	assert.NoError(t, bw.Flush())

	ReleaseFrameHeader(fr)

	return buf.Bytes()
}

func buildHeadersFrame(t *testing.T, enc *HPACK, id uint32, endStream bool, fields [][2]string) []byte {
	t.Helper()

	h := AcquireFrame(FrameHeaders).(*Headers)
	h.SetEndHeaders(true)
	h.SetEndStream(endStream)

	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)

	for _, kv := range fields {
		hf.Set(kv[0], kv[1])
		h.AppendHeaderField(enc, hf, false)
	}

	return buildFrame(t, id, h)
}

// decodeFrames parses every whole frame out of chunks, in order.
func decodeFrames(t *testing.T, chunks [][]byte) []*FrameHeader {
	t.Helper()

	var buf bytes.Buffer
	for _, c := range chunks {
		buf.Write(c)
	}

	br := bufio.NewReader(&buf)

	var frames []*FrameHeader
	for {
		fr, err := ReadFrameFrom(br)
		if err != nil {
			break
		}

		frames = append(frames, fr)
	}

	return frames
}

func frameTypes(frames []*FrameHeader) []FrameType {
	types := make([]FrameType, len(frames))
	for i, fr := range frames {
		types[i] = fr.Type()
	}

	return types
}

func doHandshake(t *testing.T, h *Handler) {
	t.Helper()

	assert.NoError(t, h.Feed(clientPreface))

	settings := buildFrame(t, 0, AcquireFrame(FrameSettings).(*Settings))
	assert.NoError(t, h.Feed(settings))

	frames := decodeFrames(t, h.PendingWrites())
	assert.Equal(t, []FrameType{FrameSettings, FrameSettings}, frameTypes(frames))
	assert.Equal(t, ConnectionActive, h.conn.State())
}

func getRequest(path string) [][2]string {
	return [][2]string{
		{":method", "GET"},
		{":path", path},
		{":scheme", "https"},
		{":authority", "localhost"},
	}
}

func TestHandlerHandshake(t *testing.T) {
	h := NewHandler(func(ctx *fasthttp.RequestCtx) {}, 100)
	doHandshake(t, h)
}

func TestHandlerFullRequestResponse(t *testing.T) {
	var gotMethod, gotPath string

	h := NewHandler(func(ctx *fasthttp.RequestCtx) {
		gotMethod = string(ctx.Method())
		gotPath = string(ctx.Path())
		ctx.SetStatusCode(200)
		ctx.SetBodyString("hello")
	}, 100)

	doHandshake(t, h)

	req := buildHeadersFrame(t, &h.dec, 1, true, getRequest("/hello"))
	assert.NoError(t, h.Feed(req))

	assert.Equal(t, "GET", gotMethod)
	assert.Equal(t, "/hello", gotPath)

	frames := decodeFrames(t, h.PendingWrites())
	if assert.Len(t, frames, 2) {
		assert.Equal(t, FrameHeaders, frames[0].Type())
		assert.Equal(t, FrameData, frames[1].Type())
		assert.True(t, frames[1].Body().(*Data).EndStream())
		assert.Equal(t, "hello", string(frames[1].Body().(*Data).Data()))
	}

	assert.Nil(t, h.conn.Stream(1))
}

func TestHandlerRequestWithBody(t *testing.T) {
	var gotBody string

	h := NewHandler(func(ctx *fasthttp.RequestCtx) {
		gotBody = string(ctx.PostBody())
		ctx.SetStatusCode(204)
	}, 100)

	doHandshake(t, h)

	headers := buildHeadersFrame(t, &h.dec, 1, false, [][2]string{
		{":method", "POST"},
		{":path", "/upload"},
		{":scheme", "https"},
		{":authority", "localhost"},
	})
	assert.NoError(t, h.Feed(headers))

	data := AcquireFrame(FrameData).(*Data)
	data.SetEndStream(true)
	data.SetData([]byte("payload"))
	assert.NoError(t, h.Feed(buildFrame(t, 1, data)))

	assert.Equal(t, "payload", gotBody)

	frames := decodeFrames(t, h.PendingWrites())
	if assert.Len(t, frames, 1) {
		assert.Equal(t, FrameHeaders, frames[0].Type())
		assert.True(t, frames[0].Body().(*Headers).EndStream())
	}
}

func TestHandlerMaxConcurrentStreamsRefusal(t *testing.T) {
	h := NewHandler(func(ctx *fasthttp.RequestCtx) {}, 1)
	doHandshake(t, h)

	keepOpen := buildHeadersFrame(t, &h.dec, 1, false, getRequest("/a"))
	assert.NoError(t, h.Feed(keepOpen))
	h.PendingWrites()

	refused := buildHeadersFrame(t, &h.dec, 3, true, getRequest("/b"))
	assert.NoError(t, h.Feed(refused))

	frames := decodeFrames(t, h.PendingWrites())
	if assert.Len(t, frames, 1) {
		assert.Equal(t, FrameResetStream, frames[0].Type())
		assert.Equal(t, RefusedStreamError, frames[0].Body().(*RstStream).Code())
	}
}

func TestHandlerRstStreamOnIdleStream(t *testing.T) {
	h := NewHandler(func(ctx *fasthttp.RequestCtx) {}, 100)
	doHandshake(t, h)

	rst := AcquireFrame(FrameResetStream).(*RstStream)
	rst.SetCode(CancelError)
	assert.NoError(t, h.Feed(buildFrame(t, 5, rst)))

	frames := decodeFrames(t, h.PendingWrites())
	if assert.Len(t, frames, 1) {
		assert.Equal(t, FrameGoAway, frames[0].Type())
	}
	assert.True(t, h.Closed())
}

func TestHandlerDataOnUnopenedStream(t *testing.T) {
	h := NewHandler(func(ctx *fasthttp.RequestCtx) {}, 100)
	doHandshake(t, h)

	data := AcquireFrame(FrameData).(*Data)
	data.SetData([]byte("oops"))
	assert.NoError(t, h.Feed(buildFrame(t, 1, data)))

	frames := decodeFrames(t, h.PendingWrites())
	if assert.Len(t, frames, 1) {
		assert.Equal(t, FrameGoAway, frames[0].Type())
	}
	assert.True(t, h.Closed())
}

func TestHandlerWindowUpdateZeroIncrement(t *testing.T) {
	h := NewHandler(func(ctx *fasthttp.RequestCtx) {}, 100)
	doHandshake(t, h)

	wu := AcquireFrame(FrameWindowUpdate).(*WindowUpdate)
	wu.SetIncrement(0)
	assert.NoError(t, h.Feed(buildFrame(t, 0, wu)))

	frames := decodeFrames(t, h.PendingWrites())
	if assert.Len(t, frames, 1) {
		assert.Equal(t, FrameGoAway, frames[0].Type())
	}
}

func TestHandlerPriorityDependsOnItself(t *testing.T) {
	h := NewHandler(func(ctx *fasthttp.RequestCtx) {}, 100)
	doHandshake(t, h)

	pri := AcquireFrame(FramePriority).(*Priority)
	pri.SetStream(3)
	pri.SetWeight(16)
	assert.NoError(t, h.Feed(buildFrame(t, 3, pri)))

	frames := decodeFrames(t, h.PendingWrites())
	if assert.Len(t, frames, 1) {
		assert.Equal(t, FrameGoAway, frames[0].Type())
	}
}

func TestHandlerIncompleteFrameWaitsForMoreBytes(t *testing.T) {
	h := NewHandler(func(ctx *fasthttp.RequestCtx) {}, 100)
	doHandshake(t, h)

	full := buildHeadersFrame(t, &h.dec, 1, true, getRequest("/hello"))

	assert.NoError(t, h.Feed(full[:5]))
	assert.Empty(t, h.PendingWrites())

	assert.NoError(t, h.Feed(full[5:]))
	assert.NotEmpty(t, h.PendingWrites())
}
