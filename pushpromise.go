package http2

import (
	"sync"

	"github.com/h2d-project/h2d/http2utils"
)

const FramePushPromise FrameType = 0x5

var _ Frame = &PushPromise{}

var pushPromisePool = sync.Pool{New: func() interface{} { return &PushPromise{} }}

// PushPromise represents a PUSH_PROMISE frame. Server push is a declared
// Non-goal: the handler always advertises SETTINGS_ENABLE_PUSH=0 and
// treats any PUSH_PROMISE it receives as a connection PROTOCOL_ERROR, but
// the frame is still parsed so a malformed one is reported as a framing
// error rather than silently dropped.
//
// https://httpwg.org/specs/rfc7540.html#PUSH_PROMISE
type PushPromise struct {
	hasPadding       bool
	endHeaders       bool
	promisedStreamID uint32
	rawHeaders       []byte
}

func (pp *PushPromise) Type() FrameType {
	return FramePushPromise
}

func (pp *PushPromise) Reset() {
	pp.hasPadding = false
	pp.endHeaders = false
	pp.promisedStreamID = 0
	pp.rawHeaders = pp.rawHeaders[:0]
}

func (pp *PushPromise) Headers() []byte {
	return pp.rawHeaders
}

func (pp *PushPromise) PromisedStreamID() uint32 {
	return pp.promisedStreamID
}

func (pp *PushPromise) Deserialize(fr *FrameHeader) error {
	payload := fr.payload

	if fr.Flags().Has(FlagPadded) {
		var err error
		payload, err = http2utils.CutPadding(payload, fr.Len())
		if err != nil {
			return err
		}
	}

	if len(payload) < 4 {
		return ErrMissingBytes
	}

	pp.promisedStreamID = http2utils.BytesToUint32(payload) & (1<<31 - 1)
	pp.endHeaders = fr.Flags().Has(FlagEndHeaders)
	pp.rawHeaders = append(pp.rawHeaders[:0], payload[4:]...)

	return nil
}

func (pp *PushPromise) Serialize(fr *FrameHeader) {
	if pp.endHeaders {
		fr.SetFlags(fr.Flags().Add(FlagEndHeaders))
	}

	payload := http2utils.AppendUint32Bytes(fr.payload[:0], pp.promisedStreamID)
	fr.payload = append(payload, pp.rawHeaders...)
}
