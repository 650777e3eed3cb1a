package http2

import (
	"sync"

	"github.com/h2d-project/h2d/http2utils"
)

const FrameSettings FrameType = 0x4

var _ Frame = &Settings{}

// Settings identifiers, as carried in a SETTINGS frame's 6-byte records.
//
// https://httpwg.org/specs/rfc7540.html#SettingsParameters
const (
	settingHeaderTableSize      uint16 = 0x1
	settingEnablePush           uint16 = 0x2
	settingMaxConcurrentStreams uint16 = 0x3
	settingInitialWindowSize    uint16 = 0x4
	settingMaxFrameSize         uint16 = 0x5
	settingMaxHeaderListSize    uint16 = 0x6
)

const (
	defaultHeaderTableSize   = 4096
	defaultMaxConcurrent     = 100
	defaultInitialWindowSize = 1<<16 - 1
	defaultMaxFrameSize      = 1 << 14
	maxWindowSize            = 1<<31 - 1
)

var settingsFramePool = sync.Pool{
	New: func() interface{} {
		s := &Settings{}
		s.reload()
		return s
	},
}

// Settings represents the payload of a SETTINGS frame. A Connection keeps
// two instances: one holding the values it has advertised (local) and one
// holding the values the peer has advertised (remote) — see SettingsContext.
//
// https://httpwg.org/specs/rfc7540.html#SETTINGS
type Settings struct {
	ack bool

	headerTableSize   uint32
	enablePush        bool
	maxStreams        uint32
	initialWindowSize uint32
	frameSize         uint32
	maxHeaderListSize uint32

	// dirty tracks which fields were actually present on the wire, so
	// Encode only emits fields that were explicitly set.
	dirty uint8
}

const (
	dirtyHeaderTableSize = 1 << iota
	dirtyEnablePush
	dirtyMaxStreams
	dirtyInitialWindowSize
	dirtyFrameSize
	dirtyMaxHeaderListSize
)

func (st *Settings) reload() {
	st.ack = false
	st.headerTableSize = defaultHeaderTableSize
	st.enablePush = true
	st.maxStreams = defaultMaxConcurrent
	st.initialWindowSize = defaultInitialWindowSize
	st.frameSize = defaultMaxFrameSize
	st.maxHeaderListSize = 0 // 0 means unlimited/unspecified
	st.dirty = 0
}

func (st *Settings) Type() FrameType {
	return FrameSettings
}

func (st *Settings) Reset() {
	st.reload()
}

// CopyTo copies every field of st into other.
func (st *Settings) CopyTo(other *Settings) {
	other.ack = st.ack
	other.headerTableSize = st.headerTableSize
	other.enablePush = st.enablePush
	other.maxStreams = st.maxStreams
	other.initialWindowSize = st.initialWindowSize
	other.frameSize = st.frameSize
	other.maxHeaderListSize = st.maxHeaderListSize
	other.dirty = st.dirty
}

func (st *Settings) IsAck() bool    { return st.ack }
func (st *Settings) SetAck(v bool)  { st.ack = v }

func (st *Settings) HeaderTableSize() uint32 { return st.headerTableSize }
func (st *Settings) SetHeaderTableSize(v uint32) {
	st.headerTableSize = v
	st.dirty |= dirtyHeaderTableSize
}

func (st *Settings) EnablePush() bool { return st.enablePush }
func (st *Settings) SetEnablePush(v bool) {
	st.enablePush = v
	st.dirty |= dirtyEnablePush
}

func (st *Settings) MaxStreams() uint32 { return st.maxStreams }
func (st *Settings) SetMaxStreams(v uint32) {
	st.maxStreams = v
	st.dirty |= dirtyMaxStreams
}

// MaxWindowSize returns SETTINGS_INITIAL_WINDOW_SIZE.
func (st *Settings) MaxWindowSize() int32 { return int32(st.initialWindowSize) }
func (st *Settings) SetMaxWindowSize(v uint32) {
	st.initialWindowSize = v
	st.dirty |= dirtyInitialWindowSize
}

func (st *Settings) FrameSize() uint32 { return st.frameSize }
func (st *Settings) SetFrameSize(v uint32) {
	st.frameSize = v
	st.dirty |= dirtyFrameSize
}

func (st *Settings) MaxHeaderListSize() uint32 { return st.maxHeaderListSize }
func (st *Settings) SetMaxHeaderListSize(v uint32) {
	st.maxHeaderListSize = v
	st.dirty |= dirtyMaxHeaderListSize
}

// Validate checks the invariants RFC 9113 §6.5.2 places on settings
// values, returning a connection PROTOCOL_ERROR/FLOW_CONTROL_ERROR for
// whichever field is out of range.
func (st *Settings) Validate() error {
	if st.initialWindowSize > maxWindowSize {
		return NewGoAwayError(FlowControlError, "initial window size exceeds 2^31-1")
	}

	if st.frameSize != 0 && (st.frameSize < defaultMaxFrameSize || st.frameSize > 1<<24-1) {
		return NewGoAwayError(ProtocolError, "max frame size out of [2^14, 2^24-1]")
	}

	return nil
}

// Decode parses the 6-byte-record payload of a SETTINGS frame into st.
func (st *Settings) Decode(payload []byte) error {
	if len(payload)%6 != 0 {
		return NewGoAwayError(FrameSizeError, "settings payload not a multiple of 6")
	}

	for len(payload) > 0 {
		key := uint16(payload[0])<<8 | uint16(payload[1])
		value := http2utils.BytesToUint32(payload[2:6])
		payload = payload[6:]

		switch key {
		case settingHeaderTableSize:
			st.SetHeaderTableSize(value)
		case settingEnablePush:
			if value > 1 {
				return NewGoAwayError(ProtocolError, "enable push must be 0 or 1")
			}
			st.SetEnablePush(value != 0)
		case settingMaxConcurrentStreams:
			st.SetMaxStreams(value)
		case settingInitialWindowSize:
			st.SetMaxWindowSize(value)
		case settingMaxFrameSize:
			st.SetFrameSize(value)
		case settingMaxHeaderListSize:
			st.SetMaxHeaderListSize(value)
			// unknown settings identifiers are ignored, per RFC 9113 §6.5.2
		}
	}

	return st.Validate()
}

// Encode appends the wire representation of every field that was
// explicitly set on st to dst and returns the extended slice.
func (st *Settings) Encode(dst []byte) []byte {
	put := func(dst []byte, key uint16, value uint32) []byte {
		dst = append(dst, byte(key>>8), byte(key))
		return http2utils.AppendUint32Bytes(dst, value)
	}

	if st.dirty&dirtyHeaderTableSize != 0 {
		dst = put(dst, settingHeaderTableSize, st.headerTableSize)
	}
	if st.dirty&dirtyEnablePush != 0 {
		v := uint32(0)
		if st.enablePush {
			v = 1
		}
		dst = put(dst, settingEnablePush, v)
	}
	if st.dirty&dirtyMaxStreams != 0 {
		dst = put(dst, settingMaxConcurrentStreams, st.maxStreams)
	}
	if st.dirty&dirtyInitialWindowSize != 0 {
		dst = put(dst, settingInitialWindowSize, st.initialWindowSize)
	}
	if st.dirty&dirtyFrameSize != 0 {
		dst = put(dst, settingMaxFrameSize, st.frameSize)
	}
	if st.dirty&dirtyMaxHeaderListSize != 0 {
		dst = put(dst, settingMaxHeaderListSize, st.maxHeaderListSize)
	}

	return dst
}

func (st *Settings) Deserialize(fr *FrameHeader) error {
	st.ack = fr.Flags().Has(FlagAck)
	if st.ack {
		if len(fr.payload) != 0 {
			return NewGoAwayError(FrameSizeError, "settings ack carrying a payload")
		}

		return nil
	}

	return st.Decode(fr.payload)
}

func (st *Settings) Serialize(fr *FrameHeader) {
	if st.ack {
		fr.SetFlags(fr.Flags().Add(FlagAck))
		fr.setPayload(nil)
		return
	}

	fr.payload = st.Encode(fr.payload[:0])
}

// SettingsContext pairs the settings we advertised (local) with the
// settings the peer advertised (remote).
type SettingsContext struct {
	Local  Settings
	Remote Settings
}

// NewSettingsContext returns a context with both sides at their RFC
// defaults, matching the values assumed before any SETTINGS exchange.
func NewSettingsContext() *SettingsContext {
	sc := &SettingsContext{}
	sc.Local.reload()
	sc.Remote.reload()
	return sc
}
