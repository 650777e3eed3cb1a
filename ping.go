package http2

import (
	"encoding/binary"
	"sync"
	"time"
)

const FramePing FrameType = 0x6

var _ Frame = &Ping{}

var pingPool = sync.Pool{New: func() interface{} { return &Ping{} }}

// Ping ...
//
// https://tools.ietf.org/html/rfc7540#section-6.7
type Ping struct {
	ack  bool
	data [8]byte
}

func (ping *Ping) Type() FrameType {
	return FramePing
}

// Reset ...
func (ping *Ping) Reset() {
	ping.ack = false
}

// CopyTo ...
func (ping *Ping) CopyTo(p *Ping) {
	p.ack = ping.ack
}

// Write ...
func (ping *Ping) Write(b []byte) (n int, err error) {
	copy(ping.data[:], b)
	return
}

// IsAck reports whether this ping carries the ACK flag.
func (ping *Ping) IsAck() bool {
	return ping.ack
}

// SetAck sets the ACK flag.
func (ping *Ping) SetAck(ack bool) {
	ping.ack = ack
}

// SetCurrentTime stamps the ping payload with the current wall-clock
// time in Unix nanoseconds, so the RTT can be computed once the peer
// echoes it back.
func (ping *Ping) SetCurrentTime() {
	binary.BigEndian.PutUint64(ping.data[:], uint64(time.Now().UnixNano()))
}

// SetData ...
func (ping *Ping) SetData(b []byte) {
	copy(ping.data[:], b)
}

// Deserialize ...
func (ping *Ping) Deserialize(frh *FrameHeader) error {
	ping.ack = frh.Flags().Has(FlagAck)
	ping.SetData(frh.payload)
	return nil
}

func (ping *Ping) Data() []byte {
	return ping.data[:]
}

// Serialize ...
func (ping *Ping) Serialize(fr *FrameHeader) {
	if ping.ack {
		fr.SetFlags(fr.Flags().Add(FlagAck))
	}

	fr.setPayload(ping.data[:])
}
