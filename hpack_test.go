package http2

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func decodeAll(t *testing.T, hp *HPACK, b []byte) []*HeaderField {
	t.Helper()

	var got []*HeaderField

	for len(b) > 0 {
		hf := AcquireHeaderField()

		var err error
		b, err = hp.nextField(hf, 0, len(got), b)
		if err != nil {
			t.Fatalf("nextField: %s", err)
		}

		got = append(got, hf)
	}

	return got
}

func assertField(t *testing.T, hf *HeaderField, k, v string) {
	t.Helper()
	assert.Equal(t, k, hf.Key())
	assert.Equal(t, v, hf.Value())
}

// RFC 7541 §C.5.1: first response, without Huffman coding.
func TestDecodeResponseWithoutHuffman(t *testing.T) {
	hp := &HPACK{}
	hp.SetMaxTableSize(256)

	b := []byte{
		0x48, 0x03, 0x33, 0x30, 0x32, 0x58,
		0x07, 0x70, 0x72, 0x69, 0x76, 0x61,
		0x74, 0x65, 0x61, 0x1d, 0x4d, 0x6f,
		0x6e, 0x2c, 0x20, 0x32, 0x31, 0x20,
		0x4f, 0x63, 0x74, 0x20, 0x32, 0x30,
		0x31, 0x33, 0x20, 0x32, 0x30, 0x3a,
		0x31, 0x33, 0x3a, 0x32, 0x31, 0x20,
		0x47, 0x4d, 0x54, 0x6e, 0x17, 0x68,
		0x74, 0x74, 0x70, 0x73, 0x3a, 0x2f,
		0x2f, 0x77, 0x77, 0x77, 0x2e, 0x65,
		0x78, 0x61, 0x6d, 0x70, 0x6c, 0x65,
		0x2e, 0x63, 0x6f, 0x6d,
	}

	fields := decodeAll(t, hp, b)
	if assert.Len(t, fields, 4) {
		assertField(t, fields[0], ":status", "302")
		assertField(t, fields[1], "cache-control", "private")
		assertField(t, fields[2], "date", "Mon, 21 Oct 2013 20:13:21 GMT")
		assertField(t, fields[3], "location", "https://www.example.com")
	}

	assert.Equal(t, 222, hp.table.size)

	b2 := []byte{0x48, 0x03, 0x33, 0x30, 0x37, 0xc1, 0xc0, 0xbf}
	fields2 := decodeAll(t, hp, b2)
	if assert.Len(t, fields2, 4) {
		assertField(t, fields2[0], ":status", "307")
		assertField(t, fields2[1], "cache-control", "private")
		assertField(t, fields2[2], "date", "Mon, 21 Oct 2013 20:13:21 GMT")
		assertField(t, fields2[3], "location", "https://www.example.com")
	}
}

// RFC 7541 §C.6.1: first response, Huffman coded.
func TestDecodeResponseWithHuffman(t *testing.T) {
	hp := &HPACK{}
	hp.SetMaxTableSize(256)

	b := []byte{
		0x48, 0x82, 0x64, 0x02, 0x58, 0x85,
		0xae, 0xc3, 0x77, 0x1a, 0x4b, 0x61,
		0x96, 0xd0, 0x7a, 0xbe, 0x94, 0x10,
		0x54, 0xd4, 0x44, 0xa8, 0x20, 0x05,
		0x95, 0x04, 0x0b, 0x81, 0x66, 0xe0,
		0x82, 0xa6, 0x2d, 0x1b, 0xff, 0x6e,
		0x91, 0x9d, 0x29, 0xad, 0x17, 0x18,
		0x63, 0xc7, 0x8f, 0x0b, 0x97, 0xc8,
		0xe9, 0xae, 0x82, 0xae, 0x43, 0xd3,
	}

	fields := decodeAll(t, hp, b)
	if assert.Len(t, fields, 4) {
		assertField(t, fields[0], ":status", "302")
		assertField(t, fields[1], "cache-control", "private")
		assertField(t, fields[2], "date", "Mon, 21 Oct 2013 20:13:21 GMT")
		assertField(t, fields[3], "location", "https://www.example.com")
	}

	assert.Equal(t, 222, hp.table.size)
}

func TestHuffmanRoundTrip(t *testing.T) {
	for _, s := range []string{
		"", "a", "www.example.com", ":status", "Mon, 21 Oct 2013 20:13:21 GMT",
	} {
		enc := AppendHuffmanString(nil, []byte(s))
		assert.Equal(t, HuffmanLen([]byte(s)), len(enc))

		dec, err := HuffmanDecode(nil, enc)
		assert.NoError(t, err)
		assert.Equal(t, s, string(dec))
	}
}

func TestAppendHeaderEncodeDecodeRoundTrip(t *testing.T) {
	enc := &HPACK{}
	dec := &HPACK{}

	hf := AcquireHeaderField()
	hf.SetBytes(StringStatus, []byte("200"))

	var wire []byte
	wire = enc.AppendHeader(wire, hf, true)

	hf2 := AcquireHeaderField()
	hf3 := AcquireHeaderField()
	hf2.SetBytes([]byte("x-request-id"), []byte("abc-123"))
	hf3.SetBytes([]byte("x-request-id"), []byte("def-456"))

	wire = enc.AppendHeader(wire, hf2, true)
	wire = enc.AppendHeader(wire, hf3, true)

	fields := decodeAll(t, dec, wire)
	if assert.Len(t, fields, 3) {
		assertField(t, fields[0], ":status", "200")
		assertField(t, fields[1], "x-request-id", "abc-123")
		assertField(t, fields[2], "x-request-id", "def-456")
	}
}

func TestDynamicTableSizeUpdate(t *testing.T) {
	dec := &HPACK{}
	dec.SetMaxTableSize(4096)

	hf := AcquireHeaderField()
	hf.SetBytes([]byte("k"), []byte("v"))

	enc := &HPACK{}
	enc.SetMaxTableSize(4096)
	wire := enc.AppendHeader(nil, hf, true)

	fields := decodeAll(t, dec, wire)
	if assert.Len(t, fields, 1) {
		assertField(t, fields[0], "k", "v")
	}

	// shrinking the dynamic table must evict everything that no longer fits.
	dec.SetMaxTableSize(0)
	assert.Equal(t, 0, dec.table.size)
}

func TestStaticTableLookup(t *testing.T) {
	idx, full := staticTableLookup([]byte(":method"), []byte("GET"))
	assert.Equal(t, 2, idx)
	assert.True(t, full)

	idx, full = staticTableLookup([]byte(":method"), []byte("PATCH"))
	assert.Equal(t, 2, idx)
	assert.False(t, full)

	idx, _ = staticTableLookup([]byte("not-a-header"), nil)
	assert.Equal(t, 0, idx)
}

func TestVarIntRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 10, 127, 128, 1337, 1 << 20} {
		dst := appendVarInt([]byte{0x00}, 5, n)

		v, consumed, err := readVarInt(5, dst)
		assert.NoError(t, err)
		assert.Equal(t, n, v)
		assert.Equal(t, len(dst), consumed)
	}
}
