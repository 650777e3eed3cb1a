package http2

// HPACK holds one direction (encode or decode) of a connection's HPACK
// compression context: its dynamic table plus the negotiated table
// size limits.
//
// https://tools.ietf.org/html/rfc7541
type HPACK struct {
	dynamic HeaderField
	table   dynamicTable

	// DisableDynamicTable, when set, forces every field to be encoded
	// or decoded as literal-without-indexing, bypassing the dynamic
	// table entirely.
	DisableDynamicTable bool
}

// SetMaxTableSize sets the maximum size the dynamic table is allowed
// to grow to, evicting entries if the new size is smaller than the
// current usage.
func (hp *HPACK) SetMaxTableSize(n uint32) {
	hp.table.setMaxSize(int(n))
}

// AppendHeader encodes hf and appends the wire representation to dst.
// When store is true (and hf isn't marked sensible), the field is
// encoded with incremental indexing and added to the dynamic table.
func (hp *HPACK) AppendHeader(dst []byte, hf *HeaderField, store bool) []byte {
	name, value := hf.KeyBytes(), hf.ValueBytes()

	if hf.IsSensible() {
		dst = append(dst, 0x10)
		return hp.appendLiteralValue(dst, 0, name, value)
	}

	if idx, full := staticTableLookup(name, value); full {
		return appendVarInt(append(dst, 0x80), 7, uint64(idx))
	} else if idx > 0 && store && !hp.DisableDynamicTable {
		dst = append(dst, 0x40)
		dst = appendVarInt(dst, 6, uint64(idx))
		hp.table.add(name, value)
		return AppendHuffmanOrRaw(dst, value)
	} else if idx > 0 {
		dst = append(dst, 0x00)
		dst = appendVarInt(dst, 4, uint64(idx))
		return AppendHuffmanOrRaw(dst, value)
	}

	if pos, full := hp.table.lookup(name, value); full && !hp.DisableDynamicTable {
		return appendVarInt(append(dst, 0x80), 7, uint64(staticTableLen+1+pos))
	} else if pos >= 0 && store && !hp.DisableDynamicTable {
		dst = append(dst, 0x40)
		dst = appendVarInt(dst, 6, uint64(staticTableLen+1+pos))
		hp.table.add(name, value)
		return AppendHuffmanOrRaw(dst, value)
	} else if pos >= 0 {
		dst = append(dst, 0x00)
		dst = appendVarInt(dst, 4, uint64(staticTableLen+1+pos))
		return AppendHuffmanOrRaw(dst, value)
	}

	if store && !hp.DisableDynamicTable {
		dst = append(dst, 0x40)
		hp.table.add(name, value)
		return hp.appendLiteralValue(dst, 0, name, value)
	}

	dst = append(dst, 0x00)
	return hp.appendLiteralValue(dst, 0, name, value)
}

// appendLiteralValue appends the 4-bit-prefixed new-name index (always 0,
// meaning a literal name follows) plus name and value strings.
func (hp *HPACK) appendLiteralValue(dst []byte, prefixIdx uint64, name, value []byte) []byte {
	dst = appendVarInt(dst, 4, prefixIdx)
	dst = AppendHuffmanOrRaw(dst, name)
	return AppendHuffmanOrRaw(dst, value)
}

// AppendHuffmanOrRaw appends s to dst as an HPACK string literal,
// Huffman-encoding it when that is strictly shorter than the raw form.
func AppendHuffmanOrRaw(dst []byte, s []byte) []byte {
	hlen := HuffmanLen(s)

	if hlen < len(s) {
		dst = appendVarInt(append(dst, 0x80), 7, uint64(hlen))
		return AppendHuffmanString(dst, s)
	}

	dst = appendVarInt(append(dst, 0x00), 7, uint64(len(s)))
	return append(dst, s...)
}

// decodeString reads one HPACK string literal from b, returning the
// decoded bytes and the unconsumed remainder.
func decodeString(b []byte) (value, rest []byte, err error) {
	if len(b) == 0 {
		return nil, b, ErrUnexpectedSize
	}

	huff := b[0]&0x80 != 0

	n, consumed, err := readVarInt(7, b)
	if err != nil {
		return nil, b, ErrUnexpectedSize
	}
	b = b[consumed:]

	if uint64(len(b)) < n {
		return nil, b, ErrUnexpectedSize
	}

	raw := b[:n]
	b = b[n:]

	if !huff {
		return append([]byte(nil), raw...), b, nil
	}

	value, err = HuffmanDecode(nil, raw)
	return value, b, err
}

// nextField decodes one HPACK header field representation from b into
// hf, returning the unconsumed remainder. headerBlockNum and
// fieldsProcessed identify the position of this field within the
// containing header block; they carry no decode-time meaning beyond
// bookkeeping for callers reassembling split header blocks.
func (hp *HPACK) nextField(hf *HeaderField, headerBlockNum, fieldsProcessed int, b []byte) ([]byte, error) {
	_, _ = headerBlockNum, fieldsProcessed

	if len(b) == 0 {
		return b, ErrUnexpectedSize
	}

	hf.Reset()

	first := b[0]

	switch {
	case first&0x80 != 0: // indexed field
		idx, n, err := readVarInt(7, b)
		if err != nil {
			return b, ErrUnexpectedSize
		}
		b = b[n:]

		name, value, ok := hp.resolveIndex(int(idx))
		if !ok {
			return b, NewGoAwayError(CompressionError, "invalid hpack index")
		}

		hf.SetKeyBytes(name)
		hf.SetValueBytes(value)

		return b, nil

	case first&0xc0 == 0x40: // literal with incremental indexing
		return hp.decodeLiteral(hf, b, 6, true)

	case first&0xf0 == 0x00: // literal without indexing
		return hp.decodeLiteral(hf, b, 4, false)

	case first&0xf0 == 0x10: // literal never indexed
		b, err := hp.decodeLiteralRaw(hf, b, 4)
		hf.SetSensible(true)
		return b, err

	case first&0xe0 == 0x20: // dynamic table size update
		n, consumed, err := readVarInt(5, b)
		if err != nil {
			return b, ErrUnexpectedSize
		}
		hp.SetMaxTableSize(uint32(n))
		return b[consumed:], nil
	}

	return b, NewGoAwayError(CompressionError, "invalid hpack representation")
}

func (hp *HPACK) decodeLiteral(hf *HeaderField, b []byte, n uint8, store bool) ([]byte, error) {
	rest, err := hp.decodeLiteralRaw(hf, b, n)
	if err != nil {
		return b, err
	}

	if store && !hp.DisableDynamicTable {
		hp.table.add(hf.KeyBytes(), hf.ValueBytes())
	}

	return rest, nil
}

func (hp *HPACK) decodeLiteralRaw(hf *HeaderField, b []byte, n uint8) ([]byte, error) {
	idx, consumed, err := readVarInt(n, b)
	if err != nil {
		return b, ErrUnexpectedSize
	}
	b = b[consumed:]

	var name []byte

	if idx == 0 {
		var err error
		name, b, err = decodeString(b)
		if err != nil {
			return b, err
		}
	} else {
		resolved, _, ok := hp.resolveIndex(int(idx))
		if !ok {
			return b, NewGoAwayError(CompressionError, "invalid hpack index")
		}
		name = append([]byte(nil), resolved...)
	}

	value, b, err := decodeString(b)
	if err != nil {
		return b, err
	}

	hf.SetKeyBytes(name)
	hf.SetValueBytes(value)

	return b, nil
}

// resolveIndex resolves a 1-based HPACK index into the static table
// followed by the dynamic table.
func (hp *HPACK) resolveIndex(idx int) (name, value []byte, ok bool) {
	if idx >= 1 && idx <= staticTableLen {
		e := staticTable[idx]
		return s2b(e.name), s2b(e.value), true
	}

	e, found := hp.table.at(idx - staticTableLen - 1)
	if !found {
		return nil, nil, false
	}

	return s2b(e.name), s2b(e.value), true
}
