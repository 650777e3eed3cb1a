package http2

// Static table, RFC 7541 Appendix A. Index 0 is unused so entries
// line up with their 1-based wire index.
var staticTable = [62]struct {
	name, value string
}{
	1:  {":authority", ""},
	2:  {":method", "GET"},
	3:  {":method", "POST"},
	4:  {":path", "/"},
	5:  {":path", "/index.html"},
	6:  {":scheme", "http"},
	7:  {":scheme", "https"},
	8:  {":status", "200"},
	9:  {":status", "204"},
	10: {":status", "206"},
	11: {":status", "304"},
	12: {":status", "400"},
	13: {":status", "404"},
	14: {":status", "500"},
	15: {"accept-charset", ""},
	16: {"accept-encoding", "gzip, deflate"},
	17: {"accept-language", ""},
	18: {"accept-ranges", ""},
	19: {"accept", ""},
	20: {"access-control-allow-origin", ""},
	21: {"age", ""},
	22: {"allow", ""},
	23: {"authorization", ""},
	24: {"cache-control", ""},
	25: {"content-disposition", ""},
	26: {"content-encoding", ""},
	27: {"content-language", ""},
	28: {"content-length", ""},
	29: {"content-location", ""},
	30: {"content-range", ""},
	31: {"content-type", ""},
	32: {"cookie", ""},
	33: {"date", ""},
	34: {"etag", ""},
	35: {"expect", ""},
	36: {"expires", ""},
	37: {"from", ""},
	38: {"host", ""},
	39: {"if-match", ""},
	40: {"if-modified-since", ""},
	41: {"if-none-match", ""},
	42: {"if-range", ""},
	43: {"if-unmodified-since", ""},
	44: {"last-modified", ""},
	45: {"link", ""},
	46: {"location", ""},
	47: {"max-forwards", ""},
	48: {"proxy-authenticate", ""},
	49: {"proxy-authorization", ""},
	50: {"range", ""},
	51: {"referer", ""},
	52: {"refresh", ""},
	53: {"retry-after", ""},
	54: {"server", ""},
	55: {"set-cookie", ""},
	56: {"strict-transport-security", ""},
	57: {"transfer-encoding", ""},
	58: {"user-agent", ""},
	59: {"vary", ""},
	60: {"via", ""},
	61: {"www-authenticate", ""},
}

const staticTableLen = 61

// staticTableLookup finds the static table entry for name/value (or
// just name), returning its 1-based index and whether the value also
// matched. idx is 0 when no entry matches the name at all.
func staticTableLookup(name, value []byte) (idx int, nameValueMatch bool) {
	for i := 1; i <= staticTableLen; i++ {
		e := staticTable[i]
		if e.name != b2s(name) {
			continue
		}

		if idx == 0 {
			idx = i
		}

		if e.value == b2s(value) {
			return i, true
		}
	}

	return idx, false
}

// dynamicEntry is one row of an HPACK dynamic table.
type dynamicEntry struct {
	name, value string
	size        int
}

// dynamicTable implements the FIFO eviction dynamic table described in
// RFC 7541 §2.3.2. Entries are stored newest-first so wire index 62
// maps to entries[0].
type dynamicTable struct {
	entries []dynamicEntry
	size    int // sum of entries[i].size
	maxSize int
}

func (dt *dynamicTable) setMaxSize(n int) {
	dt.maxSize = n
	dt.evict()
}

func (dt *dynamicTable) evict() {
	for dt.size > dt.maxSize && len(dt.entries) > 0 {
		last := dt.entries[len(dt.entries)-1]
		dt.entries = dt.entries[:len(dt.entries)-1]
		dt.size -= last.size
	}
}

func (dt *dynamicTable) add(name, value []byte) {
	e := dynamicEntry{
		name:  string(name),
		value: string(value),
		size:  len(name) + len(value) + 32,
	}

	if e.size > dt.maxSize {
		dt.entries = dt.entries[:0]
		dt.size = 0
		return
	}

	dt.entries = append([]dynamicEntry{e}, dt.entries...)
	dt.size += e.size
	dt.evict()
}

// at returns the dynamic table entry for 0-based position i (0 is the
// most recently inserted entry).
func (dt *dynamicTable) at(i int) (dynamicEntry, bool) {
	if i < 0 || i >= len(dt.entries) {
		return dynamicEntry{}, false
	}

	return dt.entries[i], true
}

// lookup mirrors staticTableLookup over the dynamic table, returning a
// 0-based position.
func (dt *dynamicTable) lookup(name, value []byte) (pos int, nameValueMatch bool) {
	pos = -1

	for i, e := range dt.entries {
		if e.name != b2s(name) {
			continue
		}

		if pos == -1 {
			pos = i
		}

		if e.value == b2s(value) {
			return i, true
		}
	}

	return pos, false
}
