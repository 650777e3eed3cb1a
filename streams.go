package http2

import "sort"

// Streams is a collection of in-flight streams ordered by ascending id,
// which is also the order in which they were opened (stream ids only ever
// increase over the life of a connection).
type Streams []*Stream

// Search returns the stream with the given id, or nil.
func (strms Streams) Search(id uint32) *Stream {
	i := sort.Search(len(strms), func(i int) bool { return strms[i].id >= id })
	if i < len(strms) && strms[i].id == id {
		return strms[i]
	}

	return nil
}

// Del removes and returns the stream with the given id, or nil if absent.
func (strms *Streams) Del(id uint32) *Stream {
	list := *strms

	i := sort.Search(len(list), func(i int) bool { return list[i].id >= id })
	if i < len(list) && list[i].id == id {
		strm := list[i]
		*strms = append(list[:i], list[i+1:]...)
		return strm
	}

	return nil
}

// GetFirstOf returns the oldest stream whose origin frame matches ft.
func (strms Streams) GetFirstOf(ft FrameType) *Stream {
	for _, s := range strms {
		if s.origType == ft {
			return s
		}
	}

	return nil
}

// getPrevious returns the most recently opened stream of origin ft,
// excluding the last (just-appended) entry.
func (strms Streams) getPrevious(ft FrameType) *Stream {
	for i := len(strms) - 2; i >= 0; i-- {
		if strms[i].origType == ft {
			return strms[i]
		}
	}

	return nil
}
