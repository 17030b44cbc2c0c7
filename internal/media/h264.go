package media

import (
	"bytes"
	"fmt"
	"os"
)

// H.264 NAL unit types the pusher cares about.
const (
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeSTAPA = 24
	NALTypeFUA   = 28
)

// NALType returns the nal_unit_type of a NAL unit.
func NALType(nal []byte) uint8 {
	if len(nal) == 0 {
		return 0
	}
	return nal[0] & 0x1F
}

var startCode = []byte{0x00, 0x00, 0x01}

// H264FileReader reads NAL units from an Annex-B byte stream file. Both 3 and
// 4 byte start codes are accepted.
type H264FileReader struct {
	data []byte
	pos  int
	loop bool
}

// NewH264FileReader loads path into memory. With loop set the reader starts
// over at the beginning of the file instead of reporting EOF.
func NewH264FileReader(path string, loop bool) (*H264FileReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read h264 file %s: %w", path, err)
	}
	return NewH264Reader(data, loop), nil
}

// NewH264Reader reads NAL units from an in-memory Annex-B stream.
func NewH264Reader(data []byte, loop bool) *H264FileReader {
	return &H264FileReader{data: data, loop: loop}
}

func (r *H264FileReader) ReadFrame() ([]byte, Status) {
	if r.data == nil {
		return nil, StatusFileError
	}
	if len(r.data) == 0 {
		return nil, StatusNoData
	}

	nal, ok := r.next()
	if !ok && r.loop {
		r.pos = 0
		nal, ok = r.next()
	}
	if !ok {
		return nil, StatusEOF
	}
	return nal, StatusOK
}

func (r *H264FileReader) next() ([]byte, bool) {
	for r.pos < len(r.data) {
		i := bytes.Index(r.data[r.pos:], startCode)
		if i < 0 {
			r.pos = len(r.data)
			return nil, false
		}
		begin := r.pos + i + len(startCode)

		end := len(r.data)
		if j := bytes.Index(r.data[begin:], startCode); j >= 0 {
			end = begin + j
		}
		r.pos = end

		// drops the leading zero of a following 4 byte start code
		nal := bytes.TrimRight(r.data[begin:end], "\x00")
		if len(nal) > 0 {
			return append([]byte(nil), nal...), true
		}
	}
	return nil, false
}

func (r *H264FileReader) Close() error {
	r.data = nil
	return nil
}
