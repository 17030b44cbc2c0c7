package media

import (
	"fmt"
	"os"
)

const (
	ADTSHeaderSize    = 7
	adtsHeaderWithCRC = 9
)

// ADTSFrameLength returns the 13 bit aac_frame_length of an ADTS header,
// which covers the header itself.
func ADTSFrameLength(h []byte) int {
	if len(h) < ADTSHeaderSize {
		return 0
	}
	return int(h[3]&0x03)<<11 | int(h[4])<<3 | int(h[5]&0xE0)>>5
}

// IsADTS reports whether b starts with the 12 bit ADTS sync word.
func IsADTS(b []byte) bool {
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xF0 == 0xF0
}

// ADTSHeaderLen is the header length of an ADTS frame, 9 bytes when a CRC
// follows the fixed header.
func ADTSHeaderLen(b []byte) int {
	if len(b) >= 2 && b[1]&0x01 == 0 {
		return adtsHeaderWithCRC
	}
	return ADTSHeaderSize
}

// AACFileReader reads ADTS frames from a raw .aac file.
type AACFileReader struct {
	data []byte
	pos  int
	loop bool
}

func NewAACFileReader(path string, loop bool) (*AACFileReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read aac file %s: %w", path, err)
	}
	return NewAACReader(data, loop), nil
}

func NewAACReader(data []byte, loop bool) *AACFileReader {
	return &AACFileReader{data: data, loop: loop}
}

func (r *AACFileReader) ReadFrame() ([]byte, Status) {
	if r.data == nil {
		return nil, StatusFileError
	}
	if len(r.data) == 0 {
		return nil, StatusNoData
	}
	if r.pos >= len(r.data) && r.loop {
		r.pos = 0
	}

	rest := r.data[r.pos:]
	if len(rest) < ADTSHeaderSize {
		// a truncated trailing frame counts as the end of the stream
		if r.loop && r.pos > 0 {
			r.pos = 0
			return r.ReadFrame()
		}
		r.pos = len(r.data)
		return nil, StatusEOF
	}
	if !IsADTS(rest) {
		return nil, StatusFileError
	}
	size := ADTSFrameLength(rest)
	if size < ADTSHeaderSize {
		return nil, StatusFileError
	}
	if size > len(rest) {
		if r.loop && r.pos > 0 {
			r.pos = 0
			return r.ReadFrame()
		}
		r.pos = len(r.data)
		return nil, StatusEOF
	}

	r.pos += size
	return append([]byte(nil), rest[:size]...), StatusOK
}

func (r *AACFileReader) Close() error {
	r.data = nil
	return nil
}
