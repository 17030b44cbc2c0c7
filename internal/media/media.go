package media

// Status is the outcome of a single ReadFrame call.
type Status int

const (
	StatusOK Status = iota
	StatusEOF
	StatusFileError
	StatusNoData
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEOF:
		return "eof"
	case StatusFileError:
		return "file error"
	case StatusNoData:
		return "no data"
	}
	return "unknown"
}

// Reader yields one elementary frame per call. For H.264 a frame is a single
// NAL unit without its start code, for AAC a single ADTS frame including its
// header. The returned slice is owned by the caller.
type Reader interface {
	ReadFrame() ([]byte, Status)
	Close() error
}
