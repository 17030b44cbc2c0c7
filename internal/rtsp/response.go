package rtsp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

const (
	StatusSessionNotFound           = 454
	StatusMethodNotValidInThisState = 455
	StatusUnsupportedTransport      = 461
)

type Response struct {
	Version  string
	Code     int
	Message  string
	Sequence string
	Header   http.Header
	Body     []byte
}

// NewResponse answers req with code, echoing its CSeq.
func NewResponse(req *Request, code int) *Response {
	return &Response{
		Version:  Version,
		Code:     code,
		Message:  StatusText(code),
		Sequence: req.Sequence,
		Header:   http.Header{},
	}
}

// StatusText covers the RTSP specific codes on top of the HTTP ones.
func StatusText(code int) string {
	switch code {
	case StatusSessionNotFound:
		return "Session Not Found"
	case StatusMethodNotValidInThisState:
		return "Method Not Valid in This State"
	case StatusUnsupportedTransport:
		return "Unsupported Transport"
	}
	return http.StatusText(code)
}

func (r *Response) Write(w io.Writer) error {
	writer := textproto.NewWriter(bufio.NewWriter(w))

	version := r.Version
	if version == "" {
		version = Version
	}
	message := r.Message
	if message == "" {
		message = StatusText(r.Code)
	}
	err := writer.PrintfLine("RTSP/%s %d %s", version, r.Code, message)
	if err != nil {
		return fmt.Errorf("failed to write response line: %w", err)
	}
	return writeMessage(writer, r.Sequence, r.Header, r.Body)
}

func (r *Response) Marshal() []byte {
	var buf bytes.Buffer
	// bytes.Buffer writes do not fail
	_ = r.Write(&buf)
	return buf.Bytes()
}

// ReadResponse reads one response, body included, from br.
func ReadResponse(br *bufio.Reader) (*Response, error) {
	reader := textproto.NewReader(br)
	line, err := reader.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("failed to read RTSP status line: %w", err)
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "RTSP/") {
		return nil, fmt.Errorf("invalid status line %q", line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to parse response code: %w", err)
	}
	headers, err := reader.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("failed to read RTSP headers: %w", err)
	}

	res := &Response{
		Version:  strings.TrimPrefix(parts[0], "RTSP/"),
		Code:     code,
		Sequence: headers.Get("CSeq"),
		Header:   http.Header(headers),
	}
	if len(parts) == 3 {
		res.Message = parts[2]
	}
	if cl := headers.Get("Content-Length"); cl != "" {
		length, err := strconv.Atoi(cl)
		if err != nil {
			return nil, fmt.Errorf("failed to parse content-length: %w", err)
		}
		res.Body = make([]byte, length)
		if _, err := io.ReadFull(br, res.Body); err != nil {
			return nil, fmt.Errorf("failed to read body of RTSP response: %w", err)
		}
	}
	return res, nil
}
