package rtsp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

const Version = "1.0"

var ErrMalformedRequest = errors.New("malformed rtsp request")

var headerTerminator = []byte("\r\n\r\n")

type Request struct {
	Version  string
	URL      string
	Sequence string
	Method   Method
	Header   http.Header
	Body     []byte
}

// ReadRequest extracts the first complete request from b. It returns the
// number of bytes consumed, or zero with a nil request when b does not hold a
// full request yet. A malformed request still reports how many bytes it
// occupied so the caller can drop it, together with a request carrying only
// the CSeq when one could be read. The request does not alias b.
func ReadRequest(b []byte) (*Request, int, error) {
	skip := 0
	for skip < len(b) && (b[skip] == '\r' || b[skip] == '\n') {
		skip++
	}
	end := bytes.Index(b[skip:], headerTerminator)
	if end < 0 {
		return nil, 0, nil
	}
	headerEnd := skip + end + len(headerTerminator)

	reader := textproto.NewReader(bufio.NewReader(bytes.NewReader(b[skip:headerEnd])))
	line, lineErr := reader.ReadLine()
	headers, headerErr := reader.ReadMIMEHeader()
	malformed := &Request{Sequence: headers.Get("CSeq")}

	if lineErr != nil {
		return malformed, headerEnd, fmt.Errorf("%w: failed to read request line: %v", ErrMalformedRequest, lineErr)
	}
	parts := strings.Fields(line)
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "RTSP/") {
		return malformed, headerEnd, fmt.Errorf("%w: invalid request line %q", ErrMalformedRequest, line)
	}
	if headerErr != nil && !errors.Is(headerErr, io.EOF) {
		return malformed, headerEnd, fmt.Errorf("%w: failed to read headers: %v", ErrMalformedRequest, headerErr)
	}

	req := &Request{
		Version:  strings.TrimPrefix(parts[2], "RTSP/"),
		URL:      parts[1],
		Method:   Method(strings.ToUpper(parts[0])),
		Header:   http.Header(headers),
		Sequence: headers.Get("CSeq"),
	}

	n := headerEnd
	if cl := req.Header.Get("Content-Length"); cl != "" {
		length, err := strconv.Atoi(cl)
		if err != nil || length < 0 {
			return malformed, headerEnd, fmt.Errorf("%w: invalid content-length %q", ErrMalformedRequest, cl)
		}
		if len(b) < headerEnd+length {
			return nil, 0, nil
		}
		req.Body = append([]byte(nil), b[headerEnd:headerEnd+length]...)
		n += length
	}
	return req, n, nil
}

func (r *Request) Write(w io.Writer) error {
	writer := textproto.NewWriter(bufio.NewWriter(w))

	version := r.Version
	if version == "" {
		version = Version
	}
	err := writer.PrintfLine("%s %s RTSP/%s", r.Method, r.URL, version)
	if err != nil {
		return fmt.Errorf("failed to write request line: %w", err)
	}
	return writeMessage(writer, r.Sequence, r.Header, r.Body)
}

// writeMessage writes CSeq first, the remaining headers in key order and the
// body.
func writeMessage(writer *textproto.Writer, seq string, header http.Header, body []byte) error {
	if seq != "" {
		if err := writer.PrintfLine("CSeq: %s", seq); err != nil {
			return err
		}
	}
	if header == nil {
		header = http.Header{}
	}
	if len(body) > 0 {
		header.Set("Content-Length", strconv.Itoa(len(body)))
	}
	exclude := map[string]bool{textproto.CanonicalMIMEHeaderKey("CSeq"): true}
	if err := header.WriteSubset(writer.W, exclude); err != nil {
		return err
	}
	if err := writer.PrintfLine(""); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := writer.W.Write(body); err != nil {
			return err
		}
	}
	return writer.W.Flush()
}
