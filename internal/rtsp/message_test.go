package rtsp

import (
	"bufio"
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadRequestWaitsForTerminator(t *testing.T) {
	req, n, err := ReadRequest([]byte("OPTIONS rtsp://h/ RTSP/1.0\r\nCSeq: 1\r\n"))
	require.NoError(t, err)
	require.Nil(t, req)
	require.Zero(t, n)
}

func TestReadRequestLeavesPipelinedBytes(t *testing.T) {
	first := "OPTIONS rtsp://h/ RTSP/1.0\r\nCSeq: 1\r\n\r\n"
	second := "DESCRIBE rtsp://h/cam RTSP/1.0\r\nCSeq: 2\r\n"
	buf := []byte(first + second)

	req, n, err := ReadRequest(buf)
	require.NoError(t, err)
	require.Equal(t, len(first), n)
	require.Equal(t, MethodOptions, req.Method)
	require.Equal(t, "rtsp://h/", req.URL)
	require.Equal(t, "1.0", req.Version)
	require.Equal(t, "1", req.Sequence)
	require.Equal(t, second, string(buf[n:]))
}

func TestReadRequestHeaders(t *testing.T) {
	raw := "SETUP rtsp://h/cam/track0 RTSP/1.0\r\n" +
		"cseq: 7\r\n" +
		"Transport: RTP/AVP/TCP;\r\n unicast;interleaved=0-1\r\n" +
		"X-Unknown: ignored\r\n" +
		"\r\n"

	req, n, err := ReadRequest([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, len(raw), n)
	require.Equal(t, "7", req.Sequence)
	require.Contains(t, req.Header.Get("transport"), "unicast;interleaved=0-1")
	require.True(t, bytes.HasPrefix([]byte(req.Header.Get("Transport")), []byte("RTP/AVP/TCP;")))
}

func TestReadRequestBody(t *testing.T) {
	head := "SET_PARAMETER rtsp://h/ RTSP/1.0\r\nCSeq: 3\r\nContent-Length: 5\r\n\r\n"

	req, n, err := ReadRequest([]byte(head + "ab"))
	require.NoError(t, err)
	require.Nil(t, req)
	require.Zero(t, n)

	req, n, err = ReadRequest([]byte(head + "abcde" + "rest"))
	require.NoError(t, err)
	require.Equal(t, len(head)+5, n)
	require.Equal(t, []byte("abcde"), req.Body)
}

func TestReadRequestSkipsLeadingBlankLines(t *testing.T) {
	raw := "\r\nOPTIONS * RTSP/1.0\r\nCSeq: 4\r\n\r\n"
	req, n, err := ReadRequest([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, len(raw), n)
	require.Equal(t, "4", req.Sequence)
}

func TestReadRequestMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		seq  string
	}{
		{"missing version", "OPTIONS rtsp://h/\r\nCSeq: 1\r\n\r\n", "1"},
		{"http version", "GET / HTTP/1.1\r\nHost: h\r\n\r\n", ""},
		{"bad content length", "OPTIONS * RTSP/1.0\r\nCSeq: 7\r\nContent-Length: x\r\n\r\n", "7"},
		{"garbage", "garbage\r\n\r\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, n, err := ReadRequest([]byte(tt.raw))
			require.ErrorIs(t, err, ErrMalformedRequest)
			require.NotNil(t, req)
			require.Equal(t, tt.seq, req.Sequence)
			require.Empty(t, req.Method)
			require.Equal(t, len(tt.raw), n)
		})
	}
}

func TestOptionsResponseBytes(t *testing.T) {
	req, _, err := ReadRequest([]byte("OPTIONS rtsp://h/ RTSP/1.0\r\nCSeq: 1\r\n\r\n"))
	require.NoError(t, err)

	res := (&engine{}).handleOptions(req)
	require.Equal(t,
		"RTSP/1.0 200 OK\r\nCSeq: 1\r\nPublic: OPTIONS, DESCRIBE, SETUP, TEARDOWN, PLAY, PAUSE\r\n\r\n",
		string(res.Marshal()))
}

func TestResponseBodyAndStatusText(t *testing.T) {
	res := NewResponse(&Request{Sequence: "9"}, http.StatusOK)
	res.Header.Set("Content-Type", "application/sdp")
	res.Body = []byte("v=0\r\n")

	out := res.Marshal()
	require.Equal(t,
		"RTSP/1.0 200 OK\r\nCSeq: 9\r\nContent-Length: 5\r\nContent-Type: application/sdp\r\n\r\nv=0\r\n",
		string(out))

	parsed, err := ReadResponse(bufio.NewReader(bytes.NewReader(out)))
	require.NoError(t, err)
	require.Equal(t, 200, parsed.Code)
	require.Equal(t, "9", parsed.Sequence)
	require.Equal(t, []byte("v=0\r\n"), parsed.Body)

	require.Equal(t, "Session Not Found", StatusText(StatusSessionNotFound))
	require.Equal(t, "Unsupported Transport", StatusText(StatusUnsupportedTransport))
	require.Equal(t, "Bad Request", StatusText(http.StatusBadRequest))
}

func TestRequestWrite(t *testing.T) {
	var buf bytes.Buffer
	req := &Request{
		Method:   MethodSetup,
		URL:      "rtsp://h/cam/track0",
		Sequence: "2",
		Header:   http.Header{"Transport": []string{"RTP/AVP/TCP;unicast;interleaved=0-1"}},
	}
	require.NoError(t, req.Write(&buf))

	parsed, n, err := ReadRequest(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, buf.Len(), n)
	require.Equal(t, req.Method, parsed.Method)
	require.Equal(t, req.URL, parsed.URL)
	require.Equal(t, "2", parsed.Sequence)
	require.Equal(t, "RTP/AVP/TCP;unicast;interleaved=0-1", parsed.Header.Get("Transport"))
}

func TestSplitTrack(t *testing.T) {
	tests := []struct {
		path   string
		camera string
		track  int
		ok     bool
	}{
		{"/cam/track0", "cam", 0, true},
		{"/cam/track1/", "cam", 1, true},
		{"/track0", "", 0, true},
		{"/site/cam/track1", "site/cam", 1, true},
		{"/cam/track2", "", 0, false},
		{"/cam", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			cam, track, ok := splitTrack(tt.path)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.camera, cam)
			require.Equal(t, tt.track, track)
		})
	}
}

func TestSessionIDStripsParameters(t *testing.T) {
	req := &Request{Header: http.Header{"Session": []string{"65a_1;timeout=60"}}}
	require.Equal(t, "65a_1", sessionID(req))
	require.Equal(t, "", sessionID(&Request{Header: http.Header{}}))
}
