package rtsp

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/rtspd/internal/camera"
	"github.com/bilbercode/rtspd/internal/media"
	"github.com/bilbercode/rtspd/internal/reactor"
	"github.com/bilbercode/rtspd/internal/rtp"
	"github.com/bilbercode/rtspd/internal/rtsp/transport"
)

const (
	// maxRequestSize bounds the bytes buffered while waiting for a header
	// terminator.
	maxRequestSize = 64 * 1024

	// maxPortAttempts is how many port blocks a SETUP tries before giving up.
	maxPortAttempts = 8
)

// udpBlock is the four sockets reserved for one UDP session: video RTP, video
// RTCP, audio RTP, audio RTCP.
type udpBlock struct {
	base  int
	conns [4]*reactor.UDPConn
}

func (b *udpBlock) rtp(track int) *reactor.UDPConn {
	return b.conns[2*track]
}

func (b *udpBlock) rtcp(track int) *reactor.UDPConn {
	return b.conns[2*track+1]
}

func (b *udpBlock) close() {
	for _, c := range b.conns {
		if c != nil {
			c.Close()
		}
	}
}

// sessionState is what a connection owns for one of its sessions.
type sessionState struct {
	id      string
	tracks  [2]Track
	udp     *udpBlock
	pusher  *rtp.Pusher
	readers []media.Reader
}

// rtcpReceiver logs receiver reports arriving on a session's RTCP socket.
type rtcpReceiver struct {
	media rtp.Media
	log   *log.Entry
}

func (r *rtcpReceiver) HandlePacket(_ *reactor.UDPConn, b []byte) {
	rtp.LogRTCP(r.log, r.media, b)
}

// engine is the RTSP state machine of one TCP connection. It runs entirely on
// the connection's loop.
type engine struct {
	conn     *reactor.TCPConn
	store    Store
	ports    *PortAllocator
	cameras  camera.Service
	rtpCfg   rtp.Config
	log      *log.Entry
	sessions map[string]*sessionState
}

func newEngine(srv *Server, conn *reactor.TCPConn) *engine {
	return &engine{
		conn:     conn,
		store:    srv.store,
		ports:    srv.ports,
		cameras:  srv.cameras,
		rtpCfg:   srv.rtpConfig(),
		log:      conn.Logger(),
		sessions: make(map[string]*sessionState),
	}
}

func (e *engine) HandleMessage(c *reactor.TCPConn) {
	for {
		buf := c.Buffered()
		if len(buf) == 0 {
			return
		}

		if buf[0] == rtp.InterleavedFrameMagicByte {
			frame, n, err := rtp.ReadInterleavedFrame(buf)
			if err != nil || n == 0 {
				return
			}
			e.handleFrame(frame)
			c.Discard(n)
			continue
		}

		req, n, err := ReadRequest(buf)
		switch {
		case err != nil:
			c.Discard(n)
			e.log.WithError(err).Warn("dropping malformed request")
			e.reply(req, NewResponse(req, http.StatusBadRequest))
			continue
		case req == nil:
			if len(buf) > maxRequestSize {
				e.log.WithField("buffered", len(buf)).Warn("request exceeds size limit, closing connection")
				e.reply(&Request{}, NewResponse(&Request{}, http.StatusBadRequest))
				c.Close()
			}
			return
		}
		c.Discard(n)
		e.handle(req)
	}
}

// HandleClose releases everything the connection owned, as TEARDOWN would.
func (e *engine) HandleClose(*reactor.TCPConn) {
	for id := range e.sessions {
		e.teardown(id)
	}
}

func (e *engine) handle(req *Request) {
	e.log.WithFields(log.Fields{
		"method": req.Method.String(),
		"url":    req.URL,
		"cseq":   req.Sequence,
	}).Debug("rtsp request")

	switch req.Method {
	case MethodOptions:
		e.reply(req, e.handleOptions(req))
	case MethodDescribe:
		e.reply(req, e.handleDescribe(req))
	case MethodSetup:
		e.reply(req, e.handleSetup(req))
	case MethodPlay:
		res, pusher := e.handlePlay(req)
		e.reply(req, res)
		if pusher != nil {
			pusher.Start()
		}
	case MethodPause:
		e.reply(req, e.handlePause(req))
	case MethodGetParameter:
		e.reply(req, e.handleGetParameter(req))
	case MethodTeardown:
		e.reply(req, e.handleTeardown(req))
	default:
		e.reply(req, NewResponse(req, http.StatusBadRequest))
	}
}

func (e *engine) reply(req *Request, res *Response) {
	requestsTotal.WithLabelValues(methodLabel(req.Method), strconv.Itoa(res.Code)).Inc()
	if res.Code >= http.StatusBadRequest {
		e.log.WithFields(log.Fields{
			"method": req.Method.String(),
			"code":   res.Code,
		}).Info("rtsp request rejected")
	}
	e.conn.Send(res.Marshal())
}

func methodLabel(m Method) string {
	switch m {
	case MethodOptions, MethodDescribe, MethodSetup, MethodTeardown,
		MethodPlay, MethodPause, MethodGetParameter:
		return m.String()
	}
	return "other"
}

// sessionID strips parameters such as ";timeout=60" from the Session header.
func sessionID(req *Request) string {
	id, _, _ := strings.Cut(req.Header.Get("Session"), ";")
	return strings.TrimSpace(id)
}

// splitTrack splits ".../<camera>/trackN" into the camera name and the track
// index.
func splitTrack(p string) (string, int, bool) {
	p = strings.Trim(p, "/")
	var track int
	switch path.Base(p) {
	case videoControl:
		track = 0
	case audioControl:
		track = 1
	default:
		return "", 0, false
	}
	cam := strings.TrimSuffix(strings.TrimSuffix(p, path.Base(p)), "/")
	return cam, track, true
}

func (e *engine) handleOptions(req *Request) *Response {
	methods := make([]string, len(publicMethods))
	for i, m := range publicMethods {
		methods[i] = m.String()
	}
	res := NewResponse(req, http.StatusOK)
	res.Header.Set("Public", strings.Join(methods, ", "))
	return res
}

func (e *engine) handleDescribe(req *Request) *Response {
	u, err := url.Parse(req.URL)
	if err != nil {
		return NewResponse(req, http.StatusBadRequest)
	}
	if accept := req.Header.Get("Accept"); accept != "" && !strings.Contains(accept, "application/sdp") {
		return NewResponse(req, http.StatusNotAcceptable)
	}

	name := strings.Trim(u.Path, "/")
	if !e.cameras.Has(name) {
		return NewResponse(req, http.StatusNotFound)
	}

	host := u.Hostname()
	if host == "" {
		host = e.conn.LocalAddr().IP.String()
	}
	body, err := sessionDescription(host, time.Now())
	if err != nil {
		e.log.WithError(err).Error("failed to marshal session description")
		return NewResponse(req, http.StatusInternalServerError)
	}

	base := *u
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	res := NewResponse(req, http.StatusOK)
	res.Header.Set("Content-Type", "application/sdp")
	res.Header.Set("Content-Base", base.String())
	res.Body = body
	return res
}

func (e *engine) handleSetup(req *Request) *Response {
	u, err := url.Parse(req.URL)
	if err != nil {
		return NewResponse(req, http.StatusBadRequest)
	}
	name, track, ok := splitTrack(u.Path)
	if !ok {
		return NewResponse(req, StatusSessionNotFound)
	}
	if !e.cameras.Has(name) {
		return NewResponse(req, http.StatusNotFound)
	}

	values := req.Header.Values("Transport")
	if len(values) == 0 {
		return NewResponse(req, StatusUnsupportedTransport)
	}
	th, err := transport.Parse(values)
	switch {
	case errors.Is(err, transport.ErrUnsupportedTransport):
		return NewResponse(req, StatusUnsupportedTransport)
	case err != nil:
		e.log.WithError(err).Debug("invalid transport header")
		return NewResponse(req, http.StatusBadRequest)
	}
	opt := th.Options()[0]

	mode := ModeUDP
	if opt.IsInterleaved() {
		mode = ModeTCP
	}
	var clientPorts transport.ClientPort
	if mode == ModeUDP {
		if clientPorts, ok = opt.ClientPort(); !ok {
			return NewResponse(req, http.StatusBadRequest)
		}
	}

	st, res := e.sessionForSetup(req, name, mode)
	if res != nil {
		return res
	}

	var tr Track
	var reply transport.Option
	if mode == ModeTCP {
		tr, reply, err = e.setupInterleaved(opt, track)
		if err != nil {
			e.log.WithError(err).Debug("invalid interleaved channels")
			return NewResponse(req, http.StatusBadRequest)
		}
	} else {
		tr, reply, err = e.setupUDP(st, clientPorts, track)
		if err != nil {
			e.log.WithError(err).Error("failed to set up udp transport")
			return NewResponse(req, http.StatusInternalServerError)
		}
	}

	var base int
	if st.udp != nil {
		base = st.udp.base
	}
	_, err = e.store.Update(st.id, func(s *Session) {
		s.Mode = mode
		s.Tracks[track] = tr
		s.ServerPortBase = base
	})
	if err != nil {
		e.release(st.id)
		return NewResponse(req, StatusSessionNotFound)
	}
	st.tracks[track] = tr

	e.log.WithFields(log.Fields{
		"session": st.id,
		"track":   track,
		"mode":    mode.String(),
	}).Info("track set up")

	res = NewResponse(req, http.StatusOK)
	res.Header.Set("Session", st.id)
	res.Header.Set("Transport", reply.String())
	return res
}

// sessionForSetup returns the session a SETUP applies to, minting one when the
// request carries no id. A non-nil response ends the request.
func (e *engine) sessionForSetup(req *Request, name string, mode Mode) (*sessionState, *Response) {
	id := sessionID(req)
	if id == "" {
		s, err := e.store.Create(Session{
			Conn:     e.conn.ID(),
			ClientIP: e.conn.RemoteAddr().IP.String(),
			Camera:   name,
			Mode:     mode,
		})
		if err != nil {
			e.log.WithError(err).Error("failed to create session")
			return nil, NewResponse(req, http.StatusInternalServerError)
		}
		st := &sessionState{id: s.ID}
		e.sessions[s.ID] = st
		e.log.WithField("session", s.ID).Info("session created")
		return st, nil
	}

	st, ok := e.sessions[id]
	if !ok {
		return nil, NewResponse(req, StatusSessionNotFound)
	}
	s, err := e.store.Get(id)
	if err != nil {
		e.release(id)
		return nil, NewResponse(req, StatusSessionNotFound)
	}
	if s.Camera != name {
		return nil, NewResponse(req, http.StatusBadRequest)
	}
	for _, t := range s.Tracks {
		if t.Configured && s.Mode != mode {
			return nil, NewResponse(req, StatusUnsupportedTransport)
		}
	}
	return st, nil
}

func (e *engine) setupInterleaved(opt transport.Option, track int) (Track, transport.Option, error) {
	channels := [2]int{2 * track, 2*track + 1}
	if v, ok := opt.Interleaved(); ok {
		channels[0] = v[0]
		channels[1] = v[0] + 1
		if len(v) > 1 {
			channels[1] = v[1]
		}
	}
	if channels[0] > 255 || channels[1] > 255 {
		return Track{}, nil, fmt.Errorf("interleaved channels %d-%d out of range", channels[0], channels[1])
	}
	tr := Track{Configured: true, Channels: channels}
	reply := transport.NewOption(transport.ProtocolTCP, true, transport.Interleaved{channels[0], channels[1]})
	return tr, reply, nil
}

func (e *engine) setupUDP(st *sessionState, ports transport.ClientPort, track int) (Track, transport.Option, error) {
	clientRTP := ports[0]
	clientRTCP := clientRTP + 1
	if len(ports) > 1 {
		clientRTCP = ports[1]
	}

	if st.udp == nil {
		block, err := e.reserve()
		if err != nil {
			return Track{}, nil, err
		}
		st.udp = block
	}

	peer := e.conn.RemoteAddr().IP
	rtpConn, rtcpConn := st.udp.rtp(track), st.udp.rtcp(track)
	if err := rtpConn.Connect(&net.UDPAddr{IP: peer, Port: clientRTP}); err != nil {
		return Track{}, nil, err
	}
	if err := rtcpConn.Connect(&net.UDPAddr{IP: peer, Port: clientRTCP}); err != nil {
		return Track{}, nil, err
	}
	err := rtcpConn.Watch(&rtcpReceiver{
		media: rtp.Media(track),
		log:   e.log.WithField("session", st.id),
	})
	if err != nil {
		return Track{}, nil, err
	}

	tr := Track{
		Configured: true,
		ClientRTP:  clientRTP,
		ClientRTCP: clientRTCP,
		ServerRTP:  rtpConn.LocalAddr().Port,
		ServerRTCP: rtcpConn.LocalAddr().Port,
	}
	reply := transport.NewOption(transport.ProtocolUDP, true,
		transport.ClientPort{tr.ClientRTP, tr.ClientRTCP},
		transport.ServerPort{tr.ServerRTP, tr.ServerRTCP},
	)
	return tr, reply, nil
}

// reserve binds a whole port block, moving on to the next block when any of
// its ports is taken.
func (e *engine) reserve() (*udpBlock, error) {
	var lastErr error
	for attempt := 0; attempt < maxPortAttempts; attempt++ {
		block := &udpBlock{base: e.ports.Next()}
		var err error
		for i := range block.conns {
			block.conns[i], err = reactor.ListenUDP(e.conn.Loop(), block.base+i)
			if err != nil {
				break
			}
		}
		if err == nil {
			return block, nil
		}
		block.close()
		lastErr = err
		e.log.WithError(err).WithField("base", block.base).Debug("udp port block unavailable")
	}
	return nil, fmt.Errorf("no free udp port block after %d attempts: %w", maxPortAttempts, lastErr)
}

func (e *engine) handlePlay(req *Request) (*Response, *rtp.Pusher) {
	id := sessionID(req)
	st, ok := e.sessions[id]
	if !ok {
		return NewResponse(req, StatusSessionNotFound), nil
	}
	s, err := e.store.Get(id)
	if err != nil {
		e.release(id)
		return NewResponse(req, StatusSessionNotFound), nil
	}
	if !s.Tracks[0].Configured && !s.Tracks[1].Configured {
		return NewResponse(req, StatusMethodNotValidInThisState), nil
	}

	if st.pusher == nil {
		if err := e.buildPusher(st, s); err != nil {
			e.log.WithError(err).WithField("session", id).Error("failed to open camera")
			if errors.Is(err, camera.ErrUnknownCamera) {
				return NewResponse(req, http.StatusNotFound), nil
			}
			return NewResponse(req, http.StatusInternalServerError), nil
		}
	}

	if _, err := e.store.Update(id, func(s *Session) { s.Playing = true }); err != nil {
		e.release(id)
		return NewResponse(req, StatusSessionNotFound), nil
	}
	e.log.WithField("session", id).Info("session playing")

	res := NewResponse(req, http.StatusOK)
	res.Header.Set("Session", id)
	res.Header.Set("Range", "npt=0.000-")
	return res, st.pusher
}

func (e *engine) buildPusher(st *sessionState, s Session) error {
	video, audio, err := e.cameras.Open(s.Camera)
	if err != nil {
		return err
	}
	if !s.Tracks[0].Configured && video != nil {
		_ = video.Close()
		video = nil
	}
	if !s.Tracks[1].Configured && audio != nil {
		_ = audio.Close()
		audio = nil
	}

	var sink rtp.Sink
	if s.Mode == ModeTCP {
		sink = rtp.NewTCPSink(e.conn, uint8(s.Tracks[0].Channels[0]), uint8(s.Tracks[1].Channels[0]))
	} else {
		var videoOut, audioOut rtp.PacketWriter
		if s.Tracks[0].Configured {
			videoOut = st.udp.rtp(0)
		}
		if s.Tracks[1].Configured {
			audioOut = st.udp.rtp(1)
		}
		sink = rtp.NewUDPSink(videoOut, audioOut)
	}

	cfg := e.rtpCfg
	cfg.AggregateParameterSets = s.Mode == ModeUDP
	st.pusher = rtp.NewPusher(e.conn.Loop(), sink, video, audio, cfg, e.log.WithField("session", st.id))
	for _, r := range []media.Reader{video, audio} {
		if r != nil {
			st.readers = append(st.readers, r)
		}
	}
	return nil
}

func (e *engine) handlePause(req *Request) *Response {
	id := sessionID(req)
	st, ok := e.sessions[id]
	if !ok {
		return NewResponse(req, StatusSessionNotFound)
	}
	if _, err := e.store.Update(id, func(s *Session) { s.Playing = false }); err != nil {
		e.release(id)
		return NewResponse(req, StatusSessionNotFound)
	}
	if st.pusher != nil {
		st.pusher.Stop()
	}
	e.log.WithField("session", id).Info("session paused")

	res := NewResponse(req, http.StatusOK)
	res.Header.Set("Session", id)
	return res
}

func (e *engine) handleGetParameter(req *Request) *Response {
	res := NewResponse(req, http.StatusOK)
	id := sessionID(req)
	if id == "" {
		return res
	}
	if _, err := e.store.Update(id, func(*Session) {}); err != nil {
		e.release(id)
		return NewResponse(req, StatusSessionNotFound)
	}
	res.Header.Set("Session", id)
	return res
}

// handleTeardown removes the named session. A session another connection owns
// is left alone, since its pusher and sockets live on that connection's loop.
func (e *engine) handleTeardown(req *Request) *Response {
	id := sessionID(req)
	if id == "" {
		return NewResponse(req, http.StatusOK)
	}
	if _, ok := e.sessions[id]; !ok {
		if s, err := e.store.Get(id); err == nil && s.Conn != e.conn.ID() {
			return NewResponse(req, StatusSessionNotFound)
		}
	}
	e.teardown(id)
	return NewResponse(req, http.StatusOK)
}

// handleFrame logs RTCP the client sends inside the connection.
func (e *engine) handleFrame(frame rtp.InterleavedFrame) {
	for _, st := range e.sessions {
		for i, tr := range st.tracks {
			if tr.Configured && st.udp == nil && int(frame.Channel) == tr.Channels[1] {
				rtp.LogRTCP(e.log.WithField("session", st.id), rtp.Media(i), frame.Payload)
				return
			}
		}
	}
	e.log.WithField("channel", frame.Channel).Trace("ignoring interleaved frame")
}

// teardown removes the session row and releases the connection's resources
// for it.
func (e *engine) teardown(id string) {
	e.release(id)
	if e.store.Delete(id) {
		e.log.WithField("session", id).Info("session torn down")
	}
}

// release stops the pusher and closes the sockets of a session without
// touching the store.
func (e *engine) release(id string) {
	st, ok := e.sessions[id]
	if !ok {
		return
	}
	delete(e.sessions, id)
	if st.pusher != nil {
		st.pusher.Stop()
	}
	for _, r := range st.readers {
		_ = r.Close()
	}
	if st.udp != nil {
		st.udp.close()
	}
}
