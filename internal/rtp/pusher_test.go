package rtp

import (
	"testing"
	"time"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/bilbercode/rtspd/internal/media"
	"github.com/bilbercode/rtspd/internal/reactor"
)

type fakeTimer struct {
	fn       func()
	periodic bool
}

// fakeScheduler runs everything inline; timers fire only when the test says so.
type fakeScheduler struct {
	next    reactor.TimerID
	timers  map[reactor.TimerID]fakeTimer
	removed []reactor.TimerID
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{timers: make(map[reactor.TimerID]fakeTimer)}
}

func (s *fakeScheduler) RunInLoop(fn func()) { fn() }

func (s *fakeScheduler) AddOneShotTimer(_ time.Duration, fn func()) reactor.TimerID {
	s.next++
	s.timers[s.next] = fakeTimer{fn: fn}
	return s.next
}

func (s *fakeScheduler) AddPeriodicTimer(_, _ time.Duration, fn func()) reactor.TimerID {
	s.next++
	s.timers[s.next] = fakeTimer{fn: fn, periodic: true}
	return s.next
}

func (s *fakeScheduler) RemoveTimer(id reactor.TimerID) {
	if _, ok := s.timers[id]; ok {
		s.removed = append(s.removed, id)
	}
	delete(s.timers, id)
}

func (s *fakeScheduler) fire(periodic bool) {
	for id, t := range s.timers {
		if t.periodic != periodic {
			continue
		}
		if !periodic {
			delete(s.timers, id)
		}
		t.fn()
	}
}

func (s *fakeScheduler) oneShots() int {
	n := 0
	for _, t := range s.timers {
		if !t.periodic {
			n++
		}
	}
	return n
}

type sliceReader struct {
	frames [][]byte
	end    media.Status
}

func (r *sliceReader) ReadFrame() ([]byte, media.Status) {
	if len(r.frames) == 0 {
		return nil, r.end
	}
	f := r.frames[0]
	r.frames = r.frames[1:]
	return f, media.StatusOK
}

func (r *sliceReader) Close() error { return nil }

type sentPacket struct {
	media Media
	pkt   *pionrtp.Packet
}

type recordingSink struct {
	t    *testing.T
	sent []sentPacket
}

func (s *recordingSink) WriteRTP(m Media, b []byte) error {
	p := &pionrtp.Packet{}
	require.NoError(s.t, p.Unmarshal(b))
	s.sent = append(s.sent, sentPacket{media: m, pkt: p})
	return nil
}

func (s *recordingSink) video() []*pionrtp.Packet {
	var out []*pionrtp.Packet
	for _, p := range s.sent {
		if p.media == MediaVideo {
			out = append(out, p.pkt)
		}
	}
	return out
}

func (s *recordingSink) audio() []*pionrtp.Packet {
	var out []*pionrtp.Packet
	for _, p := range s.sent {
		if p.media == MediaAudio {
			out = append(out, p.pkt)
		}
	}
	return out
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Add(d time.Duration) { c.now = c.now.Add(d) }

var (
	testSPS = []byte{0x67, 0x42, 0x00, 0x1f, 0xe9}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
)

func adts(payload int) []byte {
	size := 7 + payload
	f := make([]byte, size)
	f[0], f[1], f[2] = 0xFF, 0xF1, 0x50
	f[3] = 0x80 | byte(size>>11)&0x03
	f[4] = byte(size >> 3)
	f[5] = byte(size<<5) | 0x1F
	f[6] = 0xFC
	return f
}

func newTestPusher(t *testing.T, video, audio media.Reader, cfg Config) (*Pusher, *fakeScheduler, *recordingSink, *clock) {
	sched := newFakeScheduler()
	sink := &recordingSink{t: t}
	c := &clock{now: time.Unix(100, 0)}
	p := NewPusher(sched, sink, video, audio, cfg, nil)
	p.now = c.Now
	return p, sched, sink, c
}

func TestPusherSendsParameterSetsBeforeIDR(t *testing.T) {
	idr := nalOfSize(media.NALTypeIDR, 200)
	video := &sliceReader{frames: [][]byte{testSPS, testPPS, idr}, end: media.StatusEOF}
	audio := &sliceReader{frames: [][]byte{adts(20)}, end: media.StatusEOF}

	p, sched, sink, _ := newTestPusher(t, video, audio, DefaultConfig())
	p.Start()
	require.True(t, p.Running())
	sched.fire(true)

	v := sink.video()
	require.Len(t, v, 3)
	require.Equal(t, testSPS, v[0].Payload)
	require.Equal(t, testPPS, v[1].Payload)
	require.Equal(t, idr, v[2].Payload)
	for i, pkt := range v {
		require.EqualValues(t, i, pkt.SequenceNumber)
		require.EqualValues(t, 0, pkt.Timestamp)
		require.EqualValues(t, SSRCVideo, pkt.SSRC)
		require.Equal(t, i == 2, pkt.Marker)
	}

	a := sink.audio()
	require.Len(t, a, 1)
	require.True(t, a[0].Marker)
	require.EqualValues(t, PayloadTypeAAC, a[0].PayloadType)
	require.EqualValues(t, SSRCAudio, a[0].SSRC)
	require.Equal(t, []byte{0x00, 0x10, 0x00, 20 << 3}, a[0].Payload[:4])
	require.Len(t, a[0].Payload, 4+20)
}

func TestPusherAggregatesParameterSetsForUDP(t *testing.T) {
	idr := nalOfSize(media.NALTypeIDR, 300)
	video := &sliceReader{frames: [][]byte{testSPS, testPPS, idr}, end: media.StatusEOF}

	cfg := DefaultConfig()
	cfg.AggregateParameterSets = true
	p, sched, sink, _ := newTestPusher(t, video, nil, cfg)
	p.Start()
	sched.fire(true)

	v := sink.video()
	require.Len(t, v, 1)
	require.True(t, v[0].Marker)
	require.Equal(t, AggregateSTAPA(testSPS, testPPS, idr), v[0].Payload)
}

func TestPusherSTAPAFallsBackWhenTooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AggregateParameterSets = true

	// exactly at the limit aggregates, one byte more does not
	fits := cfg.MTU - HeaderSize - 1 - 2 - len(testSPS) - 2 - len(testPPS) - 2
	for _, tc := range []struct {
		size    int
		packets int
	}{
		{fits, 1},
		{fits + 1, 3},
	} {
		idr := nalOfSize(media.NALTypeIDR, tc.size)
		video := &sliceReader{frames: [][]byte{testSPS, testPPS, idr}, end: media.StatusEOF}
		p, sched, sink, _ := newTestPusher(t, video, nil, cfg)
		p.Start()
		sched.fire(true)
		require.Len(t, sink.video(), tc.packets, "idr size %d", tc.size)
	}
}

func TestPusherPacesFragments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FragmentBurst = 2
	idr := nalOfSize(media.NALTypeIDR, 10000)
	next := nalOfSize(1, 100)
	video := &sliceReader{frames: [][]byte{idr, next}, end: media.StatusEOF}

	p, sched, sink, c := newTestPusher(t, video, nil, cfg)
	p.Start()
	sched.fire(true)

	want := (len(idr) - 1 + cfg.MTU - 15) / (cfg.MTU - 14)
	require.Len(t, sink.video(), 2)
	require.Equal(t, 1, sched.oneShots())

	// video stays held back while fragments are pending
	c.Add(time.Second)
	sched.fire(true)
	require.Len(t, sink.video(), 2)

	for sched.oneShots() > 0 {
		sched.fire(false)
	}
	v := sink.video()
	require.Len(t, v, want)

	var body []byte
	for i, pkt := range v {
		require.EqualValues(t, i, pkt.SequenceNumber)
		require.Equal(t, i == len(v)-1, pkt.Marker)
		require.Equal(t, i == 0, pkt.Payload[1]&fuStart != 0)
		require.Equal(t, i == len(v)-1, pkt.Payload[1]&fuEnd != 0)
		body = append(body, pkt.Payload[2:]...)
	}
	require.Equal(t, idr[1:], body)

	sched.fire(true)
	v = sink.video()
	require.Len(t, v, want+1)
	require.Equal(t, next, v[want].Payload)
	require.EqualValues(t, 3600, v[want].Timestamp)
}

func TestPusherAdvancesOnItsOwnCadence(t *testing.T) {
	frames := make([][]byte, 10)
	for i := range frames {
		frames[i] = nalOfSize(1, 10)
	}
	aac := make([][]byte, 10)
	for i := range aac {
		aac[i] = adts(8)
	}
	p, sched, sink, c := newTestPusher(t,
		&sliceReader{frames: frames, end: media.StatusEOF},
		&sliceReader{frames: aac, end: media.StatusEOF},
		DefaultConfig())
	p.Start()

	// 45ms of 5ms ticks: video at 0 and 40, audio at 0, 21.3 and 42.6
	for i := 0; i < 10; i++ {
		sched.fire(true)
		c.Add(5 * time.Millisecond)
	}
	require.Len(t, sink.video(), 2)
	require.Len(t, sink.audio(), 3)
	require.EqualValues(t, 3600, sink.video()[1].Timestamp)
	require.EqualValues(t, 3840, sink.audio()[2].Timestamp)
}

func TestPusherDropsShortAudioFrames(t *testing.T) {
	audio := &sliceReader{frames: [][]byte{{0xFF, 0xF1, 0x00}, adts(4)}, end: media.StatusEOF}
	p, sched, sink, c := newTestPusher(t, nil, audio, DefaultConfig())
	p.Start()

	sched.fire(true)
	require.Empty(t, sink.audio())
	c.Add(22 * time.Millisecond)
	sched.fire(true)
	a := sink.audio()
	require.Len(t, a, 1)
	require.EqualValues(t, 0, a[0].SequenceNumber)
	require.EqualValues(t, 1920, a[0].Timestamp)
}

func TestPusherStopsAtEndOfStream(t *testing.T) {
	video := &sliceReader{frames: [][]byte{nalOfSize(1, 10)}, end: media.StatusEOF}
	p, sched, sink, c := newTestPusher(t, video, nil, DefaultConfig())
	p.Start()

	sched.fire(true)
	require.True(t, p.Running())
	c.Add(40 * time.Millisecond)
	sched.fire(true)
	require.False(t, p.Running())
	require.Len(t, sink.video(), 1)
	require.Len(t, sched.removed, 1)
	require.Empty(t, sched.timers)
}

func TestPusherStopsOnReadError(t *testing.T) {
	video := &sliceReader{end: media.StatusFileError}
	p, sched, _, _ := newTestPusher(t, video, nil, DefaultConfig())
	p.Start()
	sched.fire(true)
	require.False(t, p.Running())
}

func TestPusherStopIsIdempotentAndResumable(t *testing.T) {
	frames := [][]byte{nalOfSize(1, 10), nalOfSize(1, 10)}
	p, sched, sink, _ := newTestPusher(t, &sliceReader{frames: frames, end: media.StatusEOF}, nil, DefaultConfig())

	p.Stop()
	require.Empty(t, sched.removed)

	p.Start()
	p.Start()
	require.Len(t, sched.timers, 1)
	sched.fire(true)

	p.Stop()
	p.Stop()
	require.Len(t, sched.removed, 1)
	require.False(t, p.Running())

	p.Start()
	sched.fire(true)
	v := sink.video()
	require.Len(t, v, 2)
	require.EqualValues(t, 1, v[1].SequenceNumber)
	require.EqualValues(t, 3600, v[1].Timestamp)
}

func TestPusherStopFlushesQueuedFragments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FragmentBurst = 2
	idr := nalOfSize(media.NALTypeIDR, 10000)
	next := nalOfSize(1, 100)
	video := &sliceReader{frames: [][]byte{idr, next}, end: media.StatusEOF}

	p, sched, sink, c := newTestPusher(t, video, nil, cfg)
	p.Start()
	sched.fire(true)
	require.Len(t, sink.video(), 2)

	p.Stop()
	require.False(t, p.Running())
	require.Zero(t, sched.oneShots())

	want := (len(idr) - 1 + cfg.MTU - 15) / (cfg.MTU - 14)
	v := sink.video()
	require.Len(t, v, want)
	for i, pkt := range v {
		require.EqualValues(t, i, pkt.SequenceNumber)
	}
	require.NotZero(t, v[want-1].Payload[1]&fuEnd)
	require.True(t, v[want-1].Marker)

	// resuming continues the sequence without a gap
	p.Start()
	c.Add(time.Second)
	sched.fire(true)
	v = sink.video()
	require.Len(t, v, want+1)
	require.EqualValues(t, want, v[want].SequenceNumber)
	require.Equal(t, next, v[want].Payload)
}
