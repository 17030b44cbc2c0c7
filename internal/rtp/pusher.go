package rtp

import (
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/rtspd/internal/media"
	"github.com/bilbercode/rtspd/internal/reactor"
)

// maxParameterSets bounds how many SPS/PPS units a single tick consumes while
// looking for the next frame.
const maxParameterSets = 8

// Scheduler is the event loop a pusher runs on.
type Scheduler interface {
	RunInLoop(fn func())
	AddOneShotTimer(delay time.Duration, fn func()) reactor.TimerID
	AddPeriodicTimer(delay, interval time.Duration, fn func()) reactor.TimerID
	RemoveTimer(id reactor.TimerID)
}

type Config struct {
	MTU  int
	Tick time.Duration

	VideoInterval  time.Duration
	AudioInterval  time.Duration
	VideoClockStep uint32
	AudioClockStep uint32

	// FragmentBurst FU-A packets of a frame are sent back to back, the rest are
	// released FragmentBurst at a time every FragmentPacing. Zero pacing sends
	// every fragment immediately.
	FragmentPacing time.Duration
	FragmentBurst  int

	// AggregateParameterSets sends SPS, PPS and IDR as one STAP-A packet when
	// it fits the MTU.
	AggregateParameterSets bool
}

func DefaultConfig() Config {
	return Config{
		MTU:            1400,
		Tick:           5 * time.Millisecond,
		VideoInterval:  40 * time.Millisecond,
		AudioInterval:  time.Second * 1024 / 48000,
		VideoClockStep: 3600,
		AudioClockStep: 1920,
		FragmentPacing: time.Millisecond,
		FragmentBurst:  8,
	}
}

type pendingPacket struct {
	media  Media
	packet []byte
}

// Pusher paces H.264 and AAC frames out to a sink as RTP. All of its state is
// owned by the scheduler's loop; Start and Stop may be called from anywhere.
type Pusher struct {
	sched Scheduler
	sink  Sink
	video media.Reader
	audio media.Reader
	cfg   Config
	log   *log.Entry
	now   func() time.Time

	videoStream *Stream
	audioStream *Stream
	sps, pps    []byte

	running   atomic.Bool
	timer     reactor.TimerID
	nextVideo time.Time
	nextAudio time.Time

	pending     []pendingPacket
	pacing      bool
	pacingTimer reactor.TimerID
}

// NewPusher builds a stopped pusher. A nil reader disables its track.
func NewPusher(sched Scheduler, sink Sink, video, audio media.Reader, cfg Config, entry *log.Entry) *Pusher {
	if entry == nil {
		entry = log.NewEntry(log.StandardLogger())
	}
	if cfg.MTU <= HeaderSize+fuaHeaderSize {
		cfg.MTU = DefaultConfig().MTU
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	if cfg.FragmentBurst < 1 {
		cfg.FragmentBurst = 1
	}
	return &Pusher{
		sched:       sched,
		sink:        sink,
		video:       video,
		audio:       audio,
		cfg:         cfg,
		log:         entry,
		now:         time.Now,
		videoStream: NewVideoStream(),
		audioStream: NewAudioStream(),
	}
}

func (p *Pusher) Running() bool {
	return p.running.Load()
}

// Start begins pacing. Starting a running pusher is a no-op; starting a
// stopped one resumes its streams where they left off.
func (p *Pusher) Start() {
	p.sched.RunInLoop(func() {
		if p.running.Load() {
			return
		}
		p.running.Store(true)
		now := p.now()
		p.nextVideo, p.nextAudio = now, now
		p.timer = p.sched.AddPeriodicTimer(0, p.cfg.Tick, p.tick)
		p.log.Debug("rtp pusher started")
	})
}

// Stop cancels the pacing timers and sends any fragments still queued. It is
// idempotent.
func (p *Pusher) Stop() {
	p.sched.RunInLoop(p.halt)
}

func (p *Pusher) halt() {
	if !p.running.Swap(false) {
		return
	}
	p.sched.RemoveTimer(p.timer)
	if p.pacing {
		p.sched.RemoveTimer(p.pacingTimer)
		p.pacing = false
	}
	// queued fragments already own their sequence numbers
	for _, pp := range p.pending {
		p.write(pp.media, pp.packet)
	}
	p.pending = nil
	p.log.Debug("rtp pusher stopped")
}

func (p *Pusher) tick() {
	if !p.running.Load() {
		return
	}
	now := p.now()

	// video waits until the fragments of the previous frame are out
	if p.video != nil && len(p.pending) == 0 && !now.Before(p.nextVideo) {
		if !p.pushVideo() {
			p.halt()
			return
		}
		p.nextVideo = advance(p.nextVideo, p.cfg.VideoInterval, now)
	}

	if p.audio != nil && !now.Before(p.nextAudio) {
		if !p.pushAudio() {
			p.halt()
			return
		}
		p.nextAudio = advance(p.nextAudio, p.cfg.AudioInterval, now)
	}
}

// advance moves a media deadline one interval past the previous one. A stream
// more than an interval behind is resynchronised to now instead of bursting.
func advance(prev time.Time, interval time.Duration, now time.Time) time.Time {
	next := prev.Add(interval)
	if now.Sub(next) > interval {
		return now
	}
	return next
}

func (p *Pusher) pushVideo() bool {
	for i := 0; i < maxParameterSets; i++ {
		nal, status := p.video.ReadFrame()
		if status != media.StatusOK {
			p.finished(MediaVideo, status)
			return false
		}

		switch media.NALType(nal) {
		case media.NALTypeSPS:
			p.sps = nal
			continue
		case media.NALTypePPS:
			p.pps = nal
			continue
		case media.NALTypeIDR:
			p.sendKeyFrame(nal)
		default:
			p.sendNAL(nal, true)
		}
		p.videoStream.Timestamp += p.cfg.VideoClockStep
		return true
	}
	return true
}

func (p *Pusher) sendKeyFrame(idr []byte) {
	if p.cfg.AggregateParameterSets && p.sps != nil && p.pps != nil &&
		STAPASize(p.sps, p.pps, idr) <= p.cfg.MTU {
		p.emit(MediaVideo, p.videoStream, AggregateSTAPA(p.sps, p.pps, idr), true)
		return
	}
	if p.sps != nil {
		p.sendNAL(p.sps, false)
	}
	if p.pps != nil {
		p.sendNAL(p.pps, false)
	}
	p.sendNAL(idr, true)
}

func (p *Pusher) sendNAL(nal []byte, marker bool) {
	if !NeedsFragmentation(nal, p.cfg.MTU) {
		p.emit(MediaVideo, p.videoStream, nal, marker)
		return
	}

	frags := FragmentFUA(nal, p.cfg.MTU-HeaderSize-fuaHeaderSize)
	for i, f := range frags {
		last := i == len(frags)-1
		pkt, err := p.videoStream.Packet(f, marker && last)
		if err != nil {
			p.log.WithError(err).Warn("failed to build FU-A packet")
			continue
		}
		if p.cfg.FragmentPacing <= 0 || (len(p.pending) == 0 && i < p.cfg.FragmentBurst) {
			p.write(MediaVideo, pkt)
			continue
		}
		p.pending = append(p.pending, pendingPacket{media: MediaVideo, packet: pkt})
	}
	p.schedulePacing()
}

func (p *Pusher) schedulePacing() {
	if p.pacing || len(p.pending) == 0 {
		return
	}
	p.pacing = true
	p.pacingTimer = p.sched.AddOneShotTimer(p.cfg.FragmentPacing, p.releasePending)
}

func (p *Pusher) releasePending() {
	p.pacing = false
	if !p.running.Load() {
		return
	}
	n := p.cfg.FragmentBurst
	if n > len(p.pending) {
		n = len(p.pending)
	}
	for _, pp := range p.pending[:n] {
		p.write(pp.media, pp.packet)
	}
	p.pending = p.pending[n:]
	if len(p.pending) == 0 {
		p.pending = nil
		return
	}
	p.schedulePacing()
}

func (p *Pusher) pushAudio() bool {
	frame, status := p.audio.ReadFrame()
	if status != media.StatusOK {
		p.finished(MediaAudio, status)
		return false
	}

	if payload, ok := AACPayload(frame); ok {
		p.emit(MediaAudio, p.audioStream, payload, true)
	} else {
		framesDropped.WithLabelValues(MediaAudio.String()).Inc()
		p.log.WithField("size", len(frame)).Debug("dropping short aac frame")
	}
	p.audioStream.Timestamp += p.cfg.AudioClockStep
	return true
}

func (p *Pusher) emit(m Media, s *Stream, payload []byte, marker bool) {
	pkt, err := s.Packet(payload, marker)
	if err != nil {
		p.log.WithError(err).Warnf("failed to build %s packet", m)
		return
	}
	if len(p.pending) > 0 && m == MediaVideo {
		p.pending = append(p.pending, pendingPacket{media: m, packet: pkt})
		return
	}
	p.write(m, pkt)
}

func (p *Pusher) write(m Media, pkt []byte) {
	if err := p.sink.WriteRTP(m, pkt); err != nil {
		p.log.WithError(err).Debugf("failed to write %s packet", m)
		return
	}
	packetsSent.WithLabelValues(m.String()).Inc()
	bytesSent.WithLabelValues(m.String()).Add(float64(len(pkt)))
}

func (p *Pusher) finished(m Media, status media.Status) {
	entry := p.log.WithFields(log.Fields{
		"media":  m.String(),
		"status": status.String(),
	})
	if status == media.StatusEOF {
		entry.Info("media source finished, stopping rtp pusher")
		return
	}
	entry.Warn("media source failed, stopping rtp pusher")
}
