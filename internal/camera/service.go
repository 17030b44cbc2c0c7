package camera

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bilbercode/rtspd/internal/media"
)

var (
	cameraOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "camera_opens",
		Namespace: "rtspd",
		Help:      "number of times a camera's media sources were opened",
	}, []string{"camera"})
	cameraErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "camera_errors",
		Namespace: "rtspd",
		Help:      "number of errors the camera has encountered",
	}, []string{"camera"})
)

var ErrUnknownCamera = errors.New("unknown camera")

// Catalog maps stream paths to media sources. The empty name resolves to the
// default camera.
type Catalog struct {
	mu       sync.RWMutex
	sources  map[string]Source
	fallback string
}

func NewCatalog(sources []Source, fallback string) (*Catalog, error) {
	c := &Catalog{sources: make(map[string]Source, len(sources)), fallback: fallback}
	for _, s := range sources {
		if s.Name == "" {
			return nil, errors.New("camera without a name")
		}
		if s.Video == "" {
			return nil, fmt.Errorf("camera %s has no video source", s.Name)
		}
		if _, ok := c.sources[s.Name]; ok {
			return nil, fmt.Errorf("camera %s is declared twice", s.Name)
		}
		c.sources[s.Name] = s
		log.WithFields(log.Fields{
			"camera": s.Name,
			"video":  s.Video,
			"audio":  s.Audio,
		}).Infof("camera feed %s is now available", s.Name)
	}
	if fallback != "" {
		if _, ok := c.sources[fallback]; !ok {
			return nil, fmt.Errorf("default camera %s is not declared", fallback)
		}
	}
	return c, nil
}

func (c *Catalog) resolve(name string) (Source, bool) {
	if name == "" {
		name = c.fallback
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sources[name]
	return s, ok
}

func (c *Catalog) Has(name string) bool {
	_, ok := c.resolve(name)
	return ok
}

// Open starts fresh readers for the camera. A camera without audio returns a
// nil audio reader.
func (c *Catalog) Open(name string) (media.Reader, media.Reader, error) {
	s, ok := c.resolve(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownCamera, name)
	}

	video, err := media.NewH264FileReader(s.Video, s.Loop)
	if err != nil {
		cameraErrors.WithLabelValues(s.Name).Inc()
		return nil, nil, fmt.Errorf("failed to open video for camera %s: %w", s.Name, err)
	}
	if s.Audio == "" {
		cameraOpens.WithLabelValues(s.Name).Inc()
		return video, nil, nil
	}
	audio, err := media.NewAACFileReader(s.Audio, s.Loop)
	if err != nil {
		_ = video.Close()
		cameraErrors.WithLabelValues(s.Name).Inc()
		return nil, nil, fmt.Errorf("failed to open audio for camera %s: %w", s.Name, err)
	}
	cameraOpens.WithLabelValues(s.Name).Inc()
	return video, audio, nil
}

// Sources lists the cameras ordered by name.
func (c *Catalog) Sources() []Source {
	c.mu.RLock()
	out := make([]Source, 0, len(c.sources))
	for _, s := range c.sources {
		out = append(out, s)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
