package camera

import "github.com/bilbercode/rtspd/internal/media"

// Source is a named camera backed by an H.264 Annex-B file and an optional
// ADTS AAC file.
type Source struct {
	Name  string `yaml:"name" json:"name"`
	Video string `yaml:"video" json:"video"`
	Audio string `yaml:"audio" json:"audio,omitempty"`
	Loop  bool   `yaml:"loop" json:"loop"`
}

type Service interface {
	Has(name string) bool
	Open(name string) (video, audio media.Reader, err error)
}
