package api

import (
	"github.com/bilbercode/rtspd/internal/camera"
	"github.com/bilbercode/rtspd/internal/rtsp"
)

type SessionLister interface {
	List() []rtsp.Session
}

type CameraLister interface {
	Sources() []camera.Source
}

type Sessions struct {
	Sessions []rtsp.Session `json:"sessions"`
}

type Cameras struct {
	Cameras []camera.Source `json:"cameras"`
}
