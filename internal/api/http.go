package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bilbercode/rtspd/internal/rtsp"
)

// Server is the admin HTTP endpoint: Prometheus metrics plus read-only views
// of the session table and the camera catalog.
type Server struct {
	addr     string
	sessions SessionLister
	cameras  CameraLister
}

func NewServer(addr string, sessions SessionLister, cameras CameraLister) *Server {
	return &Server{addr: addr, sessions: sessions, cameras: cameras}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc("/sessions", func(writer http.ResponseWriter, request *http.Request) {
		if !allowGet(writer, request) {
			return
		}
		sessions := s.sessions.List()
		if sessions == nil {
			sessions = []rtsp.Session{}
		}
		writeJSON(writer, Sessions{Sessions: sessions})
	})
	mux.HandleFunc("/cameras", func(writer http.ResponseWriter, request *http.Request) {
		if !allowGet(writer, request) {
			return
		}
		writeJSON(writer, Cameras{Cameras: s.cameras.Sources()})
	})
	return mux
}

// Start serves until ctx is cancelled, then shuts the listener down.
func (s *Server) Start(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	server := http.Server{Addr: s.addr, Handler: s.Handler()}
	group.Go(func() error {
		log.Infof("admin api listening on %s", s.addr)
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})
	return group.Wait()
}

func allowGet(writer http.ResponseWriter, request *http.Request) bool {
	if request.Method == http.MethodGet {
		return true
	}
	writer.Header().Set("Allow", http.MethodGet)
	http.Error(writer, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	return false
}

func writeJSON(writer http.ResponseWriter, v interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		log.WithError(err).Debug("failed to write api response")
	}
}
