package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"webcamctl"
)

// Controls is the part of the controller the API drives
type Controls interface {
	Reload(ctx context.Context) error
	Table() webcamctl.Table
	Control(name string) (webcamctl.Control, bool)
	Enabled(name string) bool
	CommitValue(ctx context.Context, name string, pos float64) (value int64, written bool, err error)
	SetBoolean(ctx context.Context, name string, on bool) error
	Subscribe(fn func(webcamctl.Event)) (cancel func())
}

type APIServer struct {
	srv      http.Server
	mux      *mux.Router
	hub      *Hub
	controls Controls
	capturer webcamctl.Capturer
	snapshot string
	// one capture at a time, the output file is shared
	snapshotMtx sync.Mutex
	logger      *zap.SugaredLogger
	cancel   func()
}

type Options struct {
	Addr string
	// file written by POST /snapshot
	SnapshotPath string
	Gatherer     prometheus.Gatherer
	Logger       *zap.SugaredLogger
}

func New(controls Controls, capturer webcamctl.Capturer, opts Options) *APIServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	result := &APIServer{
		controls: controls,
		capturer: capturer,
		snapshot: opts.SnapshotPath,
		logger:   logger,
	}
	result.mux = mux.NewRouter()
	result.srv.Addr = opts.Addr
	result.srv.ReadHeaderTimeout = 10 * time.Second
	headersOk := handlers.AllowedHeaders([]string{"*"})
	originsOk := handlers.AllowedOrigins([]string{"*"})
	methodsOk := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT", "OPTIONS"})

	result.srv.Handler = handlers.CORS(originsOk, headersOk, methodsOk)(result.mux)

	api := result.mux.PathPrefix("/control/api/v1").Subrouter()
	api.HandleFunc("/controls", result.GetControls).Methods("GET")
	api.HandleFunc("/controls/{name}", result.GetControl).Methods("GET")
	api.HandleFunc("/controls/{name}", result.PutControl).Methods("PUT")
	api.HandleFunc("/controls/{name}/switch", result.PutSwitch).Methods("PUT")
	api.HandleFunc("/reload", result.PostReload).Methods("POST")
	api.HandleFunc("/snapshot", result.PostSnapshot).Methods("POST")
	api.HandleFunc("/event/websocket", result.EventWebsocket)

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	result.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	result.hub = NewHub(logger)
	go result.hub.run()
	result.cancel = controls.Subscribe(result.broadcastEvent)

	return result
}

// Handler returns the root handler, CORS included
func (s *APIServer) Handler() http.Handler {
	return s.srv.Handler
}

func (s *APIServer) ListenAndServe() error {
	s.logger.Infow("listening", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting requests, detaches from the controller and closes websocket clients
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.cancel()
	err := s.srv.Shutdown(ctx)
	s.hub.stop()
	return err
}
