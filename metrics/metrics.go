package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spirit-labs/tekagg/conf"
	"github.com/spirit-labs/tekagg/errors"
	log "github.com/spirit-labs/tekagg/logger"
)

type (
	CounterOpts   = prometheus.CounterOpts
	HistogramOpts = prometheus.HistogramOpts
)

// Handler serves the aggregation counters registered with the default registry.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			DisableCompression: true,
		}),
	)
}

// Server exposes /metrics on the configured bind address while a query runs.
type Server struct {
	bind       string
	listener   net.Listener
	httpServer *http.Server
}

func NewServer(config conf.Config) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return &Server{
		bind:       config.MetricsBind,
		httpServer: &http.Server{Handler: mux},
	}
}

// Start binds synchronously so that an address in use is reported to the caller.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return errors.NewTekaggErrorf(errors.Unavailable, "cannot bind metrics server to %s: %v", s.bind, err)
	}
	s.listener = listener
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server on %s failed: %v", s.bind, err)
		}
	}()
	log.Debugf("serving aggregation metrics on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Stop() error {
	if s.listener == nil {
		return nil
	}
	return s.httpServer.Close()
}
