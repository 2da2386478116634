// Copyright 2024 The Tekagg Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spirit-labs/tekagg/compress"
	"github.com/spirit-labs/tekagg/conf"
	"github.com/spirit-labs/tekagg/errors"
	"github.com/spirit-labs/tekagg/execution"
	log "github.com/spirit-labs/tekagg/logger"
	"github.com/spirit-labs/tekagg/metrics"
	"github.com/spirit-labs/tekagg/planner"
	"github.com/spirit-labs/tekagg/qcache"
	"github.com/spirit-labs/tekagg/tasks"
	"golang.org/x/net/http2"
)

const (
	AggregatePath     = "/aggregate"
	stateContentType  = "application/x-tekagg-groups"
	maxRequestBodyLen = 1024 * 1024
)

// Server executes aggregations on behalf of remote callers and streams back the encoded group state.
type Server struct {
	lock          sync.Mutex
	listenAddress string
	tlsConf       conf.TLSConfig
	planner       *planner.Planner
	cache         *qcache.Cache
	numWorkers    int
	listener      net.Listener
	httpServer    *http.Server
	closeWg       sync.WaitGroup
}

func NewServer(cfg *conf.Config, planner *planner.Planner, cache *qcache.Cache) *Server {
	return &Server{
		listenAddress: cfg.RemoteListenAddress,
		tlsConf:       cfg.RemoteTLSConfig,
		planner:       planner,
		cache:         cache,
		numWorkers:    cfg.MergeWorkerCount,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(AggregatePath, s.handleAggregate)
	return mux
}

func (s *Server) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	tlsConf, err := conf.CreateServerTLSConfig(s.tlsConf)
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if tlsConf != nil {
		if err := http2.ConfigureServer(s.httpServer, nil); err != nil {
			return errors.WithStack(err)
		}
	}
	s.listener, err = net.Listen("tcp", s.listenAddress)
	if err != nil {
		return errors.WithStack(err)
	}
	s.closeWg = sync.WaitGroup{}
	s.closeWg.Add(1)
	go func() {
		defer s.closeWg.Done()
		var err error
		if tlsConf != nil {
			err = s.httpServer.ServeTLS(s.listener, "", "")
		} else {
			err = s.httpServer.Serve(s.listener)
		}
		if !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("remote executor failed to serve: %v", err)
		}
	}()
	log.Infof("remote executor listening on %s", s.listener.Addr().String())
	return nil
}

// Addr returns the address the server is listening on, or "" if it has not been started.
func (s *Server) Addr() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.WithStack(err)
	}
	s.closeWg.Wait()
	s.httpServer = nil
	s.listener = nil
	log.Infof("remote executor stopped")
	return nil
}

func (s *Server) handleAggregate(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	defer func() {
		metrics.RemoteDuration.WithLabelValues("server").Observe(time.Since(start).Seconds())
	}()
	req := &tasks.RemoteAggregateRequest{}
	body, err := io.ReadAll(io.LimitReader(request.Body, maxRequestBodyLen))
	if err != nil {
		metrics.RemoteRequests.WithLabelValues("server", "error").Inc()
		writeError(errors.NewRuntimeErrorf("failed to read request body: %v", err), writer)
		return
	}
	if err := json.Unmarshal(body, req); err != nil {
		metrics.RemoteRequests.WithLabelValues("server", "error").Inc()
		writeError(errors.NewRuntimeErrorf("invalid JSON in body: %v", err), writer)
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if err := s.execute(request, req, writer); err != nil {
		metrics.RemoteRequests.WithLabelValues("server", "error").Inc()
		log.Warnf("remote aggregation %s on table %s failed: %v", req.RequestID, req.Table, err)
		writeError(err, writer)
		return
	}
	metrics.RemoteRequests.WithLabelValues("server", "ok").Inc()
}

func (s *Server) execute(request *http.Request, req *tasks.RemoteAggregateRequest, writer http.ResponseWriter) error {
	execCtx, err := execution.NewContext(request.Context(), s.cache, s.numWorkers)
	if err != nil {
		return err
	}
	defer execCtx.Release()
	query := &planner.AggregateQuery{
		Table:      req.Table,
		SelectList: req.SelectList,
		GroupList:  req.GroupList,
		Partitions: req.Partitions,
	}
	agg, plan, err := s.planner.Build(request.Context(), query, execCtx)
	if err != nil {
		return err
	}
	if req.PlanFingerprint != "" && req.PlanFingerprint != plan.Fingerprint {
		return errors.NewRuntimeErrorf("plan fingerprint mismatch for request %s: expected %s got %s",
			req.RequestID, req.PlanFingerprint, plan.Fingerprint)
	}
	compressionType := compress.FromString(request.Header.Get("Accept-Encoding"))
	if compressionType == compress.CompressionTypeUnknown {
		compressionType = compress.CompressionTypeNone
	}
	sw := &stateWriter{rw: writer, compressionType: compressionType}
	if err := tasks.ExecuteRemote(agg, execCtx, sw); err != nil {
		if sw.started() {
			// the status has already been sent, the client will see a truncated stream
			return errors.NewRuntimeErrorf("failed after streaming started: %v", err)
		}
		return err
	}
	if log.DebugEnabled {
		log.Debugf("remote aggregation %s completed %d of %d subtasks", req.RequestID,
			execCtx.NumSubtasksCompleted(), execCtx.NumSubtasksTotal())
	}
	return sw.Close()
}

// stateWriter defers sending the response status until the first byte of group state is written, so that
// errors during accumulation can still be returned as an error response.
type stateWriter struct {
	rw              http.ResponseWriter
	compressionType compress.CompressionType
	cw              io.WriteCloser
}

func (s *stateWriter) started() bool {
	return s.cw != nil
}

func (s *stateWriter) Write(p []byte) (int, error) {
	if s.cw == nil {
		s.rw.Header().Set("Content-Type", stateContentType)
		s.rw.Header().Set("Content-Encoding", s.compressionType.ContentEncoding())
		s.rw.WriteHeader(http.StatusOK)
		cw, err := compress.NewWriter(s.compressionType, s.rw)
		if err != nil {
			return 0, err
		}
		s.cw = cw
	}
	return s.cw.Write(p)
}

func (s *stateWriter) Close() error {
	if s.cw == nil {
		return nil
	}
	return errors.WithStack(s.cw.Close())
}

func writeError(err error, writer http.ResponseWriter) {
	var terr errors.TekaggError
	if !errors.As(err, &terr) {
		terr = errors.NewInternalError(err)
	}
	statusCode := http.StatusBadRequest
	switch terr.Code {
	case errors.InternalError:
		statusCode = http.StatusInternalServerError
	case errors.NotFound:
		statusCode = http.StatusNotFound
	case errors.Unavailable:
		statusCode = http.StatusServiceUnavailable
	}
	// the code travels in the message so the client can rebuild the error
	http.Error(writer, fmt.Sprintf("TEK%04d - %s", terr.Code, terr.Msg), statusCode)
}
