//
// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package server exposes the engine over HTTP. Handlers fetch records from a
// records.Source, hand them to the engine and serialize the released result.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	log "github.com/golang/glog"
	"github.com/google/differential-privacy/dpengine/aggregate"
	"github.com/google/differential-privacy/dpengine/budget"
	"github.com/google/differential-privacy/dpengine/engine"
	"github.com/google/differential-privacy/dpengine/metrics"
	"github.com/google/differential-privacy/dpengine/records"
	"github.com/gorilla/mux"
)

// Options configures a Server.
type Options struct {
	// Dataset queried when a request does not name one.
	Dataset string
	// DefaultEpsilon charged when a request does not set epsilon.
	DefaultEpsilon float64
	// CORSOrigin is allowed to call the API from a browser. Empty disables
	// CORS headers.
	CORSOrigin string
	// ShutdownTimeout bounds the graceful shutdown in ListenAndServe.
	ShutdownTimeout time.Duration
}

// Server routes HTTP requests to the engine.
type Server struct {
	engine  *engine.Engine
	source  records.Source
	metrics *metrics.Metrics
	opts    Options
	router  *mux.Router
}

// New returns a Server. m may be nil, in which case /metrics is not served.
func New(e *engine.Engine, src records.Source, m *metrics.Metrics, opts Options) *Server {
	if opts.Dataset == "" {
		opts.Dataset = records.DefaultDataset
	}
	if opts.DefaultEpsilon == 0 {
		opts.DefaultEpsilon = 1.0
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{engine: e, source: src, metrics: m, opts: opts}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.observe, s.cors)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/ehr").Subrouter()
	api.HandleFunc("/dp/lab_average", s.handleLabAverage).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/dp/{kind}", s.handleStatistic).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/budget", s.handleDatasets).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/budget/{dataset}", s.handleBudget).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/all", s.handleListPatients).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/add", s.handleAddPatient).Methods(http.MethodPost, http.MethodOptions)
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Infof("Serving HTTP on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server on %s: %w", addr, err)
	case <-ctx.Done():
	}
	log.Infof("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		log.V(1).Infof("%s %s -> %d in %v", r.Method, route, rec.code, time.Since(start))
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, rec.code)
		}
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.CORSOrigin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", s.opts.CORSOrigin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "*")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON marshals v before writing the header. An unencodable v is
// answered with a 500.
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Errorf("Couldn't encode response: %v", err)
		code = http.StatusInternalServerError
		b, _ = json.Marshal(map[string]string{"error": "couldn't encode response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(b, '\n'))
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidParameter):
		code = http.StatusBadRequest
	case errors.Is(err, engine.ErrBudgetExceeded):
		code = http.StatusTooManyRequests
	case errors.Is(err, records.ErrUnknownDataset):
		code = http.StatusNotFound
	}
	if code == http.StatusInternalServerError {
		log.Errorf("Request failed: %v", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "EHR Privacy API is running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// floatParam returns the query parameter name, def if absent.
func floatParam(r *http.Request, name string, def float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s = %q is not a number", engine.ErrInvalidParameter, name, raw)
	}
	return v, nil
}

func (s *Server) dataset(r *http.Request) string {
	if d := r.URL.Query().Get("dataset"); d != "" {
		return d
	}
	return s.opts.Dataset
}

func (s *Server) query(r *http.Request, kind aggregate.Kind) (*engine.NoisyResult, error) {
	epsilon, err := floatParam(r, "epsilon", s.opts.DefaultEpsilon)
	if err != nil {
		return nil, err
	}
	dataset := s.dataset(r)
	values, err := s.source.Values(r.Context(), dataset)
	if err != nil {
		return nil, err
	}
	return s.engine.Query(r.Context(), engine.Request{
		Handle:  budget.Handle(dataset),
		Values:  values,
		Kind:    kind,
		Epsilon: epsilon,
	})
}

type labAverageResponse struct {
	DPAverage float64 `json:"dp_average"`
	Epsilon   float64 `json:"epsilon"`
}

func (s *Server) handleLabAverage(w http.ResponseWriter, r *http.Request) {
	res, err := s.query(r, aggregate.Mean)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, labAverageResponse{DPAverage: res.Value, Epsilon: res.Epsilon})
}

type statisticResponse struct {
	*engine.NoisyResult
	Kind               string              `json:"kind"`
	Noise              string              `json:"noise"`
	ConfidenceInterval *confidenceInterval `json:"confidence_interval,omitempty"`
}

type confidenceInterval struct {
	Alpha float64 `json:"alpha"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

func (s *Server) handleStatistic(w http.ResponseWriter, r *http.Request) {
	kind, err := aggregate.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidParameter, err))
		return
	}
	alpha, err := floatParam(r, "alpha", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.query(r, kind)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := statisticResponse{NoisyResult: res, Kind: res.Kind.String(), Noise: res.Noise.String()}
	if alpha != 0 {
		// The result is already released; a bad alpha only drops the
		// interval, it must not hide the charged result.
		ci, err := res.ConfidenceInterval(alpha)
		if err != nil {
			log.Warningf("Skipping confidence interval: %v", err)
		} else {
			resp.ConfidenceInterval = &confidenceInterval{Alpha: alpha, Lower: ci.LowerBound, Upper: ci.UpperBound}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	entry, err := s.engine.Budget(r.Context(), budget.Handle(mux.Vars(r)["dataset"]))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	handles, err := s.engine.Datasets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]budget.Handle{"datasets": handles})
}

func (s *Server) patientStore(w http.ResponseWriter) (records.PatientStore, bool) {
	store, ok := s.source.(records.PatientStore)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "the configured source does not store patients"})
	}
	return store, ok
}

func (s *Server) handleListPatients(w http.ResponseWriter, r *http.Request) {
	store, ok := s.patientStore(w)
	if !ok {
		return
	}
	patients, err := store.ListPatients(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patients)
}

func (s *Server) handleAddPatient(w http.ResponseWriter, r *http.Request) {
	store, ok := s.patientStore(w)
	if !ok {
		return
	}
	var p records.Patient
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		writeError(w, fmt.Errorf("%w: couldn't decode patient: %v", engine.ErrInvalidParameter, err))
		return
	}
	id, err := store.AddPatient(r.Context(), p)
	if err != nil {
		code := http.StatusInternalServerError
		if p.Validate() != nil {
			code = http.StatusBadRequest
		}
		writeJSON(w, code, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}
