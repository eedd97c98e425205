// Package api exposes the scoring and explanation service over HTTP:
// prediction, batch prediction, explanation, simulation, the recent
// transaction views, and a websocket stream of newly scored
// transactions. Authentication is deliberately out of scope here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"fraudlens/internal/artifact"
	"fraudlens/internal/explain"
	"fraudlens/internal/metrics"
	"fraudlens/internal/pipeline"
	"fraudlens/internal/storage"
	"fraudlens/internal/txn"
)

// Server serves the fraud scoring API.
type Server struct {
	svc     *explain.Service
	gen     *txn.Generator
	store   *storage.Store // optional; nil disables the transaction views
	metrics *metrics.Metrics
	hub     *Hub
	srv     *http.Server
}

// ExplainRequest is the body of POST /explain.
type ExplainRequest struct {
	Transaction txn.Transaction `json:"transaction"`
	TopK        int             `json:"top_k"`
}

// BatchRequest is the body of POST /batch_predict.
type BatchRequest struct {
	Transactions []txn.Transaction `json:"transactions"`
}

// PredictResponse is the result of scoring one transaction.
type PredictResponse struct {
	Score float64 `json:"score"`
	Label int     `json:"label"`
}

// NewServer builds the HTTP server. store and m may be nil.
func NewServer(svc *explain.Service, gen *txn.Generator, store *storage.Store, m *metrics.Metrics, port int, timeout time.Duration) *Server {
	s := &Server{
		svc:     svc,
		gen:     gen,
		store:   store,
		metrics: m,
		hub:     NewHub(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/predict", s.handlePredict)
	mux.HandleFunc("/batch_predict", s.handleBatchPredict)
	mux.HandleFunc("/explain", s.handleExplain)
	mux.HandleFunc("/simulate", s.handleSimulate)
	mux.HandleFunc("/transactions", s.handleTransactions)
	mux.HandleFunc("/transactions/summary", s.handleSummary)
	mux.HandleFunc("/ws", s.handleWS)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler exposes the routing for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	log.Info().Str("addr", s.srv.Addr).Msg("starting API server")
	return s.srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server and the stream hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var t txn.Transaction
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	score, err := s.svc.Predict(t)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	resp := PredictResponse{Score: score, Label: label(score)}
	s.record(t, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBatchPredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Transactions) == 0 {
		http.Error(w, "transactions cannot be empty", http.StatusBadRequest)
		return
	}

	scores, err := s.svc.PredictBatch(req.Transactions)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	results := make([]PredictResponse, len(scores))
	for i, score := range scores {
		results[i] = PredictResponse{Score: score, Label: label(score)}
		s.record(req.Transactions[i], results[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ExplainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	contribs, err := s.svc.Explain(req.Transaction, req.TopK)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"explanations": contribs})
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	nUsers := queryInt(r, "n_users", 100)
	txPerUser := queryInt(r, "tx_per_user", 5)
	rows := s.gen.GenerateUsers(nUsers, txPerUser)
	if len(rows) > 100 {
		rows = rows[:100]
	}

	// Score best-effort; the simulation stream is useful even when
	// artifacts are absent.
	scores, err := s.svc.PredictBatch(rows)
	if err != nil {
		log.Warn().Err(err).Msg("scoring simulated transactions failed, storing unscored")
		scores = make([]float64, len(rows))
	}

	for i, row := range rows {
		lbl := 0
		if v, ok := row.Float(txn.FieldLabel); ok {
			lbl = int(v)
		}
		s.record(row, PredictResponse{Score: scores[i], Label: lbl})
	}
	if s.metrics != nil {
		s.metrics.Simulations.Add(float64(len(rows)))
	}
	writeJSON(w, http.StatusOK, map[string]int{"inserted": len(rows)})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"transactions": []any{}, "total": 0})
		return
	}

	limit := clampInt(queryInt(r, "limit", 50), 1, 200)
	offset := queryInt(r, "offset", 0)

	f := storage.Filter{
		Merchant:  r.URL.Query().Get("merchant"),
		SortBy:    r.URL.Query().Get("sort_by"),
		SortOrder: r.URL.Query().Get("sort_order"),
	}
	if v := r.URL.Query().Get("user_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.UserID = &id
		}
	}

	items, total, err := s.store.Recent(limit, offset, f)
	if err != nil {
		s.countError()
		http.Error(w, fmt.Sprintf("store read failed: %v", err), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []storage.ScoredTransaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": items,
		"total":        total,
		"offset":       offset,
		"limit":        limit,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, storage.Summary{FraudsPerHour: make([]storage.HourCount, 24)})
		return
	}
	sum, err := s.store.Summary()
	if err != nil {
		s.countError()
		http.Error(w, fmt.Sprintf("store read failed: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// record persists and broadcasts one scored transaction. Both sides are
// best-effort; the scoring response never fails because of them.
func (s *Server) record(t txn.Transaction, resp PredictResponse) {
	rec := storage.ScoredTransaction{Tx: t, Score: resp.Score, Label: resp.Label, Ts: time.Now()}
	if s.store != nil {
		if err := s.store.Put(rec); err != nil {
			s.countError()
			log.Warn().Err(err).Msg("storing scored transaction failed")
		}
	}
	s.hub.Broadcast(rec)
}

// writeServiceError translates the core error taxonomy into transport
// responses: schema problems are the caller's fault, artifact problems
// mean the service cannot serve yet, and explanation failures keep the
// original {"error": ...} contract.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	s.countError()
	switch {
	case errors.Is(err, pipeline.ErrSchemaMismatch):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, artifact.ErrMissing), errors.Is(err, artifact.ErrCorrupt):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
	}
}

func (s *Server) countError() {
	if s.metrics != nil {
		s.metrics.ErrorsTotal.Inc()
	}
}

func label(score float64) int {
	if score > 0.5 {
		return 1
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response failed")
	}
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
