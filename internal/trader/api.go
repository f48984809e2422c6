package trader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	json "github.com/bytedance/sonic"
	"go.uber.org/zap"

	"paper-trade-engine-go/internal/ledger"
	"paper-trade-engine-go/internal/market"
	"paper-trade-engine-go/internal/notify"
)

// APIServer provides an HTTP interface for the trading engine.
type APIServer struct {
	server *http.Server
	engine *Engine
	events *notify.Buffer
	hub    http.Handler
	logger *zap.Logger
}

// NewAPIServer creates a new APIServer. events and hub are optional.
func NewAPIServer(engine *Engine, port int, events *notify.Buffer, hub http.Handler, logger *zap.Logger) *APIServer {
	s := &APIServer{
		engine: engine,
		events: events,
		hub:    hub,
		logger: logger.Named("api-server"),
	}
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the routes of the API.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /status", s.statusHandler)
	mux.HandleFunc("GET /portfolio", s.portfolioHandler)
	mux.HandleFunc("GET /transactions", s.transactionsHandler)
	mux.HandleFunc("GET /statistics", s.statisticsHandler)
	mux.HandleFunc("GET /market", s.marketHandler)
	mux.HandleFunc("GET /events", s.eventsHandler)
	mux.HandleFunc("GET /risk", s.riskHandler)
	mux.HandleFunc("PUT /risk", s.updateRiskHandler)
	mux.HandleFunc("POST /trade", s.tradeHandler)
	mux.HandleFunc("POST /feedback", s.feedbackHandler)
	mux.HandleFunc("POST /mode", s.modeHandler)
	mux.HandleFunc("POST /profile", s.profileHandler)
	mux.HandleFunc("POST /reset", s.resetHandler)
	if s.hub != nil {
		mux.Handle("GET /ws", s.hub)
	}
	return mux
}

// Run serves until ctx is done, then shuts the server down gracefully.
func (s *APIServer) Run(ctx context.Context) error {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	errc := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		return s.Stop(context.WithoutCancel(ctx))
	}
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError maps the error class to an HTTP status.
func (s *APIServer) writeError(w http.ResponseWriter, err error) {
	class := Classify(err)
	status := http.StatusInternalServerError
	switch class {
	case ClassValidation:
		status = http.StatusBadRequest
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			status = http.StatusNotFound
		}
	case ClassConcurrency:
		status = http.StatusConflict
	case ClassExternal:
		status = http.StatusBadGateway
	case ClassInvariant:
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error(), "class": string(class)})
}

func (s *APIServer) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.ConfigDefault.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.gate.Halted(); err != nil {
		http.Error(w, "HALTED", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *APIServer) portfolioHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Portfolio())
}

// transactionsHandler returns the log most recent first, optionally limited.
func (s *APIServer) transactionsHandler(w http.ResponseWriter, r *http.Request) {
	txs := s.engine.Transactions()
	out := make([]ledger.Transaction, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		out = append(out, txs[i])
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n >= 0 && n < len(out) {
		out = out[:n]
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *APIServer) statisticsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Statistics())
}

// MarketView is one symbol's state with its derived indicators.
type MarketView struct {
	market.State
	Volatility float64        `json:"volatility"`
	Signals    market.Signals `json:"signals"`
}

func (s *APIServer) marketHandler(w http.ResponseWriter, r *http.Request) {
	params := s.engine.LearningParams()
	states := s.engine.Market()
	views := make([]MarketView, 0, len(states))
	for _, st := range states {
		views = append(views, MarketView{
			State:      st,
			Volatility: st.RealizedVolatility(),
			Signals:    market.ComputeSignals(st, params.RsiWeight, params.MacdWeight),
		})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *APIServer) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeJSON(w, http.StatusOK, []notify.Event{})
		return
	}
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		n = 50
	}
	s.writeJSON(w, http.StatusOK, s.events.Recent(n))
}

func (s *APIServer) riskHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.RiskThresholds())
}

func (s *APIServer) updateRiskHandler(w http.ResponseWriter, r *http.Request) {
	cfg := s.engine.RiskThresholds()
	if !s.decode(w, r, &cfg) {
		return
	}
	if err := s.engine.UpdateRisk(r.Context(), cfg); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.RiskThresholds())
}

func (s *APIServer) tradeHandler(w http.ResponseWriter, r *http.Request) {
	var req ManualOrder
	if !s.decode(w, r, &req) {
		return
	}
	tx, err := s.engine.ManualTrade(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}

func (s *APIServer) feedbackHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxID     string          `json:"tx_id"`
		Feedback ledger.Feedback `json:"feedback"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	params, err := s.engine.Feedback(r.Context(), req.TxID, req.Feedback)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, params)
}

func (s *APIServer) modeHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	mode, err := ParseMode(req.Mode)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.engine.SetMode(r.Context(), mode); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *APIServer) profileHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Profile string `json:"profile"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.SetProfile(r.Context(), req.Profile); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *APIServer) resetHandler(w http.ResponseWriter, r *http.Request) {
	wipe, _ := strconv.ParseBool(r.URL.Query().Get("wipe"))
	if err := s.engine.Reset(r.Context(), wipe); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Portfolio())
}
