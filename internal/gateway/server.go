// Package gateway serves the read side of the scanner: a JSON API over the
// latest ranking and market universe, plus a websocket feed that pushes each
// evaluation result to connected clients.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/HellEvro/Arbitrage/internal/store"
	"github.com/HellEvro/Arbitrage/pkg/models"
)

// RankingSource provides the latest evaluation result.
type RankingSource interface {
	GetLatest() []models.ArbitrageOpportunity
}

// MarketSource provides the current market universe.
type MarketSource interface {
	GetCached() []models.MarketInfo
}

type Server struct {
	logger  *zap.Logger
	hub     *Hub
	ranking RankingSource
	markets MarketSource
	quotes  *store.QuoteStore
	srv     *http.Server
	started time.Time
}

func NewServer(addr string, ranking RankingSource, markets MarketSource, quotes *store.QuoteStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:  logger.With(zap.String("component", "gateway")),
		hub:     NewHub(logger),
		ranking: ranking,
		markets: markets,
		quotes:  quotes,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/ranking", s.handleRanking)
	mux.HandleFunc("/internal/markets", s.handleMarkets)
	mux.HandleFunc("/internal/quote", s.handleQuote)
	mux.HandleFunc("/ws", s.handleWS)

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server Started", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// Publish pushes one evaluation result to every websocket client.
func (s *Server) Publish(opportunities []models.ArbitrageOpportunity) {
	if s.hub.ClientCount() == 0 {
		return
	}
	payload, err := json.Marshal(opportunities)
	if err != nil {
		s.logger.Error("JSON Marshal Error", zap.Error(err))
		return
	}
	s.hub.Broadcast(payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":     "ok",
		"uptime_sec": int(time.Since(s.started).Seconds()),
		"symbols":    s.quotes.Len(),
		"clients":    s.hub.ClientCount(),
	})
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	opportunities := s.ranking.GetLatest()
	if opportunities == nil {
		opportunities = []models.ArbitrageOpportunity{}
	}
	writeJSON(w, opportunities)
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.markets.GetCached()
	if markets == nil {
		markets = []models.MarketInfo{}
	}
	writeJSON(w, markets)
}

type quoteRequest struct {
	Symbol         string   `json:"symbol"`
	Exchange       string   `json:"exchange"`
	Price          *float64 `json:"price"`
	TimestampMs    int64    `json:"timestamp_ms"`
	ExchangeSymbol string   `json:"exchange_symbol"`
}

// handleQuote injects one quote directly into the store. Operational escape
// hatch for replaying captured data against a live instance.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Symbol) == "" || strings.TrimSpace(req.Exchange) == "" || req.Price == nil {
		http.Error(w, "symbol, exchange, and price are required", http.StatusBadRequest)
		return
	}
	ts := req.TimestampMs
	if ts <= 0 {
		ts = time.Now().UnixMilli()
	}
	s.quotes.Upsert(store.Update{
		Symbol:       req.Symbol,
		Exchange:     req.Exchange,
		NativeSymbol: req.ExchangeSymbol,
		Mid:          *req.Price,
		TimestampMs:  ts,
	})
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	client := NewClient(conn, s.hub, s.logger)
	s.hub.Register(client)
	client.Start()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
