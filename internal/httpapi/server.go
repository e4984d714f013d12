package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"shadowdesk/internal/domain"
	"shadowdesk/internal/engine"
	"shadowdesk/internal/shadow"
	"shadowdesk/internal/store"
)

// dayFormat is the date layout accepted in query parameters.
const dayFormat = "2006-01-02"

// defaultPnLDays is the P&L window served when the query gives no range.
const defaultPnLDays = 30

// Server serves the control-plane API over the stores and the kill switch.
type Server struct {
	accounts store.AccountStore
	trades   store.TradeStore
	pnl      store.PnLStore
	docs     store.DocStore
	kill     *engine.KillSwitch
	log      *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewServer builds the API server.
func NewServer(accounts store.AccountStore, trades store.TradeStore, pnl store.PnLStore, docs store.DocStore, kill *engine.KillSwitch, log *slog.Logger) *Server {
	return &Server{
		accounts: accounts,
		trades:   trades,
		pnl:      pnl,
		docs:     docs,
		kill:     kill,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the server's notion of now.
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/accounts", s.handleAccounts)
	mux.HandleFunc("GET /api/algos", s.handleAlgos)
	mux.HandleFunc("GET /api/accounts/{id}", s.handleAccount)
	mux.HandleFunc("GET /api/accounts/{id}/positions", s.handlePositions)
	mux.HandleFunc("GET /api/accounts/{id}/pnl", s.handlePnL)
	mux.HandleFunc("POST /api/accounts/{id}/killswitch", s.handleKillSwitch(true))
	mux.HandleFunc("DELETE /api/accounts/{id}/killswitch", s.handleKillSwitch(false))
	mux.HandleFunc("GET /api/subscriptions/{id}/book", s.handleBook)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// pathID parses the {id} path segment.
func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "time": s.now().Format(time.RFC3339)})
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := s.accounts.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]AccountJSON, 0, len(accts))
	for _, a := range accts {
		out = append(out, AccountJSON{Account: a})
	}
	writeJSON(w, out)
}

func (s *Server) handleAlgos(w http.ResponseWriter, r *http.Request) {
	subs, err := s.accounts.ListSubscriptions(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	counts := make(map[string]int)
	for _, sub := range subs {
		counts[sub.Algo]++
	}
	writeJSON(w, counts)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad account id")
		return
	}
	acct, err := s.accounts.GetAccount(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no such account")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	subs, err := s.accounts.ListAccountSubscriptions(r.Context(), id, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := AccountJSON{Account: *acct}
	for _, sub := range subs {
		amount, err := s.accounts.Investment(r.Context(), sub.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out.Subscriptions = append(out.Subscriptions, SubscriptionJSON{
			Subscription: sub,
			Investment:   amount,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad account id")
		return
	}
	onlyActive := r.URL.Query().Get("all") == ""
	subs, err := s.accounts.ListAccountSubscriptions(r.Context(), id, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := PositionsResponse{AccountID: id, Positions: make(map[int64][]domain.Position)}
	for _, sub := range subs {
		positions, err := s.trades.ListPositions(r.Context(), sub.ID, onlyActive)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(positions) > 0 {
			resp.Positions[sub.ID] = positions
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad account id")
		return
	}
	end := s.now()
	start := end.AddDate(0, 0, -defaultPnLDays)
	if v := r.URL.Query().Get("start"); v != "" {
		if start, err = time.Parse(dayFormat, v); err != nil {
			writeError(w, http.StatusBadRequest, "bad start date")
			return
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if end, err = time.Parse(dayFormat, v); err != nil {
			writeError(w, http.StatusBadRequest, "bad end date")
			return
		}
	}
	rows, err := s.pnl.ListPnL(r.Context(), id, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, PnLResponse{AccountID: id, Rows: rows})
}

// handleKillSwitch serves both directions of the switch: POST activates,
// DELETE releases.
func (s *Server) handleKillSwitch(activate bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad account id")
			return
		}
		sides, err := requestSides(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if activate {
			err = s.kill.Activate(r.Context(), id, sides...)
		} else {
			err = s.kill.Release(r.Context(), id, sides...)
		}
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no such account")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		action := "released"
		if activate {
			action = "activated"
		}
		s.log.Info("kill switch "+action, "account", id, "sides", sides)
		writeJSON(w, map[string]string{"status": action})
	}
}

// requestSides reads the optional side selector from the body or query.
// Empty means both sides.
func requestSides(r *http.Request) ([]domain.Side, error) {
	var req KillSwitchRequest
	if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("bad request body: %w", err)
		}
	}
	if req.Side == "" {
		req.Side = r.URL.Query().Get("side")
	}
	switch req.Side {
	case "":
		return nil, nil
	case "long":
		return []domain.Side{domain.SideBuy}, nil
	case "short":
		return []domain.Side{domain.SideSell}, nil
	}
	return nil, fmt.Errorf("bad side %q, want long or short", req.Side)
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad subscription id")
		return
	}
	raw, err := s.docs.GetDoc(r.Context(), id, shadow.DocKey)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no shadow document")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	doc := &shadow.Doc{}
	if err := json.Unmarshal(raw, doc); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	doc.Normalize()
	long, short := shadow.Compute(doc)
	writeJSON(w, BookResponse{
		SubscriptionID: id,
		Doc:            doc,
		Long:           long,
		Short:          short,
	})
}
