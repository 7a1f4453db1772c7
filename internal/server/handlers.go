package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/api"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/rebalancer"
)

// rebalanceHandler implements POST /rebalance, the HTTP face of the
// engine's sole public entry point.
type rebalanceHandler struct {
	engine *rebalancer.Engine
	log    zerolog.Logger
}

// rebalanceRequest is the request body: holdings keyed by asset identifier,
// plus an optional rebalance date (defaults to now, UTC).
type rebalanceRequest struct {
	Date     string             `json:"date"`
	Holdings map[string]float64 `json:"holdings"`
}

func (h *rebalanceHandler) handle(w http.ResponseWriter, r *http.Request) {
	var req rebalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	date := time.Now().UTC()
	if req.Date != "" {
		parsed, err := time.Parse(time.RFC3339, req.Date)
		if err != nil {
			http.Error(w, "date must be RFC3339", http.StatusBadRequest)
			return
		}
		date = parsed
	}

	holdings := make(map[domain.Asset]float64, len(req.Holdings))
	for asset, alloc := range req.Holdings {
		holdings[domain.Asset(asset)] = alloc
	}

	targets, err := h.engine.Rebalance(date, holdings)
	if err != nil {
		h.log.Error().Err(err).Msg("rebalance failed")
		http.Error(w, "rebalance failed", http.StatusInternalServerError)
		return
	}

	resp := api.Render(targets, date)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Warn().Err(err).Msg("failed to encode rebalance response")
	}
}
