package routes

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"strikelend/gateway/middleware"
	"strikelend/observability"
	"strikelend/oracle"
)

type oracleHandlers struct {
	registry *oracle.Registry
}

type postRoundRequest struct {
	RoundID   uint64 `json:"roundId"`
	Answer    string `json:"answer"`
	UpdatedAt int64  `json:"updatedAt"`
}

func (h *oracleHandlers) postRound(w http.ResponseWriter, r *http.Request) {
	reporter, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "caller identity required"})
		return
	}
	// Feed labels use dashes in URLs; the registry keys pairs with slashes.
	pair := strings.ReplaceAll(strings.TrimSpace(chi.URLParam(r, "feed")), "-", "/")
	feed, ok := h.registry.Feed(pair)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown feed"})
		return
	}
	var req postRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	answer, err := parseAmount(req.Answer)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	err = feed.Post(reporter, oracle.Round{
		RoundID:   req.RoundID,
		Answer:    answer,
		UpdatedAt: req.UpdatedAt,
	})
	observability.Oracle().RecordRound(pair, err == nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uint64{"roundId": req.RoundID})
}
