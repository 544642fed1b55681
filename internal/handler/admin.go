package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/footballistika/predictor/internal/domain"
)

// CreateMatch schedules a new match
func (h *Handler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	p := fromContext(r.Context()).payload

	match, err := h.service.CreateMatch(r.Context(), p.get("team1"), p.get("team2"))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTeams) {
			h.writeError(w, http.StatusBadRequest, CodeInvalidTeams)
			return
		}
		h.internalError(w, "failed to create match", err)
		return
	}

	h.writeOK(w, http.StatusCreated, map[string]any{"match": match})
}

// PendingMatches returns the result-entry queue and its head
func (h *Handler) PendingMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := h.service.ListPending(r.Context())
	if err != nil {
		h.internalError(w, "failed to list pending matches", err)
		return
	}

	var next *domain.Match
	if len(matches) > 0 {
		next = &matches[0]
	}
	h.writeOK(w, http.StatusOK, map[string]any{"matches": matches, "next": next})
}

// SetResult records a final score and settles the match
func (h *Handler) SetResult(w http.ResponseWriter, r *http.Request) {
	p := fromContext(r.Context()).payload

	matchID, err := strconv.ParseInt(chi.URLParam(r, "matchID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeBadPayload)
		return
	}
	score1, ok1 := p.intField("score1")
	score2, ok2 := p.intField("score2")
	if !ok1 || !ok2 {
		h.writeError(w, http.StatusBadRequest, CodeBadPayload)
		return
	}

	match, awards, err := h.service.MarkFinished(r.Context(), matchID, score1, score2)
	if err != nil {
		switch {
		case domain.IsNotFoundError(err):
			h.writeError(w, http.StatusNotFound, CodeNotFound)
		case errors.Is(err, domain.ErrInvalidRange):
			h.writeError(w, http.StatusBadRequest, CodeScoresOutOfRange)
		default:
			h.internalError(w, "failed to settle match", err)
		}
		return
	}

	h.writeOK(w, http.StatusOK, map[string]any{"match": match, "awards": awards})
}

// Averages returns the mean predicted score per match
func (h *Handler) Averages(w http.ResponseWriter, r *http.Request) {
	includeFinished, _ := strconv.ParseBool(r.URL.Query().Get("include_finished"))

	averages, err := h.service.AveragePerMatch(r.Context(), includeFinished)
	if err != nil {
		h.internalError(w, "failed to compute averages", err)
		return
	}
	if averages == nil {
		averages = []domain.MatchAverage{}
	}
	h.writeOK(w, http.StatusOK, map[string]any{"averages": averages})
}

// PendingPredictions lists every prediction on matches without a result
func (h *Handler) PendingPredictions(w http.ResponseWriter, r *http.Request) {
	grouped, err := h.service.PendingPredictions(r.Context())
	if err != nil {
		h.internalError(w, "failed to list predictions", err)
		return
	}
	if grouped == nil {
		grouped = []domain.MatchPredictions{}
	}
	h.writeOK(w, http.StatusOK, map[string]any{"matches": grouped})
}

// GetRules returns the current points rule
func (h *Handler) GetRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.Rules(r.Context())
	if err != nil {
		h.internalError(w, "failed to load rules", err)
		return
	}
	h.writeOK(w, http.StatusOK, map[string]any{"rules": rules})
}

// UpdateRules replaces the points rule and rescales past settlements
func (h *Handler) UpdateRules(w http.ResponseWriter, r *http.Request) {
	p := fromContext(r.Context()).payload

	exact, ok1 := p.intField("exact_points")
	result, ok2 := p.intField("result_points")
	if !ok1 || !ok2 {
		h.writeError(w, http.StatusBadRequest, CodeBadPayload)
		return
	}

	rules, err := h.service.UpdateRules(r.Context(), domain.PointsRule{ExactPoints: exact, ResultPoints: result})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRules) {
			h.writeError(w, http.StatusBadRequest, CodeInvalidRules)
			return
		}
		h.internalError(w, "failed to update rules", err)
		return
	}
	h.writeOK(w, http.StatusOK, map[string]any{"rules": rules})
}
