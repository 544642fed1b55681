package handler

import (
	"errors"
	"net/http"

	"github.com/footballistika/predictor/internal/domain"
	"github.com/footballistika/predictor/internal/service"
)

// Ping is an unauthenticated reachability probe for the web app
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	h.writeOK(w, http.StatusOK, map[string]any{
		"origin": r.Header.Get("Origin"),
	})
}

// Login confirms the initData and returns the caller
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	user := fromContext(r.Context()).user
	h.writeOK(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":       user.ID,
			"username": user.DisplayName(),
		},
	})
}

// Profile returns the caller's prediction statistics
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	user := fromContext(r.Context()).user

	stats, err := h.service.UserStats(r.Context(), user.ID)
	if err != nil {
		h.internalError(w, "failed to load profile", err)
		return
	}

	h.writeOK(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":       user.ID,
			"username": user.DisplayName(),
		},
		"stats": stats,
	})
}

type matchSummary struct {
	ID    int64  `json:"id"`
	Team1 string `json:"team1"`
	Team2 string `json:"team2"`
}

// Matches lists what the caller can still predict, plus every pending match
// with the caller's own prediction attached
func (h *Handler) Matches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := fromContext(ctx).user

	open, err := h.service.ListPendingUnpredictedBy(ctx, user.ID)
	if err != nil {
		h.internalError(w, "failed to list matches", err)
		return
	}
	pending, err := h.service.PendingWithUserPredictions(ctx, user.ID)
	if err != nil {
		h.internalError(w, "failed to list pending matches", err)
		return
	}

	summaries := make([]matchSummary, 0, len(open))
	for _, m := range open {
		summaries = append(summaries, matchSummary{ID: m.ID, Team1: m.Team1, Team2: m.Team2})
	}

	h.writeOK(w, http.StatusOK, map[string]any{
		"prediction_allowed": h.service.WindowOpen(),
		"deadline":           h.service.Gate().Deadline(),
		"matches":            summaries,
		"pending":            pending,
	})
}

// SubmitPrediction records the caller's prediction for one match
func (h *Handler) SubmitPrediction(w http.ResponseWriter, r *http.Request) {
	req := fromContext(r.Context())

	if !h.service.WindowOpen() {
		h.writeError(w, http.StatusBadRequest, CodeDeadlinePassed)
		return
	}

	matchID, ok1 := req.payload.int64Field("match_id")
	score1, ok2 := req.payload.intField("score1")
	score2, ok3 := req.payload.intField("score2")
	if !ok1 || !ok2 || !ok3 {
		h.writeError(w, http.StatusBadRequest, CodeBadPayload)
		return
	}
	if err := domain.ValidateScores(score1, score2); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeScoresOutOfRange)
		return
	}

	prediction, err := h.service.SubmitPrediction(r.Context(), domain.PredictionSubmission{
		MatchID:  matchID,
		UserID:   req.user.ID,
		Username: req.user.DisplayName(),
		Score1:   score1,
		Score2:   score2,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrWindowClosed):
			h.writeError(w, http.StatusBadRequest, CodeDeadlinePassed)
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrMatchNotAvailable):
			h.writeError(w, http.StatusBadRequest, CodeMatchNotAvailable)
		case errors.Is(err, domain.ErrDuplicateKey):
			h.writeError(w, http.StatusConflict, CodeAlreadyPredicted)
		case errors.Is(err, domain.ErrInvalidRange):
			h.writeError(w, http.StatusBadRequest, CodeScoresOutOfRange)
		default:
			h.internalError(w, "failed to record prediction", err)
		}
		return
	}

	h.writeOK(w, http.StatusOK, map[string]any{
		"match_id": prediction.MatchID,
		"score1":   prediction.Score1,
		"score2":   prediction.Score2,
	})
}

// Leaderboard returns the top of the points leaderboard and the caller's row
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	req := fromContext(r.Context())

	rows, err := h.service.Leaderboard(r.Context())
	if err != nil {
		h.internalError(w, "failed to build leaderboard", err)
		return
	}

	limit, _ := req.payload.intField("limit")
	top, own := service.TopWithUser(rows, req.user.ID, h.service.TopLimit(limit))
	h.writeOK(w, http.StatusOK, map[string]any{"top": top, "user": own})
}

// ResultAccuracy returns the outcome-accuracy leaderboard
func (h *Handler) ResultAccuracy(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ResultAccuracyLeaderboard(r.Context())
	if err != nil {
		h.internalError(w, "failed to build result accuracy", err)
		return
	}
	h.writeAccuracy(w, r, rows)
}

// GoalAccuracy returns the per-side goal accuracy leaderboard
func (h *Handler) GoalAccuracy(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.GoalAccuracyLeaderboard(r.Context())
	if err != nil {
		h.internalError(w, "failed to build goal accuracy", err)
		return
	}
	h.writeAccuracy(w, r, rows)
}

func (h *Handler) writeAccuracy(w http.ResponseWriter, r *http.Request, rows []domain.AccuracyEntry) {
	req := fromContext(r.Context())
	limit, _ := req.payload.intField("limit")
	top, own := service.TopWithUser(rows, req.user.ID, h.service.TopLimit(limit))
	h.writeOK(w, http.StatusOK, map[string]any{"top": top, "user": own})
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, "error", err)
	h.writeError(w, http.StatusInternalServerError, CodeInternalError)
}
