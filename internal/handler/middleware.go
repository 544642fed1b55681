package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/footballistika/predictor/internal/auth"
)

type contextKey int

const requestKey contextKey = iota

// authRequest is what authenticate attaches to the request context
type authRequest struct {
	user    auth.WebAppUser
	payload payload
}

func fromContext(ctx context.Context) authRequest {
	req, _ := ctx.Value(requestKey).(authRequest)
	return req
}

func authErrorCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpired):
		return CodeExpired
	case errors.Is(err, auth.ErrMissingUser):
		return CodeMissingUser
	case errors.Is(err, auth.ErrBadUserJSON):
		return CodeBadUserJSON
	default:
		return CodeInvalidSignature
	}
}

// authenticate decodes the request body, verifies its initData and records
// the caller's display name before any handler runs.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := readPayload(r)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, CodeBadPayload)
			return
		}

		user, err := h.verifier.Verify(p.initData)
		if err != nil {
			h.logger.Warn("initData verification failed",
				"path", r.URL.Path,
				"origin", r.Header.Get("Origin"),
				"error", err,
			)
			h.writeError(w, http.StatusUnauthorized, authErrorCode(err))
			return
		}

		if err := h.service.EnsureUser(r.Context(), user.ID, user.DisplayName()); err != nil {
			h.logger.Error("failed to record user", "user_id", user.ID, "error", err)
		}

		ctx := context.WithValue(r.Context(), requestKey, authRequest{user: user, payload: p})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin rejects callers outside the configured admin ids
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := fromContext(r.Context()).user
		if !h.game.IsAdmin(user.ID) {
			h.logger.Warn("admin access denied", "user_id", user.ID, "path", r.URL.Path)
			h.writeError(w, http.StatusForbidden, CodeForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
