package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/juralen/tokengate/internal/auth"
	"github.com/juralen/tokengate/internal/token"
)

// forgotPasswordBody is returned for every forgot-password request,
// known and unknown email alike. It must stay byte-identical across
// both paths.
const forgotPasswordBody = `{"message":"If that email address is registered, a reset link has been sent."}`

// Handler exposes the auth flows over JSON HTTP.
type Handler struct {
	log     *zap.Logger
	service *auth.Service
	issuer  *token.Issuer
}

// NewHandler wires the HTTP layer.
func NewHandler(log *zap.Logger, service *auth.Service, issuer *token.Issuer) *Handler {
	return &Handler{log: log, service: service, issuer: issuer}
}

// Router builds the route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.login)
		r.Post("/refresh", h.refresh)
		r.Post("/logout", h.logout)
		r.Post("/forgot-password", h.forgotPassword)
		r.Post("/reset-password", h.resetPassword)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Post("/force-change-password", h.forceChangePassword)
		})
	})

	// Internal surface for the user-management collaborator: the
	// deactivation callback lands here.
	r.Route("/internal", func(r chi.Router) {
		r.Post("/users/{id}/revoke-sessions", h.revokeSessions)
		r.Get("/metrics", h.metrics)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	Role               string `json:"role"`
	MustChangePassword bool   `json:"mustChangePassword"`
}

type tokenPairResponse struct {
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	TokenType    string        `json:"tokenType"`
	ExpiresIn    int64         `json:"expiresIn"`
	User         *userResponse `json:"user,omitempty"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	pair, user, err := h.service.Login(r.Context(), req.Email, req.Password, r.UserAgent())
	if err != nil {
		h.writeDomainError(w, err, false)
		return
	}

	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
		User: &userResponse{
			ID:                 user.ID,
			Email:              user.Email,
			Role:               user.Role,
			MustChangePassword: user.MustChangePassword,
		},
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeDomainError(w, err, false)
		return
	}

	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	// A missing or malformed body still logs out: there is nothing to
	// revoke, and logout is idempotent.
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req.RefreshToken != "" {
		if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
			h.log.Error("logout revocation failed", zap.Error(err))
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.log.Error("password reset request failed", zap.Error(err))
		// Fall through: the response must not change on internal
		// failure either.
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(forgotPasswordBody))
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.writeDomainError(w, err, true)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

type forceChangePasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

func (h *Handler) forceChangePassword(w http.ResponseWriter, r *http.Request) {
	subject, ok := SubjectFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	var req forceChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.service.ForceChangePassword(r.Context(), subject, req.NewPassword); err != nil {
		h.writeDomainError(w, err, false)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *Handler) revokeSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	revoked, err := h.service.ForceLogoutUser(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err, false)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"revoked": revoked})
}

func (h *Handler) metrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Metrics())
}

// writeDomainError maps the auth error taxonomy onto HTTP statuses.
// Reset-password reports an invalid token as 400 rather than 401: the
// caller is not authenticating, their one-time link is just dead.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, invalidTokenAsBadRequest bool) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrInvalidToken):
		if invalidTokenAsBadRequest {
			writeError(w, http.StatusBadRequest, "invalid or expired token")
		} else {
			writeError(w, http.StatusUnauthorized, "invalid token")
		}
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrUserInactive):
		writeError(w, http.StatusForbidden, "user inactive")
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusUnprocessableEntity, "password does not meet policy")
	case errors.Is(err, auth.ErrPasswordChangeNotRequired):
		writeError(w, http.StatusBadRequest, "password change not required")
	default:
		h.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
