package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"roadcall/internal/auth"
)

type AuthHandler struct {
	Users auth.Users
	JWT   *auth.JWT
	Log   zerolog.Logger
}

type registerReq struct {
	Email             string   `json:"email"`
	Password          string   `json:"password"`
	Role              string   `json:"role"`
	TowTruckTypes     []string `json:"tow_truck_types"`
	CarTypesSupported []string `json:"car_types_supported"`
}

type tokenResp struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	role := auth.Role(strings.ToUpper(strings.TrimSpace(req.Role)))
	if role == "" {
		role = auth.RoleCustomer
	}
	if req.Email == "" || len(req.Password) < 8 || !role.SelfService() {
		http.Error(w, "invalid input", http.StatusBadRequest)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	u := auth.User{
		ID:                 uuid.NewString(),
		Email:              req.Email,
		PasswordHash:       hash,
		Role:               role,
		VerificationStatus: auth.VerificationPending,
		TowTruckTypes:      trimAll(req.TowTruckTypes),
		CarTypesSupported:  trimAll(req.CarTypesSupported),
	}
	if err := h.Users.CreateUser(r.Context(), &u); err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			http.Error(w, "email already used", http.StatusConflict)
			return
		}
		h.Log.Error().Err(err).Msg("create user")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.Log.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Msg("user registered")

	h.issue(w, http.StatusCreated, &u)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		http.Error(w, "invalid input", http.StatusBadRequest)
		return
	}

	u, err := h.Users.UserByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, auth.ErrUserNotFound) {
			h.Log.Error().Err(err).Msg("load user")
		}
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if !auth.ComparePassword(u.PasswordHash, req.Password) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	h.issue(w, http.StatusOK, u)
}

func (h *AuthHandler) issue(w http.ResponseWriter, code int, u *auth.User) {
	token, err := h.JWT.Sign(u.ID, u.Role)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, code, tokenResp{Token: token, UserID: u.ID, Role: string(u.Role)})
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Me echoes the caller's token identity.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, identityResp{UserID: id.UserID, Role: string(id.Role)})
}

type identityResp struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}
