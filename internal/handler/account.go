package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/plausch/internal/apperror"
	"github.com/sakif/plausch/internal/auth"
	"github.com/sakif/plausch/internal/model"
	"github.com/sakif/plausch/internal/service"
)

// maxBodyBytes caps request bodies; every payload here is a few fields.
const maxBodyBytes = 1 << 20

// Success messages shown by the frontend.
const (
	msgRegistered     = "Registrierung erfolgreich. Bitte überprüfe deine E-Mails."
	msgDeliveryFailed = "Die Bestätigungs-E-Mail konnte nicht gesendet werden. Fordere sie bitte erneut an."
	msgResent         = "Bestätigungs-E-Mail wurde erneut gesendet."
	msgEmailConfirmed = "E-Mail erfolgreich bestätigt. Du kannst dich nun anmelden."
)

// AccountManager is the subset of service.AccountService the handler
// needs. Tests substitute a fake.
type AccountManager interface {
	Register(ctx context.Context, email, displayName, password string) (*service.RegisterResult, error)
	ResendConfirmation(ctx context.Context, email string) error
	ConfirmEmail(ctx context.Context, token string) (*service.ConfirmResult, error)
	Login(ctx context.Context, email, password string) (string, error)
	Account(ctx context.Context, id int64) (*model.Account, error)
}

var _ AccountManager = (*service.AccountService)(nil)

// AccountHandler exposes the account lifecycle over HTTP.
//
// ROUTES (wired in server.go):
//
//	POST /accounts                      → HandleRegister
//	POST /accounts/resend-confirmation  → HandleResendConfirmation
//	PUT  /accounts/confirm-email        → HandleConfirmEmail
//	POST /accounts/login                → HandleLogin
//	GET  /accounts/me                   → HandleMe (RequireSession)
//	GET  /accounts/{id}                 → HandleGetByID
type AccountHandler struct {
	accounts AccountManager
	logger   *slog.Logger
}

func NewAccountHandler(accounts AccountManager, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		logger:   logger,
	}
}

type registerRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type confirmRequest struct {
	Token string `json:"token"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// MessageResponse carries a user-facing message. Warning is set when the
// request succeeded but a side effect did not.
type MessageResponse struct {
	Msg     string `json:"msg"`
	Warning string `json:"warning,omitempty"`
}

type ConfirmResponse struct {
	Msg          string `json:"msg"`
	SessionToken string `json:"sessionToken"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// HandleRegister creates an account and sends the confirmation mail.
//
// HTTP: POST /accounts
// Body: {"email": "...", "displayName": "...", "password": "..."}
//
// A mail that could not be delivered does not fail the request: the
// account exists, so the response is still 201 and carries a warning.
func (h *AccountHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.accounts.Register(r.Context(), req.Email, req.DisplayName, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := MessageResponse{Msg: msgRegistered}
	if res.Delivery == service.DeliveryFailed {
		resp.Warning = msgDeliveryFailed
	}
	h.writeJSON(w, r, http.StatusCreated, resp)
}

// HandleResendConfirmation mails a fresh confirmation link.
//
// HTTP: POST /accounts/resend-confirmation
// Body: {"email": "..."}
func (h *AccountHandler) HandleResendConfirmation(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.accounts.ResendConfirmation(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, MessageResponse{Msg: msgResent})
}

// HandleConfirmEmail confirms the address the token was mailed to.
//
// HTTP: PUT /accounts/confirm-email?token=...
// The token may also be sent as {"token": "..."}; the query wins.
func (h *AccountHandler) HandleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var req confirmRequest
		if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, r, err)
			return
		}
		token = req.Token
	}

	res, err := h.accounts.ConfirmEmail(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, ConfirmResponse{
		Msg:          msgEmailConfirmed,
		SessionToken: res.SessionToken,
	})
}

// HandleLogin exchanges credentials for a session token.
//
// HTTP: POST /accounts/login
// Body: {"email": "...", "password": "..."}
func (h *AccountHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	token, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, TokenResponse{Token: token})
}

// HandleMe returns the account the session token belongs to.
//
// HTTP: GET /accounts/me
// Auth: Required (RequireSession puts the account id in the context)
func (h *AccountHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		// Only reachable if the route was wired without RequireSession.
		h.writeError(w, r, &apperror.AppError{Err: apperror.ErrUnauthorized, Message: "valid session token required"})
		return
	}

	account, err := h.accounts.Account(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, account)
}

// HandleGetByID returns a public account record.
//
// HTTP: GET /accounts/{id}
func (h *AccountHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, r, apperror.ValidationFailed("id", "account id must be a number"))
		return
	}

	account, err := h.accounts.Account(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, account)
}

// decodeJSON reads a size-limited JSON body into dst. An empty body is
// returned as io.EOF so callers with optional bodies can tell it apart.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return &apperror.AppError{Err: errors.Join(apperror.ErrValidation, io.EOF), Message: "request body is empty", Field: "body"}
	default:
		return apperror.ValidationFailed("body", "request body must be valid JSON")
	}
}
