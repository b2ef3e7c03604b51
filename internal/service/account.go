// Package service holds the account lifecycle.
//
// AccountService sits between the HTTP handlers and everything that does
// I/O:
//
//	AccountHandler (HTTP) → AccountService → AccountRepository (DB)
//	                                      ↘ TokenService (JWT)
//	                                      ↘ notify.Gateway (mail)
//
// ACCOUNT STATES:
//
//	Unregistered --Register--> PendingConfirmation --ConfirmEmail--> Confirmed
//
// PendingConfirmation accounts can ask for a new confirmation mail; only
// Confirmed accounts can log in. There is no way back.
//
// CONCURRENCY:
// The service keeps no mutable state. Duplicate registrations and repeated
// confirmations are settled by the store (unique email constraint,
// conditional UPDATE), so the service never takes a lock.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sakif/plausch/internal/apperror"
	"github.com/sakif/plausch/internal/auth"
	"github.com/sakif/plausch/internal/model"
	"github.com/sakif/plausch/internal/notify"
	"github.com/sakif/plausch/internal/repository"
)

// Delivery reports what happened to a confirmation mail.
type Delivery string

const (
	DeliverySent   Delivery = "sent"
	DeliveryFailed Delivery = "failed"
)

// RegisterResult is returned by Register. The account exists whatever
// Delivery says; a failed mail can be retried with ResendConfirmation.
type RegisterResult struct {
	Account  *model.Account
	Delivery Delivery
}

// ConfirmResult is returned by ConfirmEmail.
type ConfirmResult struct {
	Account      *model.Account
	SessionToken string
}

// AccountService implements registration, confirmation and login.
//
// DEPENDENCIES (injected via NewAccountService):
//   - accounts    repository.AccountRepository → credential store
//   - tokens      *auth.TokenService           → confirmation and session JWTs
//   - mailer      notify.Gateway               → confirmation mail (usually a Dispatcher)
//   - confirmURL  string                       → frontend page the mail links to
type AccountService struct {
	accounts   repository.AccountRepository
	tokens     *auth.TokenService
	mailer     notify.Gateway
	confirmURL string
	logger     *slog.Logger
}

func NewAccountService(
	accounts repository.AccountRepository,
	tokens *auth.TokenService,
	mailer notify.Gateway,
	confirmURL string,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		accounts:   accounts,
		tokens:     tokens,
		mailer:     mailer,
		confirmURL: confirmURL,
		logger:     logger,
	}
}

// Register creates a PendingConfirmation account and mails the
// confirmation link.
//
// FLOW:
//  1. Validate input (email format, display name, password length)
//  2. Reject a known email early, without paying for bcrypt
//  3. Create the account; the confirmation token is issued inside the
//     insert transaction, so a token failure leaves no account behind
//  4. Send the mail, after commit and outside any transaction
//
// Step 2 is only a shortcut. Two concurrent registrations can both pass
// it; the store's unique constraint lets exactly one of them through.
func (s *AccountService) Register(ctx context.Context, email, displayName, password string) (_ *RegisterResult, err error) {
	defer func() { recordOperation(opRegister, err) }()

	in := registerInput{
		Email:       repository.NormalizeEmail(email),
		DisplayName: strings.TrimSpace(displayName),
		Password:    password,
	}
	if err := in.Validate(); err != nil {
		return nil, validationError(err)
	}

	_, err = s.accounts.FindByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return nil, apperror.ConflictMessage("an account with this email already exists")
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, storeError("could not register account", err)
	}

	var token string
	account, err := s.accounts.Create(ctx, repository.NewAccount{
		Email:       in.Email,
		DisplayName: in.DisplayName,
		Password:    in.Password,
	}, func(a *model.Account) error {
		t, err := s.tokens.IssueConfirmationToken(a.ID)
		if err != nil {
			return apperror.Transient("could not issue confirmation token", err)
		}
		token = t
		return nil
	})
	if err != nil {
		return nil, storeError("could not register account", err)
	}

	s.logger.InfoContext(ctx, "account registered",
		slog.Int64("accountID", account.ID),
		slog.String("email", account.Email),
	)

	result := &RegisterResult{Account: account, Delivery: DeliverySent}
	if err := s.sendConfirmation(ctx, account, token, false); err != nil {
		s.logger.WarnContext(ctx, "confirmation mail not delivered, account kept",
			slog.Int64("accountID", account.ID),
			slog.String("error", err.Error()),
		)
		result.Delivery = DeliveryFailed
	}
	return result, nil
}

// ResendConfirmation mails a fresh confirmation token. Tokens sent earlier
// stay valid until they expire.
func (s *AccountService) ResendConfirmation(ctx context.Context, email string) (err error) {
	defer func() { recordOperation(opResendConfirmation, err) }()

	in := emailInput{Email: repository.NormalizeEmail(email)}
	if err := in.Validate(); err != nil {
		return validationError(err)
	}

	account, err := s.accounts.FindByEmail(ctx, in.Email)
	if err != nil {
		return storeError("could not resend confirmation", err)
	}
	if account.State() == model.StateConfirmed {
		return apperror.ConflictMessage("email address is already confirmed")
	}

	token, err := s.tokens.IssueConfirmationToken(account.ID)
	if err != nil {
		return apperror.Transient("could not issue confirmation token", err)
	}

	// Delivering the mail is the whole point here, so a failure is the
	// caller's failure too.
	if err := s.sendConfirmation(ctx, account, token, true); err != nil {
		return apperror.Transient("confirmation mail could not be sent, please try again", err)
	}
	return nil
}

// ConfirmEmail verifies a confirmation token and moves the account to
// Confirmed. On success the caller gets a session token right away.
//
// Only one of several concurrent calls with the same token succeeds; the
// others see apperror.ErrConflict from the store's conditional update.
func (s *AccountService) ConfirmEmail(ctx context.Context, token string) (_ *ConfirmResult, err error) {
	defer func() { recordOperation(opConfirmEmail, err) }()

	if token == "" {
		return nil, apperror.InvalidToken()
	}
	claims, err := s.tokens.Verify(token, auth.KindConfirmation)
	if err != nil {
		return nil, err
	}
	id, err := claims.AccountID()
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.Confirm(ctx, id)
	if err != nil {
		return nil, storeError("could not confirm email", err)
	}

	s.logger.InfoContext(ctx, "email confirmed", slog.Int64("accountID", account.ID))

	session, err := s.tokens.IssueSessionToken(account)
	if err != nil {
		return nil, apperror.Transient("could not issue session token", err)
	}
	return &ConfirmResult{Account: account, SessionToken: session}, nil
}

// Login returns a session token for a confirmed account.
//
// ORDER OF CHECKS: existence, then confirmation, then password.
// An unknown email and a wrong password produce the same error, so the
// response does not reveal which one it was. An unconfirmed account is
// told so even with a wrong password, which does reveal that the email
// is registered; Register already reveals that through its conflict.
func (s *AccountService) Login(ctx context.Context, email, password string) (_ string, err error) {
	defer func() { recordOperation(opLogin, err) }()

	// An empty password is not short-circuited: it must still lose to the
	// confirmation check, and bcrypt rejects it afterwards.
	if strings.TrimSpace(email) == "" {
		return "", apperror.InvalidCredentials()
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		return "", apperror.InvalidCredentials()
	}
	if err != nil {
		return "", storeError("could not log in", err)
	}

	if account.State() == model.StatePendingConfirmation {
		return "", apperror.NotConfirmed()
	}

	ok, err := s.accounts.VerifyPassword(ctx, account, password)
	if err != nil {
		return "", storeError("could not log in", err)
	}
	if !ok {
		return "", apperror.InvalidCredentials()
	}

	token, err := s.tokens.IssueSessionToken(account)
	if err != nil {
		return "", apperror.Transient("could not issue session token", err)
	}
	return token, nil
}

// Account returns the account with the given id.
func (s *AccountService) Account(ctx context.Context, id int64) (*model.Account, error) {
	if id <= 0 {
		return nil, apperror.ValidationFailed("id", "account id must be a positive number")
	}
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, storeError("could not load account "+strconv.FormatInt(id, 10), err)
	}
	return account, nil
}

// Authenticate verifies a session token and returns the account id it
// was issued for. Confirmation tokens are rejected.
func (s *AccountService) Authenticate(token string) (int64, error) {
	claims, err := s.tokens.Verify(token, auth.KindSession)
	if err != nil {
		return 0, err
	}
	return claims.AccountID()
}

func (s *AccountService) sendConfirmation(ctx context.Context, account *model.Account, token string, resend bool) error {
	msg, err := notify.ConfirmationMessage(notify.ConfirmationRequest{
		To:          account.Email,
		DisplayName: account.DisplayName,
		ConfirmURL:  s.confirmURL,
		Token:       token,
		Resend:      resend,
	})
	if err == nil {
		err = s.mailer.Send(ctx, msg)
	}
	if err != nil {
		recordDelivery(DeliveryFailed)
		return fmt.Errorf("service/account: sending confirmation to account %d: %w", account.ID, err)
	}
	recordDelivery(DeliverySent)
	return nil
}

// storeError passes domain errors through and turns anything else
// (driver failures, lost connections) into a Transient error.
func storeError(message string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return fmt.Errorf("service/account: %w", err)
	}
	return apperror.Transient(message, err)
}
