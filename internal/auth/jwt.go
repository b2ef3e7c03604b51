// Package auth — JWT issuing and verification.
//
// TWO KINDS OF TOKEN:
// Plausch signs two kinds of token with the same HS256 secret:
//
//	confirmation  sub=<account id>  aud=confirmation       emailed, 1h–24h
//	session       sub=<account id>  aud=session name=...   returned on login
//
// The kind travels in the standard "aud" claim and Verify demands the
// expected audience. A confirmation link can therefore never be replayed as
// a login session, nor a session token used to confirm an address.
//
// JWT STRUCTURE (3 base64url parts separated by dots):
//
//	header.payload.signature
//
// The payload is readable by anyone; the signature proves we created it.
// Never put secrets in a payload.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"

	"github.com/sakif/plausch/internal/apperror"
	"github.com/sakif/plausch/internal/model"
)

type TokenKind string

const (
	KindConfirmation TokenKind = "confirmation"
	KindSession      TokenKind = "session"
)

const (
	MinSecretLength        = 16
	DefaultIssuer          = "plausch"
	DefaultConfirmationTTL = 24 * time.Hour
	DefaultSessionTTL      = 100 * time.Hour

	MinConfirmationTTL = time.Hour
	MaxConfirmationTTL = 24 * time.Hour
)

// TokenConfig is injected once at startup. Zero durations and an empty
// issuer fall back to the defaults above.
type TokenConfig struct {
	Secret          string
	Issuer          string
	ConfirmationTTL time.Duration
	SessionTTL      time.Duration
}

// TokenService is stateless after construction and safe for concurrent use.
type TokenService struct {
	secret          []byte
	issuer          string
	confirmationTTL time.Duration
	sessionTTL      time.Duration
	now             func() time.Time
}

func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d characters", MinSecretLength)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.ConfirmationTTL == 0 {
		cfg.ConfirmationTTL = DefaultConfirmationTTL
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.ConfirmationTTL < MinConfirmationTTL || cfg.ConfirmationTTL > MaxConfirmationTTL {
		return nil, fmt.Errorf("auth: confirmation token lifetime %s outside %s–%s",
			cfg.ConfirmationTTL, MinConfirmationTTL, MaxConfirmationTTL)
	}
	if cfg.SessionTTL < 0 {
		return nil, errors.New("auth: session token lifetime must be positive")
	}

	return &TokenService{
		secret:          []byte(cfg.Secret),
		issuer:          cfg.Issuer,
		confirmationTTL: cfg.ConfirmationTTL,
		sessionTTL:      cfg.SessionTTL,
		now:             time.Now,
	}, nil
}

// Claims is the decoded payload of a verified token.
type Claims struct {
	// Name is the display name, set on session tokens only.
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// AccountID parses the subject back into the numeric account id.
func (c *Claims) AccountID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.InvalidToken()
	}
	return id, nil
}

// IssueConfirmationToken signs a token that proves control of the email
// address of account id.
func (s *TokenService) IssueConfirmationToken(id int64) (string, error) {
	return s.sign(Claims{
		RegisteredClaims: s.registered(id, KindConfirmation, s.confirmationTTL),
	})
}

// IssueSessionToken signs a login session for a confirmed account.
func (s *TokenService) IssueSessionToken(a *model.Account) (string, error) {
	if !a.IsConfirmed {
		return "", fmt.Errorf("auth: refusing session token for unconfirmed account %d", a.ID)
	}
	return s.sign(Claims{
		Name:             a.DisplayName,
		RegisteredClaims: s.registered(a.ID, KindSession, s.sessionTTL),
	})
}

func (s *TokenService) registered(id int64, kind TokenKind, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		ID:        xid.New().String(),
		Subject:   strconv.FormatInt(id, 10),
		Audience:  jwt.ClaimStrings{string(kind)},
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *TokenService) sign(c Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer, audience and expiry in one
// pass. Every failure returns apperror.ErrInvalidToken; callers cannot and
// need not tell an expired token from a forged one.
func (s *TokenService) Verify(tokenStr string, kind TokenKind) (*Claims, error) {
	c := &Claims{}
	token, err := jwt.ParseWithClaims(
		tokenStr,
		c,
		func(token *jwt.Token) (any, error) {
			// Algorithm confusion attack: a token signed with "none" or RS256
			// using our secret as a public key must never verify.
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(string(kind)),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, apperror.InvalidToken()
	}

	if _, err := c.AccountID(); err != nil {
		return nil, err
	}
	return c, nil
}
