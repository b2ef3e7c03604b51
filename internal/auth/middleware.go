package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var errMissingBearer = errors.New("auth: missing bearer token")

// contextKey is unexported so no other package can read or shadow the
// values this package stores in a request context.
type contextKey string

const accountIDKey contextKey = "accountID"

// RequireSession is a middleware for routes that need a logged-in account.
//
// It reads "Authorization: Bearer <token>", verifies it as a SESSION token
// and stores the account id in the request context. A missing, malformed,
// expired or confirmation-kind token stops the chain with 401.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireSession(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := accountIDFromRequest(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="plausch"`)
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized","message":"valid session token required"}`))
				return
			}

			ctx := WithAccountID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithAccountID stores an authenticated account id in ctx. Exported so
// handler tests can fake an authenticated request.
func WithAccountID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, accountIDKey, id)
}

// AccountIDFromContext returns the id stored by RequireSession.
func AccountIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(accountIDKey).(int64)
	return id, ok && id > 0
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func accountIDFromRequest(r *http.Request, tokens *TokenService) (int64, error) {
	raw, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return 0, errMissingBearer
	}
	claims, err := tokens.Verify(raw, KindSession)
	if err != nil {
		return 0, err
	}
	return claims.AccountID()
}
