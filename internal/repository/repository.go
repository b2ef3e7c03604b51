// Package repository defines the credential store contract.
//
// The service layer depends on AccountRepository only; sqlite and postgres
// provide the two implementations. Anything that must be atomic (unique
// email, identifier allocation, the confirmation flip) is the store's job,
// so concurrent requests never need locks above this layer.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/sakif/plausch/internal/apperror"
	"github.com/sakif/plausch/internal/model"
)

// NewAccount is the input to Create. Password is plaintext; the store hashes
// it before anything is written.
type NewAccount struct {
	Email       string
	DisplayName string
	Password    string
}

// NormalizeEmail is the canonical form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FinalizeFunc runs inside the insert transaction, after the row exists and
// before commit. Returning an error rolls the insert back.
type FinalizeFunc func(account *model.Account) error

// PasswordHasher is satisfied by auth.PasswordService.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(hash, plaintext string) error
}

// SequenceAllocator hands out account identifiers from outside the
// database (see redisseq). Stores fall back to their own counter when none
// is configured.
type SequenceAllocator interface {
	Next(ctx context.Context) (int64, error)
}

type AccountRepository interface {
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	FindByID(ctx context.Context, id int64) (*model.Account, error)

	// Create hashes the password, allocates an id and inserts the account.
	// A taken email is an apperror.ErrConflict.
	Create(ctx context.Context, in NewAccount, finalize FinalizeFunc) (*model.Account, error)

	// Save persists display attributes and the confirmation flag. The flag
	// only ever moves from false to true; the password hash is untouched.
	Save(ctx context.Context, account *model.Account) error

	// Confirm flips is_confirmed from false to true atomically. It returns
	// apperror.ErrConflict if the account was already confirmed.
	Confirm(ctx context.Context, id int64) (*model.Account, error)

	VerifyPassword(ctx context.Context, account *model.Account, plaintext string) (bool, error)

	MaxID(ctx context.Context) (int64, error)
}

// ErrIDCollision is returned by a single insert attempt whose identifier
// was already taken. WithIDRetry turns it into one retry.
var ErrIDCollision = errors.New("repository: account id already taken")

// idRetryBackoff allows exactly one retry after the first attempt.
func idRetryBackoff() retry.Backoff {
	return retry.WithMaxRetries(1, retry.NewConstant(5*time.Millisecond))
}

// WithIDRetry runs attempt and retries it once if it reports
// ErrIDCollision. A second collision becomes a transient error.
func WithIDRetry(ctx context.Context, attempt func(ctx context.Context) (*model.Account, error)) (*model.Account, error) {
	account, err := retry.DoValue(ctx, idRetryBackoff(), func(ctx context.Context) (*model.Account, error) {
		a, err := attempt(ctx)
		if errors.Is(err, ErrIDCollision) {
			return nil, retry.RetryableError(err)
		}
		return a, err
	})
	if errors.Is(err, ErrIDCollision) {
		return nil, apperror.Transient("could not allocate an account id, please try again", err)
	}
	return account, err
}
