package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/plausch/internal/apperror"
	"github.com/sakif/plausch/internal/model"
	"github.com/sakif/plausch/internal/repository"
)

// compile-time check that *DB implements repository.AccountRepository
var _ repository.AccountRepository = (*DB)(nil)

const accountColumns = `id, email, display_name, bio, status, profile_picture, is_confirmed, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.DisplayName,
		&a.Bio,
		&a.Status,
		&a.ProfilePicture,
		&a.IsConfirmed,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindByEmail looks an account up by its normalised email.
// Returns apperror.ErrNotFound if no account has that email.
func (db *DB) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	email = repository.NormalizeEmail(email)
	a, err := scanAccount(db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFoundMessage("no account registered with this email")
		}
		return nil, fmt.Errorf("sqlite: finding account by email: %w", err)
	}
	return a, nil
}

// FindByID returns apperror.ErrNotFound if no account has that id.
func (db *DB) FindByID(ctx context.Context, id int64) (*model.Account, error) {
	a, err := scanAccount(db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: finding account %d: %w", id, err)
	}
	return a, nil
}

// Create hashes the password, then inserts the account inside a
// transaction together with the identifier allocation.
//
// FLOW:
//  1. bcrypt the password (outside the transaction, it is slow)
//  2. BEGIN
//  3. bump the counter, INSERT the row
//  4. run finalize (the caller issues its token here)
//  5. COMMIT
//
// Any failure in 3 or 4 rolls everything back, so a failed Create leaves
// no row behind and can simply be retried.
func (db *DB) Create(ctx context.Context, in repository.NewAccount, finalize repository.FinalizeFunc) (*model.Account, error) {
	email := repository.NormalizeEmail(in.Email)

	hash, err := db.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("sqlite: hashing password: %w", err)
	}

	return repository.WithIDRetry(ctx, func(ctx context.Context) (*model.Account, error) {
		return db.insertAccount(ctx, email, in.DisplayName, hash, finalize)
	})
}

func (db *DB) insertAccount(ctx context.Context, email, displayName, hash string, finalize repository.FinalizeFunc) (*model.Account, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperror.Transient("could not create account", fmt.Errorf("sqlite: beginning transaction: %w", err))
	}
	// Rollback after Commit is a no-op returning sql.ErrTxDone.
	defer tx.Rollback()

	id, err := db.nextID(ctx, tx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a := &model.Account{
		ID:          id,
		Email:       email,
		DisplayName: displayName,
		Status:      model.DefaultStatus,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, display_name, bio, status, profile_picture, is_confirmed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.Email,
		hash,
		a.DisplayName,
		a.Bio,
		a.Status,
		a.ProfilePicture,
		a.IsConfirmed,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return nil, classifyInsertError(err, id)
	}

	if finalize != nil {
		if err := finalize(a); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperror.Transient("could not create account", fmt.Errorf("sqlite: committing account %d: %w", id, err))
	}
	return a, nil
}

// nextID allocates the identifier for a new row.
//
// The table counter never falls behind MAX(id): if rows were inserted
// around it (an import, a restored backup) the next value skips past them.
// Because it runs in the insert transaction, a rollback also returns the
// value, so the table counter itself produces no gaps.
func (db *DB) nextID(ctx context.Context, tx *sql.Tx) (int64, error) {
	if db.allocator != nil {
		id, err := db.allocator.Next(ctx)
		if err != nil {
			return 0, apperror.Transient("could not allocate an account id", err)
		}
		return id, nil
	}

	var id int64
	err := tx.QueryRowContext(ctx, `
		UPDATE account_sequence
		SET value = MAX(value, (SELECT COALESCE(MAX(id), 0) FROM accounts)) + 1
		WHERE name = 'accounts'
		RETURNING value`,
	).Scan(&id)
	if err != nil {
		return 0, apperror.Transient("could not allocate an account id", fmt.Errorf("sqlite: bumping account sequence: %w", err))
	}
	return id, nil
}

// classifyInsertError maps SQLite constraint failures to domain errors.
// Email clashes are conflicts the caller should see; id clashes are
// retried by repository.WithIDRetry.
func classifyInsertError(err error, id int64) error {
	var serr *msqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("sqlite: id %d: %w", id, repository.ErrIDCollision)
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			if strings.Contains(serr.Error(), "accounts.email") {
				return apperror.ConflictMessage("an account with this email already exists")
			}
			if strings.Contains(serr.Error(), "accounts.id") {
				return fmt.Errorf("sqlite: id %d: %w", id, repository.ErrIDCollision)
			}
		}
	}
	return apperror.Transient("could not create account", fmt.Errorf("sqlite: inserting account %d: %w", id, err))
}

// Save writes the mutable attributes of an existing account.
//
// is_confirmed is OR-ed with the stored value so Save can confirm an
// account but never un-confirm one. The stored flag is read back into
// account afterwards.
func (db *DB) Save(ctx context.Context, account *model.Account) error {
	now := time.Now().UTC()
	var confirmed bool
	err := db.conn.QueryRowContext(ctx,
		`UPDATE accounts
		 SET display_name = ?, bio = ?, status = ?, profile_picture = ?,
		     is_confirmed = (is_confirmed OR ?), updated_at = ?
		 WHERE id = ?
		 RETURNING is_confirmed`,
		account.DisplayName,
		account.Bio,
		account.Status,
		account.ProfilePicture,
		account.IsConfirmed,
		now,
		account.ID,
	).Scan(&confirmed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("account", strconv.FormatInt(account.ID, 10))
		}
		return fmt.Errorf("sqlite: saving account %d: %w", account.ID, err)
	}

	account.IsConfirmed = confirmed
	account.UpdatedAt = now
	return nil
}

// Confirm is a single conditional UPDATE, so of two concurrent calls for
// the same id exactly one matches the row.
func (db *DB) Confirm(ctx context.Context, id int64) (*model.Account, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET is_confirmed = 1, updated_at = ?
		 WHERE id = ? AND is_confirmed = 0`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: confirming account %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: confirming account %d: %w", id, err)
	}

	a, err := db.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, apperror.ConflictMessage("email address is already confirmed")
	}
	return a, nil
}

// VerifyPassword compares plaintext with the stored hash. The hash never
// leaves this method.
func (db *DB) VerifyPassword(ctx context.Context, account *model.Account, plaintext string) (bool, error) {
	var hash string
	err := db.conn.QueryRowContext(ctx,
		`SELECT password_hash FROM accounts WHERE id = ?`, account.ID,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, apperror.NotFound("account", strconv.FormatInt(account.ID, 10))
		}
		return false, fmt.Errorf("sqlite: loading password hash for %d: %w", account.ID, err)
	}
	return db.hasher.Verify(hash, plaintext) == nil, nil
}

// MaxID returns the highest identifier in use, 0 for an empty table.
func (db *DB) MaxID(ctx context.Context) (int64, error) {
	var maxID int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM accounts`).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("sqlite: reading max account id: %w", err)
	}
	return maxID, nil
}
