package postgres

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/sakif/plausch/internal/apperror"
	"github.com/sakif/plausch/internal/model"
	"github.com/sakif/plausch/internal/repository"
)

var _ repository.AccountRepository = (*Store)(nil)

const (
	accountColumns = `id, email, display_name, bio, status, profile_picture, is_confirmed, created_at, updated_at`

	emailConstraint = "accounts_email_key"
	idConstraint    = "accounts_pkey"
)

func scanAccount(row pgx.Row) (*model.Account, error) {
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

// FindByEmail retrieves an account by its normalised email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	email = repository.NormalizeEmail(email)
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(apperror.NotFoundMessage("no account registered with this email"))
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_EMAIL_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}
	return a, nil
}

// FindByID retrieves an account by id.
func (s *Store) FindByID(ctx context.Context, id int64) (*model.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id).
			Wrap(apperror.NotFound("account", strconv.FormatInt(id, 10)))
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").
			With("operation", "get account by id").
			With("id", id).
			Wrap(err)
	}
	return a, nil
}

// Create hashes the password and inserts the account in one transaction
// with finalize. An id collision is retried once.
func (s *Store) Create(ctx context.Context, in repository.NewAccount, finalize repository.FinalizeFunc) (*model.Account, error) {
	email := repository.NormalizeEmail(in.Email)

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	return repository.WithIDRetry(ctx, func(ctx context.Context) (*model.Account, error) {
		return s.insertAccount(ctx, email, in.DisplayName, hash, finalize)
	})
}

func (s *Store) insertAccount(ctx context.Context, email, displayName, hash string, finalize repository.FinalizeFunc) (*model.Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "begin transaction").
			Wrap(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	id, err := s.nextID(ctx, tx)
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

	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (
			id, email, password_hash, display_name, bio, status,
			profile_picture, is_confirmed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
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

	if err := tx.Commit(ctx); err != nil {
		return nil, oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "commit").
			With("id", id).
			Wrap(err)
	}
	committed = true
	return a, nil
}

// nextID draws from the allocator or the sequence. nextval is not rolled
// back with the transaction, so a failed insert leaves a gap.
func (s *Store) nextID(ctx context.Context, tx pgx.Tx) (int64, error) {
	if s.allocator != nil {
		id, err := s.allocator.Next(ctx)
		if err != nil {
			return 0, oops.Code("ACCOUNT_ID_ALLOCATION_FAILED").
				With("allocator", "external").
				Wrap(apperror.Transient("could not allocate an account id", err))
		}
		return id, nil
	}

	var id int64
	if err := tx.QueryRow(ctx, `SELECT nextval('account_id_seq')`).Scan(&id); err != nil {
		return 0, oops.Code("ACCOUNT_ID_ALLOCATION_FAILED").
			With("allocator", "sequence").
			Wrap(apperror.Transient("could not allocate an account id", err))
	}
	return id, nil
}

func classifyInsertError(err error, id int64) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case emailConstraint:
			return oops.Code("ACCOUNT_EMAIL_TAKEN").
				Wrap(apperror.ConflictMessage("an account with this email already exists"))
		case idConstraint:
			return oops.Code("ACCOUNT_ID_COLLISION").
				With("id", id).
				Wrap(repository.ErrIDCollision)
		}
	}
	return oops.Code("ACCOUNT_CREATE_FAILED").
		With("operation", "insert account").
		With("id", id).
		Wrap(err)
}

// Save persists display attributes. is_confirmed is OR-ed with the stored
// value, so it can only move from false to true.
func (s *Store) Save(ctx context.Context, account *model.Account) error {
	var (
		confirmed bool
		updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx, `
		UPDATE accounts
		SET display_name = $1, bio = $2, status = $3, profile_picture = $4,
		    is_confirmed = is_confirmed OR $5, updated_at = now()
		WHERE id = $6
		RETURNING is_confirmed, updated_at
	`,
		account.DisplayName,
		account.Bio,
		account.Status,
		account.ProfilePicture,
		account.IsConfirmed,
		account.ID,
	).Scan(&confirmed, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", account.ID).
			Wrap(apperror.NotFound("account", strconv.FormatInt(account.ID, 10)))
	}
	if err != nil {
		return oops.Code("ACCOUNT_SAVE_FAILED").
			With("id", account.ID).
			Wrap(err)
	}

	account.IsConfirmed = confirmed
	account.UpdatedAt = updatedAt
	return nil
}

// Confirm flips is_confirmed with a conditional UPDATE; only one of any
// number of concurrent callers sees a row come back.
func (s *Store) Confirm(ctx context.Context, id int64) (*model.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `
		UPDATE accounts SET is_confirmed = TRUE, updated_at = now()
		WHERE id = $1 AND NOT is_confirmed
		RETURNING `+accountColumns, id))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_CONFIRM_FAILED").
			With("id", id).
			Wrap(err)
	}

	if _, err := s.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, oops.Code("ACCOUNT_ALREADY_CONFIRMED").
		With("id", id).
		Wrap(apperror.ConflictMessage("email address is already confirmed"))
}

// VerifyPassword compares plaintext with the stored hash.
func (s *Store) VerifyPassword(ctx context.Context, account *model.Account, plaintext string) (bool, error) {
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT password_hash FROM accounts WHERE id = $1`, account.ID).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", account.ID).
			Wrap(apperror.NotFound("account", strconv.FormatInt(account.ID, 10)))
	}
	if err != nil {
		return false, oops.Code("ACCOUNT_VERIFY_PASSWORD_FAILED").
			With("id", account.ID).
			Wrap(err)
	}
	return s.hasher.Verify(hash, plaintext) == nil, nil
}

// MaxID returns the highest id in use, 0 for an empty table.
func (s *Store) MaxID(ctx context.Context) (int64, error) {
	var maxID int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM accounts`).Scan(&maxID); err != nil {
		return 0, oops.Code("ACCOUNT_MAX_ID_FAILED").Wrap(err)
	}
	return maxID, nil
}
