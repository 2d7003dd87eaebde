// Package database provides the persistence layers of the auth core.
//
// PostgreSQL holds durable records: users, the activity log and remember-me
// tokens. Redis holds ephemeral state: sessions and rate-limit counters.
//
// Callers above this package never see driver errors. A duplicate email is
// reported as apperr.ErrEmailTaken, a Google subject bound to another account
// as apperr.ErrGoogleIDTaken, a missing row as apperr.ErrNotFound, and
// every other failure as *apperr.StoreError. The driver error is logged here.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ieraasyl/StorefrontAuth/internal/models"
	"github.com/ieraasyl/StorefrontAuth/pkg/apperr"
	"github.com/ieraasyl/StorefrontAuth/pkg/config"
	"github.com/ieraasyl/StorefrontAuth/pkg/utils"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Unique indexes on users. A violation of either maps to its own sentinel.
const (
	emailIndex    = "idx_users_email"
	googleIDIndex = "idx_users_google_id"
)

// TxFunc is a function that runs within a database transaction.
// The transaction is committed when it returns nil and rolled back otherwise.
type TxFunc func(tx *sql.Tx) error

// QueryObserver receives one call per statement. It is how query metrics are
// recorded without this package importing the HTTP middleware.
type QueryObserver func(database, operation, status string, duration time.Duration)

// PostgresDB is the credential store, activity-log sink and remember-token
// store. It is safe for concurrent use; *sql.DB pools connections.
type PostgresDB struct {
	db      *sql.DB
	observe QueryObserver
}

// NewPostgresDB opens a connection pool and waits for the server to answer,
// retrying with exponential backoff (the container may still be starting).
//
// Connection pool settings:
//   - MaxOpenConns: cfg.MaxConns (default: 25)
//   - MaxIdleConns: half of MaxOpenConns
//   - ConnMaxLifetime: 1 hour
//
// Example:
//
//	db, err := database.NewPostgresDB(&cfg.Database)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Database connection failed")
//	}
//	defer db.Close()
func NewPostgresDB(cfg *config.DatabaseConfig) (*PostgresDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := utils.Retry(ctx, utils.ConnectRetryConfig(), func() (*sql.DB, error) {
		db, err := sql.Open("postgres", cfg.DSN())
		if err != nil {
			log.Warn().Err(err).Msg("Failed to open database connection, retrying...")
			return nil, err
		}

		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns / 2)
		db.SetConnMaxLifetime(time.Hour)

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()

		if err := db.PingContext(pingCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to ping database, retrying...")
			db.Close()
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("Successfully connected to PostgreSQL")

	return NewPostgresDBFromConn(db), nil
}

// NewPostgresDBFromConn wraps an already opened pool. Used by integration tests.
func NewPostgresDBFromConn(db *sql.DB) *PostgresDB {
	return &PostgresDB{db: db}
}

// SetQueryObserver installs the per-statement metrics hook.
//
// Example:
//
//	db.SetQueryObserver(middleware.RecordDBQuery)
func (p *PostgresDB) SetQueryObserver(fn QueryObserver) {
	p.observe = fn
}

// Close closes the connection pool.
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// Ping checks if the database connection is alive. Used by /ready.
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// record reports a finished statement to the observer.
func (p *PostgresDB) record(operation string, start time.Time, err error) {
	if p.observe == nil {
		return
	}
	status := "success"
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		status = "error"
	}
	p.observe("postgres", operation, status, time.Since(start))
}

// storeError logs the driver error and returns the opaque store failure.
func storeError(op string, err error) error {
	log.Error().Err(err).Str("op", op).Msg("PostgreSQL operation failed")
	return &apperr.StoreError{Op: op}
}

const userColumns = `id, email, password_hash, first_name, last_name, status,
	email_verified, google_id, picture_url, created_at, last_login`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user       models.User
		status     string
		googleID   sql.NullString
		pictureURL sql.NullString
		lastLogin  sql.NullTime
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&status,
		&user.EmailVerified,
		&googleID,
		&pictureURL,
		&user.CreatedAt,
		&lastLogin,
	)
	if err != nil {
		return nil, err
	}

	user.Status = models.UserStatus(status)
	if googleID.Valid {
		user.GoogleID = &googleID.String
	}
	if pictureURL.Valid {
		user.PictureURL = &pictureURL.String
	}
	if lastLogin.Valid {
		user.LastLogin = &lastLogin.Time
	}
	return &user, nil
}

// findUser runs a single-row user query.
func (p *PostgresDB) findUser(ctx context.Context, op, query string, args ...interface{}) (*models.User, error) {
	start := time.Now()
	user, err := scanUser(p.db.QueryRowContext(ctx, query, args...))
	p.record("SELECT", start, err)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, storeError(op, err)
	}
	return user, nil
}

// FindActiveUserByEmail returns the active user with the given email.
// Returns apperr.ErrNotFound when there is none, including when the account
// exists but is suspended or pending.
//
// Example:
//
//	user, err := db.FindActiveUserByEmail(ctx, "alice@example.com")
//	if errors.Is(err, apperr.ErrNotFound) {
//	    // respond with the generic credentials error
//	}
func (p *PostgresDB) FindActiveUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return p.findUser(ctx, "find_active_user_by_email",
		`SELECT `+userColumns+` FROM users WHERE email = $1 AND status = 'active'`,
		models.NormalizeEmail(email))
}

// FindUserByEmail returns the user with the given email regardless of status.
// Used for duplicate detection and Google login.
func (p *PostgresDB) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return p.findUser(ctx, "find_user_by_email",
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		models.NormalizeEmail(email))
}

// FindUserByID returns the user with the given id regardless of status.
func (p *PostgresDB) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	return p.findUser(ctx, "find_user_by_id",
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// InsertUser creates a user and returns its id.
//
// Uniqueness is enforced by idx_users_email; a concurrent registration of the
// same email fails here with apperr.ErrEmailTaken even if both callers passed
// an earlier existence check.
//
// Example:
//
//	id, err := db.InsertUser(ctx, models.NewUser{
//	    Email:        "alice@example.com",
//	    PasswordHash: hash,
//	    FirstName:    "Alice",
//	    LastName:     "Smith",
//	    Status:       models.StatusActive,
//	})
//	if errors.Is(err, apperr.ErrEmailTaken) {
//	    return apperr.Conflict("Email already registered")
//	}
func (p *PostgresDB) InsertUser(ctx context.Context, u models.NewUser) (int64, error) {
	status := u.Status
	if status == "" {
		status = models.StatusActive
	}

	query := `
		INSERT INTO users
			(email, password_hash, first_name, last_name, status, email_verified,
			 verification_token, google_id, picture_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, NOW())
		RETURNING id
	`

	start := time.Now()
	var id int64
	err := p.db.QueryRowContext(ctx, query,
		models.NormalizeEmail(u.Email),
		u.PasswordHash,
		u.FirstName,
		u.LastName,
		string(status),
		u.EmailVerified,
		u.VerificationToken,
		nullString(u.GoogleID),
		nullString(u.PictureURL),
	).Scan(&id)
	p.record("INSERT", start, err)

	if err != nil {
		if taken := uniqueConflict(err); taken != nil {
			return 0, taken
		}
		return 0, storeError("insert_user", err)
	}

	log.Info().Int64("user_id", id).Str("email", models.NormalizeEmail(u.Email)).Msg("User created")
	return id, nil
}

// uniqueConflict maps a unique violation on users to its sentinel, or nil.
func uniqueConflict(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil
	}
	switch pqErr.Constraint {
	case emailIndex:
		return apperr.ErrEmailTaken
	case googleIDIndex:
		return apperr.ErrGoogleIDTaken
	}
	return nil
}

// TouchLastLogin sets last_login to now.
func (p *PostgresDB) TouchLastLogin(ctx context.Context, id int64) error {
	start := time.Now()
	_, err := p.db.ExecContext(ctx,
		`UPDATE users SET last_login = NOW(), updated_at = NOW() WHERE id = $1`, id)
	p.record("UPDATE", start, err)

	if err != nil {
		return storeError("touch_last_login", err)
	}
	return nil
}

// LinkGoogleID attaches a Google subject to an existing account. An account
// that is already linked keeps its original subject; the picture is refreshed
// either way.
func (p *PostgresDB) LinkGoogleID(ctx context.Context, id int64, googleID string, pictureURL *string) error {
	query := `
		UPDATE users
		SET google_id = COALESCE(google_id, $2),
		    picture_url = COALESCE($3, picture_url),
		    updated_at = NOW()
		WHERE id = $1
	`

	start := time.Now()
	_, err := p.db.ExecContext(ctx, query, id, googleID, nullString(pictureURL))
	p.record("UPDATE", start, err)

	if err != nil {
		if taken := uniqueConflict(err); taken != nil {
			return taken
		}
		return storeError("link_google_id", err)
	}
	return nil
}

// InsertActivityLog appends one audit entry. Details are stored as JSONB.
func (p *PostgresDB) InsertActivityLog(ctx context.Context, entry *models.ActivityLogEntry) error {
	details := entry.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal activity details: %w", err)
	}

	query := `
		INSERT INTO activity_logs (user_id, action, details, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`

	start := time.Now()
	var userID sql.NullInt64
	if entry.UserID != nil {
		userID = sql.NullInt64{Int64: *entry.UserID, Valid: true}
	}
	_, err = p.db.ExecContext(ctx, query, userID, string(entry.Action), payload, entry.IPAddress, entry.UserAgent)
	p.record("INSERT", start, err)

	if err != nil {
		return storeError("insert_activity_log", err)
	}
	return nil
}

// InsertRememberToken stores the digest of a new remember-me token.
func (p *PostgresDB) InsertRememberToken(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error {
	start := time.Now()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO remember_tokens (user_id, token_hash, expires_at) VALUES ($1, $2, $3)`,
		userID, tokenHash, expiresAt)
	p.record("INSERT", start, err)

	if err != nil {
		return storeError("insert_remember_token", err)
	}
	return nil
}

// FindRememberToken looks a token up by digest. Expired tokens are returned
// too; the caller decides what to do with them.
func (p *PostgresDB) FindRememberToken(ctx context.Context, tokenHash string) (*models.RememberToken, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM remember_tokens
		WHERE token_hash = $1
	`

	start := time.Now()
	var tok models.RememberToken
	err := p.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&tok.ID,
		&tok.UserID,
		&tok.TokenHash,
		&tok.ExpiresAt,
		&tok.CreatedAt,
	)
	p.record("SELECT", start, err)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, storeError("find_remember_token", err)
	}
	return &tok, nil
}

// DeleteRememberToken removes a token by digest. Deleting an unknown token is
// not an error.
func (p *PostgresDB) DeleteRememberToken(ctx context.Context, tokenHash string) error {
	start := time.Now()
	_, err := p.db.ExecContext(ctx, `DELETE FROM remember_tokens WHERE token_hash = $1`, tokenHash)
	p.record("DELETE", start, err)

	if err != nil {
		return storeError("delete_remember_token", err)
	}
	return nil
}

// RotateRememberToken consumes oldHash and stores newHash in one transaction,
// so a token can be redeemed at most once. Returns apperr.ErrNotFound if
// oldHash was already consumed by a concurrent request.
func (p *PostgresDB) RotateRememberToken(ctx context.Context, oldHash string, userID int64, newHash string, expiresAt time.Time) error {
	start := time.Now()
	err := p.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM remember_tokens WHERE token_hash = $1`, oldHash)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return apperr.ErrNotFound
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO remember_tokens (user_id, token_hash, expires_at) VALUES ($1, $2, $3)`,
			userID, newHash, expiresAt)
		return err
	})
	p.record("TX", start, err)

	if errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if err != nil {
		return storeError("rotate_remember_token", err)
	}
	return nil
}

// DeleteExpiredRememberTokens purges tokens past their expiry and returns how
// many were removed.
func (p *PostgresDB) DeleteExpiredRememberTokens(ctx context.Context) (int64, error) {
	start := time.Now()
	res, err := p.db.ExecContext(ctx, `DELETE FROM remember_tokens WHERE expires_at <= NOW()`)
	p.record("DELETE", start, err)

	if err != nil {
		return 0, storeError("delete_expired_remember_tokens", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeError("delete_expired_remember_tokens", err)
	}
	return n, nil
}

// WithTransaction executes fn within a transaction. It commits when fn returns
// nil, rolls back when fn returns an error, and rolls back then re-panics if fn
// panics.
func (p *PostgresDB) WithTransaction(ctx context.Context, fn TxFunc) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction after panic")
			}
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to rollback transaction")
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
