package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/tweet-tender/crypto"
)

// PostgresStore persists credential state in Postgres. Linked-account token columns
// are encrypted at rest when an encryptor is configured (encryption_version=1);
// plaintext rows (version=0) written before a key existed remain readable.
type PostgresStore struct {
	db         *sql.DB
	enc        crypto.Encryptor
	pendingTTL time.Duration
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresEncryptor encrypts linked-account tokens before they are written.
func WithPostgresEncryptor(enc crypto.Encryptor) PostgresOption {
	return func(p *PostgresStore) { p.enc = enc }
}

// WithPostgresPendingTTL bounds how long a pending authorization stays redeemable.
// Zero disables expiry.
func WithPostgresPendingTTL(ttl time.Duration) PostgresOption {
	return func(p *PostgresStore) { p.pendingTTL = ttl }
}

// NewPostgresStore wraps an open connection. The schema must already be migrated
// (see the db package).
func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	p := &PostgresStore{db: db}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PostgresStore) GetLinked(ctx context.Context, chatID string) (LinkedAccount, bool, error) {
	var acct LinkedAccount
	var encVersion int
	row := p.db.QueryRowContext(ctx,
		`SELECT user_id, username, access_token, access_secret, COALESCE(encryption_version, 0)
		 FROM linked_accounts WHERE chat_id = $1`, chatID)
	err := row.Scan(&acct.UserID, &acct.Username, &acct.AccessToken, &acct.AccessSecret, &encVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return LinkedAccount{}, false, nil
	}
	if err != nil {
		return LinkedAccount{}, false, err
	}
	if encVersion == 1 {
		if p.enc == nil {
			return LinkedAccount{}, false, fmt.Errorf("linked account is encrypted but no encryption key is configured")
		}
		if acct.AccessToken, err = crypto.DecryptString(p.enc, acct.AccessToken); err != nil {
			return LinkedAccount{}, false, fmt.Errorf("decrypt access token: %w", err)
		}
		if acct.AccessSecret, err = crypto.DecryptString(p.enc, acct.AccessSecret); err != nil {
			return LinkedAccount{}, false, fmt.Errorf("decrypt access secret: %w", err)
		}
	}
	return acct, true, nil
}

func (p *PostgresStore) PutLinked(ctx context.Context, chatID string, acct LinkedAccount) error {
	token, secret := acct.AccessToken, acct.AccessSecret
	encVersion := 0
	if p.enc != nil {
		encVersion = 1
		var err error
		if token, err = crypto.EncryptString(p.enc, token); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if secret, err = crypto.EncryptString(p.enc, secret); err != nil {
			return fmt.Errorf("encrypt access secret: %w", err)
		}
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO linked_accounts(chat_id, user_id, username, access_token, access_secret, encryption_version, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,NOW())
		 ON CONFLICT(chat_id) DO UPDATE SET
		   user_id=EXCLUDED.user_id,
		   username=EXCLUDED.username,
		   access_token=EXCLUDED.access_token,
		   access_secret=EXCLUDED.access_secret,
		   encryption_version=EXCLUDED.encryption_version,
		   updated_at=NOW()`,
		chatID, acct.UserID, acct.Username, token, secret, encVersion)
	return err
}

func (p *PostgresStore) CountLinked(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM linked_accounts`).Scan(&n)
	return n, err
}

func (p *PostgresStore) RemoveLinked(ctx context.Context, chatID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM linked_accounts WHERE chat_id = $1`, chatID)
	return err
}

func (p *PostgresStore) PutPending(ctx context.Context, pa PendingAuthorization) error {
	if pa.RequestToken == "" {
		return fmt.Errorf("pending authorization missing request token")
	}
	if p.pendingTTL > 0 {
		// Sweep abandoned handshakes while we are here.
		if _, err := p.db.ExecContext(ctx,
			`DELETE FROM pending_authorizations WHERE created_at < $1`,
			time.Now().Add(-p.pendingTTL)); err != nil {
			return fmt.Errorf("evict expired pending: %w", err)
		}
	}
	createdAt := pa.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO pending_authorizations(request_token, request_secret, created_at)
		 VALUES($1,$2,$3)
		 ON CONFLICT(request_token) DO UPDATE SET
		   request_secret=EXCLUDED.request_secret, created_at=EXCLUDED.created_at`,
		pa.RequestToken, pa.RequestSecret, createdAt)
	return err
}

func (p *PostgresStore) TakePending(ctx context.Context, requestToken string) (PendingAuthorization, bool, error) {
	// DELETE ... RETURNING makes removal and read a single atomic step, so two
	// concurrent callbacks for the same token cannot both succeed.
	var pa PendingAuthorization
	row := p.db.QueryRowContext(ctx,
		`DELETE FROM pending_authorizations WHERE request_token = $1
		 RETURNING request_token, request_secret, created_at`, requestToken)
	err := row.Scan(&pa.RequestToken, &pa.RequestSecret, &pa.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingAuthorization{}, false, nil
	}
	if err != nil {
		return PendingAuthorization{}, false, err
	}
	if p.pendingTTL > 0 && time.Since(pa.CreatedAt) > p.pendingTTL {
		return PendingAuthorization{}, false, nil
	}
	return pa, true, nil
}
