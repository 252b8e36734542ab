package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"llm_keypool/internal/models"
)

const credentialColumns = `
	id, COALESCE(owner_id, '') AS owner_id, scope, provider, secret_ref,
	preferred, daily_limit_tokens, disabled, created_at, updated_at
`

// CredentialRepository handles credential database operations.
// It is the Postgres credential catalog.
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// ListUserCredentials returns every credential the user owns, for all providers.
// Disabled rows are included; the coordinator filters them.
func (r *CredentialRepository) ListUserCredentials(ctx context.Context, userID string) ([]models.Credential, error) {
	query := `SELECT ` + credentialColumns + `
		FROM credentials
		WHERE scope = 'user' AND owner_id = $1
		ORDER BY created_at
	`

	var creds []models.Credential
	if err := r.db.conn.SelectContext(ctx, &creds, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list user credentials: %w", err)
	}

	return creds, nil
}

// ListSystemCredentials returns the shared credentials for a provider
func (r *CredentialRepository) ListSystemCredentials(ctx context.Context, provider models.Provider) ([]models.Credential, error) {
	query := `SELECT ` + credentialColumns + `
		FROM credentials
		WHERE scope = 'system' AND provider = $1
		ORDER BY created_at
	`

	var creds []models.Credential
	if err := r.db.conn.SelectContext(ctx, &creds, query, provider); err != nil {
		return nil, fmt.Errorf("failed to list system credentials: %w", err)
	}

	return creds, nil
}

// GetByID retrieves a credential by id
func (r *CredentialRepository) GetByID(ctx context.Context, id string) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1`

	var cred models.Credential
	err := r.db.conn.GetContext(ctx, &cred, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &cred, nil
}

// Create inserts a credential, assigning an id when it has none
func (r *CredentialRepository) Create(ctx context.Context, cred *models.Credential) error {
	if !cred.Provider.Valid() {
		return fmt.Errorf("%w: %q", models.ErrUnknownProvider, cred.Provider)
	}
	if cred.Scope == models.ScopeUser && cred.OwnerID == "" {
		return fmt.Errorf("user credential requires an owner")
	}
	if cred.Scope == models.ScopeSystem {
		cred.OwnerID = ""
		cred.Preferred = false
	}
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	query := `
		INSERT INTO credentials (
			id, owner_id, scope, provider, secret_ref,
			preferred, daily_limit_tokens, disabled, created_at, updated_at
		) VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.conn.ExecContext(ctx, query,
		cred.ID, cred.OwnerID, cred.Scope, cred.Provider, cred.SecretRef,
		cred.Preferred, cred.DailyLimitTokens, cred.Disabled, cred.CreatedAt, cred.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}

	return nil
}

// SetDisabled enables or disables a credential
func (r *CredentialRepository) SetDisabled(ctx context.Context, id string, disabled bool) error {
	query := `UPDATE credentials SET disabled = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.conn.ExecContext(ctx, query, id, disabled)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrCredentialNotFound
	}

	return nil
}

// Delete removes a credential
func (r *CredentialRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.conn.ExecContext(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrCredentialNotFound
	}

	return nil
}
