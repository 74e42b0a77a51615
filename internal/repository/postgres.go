package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/crypto"
	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
	"github.com/felipepmaragno/ai-orchestrator/internal/secrets"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const selectConfig = `
	SELECT uuid, account_uuid, name, provider_type, base_url, api_key, default_model,
	       available_models, is_active, is_default, priority, created_at, updated_at
	FROM provider_configs
`

// PostgresProviderConfigStore persists configs in PostgreSQL. When an
// encryptor is set, literal credentials are encrypted at rest; "secret:"
// references are stored as-is.
type PostgresProviderConfigStore struct {
	db        *sql.DB
	encryptor *crypto.Encryptor
}

func NewPostgresProviderConfigStore(db *sql.DB, encryptor *crypto.Encryptor) *PostgresProviderConfigStore {
	return &PostgresProviderConfigStore{db: db, encryptor: encryptor}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresProviderConfigStore) scan(row rowScanner) (*domain.ProviderConfig, error) {
	var cfg domain.ProviderConfig
	var providerType string
	var models []byte
	var priority int

	err := row.Scan(
		&cfg.UUID,
		&cfg.AccountUUID,
		&cfg.Name,
		&providerType,
		&cfg.BaseURL,
		&cfg.APIKey,
		&cfg.DefaultModel,
		&models,
		&cfg.IsActive,
		&cfg.IsDefault,
		&priority,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	cfg.ProviderType = domain.ProviderType(providerType)
	cfg.Priority = &priority
	if len(models) > 0 {
		if err := json.Unmarshal(models, &cfg.AvailableModels); err != nil {
			return nil, fmt.Errorf("decode available models: %w", err)
		}
	}

	if s.encryptor != nil && crypto.IsEncrypted(cfg.APIKey) {
		key, err := s.encryptor.Decrypt(cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt credential for %s: %w", cfg.UUID, err)
		}
		cfg.APIKey = key
	}

	return &cfg, nil
}

func (s *PostgresProviderConfigStore) FindByUUID(ctx context.Context, id string) (*domain.ProviderConfig, error) {
	cfg, err := s.scan(s.db.QueryRowContext(ctx, selectConfig+` WHERE uuid = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query provider config: %w", err)
	}
	return cfg, nil
}

func (s *PostgresProviderConfigStore) FindDefaultByAccount(ctx context.Context, accountUUID string) (*domain.ProviderConfig, error) {
	cfg, err := s.scan(s.db.QueryRowContext(ctx, selectConfig+` WHERE account_uuid = $1 AND is_default`, accountUUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query default provider config: %w", err)
	}
	return cfg, nil
}

func (s *PostgresProviderConfigStore) FindAllByAccount(ctx context.Context, accountUUID string) ([]*domain.ProviderConfig, error) {
	rows, err := s.db.QueryContext(ctx, selectConfig+` WHERE account_uuid = $1 ORDER BY created_at, uuid`, accountUUID)
	if err != nil {
		return nil, fmt.Errorf("query provider configs: %w", err)
	}
	defer rows.Close()

	var configs []*domain.ProviderConfig
	for rows.Next() {
		cfg, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider config: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// Save upserts cfg. A default config clears the account's previous default in
// the same transaction.
func (s *PostgresProviderConfigStore) Save(ctx context.Context, cfg *domain.ProviderConfig) error {
	now := time.Now().UTC()
	if cfg.UUID == "" {
		cfg.UUID = uuid.NewString()
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	if cfg.Priority == nil {
		cfg.Priority = domain.PriorityOf(domain.DefaultPriority)
	}
	cfg.UpdatedAt = now

	models, err := json.Marshal(cfg.AvailableModels)
	if err != nil {
		return fmt.Errorf("encode available models: %w", err)
	}
	if cfg.AvailableModels == nil {
		models = []byte("[]")
	}

	apiKey := cfg.APIKey
	if s.encryptor != nil && apiKey != "" && !secrets.IsReference(apiKey) {
		apiKey, err = s.encryptor.Encrypt(apiKey)
		if err != nil {
			return fmt.Errorf("encrypt credential: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if cfg.IsDefault {
		if _, err := tx.ExecContext(ctx,
			`UPDATE provider_configs SET is_default = FALSE, updated_at = $2 WHERE account_uuid = $1 AND is_default AND uuid <> $3`,
			cfg.AccountUUID, now, cfg.UUID,
		); err != nil {
			return fmt.Errorf("clear default: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO provider_configs (uuid, account_uuid, name, provider_type, base_url, api_key, default_model,
		                              available_models, is_active, is_default, priority, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (uuid) DO UPDATE SET
			account_uuid = EXCLUDED.account_uuid,
			name = EXCLUDED.name,
			provider_type = EXCLUDED.provider_type,
			base_url = EXCLUDED.base_url,
			api_key = EXCLUDED.api_key,
			default_model = EXCLUDED.default_model,
			available_models = EXCLUDED.available_models,
			is_active = EXCLUDED.is_active,
			is_default = EXCLUDED.is_default,
			priority = EXCLUDED.priority,
			updated_at = EXCLUDED.updated_at
	`,
		cfg.UUID,
		cfg.AccountUUID,
		cfg.Name,
		string(cfg.ProviderType),
		cfg.BaseURL,
		apiKey,
		cfg.DefaultModel,
		models,
		cfg.IsActive,
		cfg.IsDefault,
		*cfg.Priority,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("save provider config %s: default already set for account: %w", cfg.UUID, err)
		}
		return fmt.Errorf("save provider config: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresProviderConfigStore) ClearDefaultForAccount(ctx context.Context, accountUUID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE provider_configs SET is_default = FALSE, updated_at = $2 WHERE account_uuid = $1 AND is_default`,
		accountUUID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("clear default: %w", err)
	}
	return nil
}

func (s *PostgresProviderConfigStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM provider_configs WHERE uuid = $1`, id)
	if err != nil {
		return fmt.Errorf("delete provider config: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrConfigNotFound
	}
	return nil
}
