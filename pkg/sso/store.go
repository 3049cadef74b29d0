package sso

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigStore loads tenant provider configurations
type ConfigStore interface {
	// ListProviders returns the tenant's configs ordered by priority then id
	ListProviders(ctx context.Context, tenantID int64) ([]*IdentityProviderConfig, error)
}

// PostgresConfigStore reads identity_provider_configs
type PostgresConfigStore struct {
	db *sql.DB
}

// NewPostgresConfigStore creates a config store
func NewPostgresConfigStore(db *sql.DB) *PostgresConfigStore {
	return &PostgresConfigStore{db: db}
}

// ListProviders returns every config of the tenant, enabled or not
func (s *PostgresConfigStore) ListProviders(ctx context.Context, tenantID int64) ([]*IdentityProviderConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, provider_type, priority, enabled, config, user_mapping, created_at, updated_at
		FROM identity_provider_configs
		WHERE tenant_id = $1
		ORDER BY priority, id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider configs: %w", err)
	}
	defer rows.Close()

	configs := []*IdentityProviderConfig{}
	for rows.Next() {
		var (
			cfg         IdentityProviderConfig
			settings    []byte
			mappingJSON []byte
		)
		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Type, &cfg.Priority, &cfg.Enabled,
			&settings, &mappingJSON, &cfg.CreatedAt, &cfg.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan provider config: %w", err)
		}
		cfg.Settings = json.RawMessage(settings)
		if len(mappingJSON) > 0 {
			if err := json.Unmarshal(mappingJSON, &cfg.UserMapping); err != nil {
				return nil, fmt.Errorf("failed to unmarshal user mapping: %w", err)
			}
		}
		configs = append(configs, &cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list provider configs: %w", err)
	}
	return configs, nil
}

// defaultProviderFile is the YAML shape of the platform default provider
type defaultProviderFile struct {
	Type        string                 `yaml:"type"`
	Config      map[string]interface{} `yaml:"config"`
	UserMapping UserMapping            `yaml:"userMapping"`
}

// LoadDefaultProvider reads the platform-wide provider used by tenants
// without one of their own. An empty path means there is no default.
func LoadDefaultProvider(path string) (*IdentityProviderConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read default provider file: %w", err)
	}
	return ParseDefaultProvider(data)
}

// ParseDefaultProvider parses the YAML default provider document
func ParseDefaultProvider(data []byte) (*IdentityProviderConfig, error) {
	var file defaultProviderFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse default provider: %w", err)
	}

	providerType, err := ParseProviderType(file.Type)
	if err != nil {
		return nil, err
	}
	if file.Config == nil {
		file.Config = map[string]interface{}{}
	}
	settings, err := json.Marshal(file.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode default provider config: %w", err)
	}

	return &IdentityProviderConfig{
		Type:        providerType,
		Enabled:     true,
		Settings:    settings,
		UserMapping: file.UserMapping,
	}, nil
}
