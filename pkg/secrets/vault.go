package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"codevibe-chat/backend/pkg/logger"

	vault "github.com/hashicorp/vault/api"
)

var (
	ErrNoVaultToken   = errors.New("no vault token provided")
	ErrNoVaultAddress = errors.New("no vault address provided")
)

// VaultConfig holds configuration for Vault client
type VaultConfig struct {
	Enabled    bool
	Address    string
	Token      string
	Namespace  string
	Mount      string
	Path       string
	Timeout    time.Duration
	MaxRetries int
	CacheTTL   time.Duration
}

// VaultConfigFromEnv reads VAULT_* variables; Vault stays off unless VAULT_ENABLED is set
func VaultConfigFromEnv() VaultConfig {
	cfg := VaultConfig{
		Address:    os.Getenv("VAULT_ADDR"),
		Token:      os.Getenv("VAULT_TOKEN"),
		Namespace:  os.Getenv("VAULT_NAMESPACE"),
		Mount:      os.Getenv("VAULT_MOUNT"),
		Path:       os.Getenv("VAULT_SECRETS_PATH"),
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		CacheTTL:   5 * time.Minute,
	}
	switch os.Getenv("VAULT_ENABLED") {
	case "true", "1", "yes":
		cfg.Enabled = true
	}
	return cfg
}

// VaultManager reads a KV v2 secret and falls back to the environment
type VaultManager struct {
	client *vault.Client
	config VaultConfig
	env    EnvManager
	log    *logger.Logger

	mu       sync.RWMutex
	cache    map[string]string
	cachedAt time.Time
}

// NewVaultManager creates a new Vault manager instance
func NewVaultManager(config VaultConfig, log *logger.Logger) (*VaultManager, error) {
	if log == nil {
		log = logger.NewDiscard()
	}
	if config.Mount == "" {
		config.Mount = "secret"
	}
	if config.Path == "" {
		config.Path = "codevibe-chat"
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}

	m := &VaultManager{config: config, log: log, cache: make(map[string]string)}
	if !config.Enabled {
		return m, nil
	}

	if config.Address == "" {
		return nil, ErrNoVaultAddress
	}
	if config.Token == "" {
		return nil, ErrNoVaultToken
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = config.Address
	vaultConfig.Timeout = config.Timeout
	vaultConfig.MaxRetries = config.MaxRetries

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(config.Token)
	if config.Namespace != "" {
		client.SetNamespace(config.Namespace)
	}
	m.client = client

	return m, nil
}

// GetSecret retrieves a secret from Vault, with fallback to environment variable
func (m *VaultManager) GetSecret(ctx context.Context, key string) (string, error) {
	if m.client == nil {
		return m.env.GetSecret(ctx, key)
	}

	if err := m.refresh(ctx); err != nil {
		m.log.Warn("vault read failed, falling back to environment", "error", err.Error())
		return m.env.GetSecret(ctx, key)
	}

	m.mu.RLock()
	v, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return v, nil
	}
	return m.env.GetSecret(ctx, key)
}

// GetSecretWithDefault retrieves a secret with a default value if not found
func (m *VaultManager) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	v, err := m.GetSecret(ctx, key)
	if err != nil {
		return defaultValue
	}
	return v
}

// refresh reloads the whole secret document once per CacheTTL
func (m *VaultManager) refresh(ctx context.Context) error {
	m.mu.RLock()
	fresh := !m.cachedAt.IsZero() && time.Since(m.cachedAt) < m.config.CacheTTL
	m.mu.RUnlock()
	if fresh {
		return nil
	}

	secret, err := m.client.KVv2(m.config.Mount).Get(ctx, m.config.Path)
	if err != nil {
		return fmt.Errorf("read %s/%s: %w", m.config.Mount, m.config.Path, err)
	}

	values := make(map[string]string)
	if secret != nil {
		for k, raw := range secret.Data {
			if s, ok := raw.(string); ok {
				values[k] = s
			}
		}
	}

	m.mu.Lock()
	m.cache = values
	m.cachedAt = time.Now()
	m.mu.Unlock()

	m.log.Debug("secrets refreshed from vault", "count", len(values))
	return nil
}
