package secrets

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"codevibe-chat/backend/pkg/logger"
)

// Well-known secret keys
const (
	KeyGenerationAPIKey = "groq_api_key"
	KeySandboxAPIKey    = "sandbox_api_key"
	KeyBlobToken        = "blob_read_write_token"
	KeyJWTSecret        = "jwt_secret"
)

var (
	ErrSecretNotFound        = errors.New("secret not found")
	ErrManagerNotInitialized = errors.New("secrets manager not initialized")
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

var (
	defaultManager Manager
	managerMu      sync.RWMutex
)

// Init builds the default manager from VAULT_* environment variables
func Init(log *logger.Logger) (Manager, error) {
	m, err := NewVaultManager(VaultConfigFromEnv(), log)
	if err != nil {
		return nil, err
	}
	SetManager(m)
	return m, nil
}

// SetManager replaces the default manager
func SetManager(m Manager) {
	managerMu.Lock()
	defaultManager = m
	managerMu.Unlock()
}

// GetSecret retrieves a secret from the default manager
func GetSecret(ctx context.Context, key string) (string, error) {
	managerMu.RLock()
	m := defaultManager
	managerMu.RUnlock()
	if m == nil {
		return "", ErrManagerNotInitialized
	}
	return m.GetSecret(ctx, key)
}

// EnvManager reads secrets from environment variables only
type EnvManager struct{}

// GetSecret looks up the upper-cased key in the environment
func (EnvManager) GetSecret(_ context.Context, key string) (string, error) {
	if v := os.Getenv(EnvKey(key)); v != "" {
		return v, nil
	}
	return "", ErrSecretNotFound
}

// GetSecretWithDefault returns defaultValue when the variable is unset
func (e EnvManager) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	if v, err := e.GetSecret(ctx, key); err == nil {
		return v
	}
	return defaultValue
}

// EnvKey maps "groq-api.key" style names to GROQ_API_KEY
func EnvKey(key string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}
