package config

import "path/filepath"

const (
	TokenStoreMemory = "memory"
	TokenStoreFile   = "file"
	TokenStoreRedis  = "redis"
)

type StoreConfig interface {
	GetTokenStore() string
	GetTokenFile() string
	GetEncryptionSecret() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
}

type Store struct{}

var _ StoreConfig = Store{}

// GetTokenStore selects the token backend: memory, file or redis.
func (Store) GetTokenStore() string {
	return GetEnv("TOKEN_STORE", TokenStoreFile)
}

func (Store) GetTokenFile() string {
	return GetEnv("TOKEN_FILE", filepath.Join(EnvVars{}.GetDataFolder(), "session", "token.json"))
}

// GetEncryptionSecret seals stored tokens when set. Empty means stored in the clear.
func (Store) GetEncryptionSecret() string {
	return GetEnv("TOKEN_ENCRYPTION_SECRET", "")
}

func (Store) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Store) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Store) GetRedisDB() int {
	return GetEnvInt("REDIS_DB", 0)
}

func (Store) GetRedisPrefix() string {
	return GetEnv("REDIS_PREFIX", "auth-client")
}
