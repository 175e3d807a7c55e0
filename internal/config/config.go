package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const configFileVar = "CONFIG_FILE"

type Config interface {
	EnvConfig
	BackendConfig
	StoreConfig
	CorsConfig
}

// ServerConfig is what the local gateway reads.
type ServerConfig interface {
	EnvConfig
	CorsConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetPort() string
	GetDataFolder() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	Backend
	Store
	Cors
}

// New loads .env and the optional YAML file named by CONFIG_FILE into the environment,
// then serves every setting from the environment. Variables already set always win.
func New() (Config, error) {
	_ = godotenv.Load()
	if path := os.Getenv(configFileVar); path != "" {
		if err := LoadFile(path); err != nil {
			return nil, err
		}
	}
	return mainConfig{}, nil
}

// LoadFile reads a YAML mapping of variable names to values, e.g.
//
//	API_BASE_URL: https://api.example.com
//	TOKEN_STORE: file
func LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "config.LoadFile ReadFile")
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return errors.Wrapf(err, "config.LoadFile %s", path)
	}
	for k, v := range values {
		if _, set := os.LookupEnv(k); set {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return errors.Wrapf(err, "config.LoadFile Setenv %s", k)
		}
	}
	return nil
}
