package app

import (
	"errors"
	"time"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ServerAddress string // engine endpoint, e.g. http://localhost:9190
	PipelinePath  string // pipeline file to load and validate

	CatalogCachePath   string // local node-type cache, enables offline mode
	PluginManifestPath string // optional plugin manifest to submit
	WritePath          string // where to write the normalized pipeline, "" disables
	Offline            bool   // validate against the cache without dialing

	LogFormat  string
	LogLevel   string
	StatusPort int

	DialTimeout       time.Duration
	CallTimeout       time.Duration
	ProbeInterval     time.Duration
	ReconnectAttempts int
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.Offline {
		if cfg.CatalogCachePath == "" {
			return nil, errors.New("offline mode requires a catalog cache path")
		}
	} else if cfg.ServerAddress == "" {
		return nil, errors.New("ServerAddress is a required configuration field and cannot be empty")
	}

	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}

	return &cfg, nil
}
