package config

import "runtime"

// Config holds docsift configuration.
// Stored at: ~/.docsift/config.yaml
type Config struct {
	Org  OrgCfg  `mapstructure:"org" yaml:"org"`
	Sync SyncCfg `mapstructure:"sync" yaml:"sync"`
}

// OrgCfg identifies the platform org to talk to.
type OrgCfg struct {
	Name    string `mapstructure:"name" yaml:"name"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// APIToken supports ${ENV_VAR} syntax.
	APIToken string `mapstructure:"api_token" yaml:"api_token"`
}

// SyncCfg holds default knobs for sync runs.
type SyncCfg struct {
	// Parallelism bounds concurrent uploads and downloads.
	Parallelism int `mapstructure:"parallelism" yaml:"parallelism"`
	// BatchSize is the number of records per update request.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
	// CollectionPrefix prefixes generated collection names.
	CollectionPrefix string `mapstructure:"collection_prefix" yaml:"collection_prefix"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Org: OrgCfg{
			BaseURL:  "https://app.docsift.io",
			APIToken: "${DOCSIFT_API_TOKEN}",
		},
		Sync: SyncCfg{
			Parallelism:      runtime.NumCPU(),
			BatchSize:        50,
			CollectionPrefix: "docsift",
		},
	}
}
