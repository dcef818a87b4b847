package config

import (
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/searchlink/searchlink-mongodb/errors"
)

const (
	minBatchBytes = 1 << 20   // 1MiB
	maxBatchBytes = 256 << 20 // 256MiB
)

// Validate checks the configuration for errors.
func (cfg *Config) Validate() error {
	if cfg.Port < 1024 || cfg.Port > 65535 {
		return errors.Errorf("invalid port number: %d. must be in the range [1024 - 65535]", cfg.Port)
	}

	if cfg.Source == "" {
		return errors.New("source MongoDB URI is required")
	}

	if !strings.HasPrefix(cfg.Source, "mongodb://") && !strings.HasPrefix(cfg.Source, "mongodb+srv://") {
		return errors.Errorf("invalid source URI %q: expected mongodb:// or mongodb+srv:// scheme", cfg.Source)
	}

	if len(cfg.Target.Addresses) == 0 {
		return errors.New("target Elasticsearch URL is required")
	}

	for _, addr := range cfg.Target.Addresses {
		if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
			return errors.Errorf("invalid target URL %q: expected http:// or https:// scheme", addr)
		}
	}

	if cfg.Target.APIKey != "" && (cfg.Target.Username != "" || cfg.Target.Password != "") {
		return errors.New("target API key and basic auth are mutually exclusive")
	}

	if cfg.SnapshotTuning.Parallelism < 0 {
		return errors.Errorf("invalid snapshot parallelism: %d", cfg.SnapshotTuning.Parallelism)
	}

	if cfg.SnapshotTuning.BatchSize < 0 {
		return errors.Errorf("invalid snapshot batch size: %d", cfg.SnapshotTuning.BatchSize)
	}

	if _, err := cfg.ParseMaxBatchBytes(); err != nil {
		return err
	}

	return nil
}

// ParseMaxBatchBytes parses the MaxBatchBytes size string. Zero means unset.
func (cfg *Config) ParseMaxBatchBytes() (uint64, error) {
	raw := cfg.SnapshotTuning.MaxBatchBytes
	if raw == "" {
		return 0, nil
	}

	size, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid snapshot max batch bytes %q", raw)
	}

	if size < minBatchBytes || size > maxBatchBytes {
		return 0, errors.Errorf("snapshot max batch bytes %q out of range [%s - %s]",
			raw, humanize.IBytes(minBatchBytes), humanize.IBytes(maxBatchBytes))
	}

	return size, nil
}
