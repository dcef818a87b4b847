package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlink/searchlink-mongodb/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Port:   config.DefaultServerPort,
		Source: "mongodb://localhost:27017/app",
		Target: config.TargetConfig{
			Addresses: []string{"http://localhost:9200"},
		},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		require.NoError(t, validConfig().Validate())
	})

	t.Run("port out of range", func(t *testing.T) {
		t.Parallel()

		for _, port := range []int{0, 80, 1023, 70000} {
			cfg := validConfig()
			cfg.Port = port
			assert.Error(t, cfg.Validate(), "port %d", port)
		}
	})

	t.Run("missing source", func(t *testing.T) {
		t.Parallel()

		cfg := validConfig()
		cfg.Source = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad source scheme", func(t *testing.T) {
		t.Parallel()

		cfg := validConfig()
		cfg.Source = "postgres://localhost"
		assert.Error(t, cfg.Validate())
	})

	t.Run("srv source", func(t *testing.T) {
		t.Parallel()

		cfg := validConfig()
		cfg.Source = "mongodb+srv://cluster0.example.net/app"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing target", func(t *testing.T) {
		t.Parallel()

		cfg := validConfig()
		cfg.Target.Addresses = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad target scheme", func(t *testing.T) {
		t.Parallel()

		cfg := validConfig()
		cfg.Target.Addresses = []string{"localhost:9200"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("api key with basic auth", func(t *testing.T) {
		t.Parallel()

		cfg := validConfig()
		cfg.Target.APIKey = "key"
		cfg.Target.Username = "elastic"
		assert.Error(t, cfg.Validate())
	})
}

func TestParseMaxBatchBytes(t *testing.T) {
	t.Parallel()

	t.Run("unset", func(t *testing.T) {
		t.Parallel()

		size, err := validConfig().ParseMaxBatchBytes()
		require.NoError(t, err)
		assert.Zero(t, size)
	})

	t.Run("valid sizes", func(t *testing.T) {
		t.Parallel()

		for raw, want := range map[string]uint64{
			"5MiB":  5 << 20,
			"16MB":  16_000_000,
			"1MiB":  1 << 20,
			"256MiB": 256 << 20,
		} {
			cfg := validConfig()
			cfg.SnapshotTuning.MaxBatchBytes = raw

			size, err := cfg.ParseMaxBatchBytes()
			require.NoError(t, err, raw)
			assert.Equal(t, want, size, raw)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		t.Parallel()

		for _, raw := range []string{"1KiB", "512KiB", "1GiB"} {
			cfg := validConfig()
			cfg.SnapshotTuning.MaxBatchBytes = raw

			_, err := cfg.ParseMaxBatchBytes()
			assert.Error(t, err, raw)
		}
	})

	t.Run("unparsable", func(t *testing.T) {
		t.Parallel()

		cfg := validConfig()
		cfg.SnapshotTuning.MaxBatchBytes = "lots"

		_, err := cfg.ParseMaxBatchBytes()
		assert.Error(t, err)
	})
}
