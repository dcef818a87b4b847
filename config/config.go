// Package config provides configuration management for SearchLink using Viper.
package config

import (
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/searchlink/searchlink-mongodb/errors"
)

// Load initializes Viper from flags and SLINK_* environment variables and
// returns the decoded Config.
func Load(cmd *cobra.Command) (*Config, error) {
	viper.SetEnvPrefix("SLINK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cmd.PersistentFlags() != nil {
		_ = viper.BindPFlags(cmd.PersistentFlags())
	}

	if cmd.Flags() != nil {
		_ = viper.BindPFlags(cmd.Flags())
	}

	bindEnvVars()

	var cfg Config

	err := viper.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	return &cfg, nil
}

func bindEnvVars() {
	_ = viper.BindEnv("port", "SLINK_PORT")

	_ = viper.BindEnv("source", "SLINK_SOURCE_URI")
	_ = viper.BindEnv("database", "SLINK_DATABASE")

	_ = viper.BindEnv("target", "SLINK_TARGET_URLS")
	_ = viper.BindEnv("target-username", "SLINK_TARGET_USERNAME")
	_ = viper.BindEnv("target-password", "SLINK_TARGET_PASSWORD")
	_ = viper.BindEnv("target-api-key", "SLINK_TARGET_API_KEY")

	_ = viper.BindEnv("index-prefix", "SLINK_INDEX_PREFIX")
	_ = viper.BindEnv("snapshot", "SLINK_SNAPSHOT")
	_ = viper.BindEnv("debug", "SLINK_DEBUG")
	_ = viper.BindEnv("exclude-collections", "SLINK_EXCLUDE_COLLECTIONS")

	_ = viper.BindEnv("snapshot-parallelism", "SLINK_SNAPSHOT_PARALLELISM")
	_ = viper.BindEnv("snapshot-batch-size", "SLINK_SNAPSHOT_BATCH_SIZE")
	_ = viper.BindEnv("snapshot-max-batch-bytes", "SLINK_SNAPSHOT_MAX_BATCH_BYTES")

	_ = viper.BindEnv("log-level", "SLINK_LOG_LEVEL")
	_ = viper.BindEnv("log-json", "SLINK_LOG_JSON")
	_ = viper.BindEnv("log-no-color", "SLINK_LOG_NO_COLOR")
}
