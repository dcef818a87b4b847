package config

import "time"

// Config holds all SearchLink configuration.
type Config struct {
	Port int `mapstructure:"port"`

	// Source is the MongoDB connection string. The database to sync is taken
	// from the connection string path or from Database.
	Source string `mapstructure:"source"`
	// Database overrides the database name from the source connection string.
	Database string `mapstructure:"database"`

	Target TargetConfig `mapstructure:",squash"`

	// IndexPrefix is prepended to every derived index name.
	IndexPrefix string `mapstructure:"index-prefix"`

	// Snapshot enables the full collection load before watching the change feed.
	Snapshot bool `mapstructure:"snapshot"`
	// Debug makes top-level sync failures propagate to the caller. When
	// disabled, failures are logged and the run stops without an error.
	Debug bool `mapstructure:"debug"`

	// ExcludeCollections lists collections that are never snapshotted or
	// mirrored. An entry ending in "*" excludes by prefix.
	ExcludeCollections []string `mapstructure:"exclude-collections"`

	SnapshotTuning SnapshotConfig `mapstructure:",squash"`

	Log LogConfig `mapstructure:",squash"`

	// hidden startup flags
	Start bool `mapstructure:"start"`
}

// TargetConfig holds the Elasticsearch connection settings.
type TargetConfig struct {
	// Addresses are the Elasticsearch node URLs.
	Addresses []string `mapstructure:"target"`
	Username  string   `mapstructure:"target-username"`
	Password  string   `mapstructure:"target-password"`
	APIKey    string   `mapstructure:"target-api-key"`
}

// SnapshotConfig holds snapshot load tuning.
type SnapshotConfig struct {
	// Parallelism is the number of collections loaded concurrently.
	// 0 means the default.
	Parallelism int `mapstructure:"snapshot-parallelism"`
	// BatchSize is the number of documents per bulk request. 0 means the default.
	BatchSize int `mapstructure:"snapshot-batch-size"`
	// MaxBatchBytes caps the serialized size of one bulk request
	// (e.g. "5MiB", "16MB"). Empty means the default.
	MaxBatchBytes string `mapstructure:"snapshot-max-batch-bytes"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level   string `mapstructure:"log-level"`
	JSON    bool   `mapstructure:"log-json"`
	NoColor bool   `mapstructure:"log-no-color"`
}

const (
	// DefaultServerPort is the default port for the SearchLink control server.
	DefaultServerPort = 2839

	// DefaultSnapshotParallelism is the default number of collections loaded
	// concurrently during the snapshot.
	DefaultSnapshotParallelism = 2

	// DefaultSnapshotBatchSize is the default number of documents per bulk
	// request during the snapshot.
	DefaultSnapshotBatchSize = 500

	// DisconnectTimeout bounds store handle shutdown.
	DisconnectTimeout = 10 * time.Second

	// ServerResponseTimeout bounds control server request handling.
	ServerResponseTimeout = 5 * time.Second

	// ChangeStreamBatchSize is the server-side batch size for the change feed
	// cursor.
	ChangeStreamBatchSize = 1000

	// ChangeStreamAwaitTime is how long the change feed cursor waits for new
	// events before returning an empty batch.
	ChangeStreamAwaitTime = 5 * time.Second

	// SnapshotCursorBatchSize is the server-side batch size for snapshot read
	// cursors.
	SnapshotCursorBatchSize = 1000

	// CloseCursorTimeout bounds cursor shutdown.
	CloseCursorTimeout = 5 * time.Second

	// EventQueueSize is the capacity of the reader-to-worker event queues.
	EventQueueSize = 1000
)
