// Package config defines the sidecar's flat configuration surface.
// Parsing a config file into a Config is the CLI front-end's job
// (cmd/sidecar); this package only describes the decoded shape so the
// core never touches the filesystem or flags directly.
package config

import "time"

// Config is the full set of options the sidecar's supervisor needs to
// start (spec.md §6 "External interfaces").
type Config struct {
	Connections []Connection `yaml:"connections"`
	Storage     Storage      `yaml:"storage"`
	RESTServer  RESTServer   `yaml:"rest_server"`
	EventStream EventStream  `yaml:"event_stream_server"`
	Logging     Logging      `yaml:"logging"`

	InboundChannelSize  int `yaml:"inbound_channel_size"`
	OutboundChannelSize int `yaml:"outbound_channel_size"`
}

// Connection describes one upstream node (spec.md §3).
type Connection struct {
	Name                         string `yaml:"name"`
	IPAddress                    string `yaml:"ip_address"`
	SSEPort                      int    `yaml:"sse_port"`
	RESTPort                     int    `yaml:"rest_port"`
	MaxRetries                   int    `yaml:"max_retries"`
	DelayBetweenRetriesInSeconds int    `yaml:"delay_between_retries_in_seconds"`
	AllowPartialConnection       bool   `yaml:"allow_partial_connection"`
	ConnectionTimeoutInSeconds   int    `yaml:"connection_timeout_in_seconds"`
	EnableLogging                bool   `yaml:"enable_logging"`
}

// Storage configures the durable event log (spec.md §4.1).
type Storage struct {
	StoragePath  string       `yaml:"storage_path"`
	SQLiteConfig SQLiteConfig `yaml:"sqlite_config"`
}

// SQLiteConfig maps onto store.Tuning.
type SQLiteConfig struct {
	BusyTimeoutMS int  `yaml:"busy_timeout_ms"`
	WALMode       bool `yaml:"wal_mode"`
}

// RESTServer configures the read-only REST collaborator (spec.md §4.7).
type RESTServer struct {
	BindAddress string `yaml:"bind_address"`
}

// EventStream configures the outbound broadcaster (spec.md §4.6).
type EventStream struct {
	Port                      int    `yaml:"port"`
	EventStreamBufferLength   int    `yaml:"event_stream_buffer_length"`
	MaxConcurrentSubscribers  int    `yaml:"max_concurrent_subscribers"`
	StateFilePath             string `yaml:"state_file_path"`
	StatePersistIntervalInSec int    `yaml:"state_persist_interval_in_seconds"`
}

// Logging is the decoded `logging` block. cmd/sidecar does not read it;
// it configures internal/logging.Init from its command-line flags.
type Logging struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"json_output"`
}

// Default returns the documented defaults (inbound/outbound queue sizes,
// SQLite tuning, broadcaster limits, log level). The connection timeout
// default is applied by Connection.ConnectTimeout, not here.
func Default() Config {
	return Config{
		InboundChannelSize:  1000,
		OutboundChannelSize: 1000,
		Storage: Storage{
			SQLiteConfig: SQLiteConfig{BusyTimeoutMS: 5000, WALMode: true},
		},
		EventStream: EventStream{
			EventStreamBufferLength:   1000,
			MaxConcurrentSubscribers:  100,
			StatePersistIntervalInSec: 30,
		},
		Logging: Logging{Level: "info"},
	}
}

// RetryDelay returns c's backoff delay as a time.Duration.
func (c Connection) RetryDelay() time.Duration {
	return time.Duration(c.DelayBetweenRetriesInSeconds) * time.Second
}

// ConnectTimeout returns c's connect timeout as a time.Duration,
// defaulting to 5 seconds per spec.md §6.
func (c Connection) ConnectTimeout() time.Duration {
	if c.ConnectionTimeoutInSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ConnectionTimeoutInSeconds) * time.Second
}
