package config

import "time"

// ClientConfig is the root configuration for an Omega client instance.
type ClientConfig struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Endpoint    EndpointConfig    `yaml:"endpoint"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Session     SessionConfig     `yaml:"session"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Journal     JournalConfig     `yaml:"journal"`
}

// InstanceConfig identifies this client.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// EndpointConfig holds the Omega gateway endpoint settings.
type EndpointConfig struct {
	Address          string        `yaml:"address"` // ws:// or wss:// URL of the gateway
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// CredentialsConfig holds logon credentials. The secret lives in a file so
// config files stay safe to commit.
type CredentialsConfig struct {
	ClientID   string `yaml:"client_id"`
	SecretPath string `yaml:"secret_path"`
}

// SessionConfig holds heartbeat, request deadline, and renewal settings.
type SessionConfig struct {
	HeartbeatInterval      time.Duration `yaml:"heartbeat_interval"`
	HeartbeatMissThreshold int           `yaml:"heartbeat_miss_threshold"`
	RequestTimeout         time.Duration `yaml:"request_timeout"`
	RefreshLead            time.Duration `yaml:"refresh_lead"`
	ExpirySweepInterval    time.Duration `yaml:"expiry_sweep_interval"`
}

// ReconnectConfig holds the backoff policy applied after a connection fault.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"` // 0 retries forever
}

// JournalConfig holds the envelope traffic journal settings. Disabled unless
// a database host is configured.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
