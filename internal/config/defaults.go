package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHandshakeTimeout       = 10 * time.Second
	DefaultWriteTimeout           = 10 * time.Second
	DefaultHeartbeatInterval      = 10 * time.Second
	DefaultHeartbeatMissThreshold = 2
	DefaultRequestTimeout         = 5 * time.Second
	DefaultRefreshLead            = 30 * time.Second
	DefaultExpirySweepInterval    = 250 * time.Millisecond
	DefaultReconnectInitialDelay  = 1 * time.Second
	DefaultReconnectMaxDelay      = 60 * time.Second
	DefaultDBPort                 = 5432
	DefaultDBSSLMode              = "prefer"
	DefaultMaxConns               = 10
	DefaultMinConns               = 2
	DefaultBatchSize              = 500
	DefaultFlushInterval          = 1 * time.Second
	DefaultBufferSize             = 10000
)

func (c *ClientConfig) applyDefaults() {
	// Endpoint defaults
	if c.Endpoint.HandshakeTimeout == 0 {
		c.Endpoint.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Endpoint.WriteTimeout == 0 {
		c.Endpoint.WriteTimeout = DefaultWriteTimeout
	}

	// Session defaults
	if c.Session.HeartbeatInterval == 0 {
		c.Session.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Session.HeartbeatMissThreshold == 0 {
		c.Session.HeartbeatMissThreshold = DefaultHeartbeatMissThreshold
	}
	if c.Session.RequestTimeout == 0 {
		c.Session.RequestTimeout = DefaultRequestTimeout
	}
	if c.Session.RefreshLead == 0 {
		c.Session.RefreshLead = DefaultRefreshLead
	}
	if c.Session.ExpirySweepInterval == 0 {
		c.Session.ExpirySweepInterval = DefaultExpirySweepInterval
	}

	// Reconnect defaults
	if c.Reconnect.InitialDelay == 0 {
		c.Reconnect.InitialDelay = DefaultReconnectInitialDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMaxDelay
	}

	// Journal defaults
	if c.Journal.Enabled {
		applyDBDefaults(&c.Journal.Database)
		if c.Journal.BatchSize == 0 {
			c.Journal.BatchSize = DefaultBatchSize
		}
		if c.Journal.FlushInterval == 0 {
			c.Journal.FlushInterval = DefaultFlushInterval
		}
		if c.Journal.BufferSize == 0 {
			c.Journal.BufferSize = DefaultBufferSize
		}
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
