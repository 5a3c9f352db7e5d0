package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *ClientConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Endpoint.Address == "" {
		return errors.New("endpoint.address is required")
	}
	if !strings.HasPrefix(c.Endpoint.Address, "ws://") && !strings.HasPrefix(c.Endpoint.Address, "wss://") {
		return fmt.Errorf("endpoint.address must be a ws:// or wss:// URL, got %q", c.Endpoint.Address)
	}

	if c.Credentials.ClientID == "" {
		return errors.New("credentials.client_id is required")
	}
	if c.Credentials.SecretPath == "" {
		return errors.New("credentials.secret_path is required")
	}

	if c.Session.HeartbeatMissThreshold < 1 {
		return errors.New("session.heartbeat_miss_threshold must be >= 1")
	}
	if c.Session.RefreshLead < c.Session.HeartbeatInterval {
		return fmt.Errorf("session.refresh_lead (%s) must be at least the heartbeat interval (%s)",
			c.Session.RefreshLead, c.Session.HeartbeatInterval)
	}

	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must be >= 0")
	}
	if c.Reconnect.InitialDelay > c.Reconnect.MaxDelay {
		return fmt.Errorf("reconnect.initial_delay (%s) cannot exceed max_delay (%s)",
			c.Reconnect.InitialDelay, c.Reconnect.MaxDelay)
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
