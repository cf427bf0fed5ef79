package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dmitrymomot/replicast/pkg/channel"
	"github.com/dmitrymomot/replicast/pkg/config"
	"github.com/dmitrymomot/replicast/pkg/httpserver"
	"github.com/dmitrymomot/replicast/pkg/outbox"
	"github.com/dmitrymomot/replicast/pkg/storage"
)

const (
	modeDirect = "direct"
	modeOutbox = "outbox"
)

type appConfig struct {
	Name            string        `env:"APP_NAME" envDefault:"replicast"`       // service name attached to every log record
	Env             string        `env:"APP_ENV" envDefault:"development"`      // development, staging or production
	ReplicaID       string        `env:"REPLICA_ID"`                            // origin stamped on announced operations; hostname when empty
	ReplicationMode string        `env:"REPLICATION_MODE" envDefault:"direct"`  // direct or outbox
	Codec           string        `env:"CODEC" envDefault:"json"`               // json or msgpack
	LogLevel        string        `env:"LOG_LEVEL"`                             // overrides the environment default
	PublishTimeout  time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"5s"`       // per announce
	PublishRetries  int           `env:"PUBLISH_RETRY_ATTEMPTS" envDefault:"1"` // total announce attempts in direct mode
	ReceivePeers    bool          `env:"RECEIVE_PEERS" envDefault:"true"`       // subscribe to sibling announces when the driver can
}

type appSettings struct {
	App     appConfig
	Storage storage.Config
	Channel channel.Config
	HTTP    httpserver.Config
	Outbox  outbox.Config
}

func loadSettings() (appSettings, error) {
	var s appSettings
	if err := config.Load(&s.App); err != nil {
		return s, err
	}
	if err := config.Load(&s.Storage); err != nil {
		return s, err
	}
	if err := config.Load(&s.Channel); err != nil {
		return s, err
	}
	if err := config.Load(&s.HTTP); err != nil {
		return s, err
	}
	if err := config.Load(&s.Outbox); err != nil {
		return s, err
	}

	if s.App.ReplicaID == "" {
		host, err := os.Hostname()
		if err != nil {
			return s, fmt.Errorf("REPLICA_ID is empty and hostname is unavailable: %w", err)
		}
		s.App.ReplicaID = host
	}
	s.App.ReplicationMode = strings.ToLower(strings.TrimSpace(s.App.ReplicationMode))
	return s, nil
}
