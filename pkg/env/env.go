package env

import (
	"strings"
	"time"

	"github.com/caesium-cloud/crucible/pkg/log"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

var variables = new(Environment)

// Process the environment variables set for crucible.
func Process() error {
	if err := envconfig.Process("crucible", variables); err != nil {
		return errors.Wrap(err, "failed to process environment variables")
	}

	if variables.RetryCeiling < 1 {
		return errors.Errorf("retry ceiling must be positive, got %d", variables.RetryCeiling)
	}

	if variables.HeartbeatInterval >= variables.StaleThreshold {
		return errors.Errorf(
			"heartbeat interval %v must be shorter than stale threshold %v",
			variables.HeartbeatInterval,
			variables.StaleThreshold,
		)
	}

	if variables.servesCachePush() && len(variables.cacheDestinations()) == 0 {
		return errors.New("worker role cache-push requires CRUCIBLE_CACHE_DESTINATIONS")
	}

	// set the log level
	if err := log.SetLevel(variables.LogLevel); err != nil {
		return errors.Wrap(err, "failed to set log level")
	}

	return nil
}

// Variables returns the processed environment variables.
func Variables() Environment {
	return *variables
}

// Environment defines the environment variables used
// by crucible.
type Environment struct {
	LogLevel    string   `default:"info" split_words:"true"`
	Port        int      `default:"8080"`
	GraphiQL    bool     `default:"true" envconfig:"graphiql"`
	WorkerID    string   `default:"" split_words:"true"` // hostname
	WorkerRoles []string `default:"build" split_words:"true"`

	DatabaseType            string        `default:"postgres" split_words:"true"`
	DatabaseDSN             string        `default:"host=postgres user=postgres password=postgres dbname=crucible port=5432 sslmode=disable" split_words:"true"`
	DatabaseMaxOpenConns    int           `default:"25" split_words:"true"`
	DatabaseMaxIdleConns    int           `default:"5" split_words:"true"`
	DatabaseConnMaxLifetime time.Duration `default:"5m" split_words:"true"`

	RetryCeiling      int           `default:"5" split_words:"true"`
	StaleThreshold    time.Duration `default:"5m" split_words:"true"`
	HeartbeatInterval time.Duration `default:"60s" split_words:"true"`
	SweepSchedule     string        `default:"@every 60s" split_words:"true"`

	BuildConcurrency    int           `default:"2" split_words:"true"`
	BuildPollInterval   time.Duration `default:"5s" split_words:"true"`
	BuildCandidateLimit int           `default:"32" split_words:"true"`
	BuildTimeout        time.Duration `default:"2h" split_words:"true"`
	UnitSelectors       []string      `default:"" split_words:"true"`
	NixBinary           string        `default:"nix" split_words:"true"`

	CachePushConcurrency  int           `default:"4" split_words:"true"`
	CachePushPollInterval time.Duration `default:"5s" split_words:"true"`
	CachePushTimeout      time.Duration `default:"30m" split_words:"true"`
	CacheDestinations     []string      `default:"" split_words:"true"`
	CacheBackoffBase      time.Duration `default:"30s" split_words:"true"`
	CacheBackoffMax       time.Duration `default:"1h" split_words:"true"`
}

func (e *Environment) servesCachePush() bool {
	for _, role := range e.WorkerRoles {
		if strings.EqualFold(strings.TrimSpace(role), "cache-push") {
			return true
		}
	}
	return false
}

func (e *Environment) cacheDestinations() []string {
	var out []string
	for _, d := range e.CacheDestinations {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}
