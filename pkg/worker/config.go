// Package worker is the harness shared by every archival stage daemon. It
// owns the claim/work/patch cycle against the coordinator, the heartbeat
// loop, and the quarantine discipline; stages plug in an Action that does
// the actual file and tape handling.
package worker

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v6"
	"github.com/hashicorp/go-uuid"
	"github.com/pkg/errors"
)

// Config is the environment table every stage daemon shares. Stage-specific
// knobs live in per-stage structs parsed the same way.
type Config struct {
	ComponentName string `env:"COMPONENT_NAME,required"`
	SourceSite    string `env:"SOURCE_SITE,required"`
	DestSite      string `env:"DEST_SITE,required"`
	InputStatus   string `env:"INPUT_STATUS,required"`
	OutputStatus  string `env:"OUTPUT_STATUS,required"`

	RestURL       string `env:"LTA_REST_URL,required"`
	AuthOpenIDURL string `env:"LTA_AUTH_OPENID_URL,required"`
	ClientID      string `env:"CLIENT_ID,required"`
	ClientSecret  string `env:"CLIENT_SECRET,required,unset"`

	WorkRetries              int `env:"WORK_RETRIES" envDefault:"3"`
	WorkTimeoutSeconds       int `env:"WORK_TIMEOUT_SECONDS" envDefault:"30"`
	WorkSleepDurationSeconds int `env:"WORK_SLEEP_DURATION_SECONDS" envDefault:"60"`

	HeartbeatPatchRetries         int `env:"HEARTBEAT_PATCH_RETRIES" envDefault:"3"`
	HeartbeatPatchTimeoutSeconds  int `env:"HEARTBEAT_PATCH_TIMEOUT_SECONDS" envDefault:"30"`
	HeartbeatSleepDurationSeconds int `env:"HEARTBEAT_SLEEP_DURATION_SECONDS" envDefault:"60"`

	RunOnceAndDie  bool `env:"RUN_ONCE_AND_DIE" envDefault:"false"`
	RunUntilNoWork bool `env:"RUN_UNTIL_NO_WORK" envDefault:"false"`

	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
	PrometheusMetricsPort int    `env:"PROMETHEUS_METRICS_PORT" envDefault:"8080"`
}

// LoadConfig parses the shared worker table from the environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "parsing worker config")
	}

	return &cfg, nil
}

// LoadStageConfig parses a stage-specific config struct from the environment.
func LoadStageConfig(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return errors.Wrap(err, "parsing stage config")
	}

	return nil
}

// NewClaimant builds the claimant identity for this process. The instance
// uuid distinguishes scaled-out copies of the same component, and makes a
// reaped claim visibly different from a live one in the coordinator.
func NewClaimant(componentName string) (string, error) {
	instanceUUID, err := uuid.GenerateUUID()
	if err != nil {
		return "", errors.Wrap(err, "generating instance uuid")
	}

	return fmt.Sprintf("%s-%s", componentName, instanceUUID), nil
}

func (c *Config) WorkTimeout() time.Duration {
	return time.Duration(c.WorkTimeoutSeconds) * time.Second
}

func (c *Config) WorkSleep() time.Duration {
	return time.Duration(c.WorkSleepDurationSeconds) * time.Second
}

func (c *Config) HeartbeatPatchTimeout() time.Duration {
	return time.Duration(c.HeartbeatPatchTimeoutSeconds) * time.Second
}

func (c *Config) HeartbeatSleep() time.Duration {
	return time.Duration(c.HeartbeatSleepDurationSeconds) * time.Second
}
