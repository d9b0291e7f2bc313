package bringup

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/jpillora/backoff"

	"github.com/robotalks/jesd204.go/pkg/jesd204"
)

// Config defines the retry behavior of bring-up sessions.
type Config struct {
	RetryMin  time.Duration
	RetryMax  time.Duration
	MaxPasses int
	AutoStart bool
}

var defaultConfig = Config{
	RetryMin:  jesd204.DefaultBackoffMin,
	RetryMax:  jesd204.DefaultBackoffMax,
	MaxPasses: jesd204.DefaultMaxPasses,
}

func init() {
	if val := os.Getenv("JESD_RETRY_MIN"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			defaultConfig.RetryMin = d
		} else {
			glog.Warningf("JESD_RETRY_MIN: %v", err)
		}
	}
	if val := os.Getenv("JESD_RETRY_MAX"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			defaultConfig.RetryMax = d
		} else {
			glog.Warningf("JESD_RETRY_MAX: %v", err)
		}
	}
	if val := os.Getenv("JESD_MAX_PASSES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			defaultConfig.MaxPasses = n
		} else {
			glog.Warningf("JESD_MAX_PASSES: %v", err)
		}
	}
	if val := os.Getenv("JESD_AUTOSTART"); val != "" {
		defaultConfig.AutoStart, _ = strconv.ParseBool(val)
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.DurationVar(&defaultConfig.RetryMin, "retry-min", defaultConfig.RetryMin, "Initial delay before retrying a deferred stage.")
	flag.DurationVar(&defaultConfig.RetryMax, "retry-max", defaultConfig.RetryMax, "Maximum delay between retries.")
	flag.IntVar(&defaultConfig.MaxPasses, "max-passes", defaultConfig.MaxPasses, "Driver passes before giving up, 0 for unbounded.")
	flag.BoolVar(&defaultConfig.AutoStart, "autostart", defaultConfig.AutoStart, "Start all topologies on launch.")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a config with defaults.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// NewBackoff creates the retry backoff.
func (c *Config) NewBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    c.RetryMin,
		Max:    c.RetryMax,
		Factor: 2,
		Jitter: true,
	}
}

// RetryPolicy creates a blocking retry policy equivalent to the controller.
func (c *Config) RetryPolicy() *jesd204.RetryPolicy {
	return &jesd204.RetryPolicy{
		MaxPasses: c.MaxPasses,
		Backoff:   c.NewBackoff(),
	}
}

// NewController creates a controller using the config.
func (c *Config) NewController(board string) *Controller {
	ctl := NewController(board)
	ctl.Config = c
	return ctl
}
