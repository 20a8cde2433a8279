// ABOUTME: Player configuration from defaults, config file, environment and flags
// ABOUTME: Later sources win: defaults < file < SNAPSYNC_* env < command-line flags
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Resonate-Protocol/snapsync-go/pkg/drift"
	"github.com/Resonate-Protocol/snapsync-go/pkg/player"
	"github.com/kr/pretty"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SNAPSYNC_DRIFT_KP
const EnvPrefix = "SNAPSYNC"

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Drift mirrors drift.Config with file/env/flag keys
type Drift struct {
	Controller        string  `mapstructure:"controller"` // "dynamic" or "fixed"
	FixedFactor       float64 `mapstructure:"fixed_factor"`
	StartDelayMs      int64   `mapstructure:"start_delay_ms"`
	ProcessingLagMs   int64   `mapstructure:"processing_lag_ms"`
	FactorMin         float64 `mapstructure:"factor_min"`
	FactorMax         float64 `mapstructure:"factor_max"`
	MaxFactorStep     float64 `mapstructure:"max_factor_step"`
	Kp                float64 `mapstructure:"kp"`
	Ki                float64 `mapstructure:"ki"`
	Smoothing         float64 `mapstructure:"smoothing"`
	WarmupSamples     int     `mapstructure:"warmup_samples"`
	SettleSamples     int     `mapstructure:"settle_samples"`
	StableSamples     int     `mapstructure:"stable_samples"`
	StableThresholdMs float64 `mapstructure:"stable_threshold_ms"`
	StableJitter      float64 `mapstructure:"stable_jitter"`
	JumpThresholdMs   float64 `mapstructure:"jump_threshold_ms"`
}

// Config is the effective player configuration
type Config struct {
	Level            string `mapstructure:"level"`
	ConfigFile       string `mapstructure:"config_file"`
	LogFile          string `mapstructure:"log_file"`
	NoTUI            bool   `mapstructure:"no_tui"`
	Server           string `mapstructure:"server"`
	Port             int    `mapstructure:"port"`
	Name             string `mapstructure:"name"`
	Volume           int    `mapstructure:"volume"`
	DiscoveryTimeout int    `mapstructure:"discovery_timeout"` // seconds
	MaxDelayMs       int64  `mapstructure:"max_delay_ms"`
	RateWindow       int    `mapstructure:"rate_window"`
	QueueMs          int64  `mapstructure:"queue_ms"`
	Drift            Drift  `mapstructure:"drift"`
}

func defaults() Config {
	d := drift.DefaultConfig()
	return Config{
		Level:            "info",
		ConfigFile:       "snapsync.yaml",
		LogFile:          "snapsync-player.log",
		Port:             1704,
		Volume:           100,
		DiscoveryTimeout: 10,
		MaxDelayMs:       100000,
		RateWindow:       100,
		Drift: Drift{
			Controller:        "dynamic",
			FixedFactor:       1.0,
			StartDelayMs:      d.StartDelayMs,
			ProcessingLagMs:   d.ProcessingLagMs,
			FactorMin:         d.FactorMin,
			FactorMax:         d.FactorMax,
			MaxFactorStep:     d.MaxFactorStep,
			Kp:                d.Kp,
			Ki:                d.Ki,
			Smoothing:         d.Smoothing,
			WarmupSamples:     d.WarmupSamples,
			SettleSamples:     d.SettleSamples,
			StableSamples:     d.StableSamples,
			StableThresholdMs: d.StableThresholdMs,
			StableJitter:      d.StableJitter,
			JumpThresholdMs:   d.JumpThresholdMs,
		},
	}
}

func setDefaults(v *viper.Viper) {
	def := defaults()
	v.SetDefault("level", def.Level)
	v.SetDefault("config_file", def.ConfigFile)
	v.SetDefault("log_file", def.LogFile)
	v.SetDefault("no_tui", def.NoTUI)
	v.SetDefault("server", def.Server)
	v.SetDefault("port", def.Port)
	v.SetDefault("name", def.Name)
	v.SetDefault("volume", def.Volume)
	v.SetDefault("discovery_timeout", def.DiscoveryTimeout)
	v.SetDefault("max_delay_ms", def.MaxDelayMs)
	v.SetDefault("rate_window", def.RateWindow)
	v.SetDefault("queue_ms", def.QueueMs)

	v.SetDefault("drift.controller", def.Drift.Controller)
	v.SetDefault("drift.fixed_factor", def.Drift.FixedFactor)
	v.SetDefault("drift.start_delay_ms", def.Drift.StartDelayMs)
	v.SetDefault("drift.processing_lag_ms", def.Drift.ProcessingLagMs)
	v.SetDefault("drift.factor_min", def.Drift.FactorMin)
	v.SetDefault("drift.factor_max", def.Drift.FactorMax)
	v.SetDefault("drift.max_factor_step", def.Drift.MaxFactorStep)
	v.SetDefault("drift.kp", def.Drift.Kp)
	v.SetDefault("drift.ki", def.Drift.Ki)
	v.SetDefault("drift.smoothing", def.Drift.Smoothing)
	v.SetDefault("drift.warmup_samples", def.Drift.WarmupSamples)
	v.SetDefault("drift.settle_samples", def.Drift.SettleSamples)
	v.SetDefault("drift.stable_samples", def.Drift.StableSamples)
	v.SetDefault("drift.stable_threshold_ms", def.Drift.StableThresholdMs)
	v.SetDefault("drift.stable_jitter", def.Drift.StableJitter)
	v.SetDefault("drift.jump_threshold_ms", def.Drift.JumpThresholdMs)
}

func newFlagSet() *pflag.FlagSet {
	def := defaults()
	fs := pflag.NewFlagSet("snapsync-player", pflag.ContinueOnError)

	fs.String("config_file", def.ConfigFile, "configure filename")
	fs.String("level", def.Level, "Log level")
	fs.String("log_file", def.LogFile, "Log file path")
	fs.Bool("no_tui", def.NoTUI, "Disable TUI, use streaming logs instead")
	fs.String("server", def.Server, "Manual server address (skip mDNS)")
	fs.Int("port", def.Port, "Port for mDNS advertisement")
	fs.String("name", def.Name, "Player friendly name (default: hostname-snapsync-player)")
	fs.Int("volume", def.Volume, "Initial volume (0-100)")
	fs.Int("discovery_timeout", def.DiscoveryTimeout, "Seconds to wait for a server on mDNS")
	fs.Int64("max_delay_ms", def.MaxDelayMs, "Largest plausible start delay in milliseconds")
	fs.Int("rate_window", def.RateWindow, "Buffers per observed-rate measurement")
	fs.Int64("queue_ms", def.QueueMs, "Audio queued for output in milliseconds (0: max_delay_ms plus headroom)")

	fs.String("drift.controller", def.Drift.Controller, "Speed controller: dynamic or fixed")
	fs.Float64("drift.fixed_factor", def.Drift.FixedFactor, "Speed factor of the fixed controller")
	fs.Int64("drift.start_delay_ms", def.Drift.StartDelayMs, "Extra buffering before first playback")
	fs.Int64("drift.processing_lag_ms", def.Drift.ProcessingLagMs, "Local decode/output latency to compensate")
	fs.Float64("drift.kp", def.Drift.Kp, "Proportional gain per ms of error")
	fs.Float64("drift.ki", def.Drift.Ki, "Integral gain per ms of accumulated error")

	return fs
}

// Load builds the configuration from args (without the program name)
func Load(args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Flags
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	v.SetConfigFile(v.GetString("config_file"))
	if err := v.ReadInConfig(); err != nil {
		// only the default file is optional
		if v.GetString("config_file") != defaults().ConfigFile {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Debugf("No config file loaded (%v), using defaults", err)
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if c.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		c.Name = fmt.Sprintf("%s-snapsync-player", hostname)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	InitLog(c.Level)
	log.Debugf("Current configurations: \n%# v", pretty.Formatter(*c))

	return c, nil
}

// InitLog applies level to the global logger
func InitLog(level string) {
	if l, err := log.ParseLevel(level); err == nil {
		log.SetLevel(l)
		log.SetReportCaller(l == log.DebugLevel)
	}
}

// Validate rejects values the player cannot run with
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("%w: level %q", ErrInvalid, c.Level)
	}
	if c.Volume < 0 || c.Volume > 100 {
		return fmt.Errorf("%w: volume %d out of range 0-100", ErrInvalid, c.Volume)
	}
	if c.MaxDelayMs <= 0 {
		return fmt.Errorf("%w: max_delay_ms must be positive", ErrInvalid)
	}
	if c.QueueMs < 0 {
		return fmt.Errorf("%w: queue_ms must not be negative", ErrInvalid)
	}
	if c.Drift.StableJitter < 0 {
		return fmt.Errorf("%w: drift.stable_jitter must not be negative", ErrInvalid)
	}
	if c.Drift.FactorMin <= 0 || c.Drift.FactorMin > 1 || c.Drift.FactorMax < 1 {
		return fmt.Errorf("%w: factor bounds [%g, %g] must contain 1", ErrInvalid, c.Drift.FactorMin, c.Drift.FactorMax)
	}
	switch c.Drift.Controller {
	case "dynamic", "fixed":
	default:
		return fmt.Errorf("%w: unknown controller %q", ErrInvalid, c.Drift.Controller)
	}
	return nil
}

// DiscoveryWait is how long main waits for an mDNS answer
func (c *Config) DiscoveryWait() time.Duration {
	return time.Duration(c.DiscoveryTimeout) * time.Second
}

// DriftConfig converts the drift section
func (c *Config) DriftConfig() drift.Config {
	d := c.Drift
	return drift.Config{
		StartDelayMs:      d.StartDelayMs,
		ProcessingLagMs:   d.ProcessingLagMs,
		FactorMin:         d.FactorMin,
		FactorMax:         d.FactorMax,
		MaxFactorStep:     d.MaxFactorStep,
		Kp:                d.Kp,
		Ki:                d.Ki,
		Smoothing:         d.Smoothing,
		WarmupSamples:     d.WarmupSamples,
		SettleSamples:     d.SettleSamples,
		StableSamples:     d.StableSamples,
		StableThresholdMs: d.StableThresholdMs,
		StableJitter:      d.StableJitter,
		JumpThresholdMs:   d.JumpThresholdMs,
	}
}

// Controller builds the configured drift controller
func (c *Config) Controller() drift.Controller {
	if c.Drift.Controller == "fixed" {
		return drift.NewFixed(c.Drift.FixedFactor, c.DriftConfig())
	}
	return drift.NewDynamic(c.DriftConfig())
}

// PlayerConfig maps the configuration onto player.Config. Callbacks and
// the server address found by discovery are filled in by the caller.
func (c *Config) PlayerConfig() player.Config {
	return player.Config{
		ServerAddr: c.Server,
		PlayerName: c.Name,
		Volume:     c.Volume,
		Drift:      c.DriftConfig(),
		MaxDelayMs: c.MaxDelayMs,
		RateWindow: c.RateWindow,
		QueueMs:    c.QueueMs,
		Controller: c.Controller(),
	}
}
