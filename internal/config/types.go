package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"dailytask/internal/action"
	"dailytask/internal/ledger"
	"dailytask/internal/scheduler"
	"dailytask/internal/storage"
	logx "dailytask/pkg/logx"
)

// Config is the on-disk configuration (JSON or YAML).
//
// Every section may be omitted; ApplyDefaults fills the gaps.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Clock     ClockConfig     `json:"clock"`
	Storage   StorageConfig   `json:"storage"`
	Ledger    LedgerConfig    `json:"ledger"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Action    ActionConfig    `json:"action"`
	Console   ConsoleConfig   `json:"console"`
	Systemd   SystemdConfig   `json:"systemd"`
	Debug     DebugConfig     `json:"debug"`
}

type LoggingConfig struct {
	Level    string            `json:"level"`
	Console  bool              `json:"console"`
	File     FileLogConfig     `json:"file"`
	Operator OperatorLogConfig `json:"operator"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// OperatorLogConfig mirrors warnings onto the operator console.
type OperatorLogConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ClockConfig selects the RTC. Only the emulated "soft" device exists on
// hosted builds; StatePath holds its registers.
type ClockConfig struct {
	Driver    string `json:"driver"`
	StatePath string `json:"state_path"`
}

// StorageConfig selects the non-volatile region backend.
//
// Drivers:
//   - file (default): raw image at path, flock-guarded
//   - sqlite: single-row blob in a sqlite database at path
//   - memory: volatile, for trials
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	Size        int64  `json:"size,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LedgerConfig struct {
	Offset int64 `json:"offset"`
	// ResetPolicy is "calendar" (default) or "literal".
	ResetPolicy string `json:"reset_policy,omitempty"`
}

type SchedulerConfig struct {
	// Poll is a duration ("30s"), HH:MM interval, or cron expression.
	Poll string `json:"poll"`
	// StatusEveryTick defaults to true.
	StatusEveryTick *bool `json:"status_every_tick,omitempty"`
}

type ActionConfig struct {
	// Kind is announce, pump_once, relay_on or relay_off.
	Kind     string     `json:"kind"`
	PumpPin  int        `json:"pump_pin"`
	RelayPin int        `json:"relay_pin"`
	PumpDuty int        `json:"pump_duty"`
	PumpRun  string     `json:"pump_run,omitempty"`
	Pins     PinsConfig `json:"pins"`
}

type PinsConfig struct {
	Driver string `json:"driver"`
	Dir    string `json:"dir,omitempty"`
}

type ConsoleConfig struct {
	// Enabled reads correction lines from stdin; defaults to true.
	Enabled *bool `json:"enabled,omitempty"`
}

type SystemdConfig struct {
	// Notify sends READY/WATCHDOG/STOPPING when NOTIFY_SOCKET is set; defaults to true.
	Notify *bool `json:"notify,omitempty"`
}

// DebugConfig is the optional health and pprof listener.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default 127.0.0.1:6060
	// Token is required for non-loopback addrs unless AllowInsecure.
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// Default returns a config with every default applied.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

func boolPtr(b bool) *bool { return &b }

// ApplyDefaults fills zero fields. Pins of 0 are meaningful (not wired), so
// the pin defaults only apply when the whole action section is empty.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
		c.Logging.Console = true
	}
	if c.Logging.Operator.MinLevel == "" {
		c.Logging.Operator.MinLevel = "warn"
	}
	if c.Logging.Operator.RatePerSec <= 0 {
		c.Logging.Operator.RatePerSec = 2
	}
	if c.Clock.Driver == "" {
		c.Clock.Driver = "soft"
	}
	if c.Clock.StatePath == "" {
		c.Clock.StatePath = "./data/rtc.yaml"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.Path == "" && c.Storage.Driver != "memory" {
		c.Storage.Path = "./data/nvram.img"
	}
	if c.Scheduler.Poll == "" {
		c.Scheduler.Poll = scheduler.DefaultPoll
	}
	if c.Scheduler.StatusEveryTick == nil {
		c.Scheduler.StatusEveryTick = boolPtr(true)
	}
	if c.Action == (ActionConfig{}) {
		c.Action.PumpPin = action.DefaultWiring.PumpPin
		c.Action.RelayPin = action.DefaultWiring.RelayPin
	}
	if c.Action.PumpDuty == 0 {
		c.Action.PumpDuty = int(action.DefaultWiring.PumpDuty)
	}
	if c.Action.Pins.Driver == "" {
		c.Action.Pins.Driver = "log"
	}
	if c.Console.Enabled == nil {
		c.Console.Enabled = boolPtr(true)
	}
	if c.Systemd.Notify == nil {
		c.Systemd.Notify = boolPtr(true)
	}
	if c.Debug.Enabled && c.Debug.Addr == "" {
		c.Debug.Addr = "127.0.0.1:6060"
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if !logx.ValidLevel(c.Logging.Level) {
		add("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add("logging.file.path: required when file logging is enabled")
	}
	if c.Logging.Operator.MinLevel != "" && !logx.ValidLevel(c.Logging.Operator.MinLevel) {
		add("logging.operator.min_level: unknown level %q", c.Logging.Operator.MinLevel)
	}
	if c.Clock.Driver != "soft" {
		add("clock.driver: unknown driver %q (use soft)", c.Clock.Driver)
	}
	switch c.Storage.Driver {
	case "file", "sqlite", "memory":
	default:
		add("storage.driver: unknown driver %q (use file, sqlite or memory)", c.Storage.Driver)
	}
	if c.Storage.Size < 0 {
		add("storage.size: must be >= 0")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.Ledger.Offset < 0 {
		add("ledger.offset: must be >= 0")
	}
	size := c.Storage.Size
	if size == 0 {
		size = storage.DefaultSize
	}
	if c.Ledger.Offset+ledger.RecordSize > size {
		add("ledger.offset: record at %d does not fit in %d bytes of storage", c.Ledger.Offset, size)
	}
	if _, err := ledger.ParseResetPolicy(c.Ledger.ResetPolicy); err != nil {
		add("ledger.reset_policy: %w", err)
	}
	if _, err := scheduler.ParsePoll(c.Scheduler.Poll); err != nil {
		add("scheduler.poll: %w", err)
	}
	if _, err := action.ParseKind(c.Action.Kind); err != nil {
		add("action.kind: %w", err)
	}
	if c.Action.PumpPin < 0 || c.Action.RelayPin < 0 {
		add("action: pins must be >= 0")
	}
	if c.Action.PumpDuty < 0 || c.Action.PumpDuty > 255 {
		add("action.pump_duty: %d not in 0..255", c.Action.PumpDuty)
	}
	if _, err := ParseDurationField("action.pump_run", c.Action.PumpRun); err != nil {
		errs = append(errs, err)
	}
	switch c.Action.Pins.Driver {
	case "log":
	case "file":
		if strings.TrimSpace(c.Action.Pins.Dir) == "" {
			add("action.pins.dir: required for file driver")
		}
	default:
		add("action.pins.driver: unknown driver %q (use log or file)", c.Action.Pins.Driver)
	}
	if c.Debug.Enabled {
		if _, _, err := net.SplitHostPort(c.Debug.Addr); err != nil {
			add("debug.addr: %w", err)
		}
	}
	return errors.Join(errs...)
}
