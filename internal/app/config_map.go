package app

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"dailytask/internal/action"
	"dailytask/internal/config"
	"dailytask/internal/ledger"
	"dailytask/internal/scheduler"
	"dailytask/internal/storage"
	logx "dailytask/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Operator: logx.OperatorConfig{
			Enabled:    l.Operator.Enabled,
			MinLevel:   l.Operator.MinLevel,
			RatePerSec: l.Operator.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path, Size: sc.Size}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		if busy == 0 {
			busy = time.Second
		}
		return storage.Config{Driver: "sqlite", Path: path, Size: sc.Size, BusyTimeout: busy}, nil
	case "memory":
		return storage.Config{Driver: "memory", Size: sc.Size}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLedgerOptions(cfg *config.Config, log logx.Logger) (ledger.Options, error) {
	policy, err := ledger.ParseResetPolicy(cfg.Ledger.ResetPolicy)
	if err != nil {
		return ledger.Options{}, fmt.Errorf("ledger.reset_policy: %w", err)
	}
	return ledger.Options{Offset: cfg.Ledger.Offset, Reset: policy, Log: log}, nil
}

func mapWiring(cfg *config.Config) (action.Wiring, error) {
	run, err := config.ParseDurationField("action.pump_run", cfg.Action.PumpRun)
	if err != nil {
		return action.Wiring{}, err
	}
	return action.Wiring{
		PumpPin:  cfg.Action.PumpPin,
		RelayPin: cfg.Action.RelayPin,
		PumpDuty: uint8(cfg.Action.PumpDuty),
		PumpRun:  run,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	poll, err := scheduler.ParsePoll(cfg.Scheduler.Poll)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("scheduler.poll: %w", err)
	}
	kind, err := action.ParseKind(cfg.Action.Kind)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("action.kind: %w", err)
	}
	every := true
	if cfg.Scheduler.StatusEveryTick != nil {
		every = *cfg.Scheduler.StatusEveryTick
	}
	return scheduler.Config{Poll: poll, Action: kind, StatusEveryTick: every}, nil
}

// changedSections names the top-level config sections that differ.
func changedSections(oldCfg, newCfg *config.Config) []string {
	if oldCfg == nil {
		oldCfg = &config.Config{}
	}
	ov, nv := reflect.ValueOf(*oldCfg), reflect.ValueOf(*newCfg)
	t := ov.Type()
	var out []string
	for i := 0; i < t.NumField(); i++ {
		if reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			continue
		}
		name := strings.Split(t.Field(i).Tag.Get("json"), ",")[0]
		out = append(out, name)
	}
	return out
}

// restartOnly are sections whose changes only take effect on restart.
var restartOnly = map[string]bool{
	"clock":   true,
	"storage": true,
	"ledger":  true,
	"console": true,
	"systemd": true,
	"debug":   true,
}
