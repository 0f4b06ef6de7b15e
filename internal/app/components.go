package app

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"

	"dailytask/internal/action"
	"dailytask/internal/config"
	"dailytask/internal/ledger"
	"dailytask/internal/rtc"
	"dailytask/internal/storage"
	logx "dailytask/pkg/logx"
)

// Components are the hardware-facing parts shared by the daemon and the
// one-shot CLI commands.
type Components struct {
	Device   rtc.Device
	Clock    *rtc.Guardian
	Store    storage.Store
	Ledger   *ledger.Ledger
	Dispatch *action.Dispatcher
}

// OpenComponents opens clock, storage, ledger and actuators from cfg. fs backs
// every file the components touch; nil means the OS filesystem.
func OpenComponents(fs afero.Fs, cfg *config.Config, log logx.Logger) (*Components, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	if cfg.Clock.Driver != "soft" {
		return nil, fmt.Errorf("unknown clock.driver: %s", cfg.Clock.Driver)
	}
	dev, err := rtc.OpenSoft(rtc.SoftOptions{
		Fs:   fs,
		Path: cfg.Clock.StatePath,
		Log:  log.With(logx.String("comp", "rtc")),
	})
	if err != nil {
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	store, err := storage.OpenFs(fs, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = dev.Close()
		return nil, err
	}

	lopt, err := mapLedgerOptions(cfg, log.With(logx.String("comp", "ledger")))
	if err != nil {
		_ = store.Close()
		_ = dev.Close()
		return nil, err
	}

	pins, err := action.OpenPins(fs, action.PinsConfig{Driver: cfg.Action.Pins.Driver, Dir: cfg.Action.Pins.Dir}, log.With(logx.String("comp", "pins")))
	if err != nil {
		_ = store.Close()
		_ = dev.Close()
		return nil, err
	}
	wiring, err := mapWiring(cfg)
	if err != nil {
		_ = store.Close()
		_ = dev.Close()
		return nil, err
	}

	return &Components{
		Device:   dev,
		Clock:    rtc.NewGuardian(dev, log.With(logx.String("comp", "clock"))),
		Store:    store,
		Ledger:   ledger.New(store, lopt),
		Dispatch: action.NewDispatcher(pins, wiring, log),
	}, nil
}

func (c *Components) Close() error {
	var errs []error
	if c.Dispatch != nil {
		errs = append(errs, c.Dispatch.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	if c.Device != nil {
		errs = append(errs, c.Device.Close())
	}
	return errors.Join(errs...)
}
