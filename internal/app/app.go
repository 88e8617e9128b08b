// Package app wires the bench together: configuration, logging, storage,
// transport, the transmit scheduler, and the optional report and power
// services. It owns startup and shutdown ordering; the pieces themselves
// never reach across to each other.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"canbench/internal/config"
	"canbench/internal/eventbus"
	"canbench/internal/layout"
	"canbench/internal/power"
	"canbench/internal/services/report"
	"canbench/internal/services/txsched"
	"canbench/internal/storage"
	"canbench/internal/transport"
	logx "canbench/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	tx     transport.Transport
	frames *layout.StaticProvider
	sched  *txsched.Service
	report *report.Service
	power  *power.Controller

	manageOutput bool

	runCancel context.CancelFunc
	bg        sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	var store storage.Store
	if sc := cfg.Storage; sc != nil {
		st, err := storage.Open(storage.Config{
			Driver:      sc.Driver,
			Path:        sc.Path,
			BusyTimeout: sc.BusyTimeout.Std(),
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		if st != nil {
			log.Info("update log enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
		}
		store = st
	}

	tx, err := openTransport(cfg.Transport, log)
	if err != nil {
		return nil, err
	}

	defs, err := cfg.LayoutDefs()
	if err != nil {
		return nil, err
	}
	frames, err := layout.NewStatic(defs)
	if err != nil {
		return nil, err
	}

	sched := txsched.New(timingFrom(cfg.Scheduler), frames, tx, bus, store, log)

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		tx:     tx,
		frames: frames,
		sched:  sched,
	}
	if rc := cfg.Report; rc != nil && rc.Enabled {
		a.report = report.New(report.Config{
			Enabled:  true,
			Spec:     rc.Schedule,
			Timezone: rc.Timezone,
		}, sched, bus, log)
	}
	if pc := cfg.Power; pc != nil && pc.Enabled {
		a.power = power.New(power.Config{
			Enabled:  true,
			Device:   pc.Device,
			SlaveID:  byte(pc.SlaveID),
			BaudRate: pc.BaudRate,
			Timeout:  pc.Timeout.Std(),
		}, bus, log)
		a.manageOutput = pc.ManageOutput
	}
	return a, nil
}

// Scheduler exposes the transmit facade for interactive callers.
func (a *App) Scheduler() *txsched.Service { return a.sched }

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	runCtx, cancel := context.WithCancel(context.Background())
	a.runCancel = cancel

	if a.power != nil {
		if err := a.powerUp(cfg.Power); err != nil {
			cancel()
			return err
		}
	}

	if err := a.startFrames(); err != nil {
		cancel()
		return err
	}

	if a.report != nil {
		if err := a.report.Start(runCtx); err != nil {
			cancel()
			return err
		}
	}

	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	sub := a.cfgm.Subscribe(1)
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case next := <-sub:
				if next != nil {
					a.applyReload(next)
				}
			}
		}
	}()

	a.startWatchdog(runCtx)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("bench started", logx.Int("frames", len(a.frames.Names())))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.runCancel != nil {
		a.runCancel()
	}
	if a.report != nil {
		a.report.Stop(ctx)
	}

	err := a.sched.Shutdown(ctx)

	if a.power != nil {
		if a.manageOutput {
			if perr := a.power.Output(false); perr != nil {
				a.log.Warn("power output off failed", logx.Err(perr))
			}
		}
		if cerr := a.power.Close(); cerr != nil {
			a.log.Warn("power close failed", logx.Err(cerr))
		}
	}
	if a.store != nil {
		if serr := a.store.Close(); serr != nil {
			a.log.Warn("update log close failed", logx.Err(serr))
		}
	}
	a.bg.Wait()
	a.log.Info("bench stopped")
	_ = a.logs.Close()
	return err
}

// startFrames sends every frame without a cycle time once, then registers
// the rest as periodic tasks with their configured defaults.
func (a *App) startFrames() error {
	var oneShot, periodic []string
	for _, name := range a.frames.Names() {
		lay, err := a.frames.Lookup(name)
		if err != nil {
			return err
		}
		if lay.Period > 0 {
			periodic = append(periodic, name)
		} else {
			oneShot = append(oneShot, name)
		}
	}

	for _, name := range oneShot {
		if err := a.sched.SendOnce(name, nil); err != nil {
			return fmt.Errorf("initial send %s: %w", name, err)
		}
		// Keep initial frames from bunching on the bus.
		time.Sleep(10 * time.Millisecond)
	}
	for _, name := range periodic {
		if _, err := a.sched.AddPeriodic(name, nil); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	a.log.Info("frames started",
		logx.Int("periodic", len(periodic)),
		logx.Int("one_shot", len(oneShot)))
	return nil
}

func (a *App) powerUp(pc *config.PowerConfig) error {
	if err := a.power.Open(); err != nil {
		return err
	}
	if pc.Voltage > 0 {
		if err := a.power.SetVoltage(pc.Voltage); err != nil {
			return err
		}
	}
	if pc.Current > 0 {
		if err := a.power.SetCurrent(pc.Current); err != nil {
			return err
		}
	}
	if a.manageOutput {
		return a.power.Output(true)
	}
	return nil
}

// applyReload handles a committed config change. Logging and per-frame
// default values are applied live; frame geometry and transport changes
// need a restart, which is logged rather than guessed at.
func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	for _, fc := range cfg.Frames {
		snap, err := a.sched.Task(uint32(fc.ID))
		if err != nil {
			continue
		}
		vals := map[string]uint64{}
		for sig, sc := range fc.Signals {
			if sc.Default != nil && sc.Default.Role == "" {
				vals[sig] = sc.Default.Value
			}
		}
		if len(vals) == 0 {
			continue
		}
		if _, err := a.sched.UpdateValues(snap.ID, vals); err != nil {
			a.log.Warn("reload values failed", logx.FrameID("frame", snap.ID), logx.Err(err))
		}
	}
	a.log.Info("config change applied", logx.Int("frames", len(cfg.Frames)))
}

func (a *App) startWatchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
	a.log.Debug("systemd watchdog armed", logx.Duration("interval", interval))
}

func timingFrom(sc config.SchedulerConfig) txsched.Timing {
	return txsched.Timing{
		CompensationFactor: sc.CompensationFactor,
		MaxCompensation:    sc.MaxCompensation.Std(),
		MinSleep:           sc.MinSleep.Std(),
		DisabledPoll:       sc.DisabledPoll.Std(),
		HistoryLen:         sc.HistoryLen,
	}
}

func openTransport(tc config.TransportConfig, log logx.Logger) (transport.Transport, error) {
	switch tc.Driver {
	case "", "loopback":
		log.Info("using loopback transport")
		return transport.NewLoopback(), nil
	case "socketcan":
		s, err := transport.NewSocketCAN(tc.Interface)
		if err != nil {
			return nil, err
		}
		log.Info("socketcan transport bound", logx.String("interface", tc.Interface))
		return s, nil
	default:
		return nil, fmt.Errorf("unknown transport driver %q", tc.Driver)
	}
}
