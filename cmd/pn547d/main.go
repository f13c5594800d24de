// pn547d owns the pn547 GPIO lines and host bus and serves the control
// socket to the NFC service and the SPI secure element client.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gofrs/flock"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	hal "github.com/librescoot/pn547"
	"github.com/librescoot/pn547/config"
	"github.com/librescoot/pn547/ctl"
	"github.com/librescoot/pn547/notify"
)

const statsInterval = time.Minute

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "TOML configuration file",
		Value:   "/etc/pn547d.toml",
		EnvVars: []string{"PN547D_CONFIG"},
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "override log level (none, error, warning, info, debug)",
	}
	socketFlag = &cli.StringFlag{
		Name:  "socket",
		Usage: "override control socket path",
	}
	selfTestFlag = &cli.BoolFlag{
		Name:  "selftest",
		Usage: "run the CORE_RESET self test after attach",
	}
)

func main() {
	app := &cli.App{
		Name:   "pn547d",
		Usage:  "pn547 NFC controller and eSE access daemon",
		Flags:  []cli.Flag{configFlag, logLevelFlag, socketFlag, selfTestFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	path := c.String(configFlag.Name)
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && !c.IsSet(configFlag.Name) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return cfg, err
	}
	if c.IsSet(logLevelFlag.Name) {
		cfg.Log.Level = c.String(logLevelFlag.Name)
	}
	if c.IsSet(socketFlag.Name) {
		cfg.Socket.Path = c.String(socketFlag.Name)
	}
	if c.Bool(selfTestFlag.Name) {
		cfg.Device.SelfTestOnStart = true
	}
	return cfg, cfg.Validate()
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	sink, err := newLogSink(cfg.Log)
	if err != nil {
		return err
	}
	defer sink.Close()

	lock := flock.New(cfg.Device.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", cfg.Device.LockFile, err)
	}
	if !locked {
		return fmt.Errorf("another pn547d holds %s", cfg.Device.LockFile)
	}
	defer lock.Unlock()

	var cleanup closers
	defer func() {
		if err := cleanup.Close(); err != nil {
			sink.Logf(hal.LogLevelWarning, "release hardware: %v", err)
		}
	}()

	lines, lc, err := openLines(cfg.GPIO)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, lc)
	b, err := openBus(cfg.Bus)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, b)
	sink.Logf(hal.LogLevelInfo, "bus %s, gpio backend %s", b, cfg.GPIO.Backend)

	halCfg, err := cfg.HAL()
	if err != nil {
		return err
	}
	halCfg.LogCallback = sink.Log

	var srv *ctl.Server
	hw := hal.Hardware{
		Lines:    lines,
		Bus:      b,
		Resolver: notify.ProcResolver{},
		WakeLock: notify.NewSysfsWakeLock(cfg.Notify.WakeLockPath, "nfc_wake_lock", sink.Log),
	}
	switch cfg.Notify.Mode {
	case "signal":
		hw.Notifier = notify.NewSignal()
	default:
		hw.Notifier = hal.NotifierFunc(func(pid int, evt hal.Event) error {
			return srv.Notify(pid, evt)
		})
	}

	dev, err := hal.New(halCfg, hw)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	defer dev.Close()
	srv = ctl.NewServer(dev, sink.Log)

	ctx, stop := signal.NotifyContext(c.Context, unix.SIGINT, unix.SIGTERM)
	defer stop()

	if cfg.Device.SelfTestOnStart {
		res, err := dev.SelfTest(ctx)
		if err != nil {
			return fmt.Errorf("selftest: %w", err)
		}
		sink.Logf(hal.LogLevelInfo, "selftest passed, NCI version 0x%02x", res.NCIVersion)
	}

	ln, err := ctl.Listen(cfg.Socket.Path)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Socket.Path, err)
	}
	defer os.Remove(cfg.Socket.Path)
	sink.Logf(hal.LogLevelInfo, "serving %s", cfg.Socket.Path)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx, ln)
	})
	g.Go(func() error {
		logStats(ctx, dev, sink)
		return nil
	})
	err = g.Wait()
	sink.Logf(hal.LogLevelInfo, "shutting down")
	return err
}

func logStats(ctx context.Context, dev *hal.Device, sink *logSink) {
	t := time.NewTicker(statsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := dev.IRQ().Stats()
			sink.Logf(hal.LogLevelDebug, "state %s, irq edges %d, spurious %d",
				dev.PowerStatus(), st.Edges, st.Spurious)
		}
	}
}
