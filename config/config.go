// Package config loads the pn547d configuration file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	hal "github.com/librescoot/pn547"
)

// Config is the daemon configuration.
type Config struct {
	Device DeviceConfig `toml:"device"`
	GPIO   GPIOConfig   `toml:"gpio"`
	Bus    BusConfig    `toml:"bus"`
	Socket SocketConfig `toml:"socket"`
	Notify NotifyConfig `toml:"notify"`
	Log    LogConfig    `toml:"log"`
}

type DeviceConfig struct {
	Variant          string   `toml:"variant"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	WakeLockTimeout  Duration `toml:"wake_lock_timeout"`
	ServiceName      string   `toml:"service_name"`
	LockFile         string   `toml:"lock_file"`
	SelfTestOnStart  bool     `toml:"selftest_on_start"`
}

// GPIOConfig selects the line backend: "cdev" uses Chip and the offsets,
// "periph" uses the pin names.
type GPIOConfig struct {
	Backend string `toml:"backend"`
	Chip    string `toml:"chip"`

	Ven      int `toml:"ven"`
	Firm     int `toml:"firm"`
	EsePower int `toml:"ese_pwr_req"`
	IRQ      int `toml:"irq"`

	VenPin      string `toml:"ven_pin"`
	FirmPin     string `toml:"firm_pin"`
	EsePowerPin string `toml:"ese_pwr_req_pin"`
	IRQPin      string `toml:"irq_pin"`
}

// BusConfig selects the host interface: "i2c-dev", "periph" or "uart".
type BusConfig struct {
	Backend string `toml:"backend"`
	Device  string `toml:"device"`
	Address uint16 `toml:"address"`
	Baud    int    `toml:"baud"`
}

type SocketConfig struct {
	Path string `toml:"path"`
}

// NotifyConfig selects event delivery: "socket" pushes events on the
// control connection of the registered pid, "signal" queues SIG_NFC.
type NotifyConfig struct {
	Mode         string `toml:"mode"`
	WakeLockPath string `toml:"wake_lock_path"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
	NoColor    bool   `toml:"no_color"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the configuration used for keys the file leaves out.
func Default() Config {
	def := hal.DefaultConfig()
	return Config{
		Device: DeviceConfig{
			Variant:          def.Variant.String(),
			HandshakeTimeout: Duration(def.HandshakeTimeout),
			WakeLockTimeout:  Duration(def.WakeLockTimeout),
			ServiceName:      def.ServiceName,
			LockFile:         "/run/pn547d.lock",
		},
		GPIO: GPIOConfig{
			Backend: "cdev",
			Chip:    "gpiochip0",
		},
		Bus: BusConfig{
			Backend: "i2c-dev",
			Device:  "/dev/i2c-1",
			Address: 0x2b,
		},
		Socket: SocketConfig{Path: "/run/pn547.sock"},
		Notify: NotifyConfig{Mode: "socket"},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("load %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("load %s: unknown key %s", path, undecoded[0])
	}
	return cfg, cfg.Validate()
}

// Validate checks the backend selections.
func (c Config) Validate() error {
	var errs []error
	if _, err := ParseVariant(c.Device.Variant); err != nil {
		errs = append(errs, err)
	}
	switch c.GPIO.Backend {
	case "cdev", "periph":
	default:
		errs = append(errs, fmt.Errorf("unknown gpio backend %q", c.GPIO.Backend))
	}
	switch c.Bus.Backend {
	case "i2c-dev", "periph", "uart":
	default:
		errs = append(errs, fmt.Errorf("unknown bus backend %q", c.Bus.Backend))
	}
	switch c.Notify.Mode {
	case "socket", "signal":
	default:
		errs = append(errs, fmt.Errorf("unknown notify mode %q", c.Notify.Mode))
	}
	if _, err := hal.ParseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Socket.Path == "" {
		errs = append(errs, errors.New("socket path is empty"))
	}
	return errors.Join(errs...)
}

// ParseVariant maps a variant name to hal.Variant.
func ParseVariant(s string) (hal.Variant, error) {
	switch s {
	case "pn66t", "":
		return hal.VariantPN66T, nil
	case "pn80t":
		return hal.VariantPN80T, nil
	}
	return 0, fmt.Errorf("unknown variant %q", s)
}

// HAL converts the device section into the core configuration.
func (c Config) HAL() (hal.Config, error) {
	v, err := ParseVariant(c.Device.Variant)
	if err != nil {
		return hal.Config{}, err
	}
	level, err := hal.ParseLogLevel(c.Log.Level)
	if err != nil {
		return hal.Config{}, err
	}
	return hal.Config{
		Variant:          v,
		HandshakeTimeout: time.Duration(c.Device.HandshakeTimeout),
		WakeLockTimeout:  time.Duration(c.Device.WakeLockTimeout),
		ServiceName:      c.Device.ServiceName,
		Debug:            level == hal.LogLevelDebug,
	}, nil
}
