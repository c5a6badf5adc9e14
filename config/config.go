// Package config loads session defaults for an ISO 14230 connection from a
// YAML file, with command-line flags layered on top.
package config

import (
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/7-even/iso14230"
)

// DefaultBitrate mirrors iso14230.DefaultBitrate; duplicated here so a
// config file rendered with defaults doesn't need to import the protocol
// package just to print a number.
const DefaultBitrate = iso14230.DefaultBitrate

// Timings mirrors iso14230.Timings with plain-integer millisecond fields so
// it round-trips through YAML without a custom (Un)MarshalYAML.
type Timings struct {
	P1MaxMS int `yaml:"p1max_ms"`
	P2MinMS int `yaml:"p2min_ms"`
	P2MaxMS int `yaml:"p2max_ms"`
	P3MinMS int `yaml:"p3min_ms"`
	P4MaxMS int `yaml:"p4max_ms"`
	P4MinMS int `yaml:"p4min_ms"`
}

// ToTimings converts to iso14230.Timings.
func (t Timings) ToTimings() iso14230.Timings {
	return iso14230.Timings{
		P1Max: time.Duration(t.P1MaxMS) * time.Millisecond,
		P2Min: time.Duration(t.P2MinMS) * time.Millisecond,
		P2Max: time.Duration(t.P2MaxMS) * time.Millisecond,
		P3Min: time.Duration(t.P3MinMS) * time.Millisecond,
		P4Max: time.Duration(t.P4MaxMS) * time.Millisecond,
		P4Min: time.Duration(t.P4MinMS) * time.Millisecond,
	}
}

func defaultTimings() Timings {
	d := iso14230.DefaultTimings()
	return Timings{
		P1MaxMS: int(d.P1Max / time.Millisecond),
		P2MinMS: int(d.P2Min / time.Millisecond),
		P2MaxMS: int(d.P2Max / time.Millisecond),
		P3MinMS: int(d.P3Min / time.Millisecond),
		P4MaxMS: int(d.P4Max / time.Millisecond),
		P4MinMS: int(d.P4Min / time.Millisecond),
	}
}

// Config is the full set of session defaults.
type Config struct {
	Device    string  `yaml:"device"`
	Bitrate   int     `yaml:"bitrate"`
	InitType  string  `yaml:"init_type"` // "fast", "slow", or "monitor"
	Target    uint8   `yaml:"target"`
	Source    uint8   `yaml:"source"`
	FuncAddr  bool    `yaml:"func_addr"`
	IdleJ1978 bool    `yaml:"idle_j1978"`
	Timings   Timings `yaml:"timings"`
}

// Default returns the hardcoded baseline: 10400 baud, FastInit, tester
// address 0xF1, no functional addressing, TesterPresent keep-alives.
func Default() Config {
	return Config{
		Bitrate:  DefaultBitrate,
		InitType: "fast",
		Target:   0x33,
		Source:   0xF1,
		Timings:  defaultTimings(),
	}
}

// Load reads a YAML file at path into a copy of Default(), so any field the
// file omits keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// BindFlags registers pflag overrides for every field except Timings, which
// is set only from the config file or the defaults, following the
// config-file-then-flag-override split used elsewhere in this pack. Call
// Parse() on fs yourself so tests can supply their own argv.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Device, "device", c.Device, "serial device path")
	fs.IntVar(&c.Bitrate, "bitrate", c.Bitrate, "K-line bitrate")
	fs.StringVar(&c.InitType, "init", c.InitType, "init type: fast, slow, or monitor")
	fs.Uint8Var(&c.Target, "target", c.Target, "ECU target address")
	fs.Uint8Var(&c.Source, "source", c.Source, "tester source address")
	fs.BoolVar(&c.FuncAddr, "func-addr", c.FuncAddr, "use functional addressing")
	fs.BoolVar(&c.IdleJ1978, "idle-j1978", c.IdleJ1978, "use J1978 Mode1/PID0 keep-alives instead of TesterPresent")
}

// InitFlag maps the config's InitType string to iso14230.InitType.
func (c Config) InitFlag() iso14230.InitType {
	switch c.InitType {
	case "slow":
		return iso14230.SlowInit
	case "monitor":
		return iso14230.MonitorMode
	default:
		return iso14230.FastInit
	}
}
