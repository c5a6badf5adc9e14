// Command kwp2000ctl opens a K-line serial device, starts an ISO 14230
// session, issues one request, and tears down. It exists to exercise the
// library against real hardware; it is not part of the L2 core.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/7-even/iso14230"
	"github.com/7-even/iso14230/config"
	"github.com/7-even/iso14230/klog"
	"github.com/7-even/iso14230/serialport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "kwp2000ctl:", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := pflag.String("config", "", "path to a YAML config file")
	req := pflag.String("request", "3e", "hex bytes to send once established")
	reset := pflag.Bool("reset-adapter", false, "pulse DTR before StartComms (cheap USB K-line dongles)")
	// The config-bound flags are not defined yet; let this first pass skip them.
	pflag.CommandLine.ParseErrorsWhitelist.UnknownFlags = true
	pflag.Parse()
	pflag.CommandLine.ParseErrorsWhitelist.UnknownFlags = false

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	cfg.BindFlags(pflag.CommandLine)
	pflag.Parse()

	if cfg.Device == "" {
		return fmt.Errorf("--device is required")
	}

	logCtx := klog.New(os.Stderr, log.InfoLevel)

	transport, err := serialport.OpenKLine(cfg.Device)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer transport.Close()

	fsm := iso14230.SessionFSM{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if *reset {
		if err := transport.ResetAdapter(ctx); err != nil {
			return fmt.Errorf("reset adapter: %w", err)
		}
	}

	conn, cerr := fsm.StartComms(ctx, transport, logCtx, iso14230.StartFlags{
		Init:      cfg.InitFlag(),
		FuncAddr:  cfg.FuncAddr,
		IdleJ1978: cfg.IdleJ1978,
	}, cfg.Bitrate, cfg.Target, cfg.Source, cfg.Timings.ToTimings())
	if cerr != nil {
		return fmt.Errorf("startcomms: %w", cerr)
	}
	logCtx.Init.Info("established", "kb1", conn.KB1, "kb2", conn.KB2, "physaddr", conn.PhysAddr)

	payload, perr := parseHex(*req)
	if perr != nil {
		return perr
	}

	resp, rerr := fsm.Request(ctx, conn, nil, &iso14230.Message{Data: payload, Dst: conn.DstAddr, Src: conn.SrcAddr})
	if rerr != nil {
		logCtx.Proto.Error("request failed", "err", rerr)
	} else {
		logCtx.Proto.Info("response", "data", fmt.Sprintf("% x", resp.Data), "badcs", resp.Format&iso14230.FmtBadCS != 0)
	}

	if serr := fsm.StopComms(ctx, conn, nil); serr != nil {
		logCtx.Close.Warn("stopcomms", "err", serr)
	}
	return nil
}

func parseHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var b int
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, fmt.Errorf("bad hex byte %q: %w", s[i*2:i*2+2], err)
		}
		out[i] = byte(b)
	}
	return out, nil
}
