package serialport

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/7-even/iso14230"
)

// KLineTransport implements iso14230.Transport over a real K-line serial
// adapter, using the termios/ioctl primitives of Port (port_linux.go). It assumes a plain
// serial adapter: it performs FastInit and SlowInit itself rather than
// relying on a smart interface to do either, so Flags() never reports
// DoesL2Frame/DoesP4Wait/DoesL2Cksum/StripsL2Cksum/DoesSlowInit.
type KLineTransport struct {
	port *Port
}

// OpenKLine opens device and puts it into raw 8-N-1 mode.
func OpenKLine(device string) (*KLineTransport, error) {
	port, err := Open(device, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	if err := port.MakeRaw(); err != nil {
		port.Close()
		return nil, fmt.Errorf("make raw: %w", err)
	}
	return &KLineTransport{port: port}, nil
}

// Close releases the underlying port.
func (t *KLineTransport) Close() error {
	if err := t.port.Close(); err != nil {
		if errors.Is(err, ErrClosed) {
			return errAlreadyClosed
		}
		return wrapErr("close port", err)
	}
	return nil
}

// Flags reports that this transport does none of the L1 framing work for
// the caller; the L2 Receiver does the full three-state reassembly.
func (t *KLineTransport) Flags() iso14230.L1Flags {
	return 0
}

// Recv reads up to len(buf) bytes, blocking for at most timeout.
func (t *KLineTransport) Recv(ctx context.Context, _ int, buf []byte, timeout time.Duration) (int, error) {
	n, err := t.port.ReadTimeout(buf, timeout)
	if err != nil {
		if isDeadlineErr(err) {
			return n, iso14230.ErrTimeout
		}
		return n, err
	}
	if n == 0 {
		return 0, iso14230.ErrTimeout
	}
	return n, nil
}

// Send writes buf one byte at a time, sleeping interbyteDelay between
// writes, per the K-line convention of pacing transmission at P4min.
func (t *KLineTransport) Send(ctx context.Context, _ int, buf []byte, interbyteDelay time.Duration) error {
	for i, b := range buf {
		if i > 0 && interbyteDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interbyteDelay):
			}
		}
		if _, err := t.port.Write([]byte{b}); err != nil {
			return err
		}
	}
	return t.port.Drain()
}

// SetSpeed configures the line for 8-N-1 at bps, using the termios2 BOTHER
// extension since K-line bitrates (10400 baud being the common case) aren't
// in the standard POSIX speed table.
func (t *KLineTransport) SetSpeed(bps int) error {
	attrs, err := t.port.GetAttr2()
	if err != nil {
		return err
	}
	attrs.MakeRaw()
	attrs.SetCustomSpeed(uint32(bps))
	return t.port.SetAttr2(TCSANOW, attrs)
}

// InputFlush discards unread input.
func (t *KLineTransport) InputFlush() error {
	return t.port.Flush(TCIFLUSH)
}

// ResetAdapter pulses DTR low then high, the reset convention many cheap
// USB-to-K-line dongles use to power-cycle their own microcontroller before
// a fresh StartComms; it has no effect on a direct-wired K-line interface.
func (t *KLineTransport) ResetAdapter(ctx context.Context) error {
	if err := t.port.DisableModemLines(TIOCM_DTR); err != nil {
		return err
	}
	if err := sleepCtx(ctx, 100*time.Millisecond); err != nil {
		return err
	}
	return t.port.EnableModemLines(TIOCM_DTR)
}

// InitBus drives the bus-init sequence described by mode.
func (t *KLineTransport) InitBus(ctx context.Context, mode iso14230.InitBusMode) error {
	if mode.Fast {
		return t.fastInitPulse(ctx)
	}
	return t.slowInitPulse(ctx, mode.Addr)
}

// fastInitPulse drives the 25ms-low/25ms-high wake pattern via break
// signaling, per ISO 14230-2 §5.2.3.
func (t *KLineTransport) fastInitPulse(ctx context.Context) error {
	if err := t.port.SetBreak(); err != nil {
		return err
	}
	if err := sleepCtx(ctx, 25*time.Millisecond); err != nil {
		return err
	}
	if err := t.port.ClearBreak(); err != nil {
		return err
	}
	return sleepCtx(ctx, 25*time.Millisecond)
}

// slowInitPulse bit-bangs addr at 5 baud (200ms per bit) using break
// signaling: start bit low, 8 data bits LSB-first, stop bit high.
func (t *KLineTransport) slowInitPulse(ctx context.Context, addr byte) error {
	const bitPeriod = 200 * time.Millisecond

	bits := make([]bool, 0, 10)
	bits = append(bits, false) // start bit
	for i := 0; i < 8; i++ {
		bits = append(bits, addr&(1<<uint(i)) != 0)
	}
	bits = append(bits, true) // stop bit

	for _, high := range bits {
		if high {
			if err := t.port.ClearBreak(); err != nil {
				return err
			}
		} else {
			if err := t.port.SetBreak(); err != nil {
				return err
			}
		}
		if err := sleepCtx(ctx, bitPeriod); err != nil {
			return err
		}
	}
	return nil
}

// isDeadlineErr reports whether err is fdev/poll's timeout signal, which
// surfaces as the underlying poll(2) ETIMEDOUT.
func isDeadlineErr(err error) bool {
	return errors.Is(err, syscall.ETIMEDOUT)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
