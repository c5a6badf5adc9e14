// Package klog provides the explicit, per-connection log context used in
// place of the original driver's process-global DIAG_DEBUG_* bitmask (see
// Design Note 9 in SPEC_FULL.md). Each sub-logger corresponds to one of the
// original's debug categories, so operators can still tune verbosity per
// concern, just without reading mutable process globals from inside a
// library call.
package klog

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Context bundles the per-category loggers carried on a Connection.
type Context struct {
	Proto *log.Logger // frame decode/encode tracing
	Read  *log.Logger // receive state machine
	Write *log.Logger // send path
	Init  *log.Logger // startcomms
	Close *log.Logger // teardown
	Timer *log.Logger // keep-alive

	mu     sync.Mutex
	quiet  atomic.Bool
	loggers []*log.Logger
}

// New builds a Context with all sub-loggers writing to w at the given level.
func New(w io.Writer, level log.Level) *Context {
	mk := func(prefix string) *log.Logger {
		l := log.NewWithOptions(w, log.Options{Prefix: prefix})
		l.SetLevel(level)
		return l
	}
	c := &Context{
		Proto: mk("proto"),
		Read:  mk("read"),
		Write: mk("write"),
		Init:  mk("init"),
		Close: mk("close"),
		Timer: mk("timer"),
	}
	c.loggers = []*log.Logger{c.Proto, c.Read, c.Write, c.Init, c.Close, c.Timer}
	return c
}

// Quiet silences every sub-logger in this context and returns a restore
// function that puts levels back as they were. It is used by the keep-alive
// path to avoid interleaving its own log lines with a concurrent request's,
// without touching any other Connection's Context.
func (c *Context) Quiet() func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet.Swap(true) {
		// Already quiet (nested call); no-op restore.
		return func() {}
	}

	saved := make([]log.Level, len(c.loggers))
	for i, l := range c.loggers {
		saved[i] = l.GetLevel()
		l.SetLevel(log.Level(fatalish))
	}

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.loggers {
			l.SetLevel(saved[i])
		}
		c.quiet.Store(false)
	}
}

// fatalish is a level above log.FatalLevel, used to suppress everything
// short of adding a dedicated "off" sentinel to the charmbracelet levels.
const fatalish = log.FatalLevel + 1
