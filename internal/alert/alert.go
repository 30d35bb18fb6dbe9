// Package alert surfaces high priority notifications outside the
// normal change stream, for example as a terminal bell or desktop
// popup.
package alert

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/motormarket/realtime/internal/core"
)

// Nop discards every alert.
type Nop struct{}

func (Nop) Alert(core.Notification) error { return nil }

// Log writes alerts to the structured log. Used when no interactive
// surface is available.
type Log struct {
	Logger *zerolog.Logger
}

func (l Log) Alert(n core.Notification) error {
	l.Logger.Info().
		Str("id", n.ID).
		Str("type", string(n.Type)).
		Str("title", n.Title).
		Msg("notification alert")
	return nil
}

// Terminal writes alerts to an interactive writer. If the surface
// refuses (write error, closed tty) the first refusal is reported as a
// PermissionError and every later alert degrades to the log.
type Terminal struct {
	Out    io.Writer
	Logger *zerolog.Logger

	mu       sync.Mutex
	degraded bool
}

func (t *Terminal) Alert(n core.Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.degraded {
		_, err := fmt.Fprintf(t.Out, "\a[%s] %s: %s\n", n.Type, n.Title, n.Content)
		if err == nil {
			return nil
		}
		t.degraded = true
		return core.PermissionError(fmt.Sprintf("terminal alert surface unavailable: %v", err))
	}
	t.Logger.Info().
		Str("id", n.ID).
		Str("type", string(n.Type)).
		Str("title", n.Title).
		Msg("notification alert")
	return nil
}
