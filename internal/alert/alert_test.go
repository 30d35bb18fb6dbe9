package alert

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/motormarket/realtime/internal/core"
)

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) {
	return 0, errors.New("tty gone")
}

func TestTerminalWritesBellAndBody(t *testing.T) {
	var out bytes.Buffer
	logger := zerolog.Nop()
	term := &Terminal{Out: &out, Logger: &logger}

	err := term.Alert(core.Notification{
		ID:      "n1",
		Type:    core.NotificationOffer,
		Title:   "Offer received",
		Content: "2500 for the wagon",
	})
	if err != nil {
		t.Fatalf("alert: %v", err)
	}
	got := out.String()
	if !strings.HasPrefix(got, "\a") || !strings.Contains(got, "Offer received") {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestTerminalRefusalDegradesToLog(t *testing.T) {
	var logOut bytes.Buffer
	logger := zerolog.New(&logOut)
	term := &Terminal{Out: failWriter{}, Logger: &logger}

	n := core.Notification{ID: "n1", Type: core.NotificationOffer, Title: "Offer received"}

	err := term.Alert(n)
	if !errors.Is(err, core.ErrPermission) {
		t.Fatalf("first refusal = %v, want permission error", err)
	}
	var ce *core.CoreError
	if !errors.As(err, &ce) || ce.Code != core.ErrCodePermission {
		t.Fatalf("refusal not coded: %v", err)
	}

	// Once degraded, alerts land in the log without further errors.
	if err := term.Alert(n); err != nil {
		t.Fatalf("degraded alert: %v", err)
	}
	if !strings.Contains(logOut.String(), "notification alert") {
		t.Fatalf("degraded alert missing from log: %q", logOut.String())
	}
}
