package core

import (
	"errors"
	"testing"
)

func TestAdvanceStatusMonotonic(t *testing.T) {
	cases := []struct {
		name string
		cur  DeliveryStatus
		to   DeliveryStatus
		want DeliveryStatus
		ok   bool
	}{
		{"pending to sent", StatusPending, StatusSent, StatusSent, true},
		{"sent to delivered", StatusSent, StatusDelivered, StatusDelivered, true},
		{"delivered to read", StatusDelivered, StatusRead, StatusRead, true},
		{"skip to read", StatusSent, StatusRead, StatusRead, true},
		{"duplicate delivered", StatusDelivered, StatusDelivered, StatusDelivered, false},
		{"delivered after read", StatusRead, StatusDelivered, StatusRead, false},
		{"sent after delivered", StatusDelivered, StatusSent, StatusDelivered, false},
		{"pending to failed", StatusPending, StatusFailed, StatusFailed, true},
		{"sent to failed", StatusSent, StatusFailed, StatusFailed, true},
		{"delivered cannot fail", StatusDelivered, StatusFailed, StatusDelivered, false},
		{"failed is terminal", StatusFailed, StatusSent, StatusFailed, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := AdvanceStatus(tc.cur, tc.to)
			if got != tc.want {
				t.Errorf("AdvanceStatus(%s, %s) = %s, want %s", tc.cur, tc.to, got, tc.want)
			}
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Errorf("expected a state error")
			}
		})
	}
}

func TestAdvanceStatusErrorsAreStateErrors(t *testing.T) {
	_, err := AdvanceStatus(StatusRead, StatusDelivered)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("expected stale transition, got %v", err)
	}
	var ce *CoreError
	if !errors.As(err, &ce) || ce.Code != ErrCodeState {
		t.Fatalf("expected state_error code, got %v", err)
	}
}
