package core

import "fmt"

// AdvanceStatus merges an incoming status into the current one under
// the monotonic lifecycle rules: Pending < Sent < Delivered < Read,
// Failed terminal and reachable from Pending or Sent only. The result
// is the maximum status reached regardless of arrival order.
//
// A stale or invalid transition returns the unchanged status and a
// state error; callers swallow it by design since duplicate and
// out-of-order receipts are expected.
func AdvanceStatus(cur, to DeliveryStatus) (DeliveryStatus, error) {
	if cur == to {
		return cur, stateError(fmt.Sprintf("status already %s", cur))
	}
	if cur == StatusFailed {
		return cur, stateError("message already failed")
	}
	if to == StatusFailed {
		if cur == StatusPending || cur == StatusSent {
			return StatusFailed, nil
		}
		return cur, stateError(fmt.Sprintf("cannot fail a %s message", cur))
	}
	if to < cur {
		return cur, stateError(fmt.Sprintf("stale %s after %s", to, cur))
	}
	return to, nil
}

// advance applies AdvanceStatus to a message in place and reports
// whether anything changed.
func advance(m *Message, to DeliveryStatus) bool {
	next, err := AdvanceStatus(m.Status, to)
	if err != nil {
		return false
	}
	m.Status = next
	return true
}
