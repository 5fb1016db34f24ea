package enums

import "fmt"

// IntentStatus tracks the lifecycle of a queued payment intent. There is no
// succeeded status: a confirmed intent is deleted from the queue.
type IntentStatus string

const (
	IntentStatusPending  IntentStatus = "pending"
	IntentStatusFailed   IntentStatus = "failed"
	IntentStatusConflict IntentStatus = "conflict"
)

var validIntentStatuses = []IntentStatus{
	IntentStatusPending,
	IntentStatusFailed,
	IntentStatusConflict,
}

// String implements fmt.Stringer.
func (s IntentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known IntentStatus.
func (s IntentStatus) IsValid() bool {
	for _, candidate := range validIntentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseIntentStatus converts raw input into an IntentStatus.
func ParseIntentStatus(value string) (IntentStatus, error) {
	for _, candidate := range validIntentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid intent status %q", value)
}
