package payments

import (
	"time"

	"github.com/mvrodrig/tillsync/pkg/db/models"
	"github.com/mvrodrig/tillsync/pkg/enums"
)

// Patch is a partial update of a queued intent. Only the sync engine and the
// operator surface mutate intents, always through Repository.Patch so the
// read-modify-write happens in one transaction.
//
// Each status carries exactly one scheduling field: pending has NextRetryAt,
// failed has LastError, conflict has Conflict. The constructors below clear
// the fields that are invalid for the target status.
type Patch struct {
	Status        *enums.IntentStatus
	RetryCount    *int
	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
	LastError     *string
	Conflict      *models.ConflictDetail

	ClearNextRetryAt bool
	ClearLastError   bool
	ClearConflict    bool
}

// PatchRescheduled re-queues an intent after a transient submission failure.
func PatchRescheduled(retryCount int, attemptAt, nextRetryAt time.Time) Patch {
	status := enums.IntentStatusPending
	return Patch{
		Status:         &status,
		RetryCount:     &retryCount,
		LastAttemptAt:  &attemptAt,
		NextRetryAt:    &nextRetryAt,
		ClearLastError: true,
		ClearConflict:  true,
	}
}

// PatchFailed parks an intent after a permanent (validation) failure; it
// stays retryable manually.
func PatchFailed(retryCount int, attemptAt time.Time, reason string) Patch {
	status := enums.IntentStatusFailed
	return Patch{
		Status:           &status,
		RetryCount:       &retryCount,
		LastAttemptAt:    &attemptAt,
		LastError:        &reason,
		ClearNextRetryAt: true,
		ClearConflict:    true,
	}
}

// PatchConflict parks an intent that the remote flagged as a duplicate.
// Nothing transitions out of conflict without an explicit operator action.
func PatchConflict(attemptAt time.Time, detail models.ConflictDetail) Patch {
	status := enums.IntentStatusConflict
	return Patch{
		Status:           &status,
		LastAttemptAt:    &attemptAt,
		Conflict:         &detail,
		ClearNextRetryAt: true,
		ClearLastError:   true,
	}
}

// PatchManualFailure parks an intent failed by operator action. No
// submission happened, so the last attempt timestamp and retry counter are
// left untouched.
func PatchManualFailure(reason string) Patch {
	status := enums.IntentStatusFailed
	return Patch{
		Status:           &status,
		LastError:        &reason,
		ClearNextRetryAt: true,
		ClearConflict:    true,
	}
}

// PatchRearm makes an intent due immediately, used by manual retry-all.
func PatchRearm(now time.Time) Patch {
	status := enums.IntentStatusPending
	return Patch{
		Status:         &status,
		NextRetryAt:    &now,
		ClearLastError: true,
		ClearConflict:  true,
	}
}
