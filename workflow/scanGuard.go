package workflow

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/models"
)

// GuardDecision is the rescan check for one drum.
type GuardDecision struct {
	Allowed bool
	Elapsed time.Duration
	Last    *models.Transaction
}

func (d GuardDecision) ElapsedMinutes() int {
	return int(d.Elapsed / time.Minute)
}

// CheckScanRate rejects a scan when the drum's latest transaction is younger than cooldown.
// A zero cooldown disables the check. A last scan stamped in the future counts as zero elapsed.
func CheckScanRate(last *models.Transaction, now time.Time, cooldown time.Duration) GuardDecision {
	if last == nil || cooldown <= 0 {
		return GuardDecision{Allowed: true, Last: last}
	}
	elapsed := now.Sub(last.UpdatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return GuardDecision{
		Allowed: elapsed >= cooldown,
		Elapsed: elapsed,
		Last:    last,
	}
}

func CancelledScanNote(d GuardDecision) string {
	return fmt.Sprintf("Scanned %d minutes after most recent scan", d.ElapsedMinutes())
}
