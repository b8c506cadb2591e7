package workflow

import "bitbucket.org/mmdatafocus/drum_backend/models"

const (
	NoteScannedIntoInventory  = "Scanned into inventory"
	NoteScannedOutOfInventory = "Scanned out of inventory - staged for production"
)

// DrumTransition is one row of the scan state machine.
type DrumTransition struct {
	From   models.DrumStatus
	To     models.DrumStatus
	TxType models.TransactionType
	Notes  string
	// IncrementsOrder adds the drum to its order's quantity_received.
	IncrementsOrder bool
	Location        *models.DrumLocation
	StampsProcessed bool
}

var newSite = models.DrumLocationNewSite

// drumTransitions is closed: any status not listed here cannot be scanned.
var drumTransitions = map[models.DrumStatus]DrumTransition{
	models.DrumStatusPending: {
		From:            models.DrumStatusPending,
		To:              models.DrumStatusAvailable,
		TxType:          models.TransactionTypeIntake,
		Notes:           NoteScannedIntoInventory,
		IncrementsOrder: true,
		Location:        &newSite,
	},
	models.DrumStatusAvailable: {
		From:            models.DrumStatusAvailable,
		To:              models.DrumStatusProcessed,
		TxType:          models.TransactionTypeProcessing,
		Notes:           NoteScannedOutOfInventory,
		StampsProcessed: true,
	},
}

func NextTransition(from models.DrumStatus) (DrumTransition, bool) {
	t, ok := drumTransitions[from]
	return t, ok
}
