package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireDrumScanLock takes a MySQL named lock for one drum.
// GET_LOCK is connection scoped, so tx must be an open transaction (single connection).
func AcquireDrumScanLock(tx *gorm.DB, drumId int, waitSeconds int) error {
	if waitSeconds <= 0 {
		waitSeconds = 10
	}
	var ok *int
	if err := tx.Raw("SELECT GET_LOCK(?, ?)", drumScanLockName(drumId), waitSeconds).Scan(&ok).Error; err != nil {
		return err
	}
	if ok == nil || *ok != 1 {
		return fmt.Errorf("%w: drum %d", ErrScanLockNotObtained, drumId)
	}
	return nil
}

func ReleaseDrumScanLock(tx *gorm.DB, drumId int) {
	var released *int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", drumScanLockName(drumId)).Scan(&released).Error
}

func drumScanLockName(drumId int) string {
	return fmt.Sprintf("drum-scan:%d", drumId)
}
