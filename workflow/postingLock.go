package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireInvoiceSettlementLock serializes settlement per invoice across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB that will do the settlement transaction.
func AcquireInvoiceSettlementLock(tx *gorm.DB, invoiceId int) error {
	lockName := fmt.Sprintf("settlement:%d", invoiceId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire settlement lock for invoice_id=%d", invoiceId)
	}
	return nil
}

func ReleaseInvoiceSettlementLock(tx *gorm.DB, invoiceId int) {
	lockName := fmt.Sprintf("settlement:%d", invoiceId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
