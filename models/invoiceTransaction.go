package models

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/stockbook_backend/config"
	"github.com/mmdatafocus/stockbook_backend/utils"
	"github.com/mmdatafocus/stockbook_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoiceTransaction is an append-only settlement ledger row. Corrections are
// made by voiding a row and recording a new one, never by editing amounts.
type InvoiceTransaction struct {
	ID                int             `gorm:"primary_key" json:"id"`
	InvoiceId         int             `gorm:"index;not null" json:"invoice_id"`
	SequenceNo        int64           `gorm:"not null" json:"sequence_no"`
	TransactionNumber string          `gorm:"size:255;not null;uniqueIndex" json:"transaction_number"`
	TransactionType   TransactionType `gorm:"type:enum('Payment','Refund');not null" json:"transaction_type"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	PaymentMethod     PaymentMethod   `gorm:"size:100" json:"payment_method"`
	Notes             string          `gorm:"type:text" json:"notes"`
	VoidedAt          *time.Time      `gorm:"index" json:"voided_at"`
	VoidedBy          int             `json:"voided_by"`
	VoidReason        string          `gorm:"type:text" json:"void_reason"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInvoiceTransaction struct {
	TransactionType TransactionType `json:"transaction_type" binding:"required"`
	Amount          decimal.Decimal `json:"amount" binding:"required"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	Notes           string          `json:"notes"`
}

func (t *InvoiceTransaction) IsVoided() bool {
	return t.VoidedAt != nil
}

// applySettlementStockTransition moves on-hand stock when the invoice crosses
// the Paid boundary in either direction. The moved quantity per line is
// detail_qty minus quantity already returned, so units a sales return has
// already put back are never moved twice. Product rows are locked in id order
// via the Details preload ordering.
func applySettlementStockTransition(ctx context.Context, tx *gorm.DB, invoice *Invoice, oldStatus, newStatus InvoiceStatus) error {
	enteredPaid := oldStatus != InvoiceStatusPaid && newStatus == InvoiceStatusPaid
	leftPaid := oldStatus == InvoiceStatusPaid && newStatus != InvoiceStatusPaid
	if !enteredPaid && !leftPaid {
		return nil
	}

	var items []InvoiceItem
	if err := tx.Where("invoice_id = ? AND voided_at IS NULL", invoice.ID).
		Order("product_id").Find(&items).Error; err != nil {
		return err
	}

	for i := range items {
		qty := items[i].DetailQty.Sub(items[i].QuantityReturnedTotal)
		if !qty.IsPositive() {
			continue
		}
		product, err := lockProduct(tx, items[i].ProductId)
		if err != nil {
			return err
		}
		expr := gorm.Expr("on_hand_qty - ?", qty)
		if leftPaid {
			expr = gorm.Expr("on_hand_qty + ?", qty)
		}
		if enteredPaid && product.OnHandQty.LessThan(qty) {
			// Reserved stock can never exceed on-hand, so this indicates a
			// bookkeeping fault rather than a user error.
			return utils.NewInvalidStateError(
				fmt.Sprintf("on-hand for %s is %s but %s is being settled", product.Name, product.OnHandQty.String(), qty.String()))
		}
		if err := tx.Model(&Product{}).Where("id = ?", product.ID).
			Update("on_hand_qty", expr).Error; err != nil {
			return err
		}
		if _, err := RecomputeProductStatus(tx, product.ID); err != nil {
			return err
		}
	}
	return nil
}

// RecordInvoiceTransaction appends a payment or refund and recomputes the
// invoice settlement state from the full non-voided transaction set. Crossing
// into Paid decrements on-hand for every live line; crossing back out
// restores it.
func RecordInvoiceTransaction(ctx context.Context, invoiceId int, input *NewInvoiceTransaction) (*InvoiceTransaction, error) {
	db := config.GetDB()

	if !input.Amount.IsPositive() {
		return nil, utils.NewInvalidAmountError("transaction amount must be positive")
	}
	if input.TransactionType != TransactionTypePayment && input.TransactionType != TransactionTypeRefund {
		return nil, utils.NewInvalidAmountError("transaction type must be Payment or Refund")
	}
	amount := input.Amount.Round(2)

	release, err := utils.SettlementLock(ctx, invoiceId, "invoiceTransaction.go", "RecordInvoiceTransaction")
	if err != nil {
		return nil, err
	}
	defer release()

	seqNo, err := utils.GetSequence[InvoiceTransaction](ctx)
	if err != nil {
		return nil, err
	}

	var transaction InvoiceTransaction
	err = db.Transaction(func(tx *gorm.DB) error {
		// Authoritative serializer; the redis lock above is best effort only.
		if err := workflow.AcquireInvoiceSettlementLock(tx, invoiceId); err != nil {
			return err
		}
		defer workflow.ReleaseInvoiceSettlementLock(tx, invoiceId)

		var invoice Invoice
		if err := tx.WithContext(ctx).First(&invoice, invoiceId).Error; err != nil {
			return utils.NewNotFoundError("invoice")
		}
		if invoice.CurrentStatus == InvoiceStatusCancelled {
			return utils.NewInvalidStateError("cannot record transactions on a cancelled invoice")
		}

		netPaid, err := netPaidAmount(tx.WithContext(ctx), invoiceId)
		if err != nil {
			return err
		}

		switch input.TransactionType {
		case TransactionTypePayment:
			if invoice.CurrentStatus == InvoiceStatusPaid {
				return utils.NewInvalidStateError("invoice is already fully paid")
			}
			if netPaid.Add(amount).GreaterThan(invoice.InvoiceTotalAmount) {
				return utils.NewInvalidAmountError(
					fmt.Sprintf("payment of %s would exceed invoice total %s (already paid %s)",
						amount.String(), invoice.InvoiceTotalAmount.String(), netPaid.String()))
			}
			remaining, err := liveQuantityTotal(tx.WithContext(ctx), invoiceId)
			if err != nil {
				return err
			}
			if !remaining.IsPositive() {
				return utils.NewInvalidStateError("all items on this invoice have been returned")
			}
		case TransactionTypeRefund:
			if netPaid.Sub(amount).IsNegative() {
				return utils.NewInvalidAmountError(
					fmt.Sprintf("refund of %s exceeds net paid amount %s", amount.String(), netPaid.String()))
			}
		}

		transaction = InvoiceTransaction{
			InvoiceId:         invoiceId,
			SequenceNo:        seqNo,
			TransactionNumber: utils.FormatDocumentNumber("TXN", seqNo),
			TransactionType:   input.TransactionType,
			Amount:            amount,
			PaymentMethod:     input.PaymentMethod,
			Notes:             input.Notes,
		}
		if err := tx.WithContext(ctx).Create(&transaction).Error; err != nil {
			return err
		}

		oldStatus := invoice.CurrentStatus
		if err := refreshInvoiceDerivedFields(tx.WithContext(ctx), &invoice); err != nil {
			return err
		}
		if err := applySettlementStockTransition(ctx, tx.WithContext(ctx), &invoice, oldStatus, invoice.CurrentStatus); err != nil {
			return err
		}

		if err := PublishAuditEvent(ctx, tx, "invoice_transaction.recorded", transaction.ID, AuditReferenceTypeTransaction, nil, transaction); err != nil {
			return err
		}
		createHistory(tx.WithContext(ctx), "CREATE", invoice.ID, AuditReferenceTypeInvoice, nil, transaction,
			fmt.Sprintf("%s %s of %s recorded against invoice %s.",
				string(transaction.TransactionType), transaction.TransactionNumber, amount.String(), invoice.InvoiceNumber))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &transaction, nil
}

// VoidInvoiceTransaction retracts a ledger entry while keeping the row for
// audit. The settlement state is recomputed from what remains, and a void
// that drops the invoice out of Paid restores the stock that payment took.
func VoidInvoiceTransaction(ctx context.Context, transactionId int, reason string) (*InvoiceTransaction, error) {
	db := config.GetDB()

	var probe InvoiceTransaction
	if err := db.WithContext(ctx).First(&probe, transactionId).Error; err != nil {
		return nil, utils.NewNotFoundError("invoice transaction")
	}

	release, err := utils.SettlementLock(ctx, probe.InvoiceId, "invoiceTransaction.go", "VoidInvoiceTransaction")
	if err != nil {
		return nil, err
	}
	defer release()

	var transaction InvoiceTransaction
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := workflow.AcquireInvoiceSettlementLock(tx, probe.InvoiceId); err != nil {
			return err
		}
		defer workflow.ReleaseInvoiceSettlementLock(tx, probe.InvoiceId)

		if err := tx.WithContext(ctx).First(&transaction, transactionId).Error; err != nil {
			return utils.NewNotFoundError("invoice transaction")
		}
		if transaction.IsVoided() {
			return utils.NewInvalidStateError("transaction is already voided")
		}

		var invoice Invoice
		if err := tx.WithContext(ctx).First(&invoice, transaction.InvoiceId).Error; err != nil {
			return err
		}
		if invoice.CurrentStatus == InvoiceStatusCancelled {
			return utils.NewInvalidStateError("cannot void transactions on a cancelled invoice")
		}

		// Voiding a payment may only push net paid down; voiding a refund pushes
		// it up, which must not overshoot the total.
		netPaid, err := netPaidAmount(tx.WithContext(ctx), invoice.ID)
		if err != nil {
			return err
		}
		if transaction.TransactionType == TransactionTypeRefund &&
			netPaid.Add(transaction.Amount).GreaterThan(invoice.InvoiceTotalAmount) {
			return utils.NewInvalidAmountError(
				fmt.Sprintf("voiding refund %s would push net paid above invoice total %s",
					transaction.TransactionNumber, invoice.InvoiceTotalAmount.String()))
		}

		oldTransaction := transaction
		now := time.Now().UTC()
		userId, _ := utils.GetUserIdFromContext(ctx)
		transaction.VoidedAt = &now
		transaction.VoidedBy = userId
		transaction.VoidReason = reason
		if err := tx.WithContext(ctx).Save(&transaction).Error; err != nil {
			return err
		}

		oldStatus := invoice.CurrentStatus
		if err := refreshInvoiceDerivedFields(tx.WithContext(ctx), &invoice); err != nil {
			return err
		}
		if err := applySettlementStockTransition(ctx, tx.WithContext(ctx), &invoice, oldStatus, invoice.CurrentStatus); err != nil {
			return err
		}

		if err := PublishAuditEvent(ctx, tx, "invoice_transaction.voided", transaction.ID, AuditReferenceTypeTransaction, oldTransaction, transaction); err != nil {
			return err
		}
		createHistory(tx.WithContext(ctx), "UPDATE", invoice.ID, AuditReferenceTypeInvoice, oldTransaction, transaction,
			fmt.Sprintf("%s %s voided: %s", string(transaction.TransactionType), transaction.TransactionNumber, reason))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &transaction, nil
}

// liveQuantityTotal sums the unreturned quantity on the invoice's non-voided
// lines.
func liveQuantityTotal(tx *gorm.DB, invoiceId int) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := tx.Table("invoice_items").
		Where("invoice_id = ? AND voided_at IS NULL", invoiceId).
		Select("COALESCE(SUM(detail_qty - quantity_returned_total), 0)").
		Scan(&total).Error
	return total, err
}
