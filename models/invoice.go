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

// Invoice money fields are all derived: subtotal/discount/total come from the
// non-voided line items, amount paid/balance/status from the non-voided
// transactions. Nothing here is ever hand-set by a caller after creation.
type Invoice struct {
	ID                     int                  `gorm:"primary_key" json:"id"`
	SequenceNo             int64                `gorm:"not null" json:"sequence_no"`
	InvoiceNumber          string               `gorm:"size:255;not null;uniqueIndex" json:"invoice_number"`
	CustomerId             int                  `gorm:"index;not null" json:"customer_id" binding:"required"`
	CurrencyId             int                  `gorm:"not null" json:"currency_id" binding:"required"`
	CurrentStatus          InvoiceStatus        `gorm:"type:enum('Unpaid','Partial Paid','Paid','Cancelled');not null;default:Unpaid" json:"current_status"`
	InvoiceDiscount        decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"invoice_discount"`
	InvoiceDiscountType    *DiscountType        `gorm:"type:enum('P','A');default:null" json:"invoice_discount_type"`
	InvoiceDiscountAmount  decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"invoice_discount_amount"`
	InvoiceSubtotal        decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"invoice_subtotal"`
	InvoiceTotalAmount     decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"invoice_total_amount"`
	InvoiceTotalPaidAmount decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"invoice_total_paid_amount"`
	RemainingBalance       decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"remaining_balance"`
	TotalCostAmount        decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"total_cost_amount"`
	TotalProfitAmount      decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"total_profit_amount"`
	Notes                  string               `gorm:"type:text" json:"notes"`
	CancelledAt            *time.Time           `json:"cancelled_at"`
	CancelledBy            int                  `json:"cancelled_by"`
	CancellationReason     string               `gorm:"type:text" json:"cancellation_reason"`
	Details                []InvoiceItem        `gorm:"foreignKey:InvoiceId" json:"details"`
	Transactions           []InvoiceTransaction `gorm:"foreignKey:InvoiceId" json:"transactions"`
	DeletedAt              gorm.DeletedAt       `gorm:"index" json:"-"`
	CreatedAt              time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInvoice struct {
	CustomerId          int              `json:"customer_id" binding:"required"`
	CurrencyId          int              `json:"currency_id" binding:"required"`
	InvoiceDiscount     decimal.Decimal  `json:"invoice_discount"`
	InvoiceDiscountType *DiscountType    `json:"invoice_discount_type"`
	Notes               string           `json:"notes"`
	Details             []NewInvoiceItem `json:"details"`
}

type UpdateInvoiceDiscountInput struct {
	InvoiceDiscount     decimal.Decimal `json:"invoice_discount"`
	InvoiceDiscountType *DiscountType   `json:"invoice_discount_type"`
}

// settlementStatusFor is the status transition table: net paid P against
// total T. Cancelled is an absorbing state entered only via CancelInvoice and
// is never produced here.
func settlementStatusFor(netPaid decimal.Decimal, total decimal.Decimal) InvoiceStatus {
	if !netPaid.IsPositive() {
		return InvoiceStatusUnpaid
	}
	if netPaid.LessThan(total) {
		return InvoiceStatusPartialPaid
	}
	return InvoiceStatusPaid
}

// netPaidAmount sums non-voided payments minus non-voided refunds, clamped to
// zero. Always recomputed from the full transaction set, never incrementally,
// so it stays correct after voids.
func netPaidAmount(tx *gorm.DB, invoiceId int) (decimal.Decimal, error) {
	type sums struct {
		Payments decimal.Decimal `gorm:"column:payments"`
		Refunds  decimal.Decimal `gorm:"column:refunds"`
	}
	var s sums
	if err := tx.
		Table("invoice_transactions").
		Where("invoice_id = ? AND voided_at IS NULL", invoiceId).
		Select(
			"COALESCE(SUM(CASE WHEN transaction_type = 'Payment' THEN amount ELSE 0 END), 0) AS payments, "+
				"COALESCE(SUM(CASE WHEN transaction_type = 'Refund' THEN amount ELSE 0 END), 0) AS refunds").
		Scan(&s).Error; err != nil {
		return decimal.Zero, err
	}
	net := s.Payments.Sub(s.Refunds)
	if net.IsNegative() {
		net = decimal.Zero
	}
	return net, nil
}

// refreshInvoiceDerivedFields recomputes every derived invoice field from the
// line items and transactions and persists them. Idempotent: running it twice
// without intervening writes yields identical values. Callers needing stock
// side-effects compare CurrentStatus before and after.
func refreshInvoiceDerivedFields(tx *gorm.DB, invoice *Invoice) error {
	if invoice.CurrentStatus == InvoiceStatusCancelled {
		return nil
	}

	type itemSums struct {
		Subtotal decimal.Decimal `gorm:"column:subtotal"`
		Cost     decimal.Decimal `gorm:"column:cost"`
	}
	var items itemSums
	if err := tx.
		Table("invoice_items").
		Where("invoice_id = ? AND voided_at IS NULL", invoice.ID).
		Select("COALESCE(SUM(detail_total_amount), 0) AS subtotal, COALESCE(SUM(detail_cost_amount), 0) AS cost").
		Scan(&items).Error; err != nil {
		return err
	}

	subtotal := items.Subtotal.Round(2)
	var discountAmount decimal.Decimal
	if invoice.InvoiceDiscountType != nil {
		discountAmount = utils.CalculateDiscountAmount(subtotal, invoice.InvoiceDiscount, string(*invoice.InvoiceDiscountType))
	}
	total := subtotal.Sub(discountAmount).Round(2)
	cost := items.Cost.Round(2)

	netPaid, err := netPaidAmount(tx, invoice.ID)
	if err != nil {
		return err
	}
	balance := total.Sub(netPaid)
	if balance.IsNegative() {
		balance = decimal.Zero
	}

	invoice.InvoiceSubtotal = subtotal
	invoice.InvoiceDiscountAmount = discountAmount
	invoice.InvoiceTotalAmount = total
	invoice.InvoiceTotalPaidAmount = netPaid
	invoice.RemainingBalance = balance
	invoice.TotalCostAmount = cost
	invoice.TotalProfitAmount = total.Sub(cost).Round(2)
	invoice.CurrentStatus = settlementStatusFor(netPaid, total)

	return tx.Model(&Invoice{}).Where("id = ?", invoice.ID).Updates(map[string]interface{}{
		"invoice_subtotal":          invoice.InvoiceSubtotal,
		"invoice_discount_amount":   invoice.InvoiceDiscountAmount,
		"invoice_total_amount":      invoice.InvoiceTotalAmount,
		"invoice_total_paid_amount": invoice.InvoiceTotalPaidAmount,
		"remaining_balance":         invoice.RemainingBalance,
		"total_cost_amount":         invoice.TotalCostAmount,
		"total_profit_amount":       invoice.TotalProfitAmount,
		"current_status":            invoice.CurrentStatus,
	}).Error
}

func CreateInvoice(ctx context.Context, input *NewInvoice) (*Invoice, error) {
	db := config.GetDB()

	if err := utils.ValidateResourceId[Customer](ctx, input.CustomerId); err != nil {
		return nil, utils.NewNotFoundError("customer")
	}
	if err := utils.ValidateResourceId[Currency](ctx, input.CurrencyId); err != nil {
		return nil, utils.NewNotFoundError("currency")
	}

	seqNo, err := utils.GetSequence[Invoice](ctx)
	if err != nil {
		return nil, err
	}

	invoice := Invoice{
		SequenceNo:          seqNo,
		InvoiceNumber:       utils.FormatDocumentNumber("INV", seqNo),
		CustomerId:          input.CustomerId,
		CurrencyId:          input.CurrencyId,
		InvoiceDiscount:     input.InvoiceDiscount,
		InvoiceDiscountType: input.InvoiceDiscountType,
		Notes:               input.Notes,
		CurrentStatus:       InvoiceStatusUnpaid,
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()

	if err := tx.WithContext(ctx).Create(&invoice).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	// Initial lines go through the same reservation path as later adds, one
	// product lock at a time.
	for i := range input.Details {
		if _, err := addItemTx(ctx, tx.WithContext(ctx), &invoice, &input.Details[i]); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := refreshInvoiceDerivedFields(tx.WithContext(ctx), &invoice); err != nil {
		tx.Rollback()
		return nil, err
	}
	if invoice.InvoiceDiscountType != nil {
		if err := validateDiscountCeiling(ctx, invoice.InvoiceSubtotal, invoice.InvoiceDiscountAmount); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := PublishAuditEvent(ctx, tx, "invoice.created", invoice.ID, AuditReferenceTypeInvoice, nil, invoice); err != nil {
		tx.Rollback()
		return nil, err
	}
	createHistory(tx.WithContext(ctx), "CREATE", invoice.ID, AuditReferenceTypeInvoice, nil, invoice,
		fmt.Sprintf("Invoice %s created.", invoice.InvoiceNumber))

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return GetInvoice(ctx, invoice.ID)
}

func GetInvoice(ctx context.Context, id int) (*Invoice, error) {
	return utils.FetchModel[Invoice](ctx, id, "Details", "Transactions")
}

// UpdateInvoiceDiscount changes the invoice-level discount. Permitted only on
// a fully unpaid invoice, bounded by the acting role's discount ceiling.
func UpdateInvoiceDiscount(ctx context.Context, invoiceId int, input *UpdateInvoiceDiscountInput) (*Invoice, error) {
	db := config.GetDB()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()

	var invoice Invoice
	if err := tx.WithContext(ctx).First(&invoice, invoiceId).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewNotFoundError("invoice")
	}
	if invoice.CurrentStatus != InvoiceStatusUnpaid {
		tx.Rollback()
		return nil, utils.NewInvalidStateError("discount can only be changed on an unpaid invoice")
	}

	oldInvoice := invoice
	invoice.InvoiceDiscount = input.InvoiceDiscount
	invoice.InvoiceDiscountType = input.InvoiceDiscountType
	if err := tx.WithContext(ctx).Model(&Invoice{}).Where("id = ?", invoiceId).Updates(map[string]interface{}{
		"invoice_discount":      input.InvoiceDiscount,
		"invoice_discount_type": input.InvoiceDiscountType,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := refreshInvoiceDerivedFields(tx.WithContext(ctx), &invoice); err != nil {
		tx.Rollback()
		return nil, err
	}
	if input.InvoiceDiscountType != nil {
		if err := validateDiscountCeiling(ctx, invoice.InvoiceSubtotal, invoice.InvoiceDiscountAmount); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := PublishAuditEvent(ctx, tx, "invoice.discount_changed", invoice.ID, AuditReferenceTypeInvoice, oldInvoice, invoice); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return GetInvoice(ctx, invoiceId)
}

// CancelInvoice is the terminal transition. It requires net paid = 0 (fully
// refunded or never paid): a cancelled invoice simply stops reserving, so no
// on-hand restoration happens here. Payment either never decremented on-hand
// or the refund transition already restored it.
func CancelInvoice(ctx context.Context, invoiceId int, reason string) (*Invoice, error) {
	db := config.GetDB()

	release, err := utils.SettlementLock(ctx, invoiceId, "invoice.go", "CancelInvoice")
	if err != nil {
		return nil, err
	}
	defer release()

	err = db.Transaction(func(tx *gorm.DB) error {
		// Authoritative serializer; the redis lock above is best effort only.
		if err := workflow.AcquireInvoiceSettlementLock(tx, invoiceId); err != nil {
			return err
		}
		defer workflow.ReleaseInvoiceSettlementLock(tx, invoiceId)

		var invoice Invoice
		if err := tx.WithContext(ctx).Preload("Details").First(&invoice, invoiceId).Error; err != nil {
			return utils.NewNotFoundError("invoice")
		}
		if invoice.CurrentStatus == InvoiceStatusCancelled {
			return utils.NewInvalidStateError("invoice is already cancelled")
		}

		netPaid, err := netPaidAmount(tx.WithContext(ctx), invoiceId)
		if err != nil {
			return err
		}
		if !netPaid.IsZero() {
			return utils.NewInvalidStateError(
				fmt.Sprintf("cannot cancel invoice with outstanding payments (net paid=%s); refund first", netPaid.String()))
		}

		oldInvoice := invoice
		now := time.Now().UTC()
		userId, _ := utils.GetUserIdFromContext(ctx)

		// Cancelled invoices drop out of active accounting entirely.
		if err := tx.WithContext(ctx).Model(&Invoice{}).Where("id = ?", invoiceId).Updates(map[string]interface{}{
			"current_status":            InvoiceStatusCancelled,
			"cancelled_at":              now,
			"cancelled_by":              userId,
			"cancellation_reason":       reason,
			"invoice_subtotal":          decimal.Zero,
			"invoice_discount_amount":   decimal.Zero,
			"invoice_total_amount":      decimal.Zero,
			"invoice_total_paid_amount": decimal.Zero,
			"remaining_balance":         decimal.Zero,
			"total_cost_amount":         decimal.Zero,
			"total_profit_amount":       decimal.Zero,
		}).Error; err != nil {
			return err
		}

		// Reservations are released by the status change itself; products fall
		// back toward InStock on recompute.
		for _, productId := range distinctProductIds(invoice.Details) {
			if _, err := RecomputeProductStatus(tx.WithContext(ctx), productId); err != nil {
				return err
			}
		}

		if err := PublishAuditEvent(ctx, tx, "invoice.cancelled", invoice.ID, AuditReferenceTypeInvoice, oldInvoice, nil); err != nil {
			return err
		}
		createHistory(tx.WithContext(ctx), "UPDATE", invoice.ID, AuditReferenceTypeInvoice, oldInvoice, nil,
			fmt.Sprintf("Invoice %s cancelled: %s", invoice.InvoiceNumber, reason))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return GetInvoice(ctx, invoiceId)
}

// DeleteInvoice soft-deletes. Only an empty Unpaid or Cancelled invoice may
// be deleted; anything with lines or money keeps its audit trail.
func DeleteInvoice(ctx context.Context, invoiceId int) error {
	db := config.GetDB()

	invoice, err := utils.FetchModel[Invoice](ctx, invoiceId)
	if err != nil {
		return utils.NewNotFoundError("invoice")
	}
	if invoice.CurrentStatus != InvoiceStatusUnpaid && invoice.CurrentStatus != InvoiceStatusCancelled {
		return utils.NewInvalidStateError("only unpaid or cancelled invoices can be deleted")
	}

	var itemCount int64
	if err := db.WithContext(ctx).Model(&InvoiceItem{}).
		Where("invoice_id = ? AND voided_at IS NULL", invoiceId).
		Count(&itemCount).Error; err != nil {
		return err
	}
	if itemCount > 0 {
		return utils.NewInvalidStateError("invoice still has line items; remove them first")
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()

	if err := tx.WithContext(ctx).Delete(invoice).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := PublishAuditEvent(ctx, tx, "invoice.deleted", invoice.ID, AuditReferenceTypeInvoice, invoice, nil); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

func distinctProductIds(items []InvoiceItem) []int {
	seen := make(map[int]bool, len(items))
	var ids []int
	for _, item := range items {
		if item.ProductId > 0 && !seen[item.ProductId] {
			seen[item.ProductId] = true
			ids = append(ids, item.ProductId)
		}
	}
	return ids
}
