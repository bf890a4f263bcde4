package models

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/stockbook_backend/config"
	"github.com/mmdatafocus/stockbook_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SalesReturn records goods physically coming back from a paid sale. It
// adjusts sold accounting (quantity_returned_total, on-hand) but never the
// historical invoice amounts; money flows back through the transaction ledger
// or a store-credit note, not here.
type SalesReturn struct {
	ID           int                 `gorm:"primary_key" json:"id"`
	SequenceNo   int64               `gorm:"not null" json:"sequence_no"`
	ReturnNumber string              `gorm:"size:255;not null;uniqueIndex" json:"return_number"`
	InvoiceId    int                 `gorm:"index;not null" json:"invoice_id"`
	Reason       string              `gorm:"type:text" json:"reason"`
	TotalAmount  decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	Details      []SalesReturnDetail `gorm:"foreignKey:SalesReturnId" json:"details"`
	CreatedAt    time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

type SalesReturnDetail struct {
	ID            int             `gorm:"primary_key" json:"id"`
	SalesReturnId int             `gorm:"index;not null" json:"sales_return_id"`
	InvoiceItemId int             `gorm:"index;not null" json:"invoice_item_id"`
	ProductId     int             `gorm:"index;not null" json:"product_id"`
	ReturnQty     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"return_qty"`
	ReturnAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"return_amount"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// CreditNote is store credit spawned by a return. Redemption is tracked by
// RemainingAmount; the note itself never expires state into the invoice.
type CreditNote struct {
	ID               int             `gorm:"primary_key" json:"id"`
	SequenceNo       int64           `gorm:"not null" json:"sequence_no"`
	CreditNoteNumber string          `gorm:"size:255;not null;uniqueIndex" json:"credit_note_number"`
	CustomerId       int             `gorm:"index;not null" json:"customer_id"`
	SalesReturnId    int             `gorm:"index" json:"sales_return_id"`
	CurrencyId       int             `gorm:"not null" json:"currency_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	RemainingAmount  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"remaining_amount"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSalesReturn struct {
	InvoiceId        int                    `json:"invoice_id" binding:"required"`
	Reason           string                 `json:"reason"`
	IssueStoreCredit bool                   `json:"issue_store_credit"`
	Details          []NewSalesReturnDetail `json:"details" binding:"required"`
}

type NewSalesReturnDetail struct {
	InvoiceItemId int             `json:"invoice_item_id" binding:"required"`
	ReturnQty     decimal.Decimal `json:"return_qty" binding:"required"`
}

// returnValueFor prices the returned units at the line's effective (post
// discount) unit value, so the return amount matches what was actually paid
// for those units.
func returnValueFor(item *InvoiceItem, qty decimal.Decimal) decimal.Decimal {
	if item.DetailQty.IsZero() {
		return decimal.Zero
	}
	unitValue := item.DetailTotalAmount.DivRound(item.DetailQty, 6)
	return unitValue.Mul(qty).Round(2)
}

// CreateSalesReturn accepts returned units against a paid invoice. Each
// returned unit goes back on hand and counts toward the line's returned
// total; the invoice stays Paid and its amounts stay untouched. When
// requested, the return value is issued as a store-credit note.
func CreateSalesReturn(ctx context.Context, input *NewSalesReturn) (*SalesReturn, error) {
	db := config.GetDB()

	if len(input.Details) == 0 {
		return nil, utils.NewInvalidAmountError("a return needs at least one line")
	}

	release, err := utils.SettlementLock(ctx, input.InvoiceId, "salesReturn.go", "CreateSalesReturn")
	if err != nil {
		return nil, err
	}
	defer release()

	seqNo, err := utils.GetSequence[SalesReturn](ctx)
	if err != nil {
		return nil, err
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()

	var invoice Invoice
	if err := tx.WithContext(ctx).First(&invoice, input.InvoiceId).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewNotFoundError("invoice")
	}
	if invoice.CurrentStatus != InvoiceStatusPaid {
		tx.Rollback()
		return nil, utils.NewInvalidStateError("returns are only accepted against a paid invoice")
	}

	salesReturn := SalesReturn{
		SequenceNo:   seqNo,
		ReturnNumber: utils.FormatDocumentNumber("SR", seqNo),
		InvoiceId:    invoice.ID,
		Reason:       input.Reason,
	}
	if err := tx.WithContext(ctx).Create(&salesReturn).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	totalValue := decimal.Zero
	for i := range input.Details {
		detail := &input.Details[i]
		qty := detail.ReturnQty
		if !qty.IsPositive() || (config.StrictIntegerQuantities() && !utils.IsIntegral(qty)) {
			tx.Rollback()
			return nil, utils.NewInvalidAmountError("return quantity must be a positive whole number")
		}

		var item InvoiceItem
		if err := tx.WithContext(ctx).
			Where("id = ? AND invoice_id = ?", detail.InvoiceItemId, invoice.ID).
			First(&item).Error; err != nil {
			tx.Rollback()
			return nil, utils.NewNotFoundError("invoice item")
		}
		if item.IsVoided() {
			tx.Rollback()
			return nil, utils.NewInvalidStateError("cannot return against a voided line item")
		}

		returnable := item.DetailQty.Sub(item.QuantityReturnedTotal)
		if qty.GreaterThan(returnable) {
			tx.Rollback()
			return nil, utils.NewInvalidAmountError(
				fmt.Sprintf("return quantity %s exceeds returnable quantity %s for %s",
					qty.String(), returnable.String(), item.Name))
		}

		if _, err := lockProduct(tx.WithContext(ctx), item.ProductId); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.WithContext(ctx).Model(&InvoiceItem{}).Where("id = ?", item.ID).
			Update("quantity_returned_total", gorm.Expr("quantity_returned_total + ?", qty)).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.WithContext(ctx).Model(&Product{}).Where("id = ?", item.ProductId).
			Update("on_hand_qty", gorm.Expr("on_hand_qty + ?", qty)).Error; err != nil {
			tx.Rollback()
			return nil, err
		}

		value := returnValueFor(&item, qty)
		totalValue = totalValue.Add(value)

		returnDetail := SalesReturnDetail{
			SalesReturnId: salesReturn.ID,
			InvoiceItemId: item.ID,
			ProductId:     item.ProductId,
			ReturnQty:     qty,
			ReturnAmount:  value,
		}
		if err := tx.WithContext(ctx).Create(&returnDetail).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		salesReturn.Details = append(salesReturn.Details, returnDetail)

		if _, err := RecomputeProductStatus(tx.WithContext(ctx), item.ProductId); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	salesReturn.TotalAmount = totalValue.Round(2)
	if err := tx.WithContext(ctx).Model(&SalesReturn{}).Where("id = ?", salesReturn.ID).
		Update("total_amount", salesReturn.TotalAmount).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if input.IssueStoreCredit && totalValue.IsPositive() {
		noteSeq, err := utils.GetSequence[CreditNote](ctx)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		note := CreditNote{
			SequenceNo:       noteSeq,
			CreditNoteNumber: utils.FormatDocumentNumber("CN", noteSeq),
			CustomerId:       invoice.CustomerId,
			SalesReturnId:    salesReturn.ID,
			CurrencyId:       invoice.CurrencyId,
			Amount:           salesReturn.TotalAmount,
			RemainingAmount:  salesReturn.TotalAmount,
		}
		if err := tx.WithContext(ctx).Create(&note).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := PublishAuditEvent(ctx, tx, "credit_note.issued", note.ID, AuditReferenceTypeCreditNote, nil, note); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := PublishAuditEvent(ctx, tx, "sales_return.created", salesReturn.ID, AuditReferenceTypeSalesReturn, nil, salesReturn); err != nil {
		tx.Rollback()
		return nil, err
	}
	createHistory(tx.WithContext(ctx), "CREATE", invoice.ID, AuditReferenceTypeInvoice, nil, salesReturn,
		fmt.Sprintf("Return %s accepted against invoice %s.", salesReturn.ReturnNumber, invoice.InvoiceNumber))

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &salesReturn, nil
}

func GetSalesReturn(ctx context.Context, id int) (*SalesReturn, error) {
	return utils.FetchModel[SalesReturn](ctx, id, "Details")
}
