package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/stockbook_backend/config"
	"github.com/mmdatafocus/stockbook_backend/utils"
	"github.com/mmdatafocus/stockbook_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// An InvoiceItem on a non-cancelled, non-paid invoice IS the reservation
// against its product. There is no separate reserved counter to keep in sync;
// creating, editing and voiding lines is how reservation state changes.
type InvoiceItem struct {
	ID                    int             `gorm:"primary_key" json:"id"`
	InvoiceId             int             `gorm:"index;not null" json:"invoice_id"`
	ProductId             int             `gorm:"index;not null" json:"product_id"`
	Name                  string          `gorm:"size:100;not null" json:"name"`
	DetailQty             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_qty"`
	DetailUnitRate        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_unit_rate"`
	DetailUnitCost        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_unit_cost"`
	DetailDiscount        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_discount"`
	DetailDiscountType    *DiscountType   `gorm:"type:enum('P','A');default:null" json:"detail_discount_type"`
	DetailDiscountAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_discount_amount"`
	DetailTotalAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_total_amount"`
	DetailCostAmount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_cost_amount"`
	DetailProfitAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_profit_amount"`
	QuantityReturnedTotal decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity_returned_total"`
	VoidedAt              *time.Time      `gorm:"index" json:"voided_at"`
	VoidedBy              int             `json:"voided_by"`
	VoidReason            string          `gorm:"type:text" json:"void_reason"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInvoiceItem struct {
	ProductId          int              `json:"product_id" binding:"required"`
	DetailQty          decimal.Decimal  `json:"detail_qty" binding:"required"`
	DetailUnitRate     *decimal.Decimal `json:"detail_unit_rate"`
	DetailDiscount     decimal.Decimal  `json:"detail_discount"`
	DetailDiscountType *DiscountType    `json:"detail_discount_type"`
}

type UpdateInvoiceItemInput struct {
	DetailQty          *decimal.Decimal `json:"detail_qty"`
	DetailUnitRate     *decimal.Decimal `json:"detail_unit_rate"`
	DetailDiscount     *decimal.Decimal `json:"detail_discount"`
	DetailDiscountType *DiscountType    `json:"detail_discount_type"`
}

func (item *InvoiceItem) IsVoided() bool {
	return item.VoidedAt != nil
}

// recalculate the derived line amounts after any qty/price/discount change
func (item *InvoiceItem) recalculate() {
	var discountType *string
	if item.DetailDiscountType != nil {
		s := string(*item.DetailDiscountType)
		discountType = &s
	}
	amounts := utils.CalculateLineAmounts(item.DetailQty, item.DetailUnitRate, item.DetailUnitCost, item.DetailDiscount, discountType)
	item.DetailDiscountAmount = amounts.DiscountAmount
	item.DetailTotalAmount = amounts.LineTotal
	item.DetailCostAmount = amounts.LineCost
	item.DetailProfitAmount = amounts.LineProfit
}

func validateItemQty(qty decimal.Decimal) error {
	if qty.LessThan(decimal.NewFromInt(1)) {
		return utils.NewInvalidAmountError("quantity must be at least 1")
	}
	if config.StrictIntegerQuantities() && !utils.IsIntegral(qty) {
		return utils.NewInvalidAmountError("quantity must be a whole number")
	}
	return nil
}

// addItemTx performs the reservation-critical part of adding a line: it locks
// the product row, checks availability, and creates or merges the line, all
// on the caller's transaction. The caller recomputes statuses and totals.
func addItemTx(ctx context.Context, tx *gorm.DB, invoice *Invoice, input *NewInvoiceItem) (*InvoiceItem, error) {
	if err := validateItemQty(input.DetailQty); err != nil {
		return nil, err
	}

	product, err := lockProduct(tx, input.ProductId)
	if err != nil {
		return nil, err
	}

	available, err := availableQty(tx, product, 0)
	if err != nil {
		return nil, err
	}
	if available.LessThan(input.DetailQty) {
		return nil, utils.NewInsufficientStockError(product.Name, available, input.DetailQty)
	}

	// Freeze the unit cost in the invoice currency now; later exchange-rate
	// changes must not retroactively alter historical margin.
	unitCost, err := ConvertAmount(ctx, product.PurchaseCost, product.CurrencyId, invoice.CurrencyId)
	if err != nil {
		return nil, err
	}

	unitRate := decimal.Zero
	if input.DetailUnitRate != nil {
		unitRate = *input.DetailUnitRate
	} else {
		unitRate, err = ConvertAmount(ctx, product.SalesPrice, product.CurrencyId, invoice.CurrencyId)
		if err != nil {
			return nil, err
		}
	}
	if unitRate.IsNegative() {
		return nil, utils.NewInvalidAmountError("unit price cannot be negative")
	}

	// Same product already on this invoice: grow the existing line instead of
	// creating a duplicate row.
	var existing InvoiceItem
	err = tx.Where("invoice_id = ? AND product_id = ? AND voided_at IS NULL", invoice.ID, input.ProductId).
		First(&existing).Error
	if err == nil {
		existing.DetailQty = existing.DetailQty.Add(input.DetailQty)
		// A discount on the incoming line replaces the merged line's discount
		// and is re-checked against the ceiling at the grown quantity.
		if input.DetailDiscountType != nil {
			existing.DetailDiscount = input.DetailDiscount
			existing.DetailDiscountType = input.DetailDiscountType
		}
		existing.recalculate()
		if existing.DetailDiscountType != nil {
			pre := existing.DetailQty.Mul(existing.DetailUnitRate).Round(2)
			if err := validateDiscountCeiling(ctx, pre, existing.DetailDiscountAmount); err != nil {
				return nil, err
			}
		}
		if err := tx.Save(&existing).Error; err != nil {
			return nil, err
		}
		if _, err := RecomputeProductStatus(tx, product.ID); err != nil {
			return nil, err
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	item := InvoiceItem{
		InvoiceId:          invoice.ID,
		ProductId:          product.ID,
		Name:               product.Name,
		DetailQty:          input.DetailQty,
		DetailUnitRate:     unitRate,
		DetailUnitCost:     unitCost,
		DetailDiscount:     input.DetailDiscount,
		DetailDiscountType: input.DetailDiscountType,
	}
	item.recalculate()

	if item.DetailDiscountType != nil {
		pre := item.DetailQty.Mul(item.DetailUnitRate).Round(2)
		if err := validateDiscountCeiling(ctx, pre, item.DetailDiscountAmount); err != nil {
			return nil, err
		}
	}

	if err := tx.Create(&item).Error; err != nil {
		return nil, err
	}
	if err := PublishAuditEvent(ctx, tx, "product.reserved", item.ID, AuditReferenceTypeInvoiceItem, nil, item); err != nil {
		return nil, err
	}
	if _, err := RecomputeProductStatus(tx, product.ID); err != nil {
		return nil, err
	}
	return &item, nil
}

// AddInvoiceItem reserves stock for an invoice by creating (or merging) a
// line item. Items may only be added while the invoice is still fully
// unpaid, which keeps the settlement math simple.
func AddInvoiceItem(ctx context.Context, invoiceId int, input *NewInvoiceItem) (*InvoiceItem, error) {
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
		return nil, utils.NewInvalidStateError("items can only be added to an unpaid invoice")
	}

	item, err := addItemTx(ctx, tx.WithContext(ctx), &invoice, input)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := refreshInvoiceDerivedFields(tx.WithContext(ctx), &invoice); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateInvoiceItem edits quantity, unit price and/or discount. A quantity
// increase re-checks availability on the delta only (the line's current
// quantity is already reserved); a decrease never needs a check.
func UpdateInvoiceItem(ctx context.Context, itemId int, input *UpdateInvoiceItemInput) (*InvoiceItem, error) {
	db := config.GetDB()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()

	var item InvoiceItem
	if err := tx.WithContext(ctx).First(&item, itemId).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewNotFoundError("invoice item")
	}
	if item.IsVoided() {
		tx.Rollback()
		return nil, utils.NewInvalidStateError("cannot edit a voided line item")
	}

	var invoice Invoice
	if err := tx.WithContext(ctx).First(&invoice, item.InvoiceId).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if invoice.CurrentStatus != InvoiceStatusUnpaid {
		tx.Rollback()
		return nil, utils.NewInvalidStateError("items can only be edited on an unpaid invoice")
	}

	oldItem := item

	if input.DetailQty != nil {
		newQty := *input.DetailQty
		if err := validateItemQty(newQty); err != nil {
			tx.Rollback()
			return nil, err
		}
		delta := newQty.Sub(item.DetailQty)
		if delta.IsPositive() {
			product, err := lockProduct(tx.WithContext(ctx), item.ProductId)
			if err != nil {
				tx.Rollback()
				return nil, err
			}
			available, err := availableQty(tx.WithContext(ctx), product, 0)
			if err != nil {
				tx.Rollback()
				return nil, err
			}
			if available.LessThan(delta) {
				tx.Rollback()
				return nil, utils.NewInsufficientStockError(product.Name, available, delta)
			}
		}
		item.DetailQty = newQty
	}
	if input.DetailUnitRate != nil {
		if input.DetailUnitRate.IsNegative() {
			tx.Rollback()
			return nil, utils.NewInvalidAmountError("unit price cannot be negative")
		}
		item.DetailUnitRate = *input.DetailUnitRate
	}
	if input.DetailDiscount != nil {
		item.DetailDiscount = *input.DetailDiscount
	}
	if input.DetailDiscountType != nil {
		item.DetailDiscountType = input.DetailDiscountType
	}

	item.recalculate()

	if item.DetailDiscountType != nil {
		pre := item.DetailQty.Mul(item.DetailUnitRate).Round(2)
		if err := validateDiscountCeiling(ctx, pre, item.DetailDiscountAmount); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.WithContext(ctx).Save(&item).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := PublishAuditEvent(ctx, tx, "invoice_item.updated", item.ID, AuditReferenceTypeInvoiceItem, oldItem, item); err != nil {
		tx.Rollback()
		return nil, err
	}
	if _, err := RecomputeProductStatus(tx.WithContext(ctx), item.ProductId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := refreshInvoiceDerivedFields(tx.WithContext(ctx), &invoice); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// RemoveInvoiceItem deletes a line from a still-unpaid invoice. The deletion
// itself releases the reservation; there is nothing else to update.
func RemoveInvoiceItem(ctx context.Context, itemId int) error {
	db := config.GetDB()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()

	var item InvoiceItem
	if err := tx.WithContext(ctx).First(&item, itemId).Error; err != nil {
		tx.Rollback()
		return utils.NewNotFoundError("invoice item")
	}

	var invoice Invoice
	if err := tx.WithContext(ctx).First(&invoice, item.InvoiceId).Error; err != nil {
		tx.Rollback()
		return err
	}
	if invoice.CurrentStatus != InvoiceStatusUnpaid {
		tx.Rollback()
		return utils.NewInvalidStateError("items can only be removed from an unpaid invoice; void instead")
	}

	if err := tx.WithContext(ctx).Delete(&item).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := PublishAuditEvent(ctx, tx, "invoice_item.removed", item.ID, AuditReferenceTypeInvoiceItem, item, nil); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := RecomputeProductStatus(tx.WithContext(ctx), item.ProductId); err != nil {
		tx.Rollback()
		return err
	}
	if err := refreshInvoiceDerivedFields(tx.WithContext(ctx), &invoice); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// VoidInvoiceItem corrects a paid sale without deleting audit history.
// A full void marks the whole line voided. A partial void reduces the
// original line and inserts a second, already-voided line carrying the voided
// quantity, so the original sale amount is preserved in history. Because
// payment already decremented on-hand, the voided quantity is restored.
func VoidInvoiceItem(ctx context.Context, itemId int, voidQty *decimal.Decimal, reason string) (*InvoiceItem, error) {
	db := config.GetDB()

	// The void restores on-hand stock, so it must serialize against settlement
	// transitions on the same invoice. Otherwise a concurrent payment void can
	// drop the invoice out of Paid and restore the same units a second time.
	var probe InvoiceItem
	if err := db.WithContext(ctx).First(&probe, itemId).Error; err != nil {
		return nil, utils.NewNotFoundError("invoice item")
	}

	release, err := utils.SettlementLock(ctx, probe.InvoiceId, "invoiceItem.go", "VoidInvoiceItem")
	if err != nil {
		return nil, err
	}
	defer release()

	var item InvoiceItem
	err = db.Transaction(func(tx *gorm.DB) error {
		// Authoritative serializer; the redis lock above is best effort only.
		if err := workflow.AcquireInvoiceSettlementLock(tx, probe.InvoiceId); err != nil {
			return err
		}
		defer workflow.ReleaseInvoiceSettlementLock(tx, probe.InvoiceId)

		if err := tx.WithContext(ctx).First(&item, itemId).Error; err != nil {
			return utils.NewNotFoundError("invoice item")
		}
		if item.IsVoided() {
			return utils.NewInvalidStateError("line item is already voided")
		}

		var invoice Invoice
		if err := tx.WithContext(ctx).First(&invoice, item.InvoiceId).Error; err != nil {
			return err
		}
		if invoice.CurrentStatus != InvoiceStatusPaid {
			return utils.NewInvalidStateError("line items can only be voided on a paid invoice")
		}

		voidable := item.DetailQty.Sub(item.QuantityReturnedTotal)
		qty := voidable
		if voidQty != nil {
			qty = *voidQty
			if !qty.IsPositive() || (config.StrictIntegerQuantities() && !utils.IsIntegral(qty)) {
				return utils.NewInvalidAmountError("void quantity must be a positive whole number")
			}
			if qty.GreaterThan(voidable) {
				return utils.NewInvalidAmountError(
					fmt.Sprintf("void quantity %s exceeds voidable quantity %s", qty.String(), voidable.String()))
			}
		}
		fullVoid := qty.Equal(voidable)

		if fullVoid {
			var remaining int64
			if err := tx.WithContext(ctx).Model(&InvoiceItem{}).
				Where("invoice_id = ? AND voided_at IS NULL AND id <> ?", invoice.ID, item.ID).
				Count(&remaining).Error; err != nil {
				return err
			}
			if remaining == 0 {
				return utils.NewInvalidStateError("cannot void the last line item; cancel the invoice instead")
			}
		}

		now := time.Now().UTC()
		userId, _ := utils.GetUserIdFromContext(ctx)
		oldItem := item

		if fullVoid {
			item.VoidedAt = &now
			item.VoidedBy = userId
			item.VoidReason = reason
			if err := tx.WithContext(ctx).Save(&item).Error; err != nil {
				return err
			}
		} else {
			// Void-and-clone: shrink the live line, park the voided quantity on a
			// new row that is born voided.
			item.DetailQty = item.DetailQty.Sub(qty)
			item.recalculate()
			if err := tx.WithContext(ctx).Save(&item).Error; err != nil {
				return err
			}

			voidedClone := oldItem
			voidedClone.ID = 0
			voidedClone.DetailQty = qty
			voidedClone.QuantityReturnedTotal = decimal.Zero
			voidedClone.VoidedAt = &now
			voidedClone.VoidedBy = userId
			voidedClone.VoidReason = reason
			voidedClone.recalculate()
			if err := tx.WithContext(ctx).Create(&voidedClone).Error; err != nil {
				return err
			}
		}

		// Payment already took these units out of stock; put them back.
		product, err := lockProduct(tx.WithContext(ctx), item.ProductId)
		if err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Model(&Product{}).Where("id = ?", product.ID).
			Update("on_hand_qty", gorm.Expr("on_hand_qty + ?", qty)).Error; err != nil {
			return err
		}

		if err := PublishAuditEvent(ctx, tx, "invoice_item.voided", item.ID, AuditReferenceTypeInvoiceItem, oldItem, item); err != nil {
			return err
		}
		createHistory(tx.WithContext(ctx), "UPDATE", invoice.ID, AuditReferenceTypeInvoice, oldItem, item,
			fmt.Sprintf("Voided %s x %s on invoice %s: %s", qty.String(), item.Name, invoice.InvoiceNumber, reason))

		if _, err := RecomputeProductStatus(tx.WithContext(ctx), item.ProductId); err != nil {
			return err
		}
		return refreshInvoiceDerivedFields(tx.WithContext(ctx), &invoice)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}
