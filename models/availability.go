package models

import (
	"context"

	"github.com/mmdatafocus/stockbook_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Reservation is derived, never stored: the non-voided line items themselves
// are the reservations. Invoices that are Paid are excluded because payment
// already decremented on-hand; counting them again would double-subtract.
// Cancelled invoices hold nothing.

// reservedQty sums the reserving line-item quantities for one product.
// excludeInvoiceId > 0 leaves that invoice's own lines out of the sum, which
// answers "how much more can this invoice add".
func reservedQty(tx *gorm.DB, productId int, excludeInvoiceId int) (decimal.Decimal, error) {
	reserved := decimal.Zero
	q := tx.
		Table("invoice_items ii").
		Joins("JOIN invoices i ON ii.invoice_id = i.id").
		Where("ii.product_id = ? AND ii.voided_at IS NULL AND i.deleted_at IS NULL", productId).
		Where("i.current_status NOT IN ?", []string{string(InvoiceStatusPaid), string(InvoiceStatusCancelled)})
	if excludeInvoiceId > 0 {
		q = q.Where("ii.invoice_id <> ?", excludeInvoiceId)
	}
	if err := q.Select("COALESCE(SUM(ii.detail_qty), 0)").Scan(&reserved).Error; err != nil {
		return decimal.Zero, err
	}
	return reserved, nil
}

// availableQty computes on_hand - reserved on the given tx. When the caller
// is about to reserve, tx must already hold the product row lock
// (lockProduct) so a concurrent add cannot read the same availability.
func availableQty(tx *gorm.DB, product *Product, excludeInvoiceId int) (decimal.Decimal, error) {
	reserved, err := reservedQty(tx, product.ID, excludeInvoiceId)
	if err != nil {
		return decimal.Zero, err
	}
	return product.OnHandQty.Sub(reserved), nil
}

// ProductAvailability answers a read-only availability query outside any
// reservation critical section (listing pages, "can I sell this" checks).
func ProductAvailability(ctx context.Context, productId int, excludeInvoiceId int) (decimal.Decimal, error) {
	db := config.GetDB()
	product, err := GetProduct(ctx, productId)
	if err != nil {
		return decimal.Zero, err
	}
	return availableQty(db.WithContext(ctx), product, excludeInvoiceId)
}

type productAvailabilityRow struct {
	ProductId int             `gorm:"column:product_id"`
	Reserved  decimal.Decimal `gorm:"column:reserved"`
}

// ProductAvailabilityBulk resolves availability for many products in one
// pass, for listing/search endpoints. Missing ids are absent from the map.
func ProductAvailabilityBulk(ctx context.Context, productIds []int) (map[int]decimal.Decimal, error) {
	if len(productIds) == 0 {
		return map[int]decimal.Decimal{}, nil
	}
	db := config.GetDB()

	var products []Product
	if err := db.WithContext(ctx).Where("id IN ?", productIds).Find(&products).Error; err != nil {
		return nil, err
	}

	var rows []productAvailabilityRow
	if err := db.WithContext(ctx).
		Table("invoice_items ii").
		Joins("JOIN invoices i ON ii.invoice_id = i.id").
		Where("ii.product_id IN ? AND ii.voided_at IS NULL AND i.deleted_at IS NULL", productIds).
		Where("i.current_status NOT IN ?", []string{string(InvoiceStatusPaid), string(InvoiceStatusCancelled)}).
		Select("ii.product_id, COALESCE(SUM(ii.detail_qty), 0) AS reserved").
		Group("ii.product_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	reservedByProduct := make(map[int]decimal.Decimal, len(rows))
	for _, r := range rows {
		reservedByProduct[r.ProductId] = r.Reserved
	}

	result := make(map[int]decimal.Decimal, len(products))
	for _, p := range products {
		result[p.ID] = p.OnHandQty.Sub(reservedByProduct[p.ID])
	}
	return result, nil
}
