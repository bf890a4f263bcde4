package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/stockbook_backend/config"
	"github.com/mmdatafocus/stockbook_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Product is the sellable/stockable entity. OnHandQty is the only persisted
// counter: it is decremented only when an invoice becomes fully paid and
// incremented only by payment void, item void, return, or stock adjustment.
// Reservations are never stored here; they are derived from line items.
type Product struct {
	ID            int             `gorm:"primary_key" json:"id"`
	Name          string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Sku           string          `gorm:"size:100;index" json:"sku"`
	Barcode       string          `gorm:"size:100;index" json:"barcode"`
	Description   string          `gorm:"size:255" json:"description"`
	CurrencyId    int             `gorm:"not null" json:"currency_id" binding:"required"`
	SalesPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sales_price"`
	PurchaseCost  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"purchase_cost"`
	OnHandQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"on_hand_qty"`
	CurrentStatus ProductStatus   `gorm:"type:enum('InStock','Processing','Sold');not null;default:InStock" json:"current_status"`
	DeletedAt     gorm.DeletedAt  `gorm:"index" json:"-"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name         string          `json:"name" binding:"required"`
	Sku          string          `json:"sku"`
	Barcode      string          `json:"barcode"`
	Description  string          `json:"description"`
	CurrencyId   int             `json:"currency_id" binding:"required"`
	SalesPrice   decimal.Decimal `json:"sales_price"`
	PurchaseCost decimal.Decimal `json:"purchase_cost"`
	OpeningQty   decimal.Decimal `json:"opening_qty"`
}

type UpdateProductInput struct {
	Name         *string          `json:"name"`
	Sku          *string          `json:"sku"`
	Barcode      *string          `json:"barcode"`
	Description  *string          `json:"description"`
	SalesPrice   *decimal.Decimal `json:"sales_price"`
	PurchaseCost *decimal.Decimal `json:"purchase_cost"`
}

type NewStockAdjustment struct {
	NewQty decimal.Decimal `json:"new_qty"`
	Reason string          `json:"reason" binding:"required"`
}

func (input NewProduct) validate(ctx context.Context) error {
	if err := utils.ValidateResourceId[Currency](ctx, input.CurrencyId); err != nil {
		return utils.NewNotFoundError("currency")
	}
	if input.OpeningQty.IsNegative() {
		return utils.NewInvalidAmountError("opening qty cannot be negative")
	}
	if config.StrictIntegerQuantities() && !utils.IsIntegral(input.OpeningQty) {
		return utils.NewInvalidAmountError("opening qty must be a whole number")
	}
	if input.SalesPrice.IsNegative() || input.PurchaseCost.IsNegative() {
		return utils.NewInvalidAmountError("price and cost cannot be negative")
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	db := config.GetDB()

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	product := Product{
		Name:          input.Name,
		Sku:           input.Sku,
		Barcode:       input.Barcode,
		Description:   input.Description,
		CurrencyId:    input.CurrencyId,
		SalesPrice:    input.SalesPrice,
		PurchaseCost:  input.PurchaseCost,
		OnHandQty:     input.OpeningQty,
		CurrentStatus: ProductStatusInStock,
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()

	if err := tx.WithContext(ctx).Create(&product).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := PublishAuditEvent(ctx, tx, "product.created", product.ID, AuditReferenceTypeProduct, nil, product); err != nil {
		tx.Rollback()
		return nil, err
	}
	createHistory(tx.WithContext(ctx), "CREATE", product.ID, AuditReferenceTypeProduct, nil, product,
		fmt.Sprintf("Product %s created with %s on hand.", product.Name, product.OnHandQty.String()))

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	return utils.FetchModel[Product](ctx, id)
}

func GetProducts(ctx context.Context) ([]*Product, error) {
	return utils.FetchAllModels[Product](ctx)
}

func UpdateProduct(ctx context.Context, id int, input *UpdateProductInput) (*Product, error) {
	db := config.GetDB()

	product, err := utils.FetchModel[Product](ctx, id)
	if err != nil {
		return nil, utils.NewNotFoundError("product")
	}
	oldProduct := *product

	if input.Name != nil {
		product.Name = *input.Name
	}
	if input.Sku != nil {
		product.Sku = *input.Sku
	}
	if input.Barcode != nil {
		product.Barcode = *input.Barcode
	}
	if input.Description != nil {
		product.Description = *input.Description
	}
	if input.SalesPrice != nil {
		if input.SalesPrice.IsNegative() {
			return nil, utils.NewInvalidAmountError("sales price cannot be negative")
		}
		product.SalesPrice = *input.SalesPrice
	}
	if input.PurchaseCost != nil {
		if input.PurchaseCost.IsNegative() {
			return nil, utils.NewInvalidAmountError("purchase cost cannot be negative")
		}
		product.PurchaseCost = *input.PurchaseCost
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()

	if err := tx.WithContext(ctx).Save(product).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := PublishAuditEvent(ctx, tx, "product.updated", product.ID, AuditReferenceTypeProduct, oldProduct, product); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return product, nil
}

// DeleteProduct soft-deletes; products referenced by any line item keep their
// history and are only ever hidden, never removed.
func DeleteProduct(ctx context.Context, id int) error {
	db := config.GetDB()

	product, err := utils.FetchModel[Product](ctx, id)
	if err != nil {
		return utils.NewNotFoundError("product")
	}

	var reserving int64
	if err := db.WithContext(ctx).
		Table("invoice_items ii").
		Joins("JOIN invoices i ON ii.invoice_id = i.id").
		Where("ii.product_id = ? AND ii.voided_at IS NULL AND i.deleted_at IS NULL AND i.current_status NOT IN ?",
			id, []string{string(InvoiceStatusPaid), string(InvoiceStatusCancelled)}).
		Count(&reserving).Error; err != nil {
		return err
	}
	if reserving > 0 {
		return utils.NewInvalidStateError("product has open reservations and cannot be deleted")
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()

	if err := tx.WithContext(ctx).Delete(product).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := PublishAuditEvent(ctx, tx, "product.deleted", product.ID, AuditReferenceTypeProduct, product, nil); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// lockProduct loads the product row under SELECT ... FOR UPDATE so the
// availability read and the subsequent reservation write form one critical
// section. Must be called inside a transaction.
func lockProduct(tx *gorm.DB, productId int) (*Product, error) {
	var product Product
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&product, productId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("product")
		}
		return nil, err
	}
	return &product, nil
}

// AdjustProductStock is the stock-take correction path: it sets on-hand to
// the counted quantity. The new quantity may not fall below what open
// invoices have already reserved.
func AdjustProductStock(ctx context.Context, productId int, input *NewStockAdjustment) (*Product, error) {
	db := config.GetDB()

	if input.NewQty.IsNegative() {
		return nil, utils.NewInvalidAmountError("on hand qty cannot be negative")
	}
	if config.StrictIntegerQuantities() && !utils.IsIntegral(input.NewQty) {
		return nil, utils.NewInvalidAmountError("on hand qty must be a whole number")
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()

	product, err := lockProduct(tx.WithContext(ctx), productId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	oldProduct := *product

	reserved, err := reservedQty(tx.WithContext(ctx), productId, 0)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if input.NewQty.LessThan(reserved) {
		tx.Rollback()
		return nil, utils.NewInvalidStateError(
			fmt.Sprintf("cannot adjust %s below reserved quantity (reserved=%s, new=%s)", product.Name, reserved.String(), input.NewQty.String()))
	}

	product.OnHandQty = input.NewQty
	if err := tx.WithContext(ctx).Model(&Product{}).Where("id = ?", productId).
		Update("on_hand_qty", input.NewQty).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := PublishAuditEvent(ctx, tx, "product.stock_adjusted", productId, AuditReferenceTypeProduct, oldProduct, product); err != nil {
		tx.Rollback()
		return nil, err
	}
	createHistory(tx.WithContext(ctx), "UPDATE", productId, AuditReferenceTypeProduct, oldProduct, product,
		fmt.Sprintf("Stock adjusted from %s to %s: %s", oldProduct.OnHandQty.String(), input.NewQty.String(), input.Reason))

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return product, nil
}

// deriveProductStatus applies the fixed precedence Sold > Processing >
// InStock over line-item facts.
func deriveProductStatus(hasSoldLine bool, hasOpenLine bool) ProductStatus {
	if hasSoldLine {
		return ProductStatusSold
	}
	if hasOpenLine {
		return ProductStatusProcessing
	}
	return ProductStatusInStock
}

// RecomputeProductStatus rederives the product's display status from the set
// of line items referencing it and persists the value only if it changed.
// Idempotent and side-effect-free otherwise; called after every line-item
// mutation, settlement transition, void and cancellation.
func RecomputeProductStatus(tx *gorm.DB, productId int) (ProductStatus, error) {
	var soldCount int64
	if err := tx.
		Table("invoice_items ii").
		Joins("JOIN invoices i ON ii.invoice_id = i.id").
		Where("ii.product_id = ? AND ii.voided_at IS NULL AND i.deleted_at IS NULL", productId).
		Where("i.current_status = ?", InvoiceStatusPaid).
		Where("ii.quantity_returned_total < ii.detail_qty").
		Count(&soldCount).Error; err != nil {
		return "", err
	}

	var openCount int64
	if err := tx.
		Table("invoice_items ii").
		Joins("JOIN invoices i ON ii.invoice_id = i.id").
		Where("ii.product_id = ? AND ii.voided_at IS NULL AND i.deleted_at IS NULL", productId).
		Where("i.current_status NOT IN ?", []string{string(InvoiceStatusPaid), string(InvoiceStatusCancelled)}).
		Count(&openCount).Error; err != nil {
		return "", err
	}

	newStatus := deriveProductStatus(soldCount > 0, openCount > 0)

	var current ProductStatus
	if err := tx.Model(&Product{}).Where("id = ?", productId).
		Select("current_status").Scan(&current).Error; err != nil {
		return "", err
	}
	if current == newStatus {
		return newStatus, nil
	}
	if err := tx.Model(&Product{}).Where("id = ?", productId).
		Update("current_status", newStatus).Error; err != nil {
		return "", err
	}
	return newStatus, nil
}
