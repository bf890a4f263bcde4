package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/stockbook_backend/config"
	"github.com/mmdatafocus/stockbook_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Role carries the discount ceiling: no user with this role may apply an
// effective discount above MaxDiscountPercent, whatever the discount type.
type Role struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	Name               string          `gorm:"size:100;not null;uniqueIndex" json:"name" binding:"required"`
	MaxDiscountPercent decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"max_discount_percent"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type User struct {
	ID        int            `gorm:"primary_key" json:"id"`
	Name      string         `gorm:"size:100;not null" json:"name" binding:"required"`
	Username  string         `gorm:"size:100;not null;uniqueIndex" json:"username" binding:"required"`
	Password  string         `gorm:"size:255;not null" json:"-"`
	RoleId    int            `gorm:"index;not null" json:"role_id" binding:"required"`
	Role      *Role          `gorm:"foreignKey:RoleId" json:"role,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Name     string `json:"name" binding:"required"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	RoleId   int    `json:"role_id" binding:"required"`
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	db := config.GetDB()

	if err := utils.ValidateResourceId[Role](ctx, input.RoleId); err != nil {
		return nil, utils.NewNotFoundError("role")
	}

	var count int64
	if err := db.WithContext(ctx).Model(&User{}).Where("username = ?", input.Username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, utils.NewConflictError("username already taken")
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := User{
		Name:     input.Name,
		Username: input.Username,
		Password: string(hashed),
		RoleId:   input.RoleId,
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// max effective discount percent allowed for the acting role
// (zero role id means no ceiling configured: allow up to 100)
func maxDiscountPercentForContext(ctx context.Context) (decimal.Decimal, error) {
	roleId, ok := utils.GetRoleIdFromContext(ctx)
	if !ok || roleId == 0 {
		return decimal.NewFromInt(100), nil
	}
	role, err := utils.FetchModel[Role](ctx, roleId)
	if err != nil {
		return decimal.Zero, utils.NewNotFoundError("role")
	}
	if !role.MaxDiscountPercent.IsPositive() {
		return decimal.NewFromInt(100), nil
	}
	return role.MaxDiscountPercent, nil
}

// validateDiscountCeiling rejects discounts whose effective percentage of the
// pre-discount amount exceeds the acting role's ceiling.
func validateDiscountCeiling(ctx context.Context, preDiscountTotal, discountAmount decimal.Decimal) error {
	maxPercent, err := maxDiscountPercentForContext(ctx)
	if err != nil {
		return err
	}
	effective := utils.EffectiveDiscountPercent(preDiscountTotal, discountAmount)
	if effective.GreaterThan(maxPercent) {
		return utils.NewInvalidAmountError("discount of " + effective.String() + "% exceeds allowed maximum of " + maxPercent.String() + "%")
	}
	return nil
}
