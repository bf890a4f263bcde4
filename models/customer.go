package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/stockbook_backend/config"
	"github.com/mmdatafocus/stockbook_backend/utils"
	"gorm.io/gorm"
)

type Customer struct {
	ID        int            `gorm:"primary_key" json:"id"`
	Name      string         `gorm:"size:100;not null" json:"name" binding:"required"`
	Phone     string         `gorm:"size:30" json:"phone"`
	Email     string         `gorm:"size:100" json:"email"`
	Notes     string         `gorm:"type:text" json:"notes"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomer struct {
	Name  string `json:"name" binding:"required"`
	Phone string `json:"phone"`
	Email string `json:"email"`
	Notes string `json:"notes"`
}

func CreateCustomer(ctx context.Context, input *NewCustomer) (*Customer, error) {
	db := config.GetDB()
	if input.Phone != "" {
		normalized, err := utils.NormalizePhoneNumber(input.Phone)
		if err != nil {
			return nil, utils.NewInvalidStateError("phone number is not valid")
		}
		input.Phone = normalized
	}
	customer := Customer{
		Name:  input.Name,
		Phone: input.Phone,
		Email: input.Email,
		Notes: input.Notes,
	}
	if err := db.WithContext(ctx).Create(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}
