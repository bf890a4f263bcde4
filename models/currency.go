package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/stockbook_backend/config"
	"github.com/mmdatafocus/stockbook_backend/utils"
	"github.com/shopspring/decimal"
)

type Currency struct {
	ID             int       `gorm:"primary_key" json:"id"`
	Name           string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Code           string    `gorm:"size:10;not null;uniqueIndex" json:"code" binding:"required"`
	Symbol         string    `gorm:"size:10;not null" json:"symbol" binding:"required"`
	IsBaseCurrency *bool     `gorm:"not null;default:false" json:"is_base_currency"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CurrencyExchange holds the latest known rate of one foreign currency
// against the base currency (1 foreign unit = ExchangeRate base units).
type CurrencyExchange struct {
	ID                int             `gorm:"primary_key" json:"id"`
	ForeignCurrencyId int             `gorm:"index;not null" json:"foreign_currency_id" binding:"required"`
	ExchangeDate      time.Time       `gorm:"index;not null" json:"exchange_date" binding:"required"`
	ExchangeRate      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"exchange_rate"`
	Notes             string          `gorm:"size:255" json:"notes"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCurrencyExchange struct {
	ForeignCurrencyId int             `json:"foreign_currency_id" binding:"required"`
	ExchangeDate      time.Time       `json:"exchange_date" binding:"required"`
	ExchangeRate      decimal.Decimal `json:"exchange_rate" binding:"required"`
	Notes             string          `json:"notes"`
}

func CreateCurrencyExchange(ctx context.Context, input *NewCurrencyExchange) (*CurrencyExchange, error) {
	db := config.GetDB()

	if err := utils.ValidateResourceId[Currency](ctx, input.ForeignCurrencyId); err != nil {
		return nil, utils.NewNotFoundError("foreign currency")
	}
	if !input.ExchangeRate.IsPositive() {
		return nil, utils.NewInvalidAmountError("exchange rate must be positive")
	}

	exchange := CurrencyExchange{
		ForeignCurrencyId: input.ForeignCurrencyId,
		ExchangeDate:      input.ExchangeDate,
		ExchangeRate:      input.ExchangeRate,
		Notes:             input.Notes,
	}
	if err := db.WithContext(ctx).Create(&exchange).Error; err != nil {
		return nil, err
	}
	return &exchange, nil
}

// rate of one currency against the base currency (base itself is 1)
func rateToBase(ctx context.Context, currencyId int) (decimal.Decimal, error) {
	db := config.GetDB()

	var currency Currency
	if err := db.WithContext(ctx).First(&currency, currencyId).Error; err != nil {
		return decimal.Zero, utils.NewNotFoundError("currency")
	}
	if currency.IsBaseCurrency != nil && *currency.IsBaseCurrency {
		return decimal.NewFromInt(1), nil
	}

	var exchange CurrencyExchange
	err := db.WithContext(ctx).
		Where("foreign_currency_id = ?", currencyId).
		Order("exchange_date DESC, id DESC").
		First(&exchange).Error
	if err != nil {
		return decimal.Zero, errors.New("no exchange rate recorded for currency " + currency.Code)
	}
	if !exchange.ExchangeRate.IsPositive() {
		return decimal.Zero, errors.New("invalid exchange rate recorded for currency " + currency.Code)
	}
	return exchange.ExchangeRate, nil
}

// ExchangeRate returns how many units of the "to" currency one unit of the
// "from" currency buys, using the latest recorded rates.
func ExchangeRate(ctx context.Context, fromCurrencyId int, toCurrencyId int) (decimal.Decimal, error) {
	if fromCurrencyId == toCurrencyId {
		return decimal.NewFromInt(1), nil
	}
	fromRate, err := rateToBase(ctx, fromCurrencyId)
	if err != nil {
		return decimal.Zero, err
	}
	toRate, err := rateToBase(ctx, toCurrencyId)
	if err != nil {
		return decimal.Zero, err
	}
	return fromRate.DivRound(toRate, 6), nil
}

// ConvertAmount converts amount between currencies, rounded to 2 dp.
// Invoice line costs are frozen with this at add-time so later rate changes
// never alter historical margin.
func ConvertAmount(ctx context.Context, amount decimal.Decimal, fromCurrencyId int, toCurrencyId int) (decimal.Decimal, error) {
	if fromCurrencyId == toCurrencyId {
		return amount, nil
	}
	rate, err := ExchangeRate(ctx, fromCurrencyId, toCurrencyId)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate).Round(2), nil
}
