package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/stockbook_backend/config"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

var CountryCode = "MM"

// NormalizePhoneNumber validates phone for the default country and returns
// it in E.164 form so duplicate lookups are format independent.
func NormalizePhoneNumber(phoneNumber string) (string, error) {
	p, err := libphonenumber.Parse(phoneNumber, CountryCode)
	if err != nil {
		return "", err
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", errors.New("phone number is not valid")
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}

// ProcessValidationErrors flattens binding validation failures into a
// field -> failed-rule map suitable for an error response body.
func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		errorResponse["body"] = "invalid"
		return errorResponse
	}
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}

// ParseDecimal converts a string to a decimal.Decimal value.
func ParseDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}
	return decimal.NewFromString(value)
}

// IsIntegral reports whether d has no fractional part.
func IsIntegral(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(0))
}

func NewTrue() *bool {
	b := true
	return &b
}


// SettlementLock serializes settlement-state transitions for one invoice
// across instances. Best-effort: the DB advisory lock in workflow is the
// authoritative serializer; this shortens lock-wait queues under contention.
func SettlementLock(ctx context.Context, invoiceId int, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when the Redis lock isn't initialized yet.
		config.LogError(logger, moduleName, functionName, "Redis lock not initialized", invoiceId, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	lockKey := fmt.Sprintf("settlementLock:%d", invoiceId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain settlement lock", invoiceId, err)
		return nil, NewConflictError("invoice is being settled by another request")
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining settlement lock", invoiceId, err)
		return nil, err
	}
	release := func() {
		_ = lock.Release(ctx)
	}
	return release, nil
}
