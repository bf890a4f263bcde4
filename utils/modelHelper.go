package utils

import (
	"context"
	"fmt"
	"reflect"

	"github.com/mmdatafocus/stockbook_backend/config"
)

func GetTypeName[T any]() string {
	var v T
	return reflect.TypeOf(v).Name()
}

/* DB fetching */

// fetch model from db
// (may return RecordNotFound)
func FetchModel[T any](ctx context.Context, id int, associations ...string) (*T, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx)
	// preloading
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	err := dbCtx.First(&result, id).Error
	if err != nil {
		return nil, ErrorRecordNotFound
	}
	return &result, nil
}

// fetch all models from db
func FetchAllModels[T any](ctx context.Context, associations ...string) ([]*T, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx)
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var results []*T
	err := dbCtx.Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// check that the referenced row exists
func ValidateResourceId[T any](ctx context.Context, id int) error {
	db := config.GetDB()
	var v T
	var count int64
	if err := db.WithContext(ctx).Model(&v).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}

// GetSequence returns the next document sequence number for T, backed by a
// redis counter with a DB fallback when the counter is cold.
func GetSequence[T any](ctx context.Context) (int64, error) {
	typeName := GetTypeName[T]()
	redisKey := "sequence:" + typeName

	seq, err := config.GetRedisCounter(ctx, redisKey)
	if err != nil {
		return 0, err
	}
	if seq > 1 {
		return seq, nil
	}

	// Cold counter (fresh redis): derive from the table's max id, then seed.
	db := config.GetDB()
	var v T
	var maxId int64
	if err := db.WithContext(ctx).Model(&v).Select("COALESCE(MAX(id), 0)").Scan(&maxId).Error; err != nil {
		return 0, err
	}
	next := maxId + 1
	if next > seq {
		if err := config.SetRedisObject(redisKey, next, 0); err != nil {
			return 0, err
		}
		return next, nil
	}
	return seq, nil
}

// FormatDocumentNumber renders "INV-12" style numbers.
func FormatDocumentNumber(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%d", prefix, seq)
}
