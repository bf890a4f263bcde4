package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/stockbook_backend/config"
	"github.com/mmdatafocus/stockbook_backend/utils"
	"gorm.io/gorm"
)

// History rows are the coarse, human-readable activity log shown on UI
// timelines. Finer-grained machine events go through the audit outbox.
type History struct {
	ID            int                `gorm:"primary_key" json:"id"`
	ActionType    string             `gorm:"size:10;not null" json:"action_type" binding:"required"`
	Before        string             `gorm:"type:text" json:"before"`
	After         string             `gorm:"type:text" json:"after"`
	Description   string             `gorm:"type:text;not null" json:"description"`
	ReferenceID   int                `gorm:"index" json:"reference_id"`
	ReferenceType AuditReferenceType `gorm:"size:255" json:"reference_type"`
	UserId        int                `gorm:"index" json:"user_id"`
	UserName      string             `gorm:"size:100" json:"user_name"`
	CreatedAt     time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

// createHistory writes an activity record inside the caller's transaction.
// A failed history write is logged but never fails the business operation.
func createHistory(tx *gorm.DB,
	actionType string,
	referenceId int,
	referenceType AuditReferenceType,
	before interface{},
	after interface{},
	description string) {

	var history History

	b, _ := json.Marshal(before)
	a, _ := json.Marshal(after)

	ctx := tx.Statement.Context
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)

	history.ActionType = actionType
	history.Before = string(b)
	history.After = string(a)
	history.Description = description
	history.ReferenceID = referenceId
	history.ReferenceType = referenceType
	history.UserId = userId
	history.UserName = userName

	if err := tx.Create(&history).Error; err != nil {
		config.LogError(config.GetLogger(), "history.go", "createHistory", string(referenceType), referenceId, err)
	}
}

func GetHistories(ctx context.Context, referenceType AuditReferenceType, referenceId int) ([]*History, error) {
	db := config.GetDB()
	var histories []*History
	if err := db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceId).
		Order("id DESC").
		Find(&histories).Error; err != nil {
		return nil, err
	}
	return histories, nil
}
