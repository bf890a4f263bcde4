package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/stockbook_backend/config"
	"github.com/mmdatafocus/stockbook_backend/utils"
	"gorm.io/gorm"
)

// AuditOutboxRecord implements a transactional outbox for audit events: the
// record is written inside the caller's DB transaction but NOT published to
// Pub/Sub. Publishing happens asynchronously after commit in the dispatcher,
// so a sink failure can never roll back the business transaction.
type AuditOutboxRecord struct {
	ID               int                `gorm:"primary_key" json:"id"`
	EventType        string             `gorm:"size:100;not null;index" json:"event_type"`
	OccurredAt       time.Time          `gorm:"not null" json:"occurred_at"`
	ReferenceId      int                `gorm:"index;not null" json:"reference_id"`
	ReferenceType    AuditReferenceType `gorm:"size:100;not null" json:"reference_type"`
	OldObj           []byte             `gorm:"type:longtext" json:"old_obj"`
	NewObj           []byte             `gorm:"type:longtext" json:"new_obj"`
	ActorId          int                `json:"actor_id"`
	ActorName        string             `gorm:"size:100" json:"actor_name"`
	CorrelationId    string             `gorm:"size:64;index" json:"correlation_id"`
	IsProcessed      bool               `gorm:"not null;default:false;index" json:"is_processed"`
	PublishStatus    string             `gorm:"size:20;not null;default:PENDING;index" json:"publish_status"`
	PublishAttempts  int                `gorm:"not null;default:0" json:"publish_attempts"`
	LastPublishError *string            `gorm:"size:1024" json:"last_publish_error"`
	NextAttemptAt    *time.Time         `json:"next_attempt_at"`
	PublishedAt      *time.Time         `json:"published_at"`
	PubSubMessageId  *string            `gorm:"size:128" json:"pub_sub_message_id"`
	LockedAt         *time.Time         `json:"locked_at"`
	LockedBy         *string            `gorm:"size:64" json:"locked_by"`
	CreatedAt        time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// PublishAuditEvent appends an outbox record inside tx. Event types follow
// "product.reserved", "invoice.payment_received" naming.
func PublishAuditEvent(ctx context.Context, tx *gorm.DB, eventType string, referenceId int, referenceType AuditReferenceType, oldObj interface{}, newObj interface{}) error {
	var oldInByte, newInByte []byte
	var err error

	if oldObj != nil {
		oldInByte, err = json.Marshal(oldObj)
		if err != nil {
			return err
		}
	}
	if newObj != nil {
		newInByte, err = json.Marshal(newObj)
		if err != nil {
			return err
		}
	}

	actorId, _ := utils.GetUserIdFromContext(ctx)
	actorName, _ := utils.GetUserNameFromContext(ctx)

	record := AuditOutboxRecord{
		EventType:     eventType,
		OccurredAt:    time.Now().UTC(),
		ReferenceId:   referenceId,
		ReferenceType: referenceType,
		OldObj:        oldInByte,
		NewObj:        newInByte,
		ActorId:       actorId,
		ActorName:     actorName,
		CorrelationId: correlationIdFromContextOrNew(ctx),
		IsProcessed:   false,
		PublishStatus: OutboxPublishStatusPending,
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// ConvertToAuditEventMessage maps an outbox row to the published wire shape.
func ConvertToAuditEventMessage(r AuditOutboxRecord) config.AuditEventMessage {
	return config.AuditEventMessage{
		ID:            r.ID,
		EventType:     r.EventType,
		OccurredAt:    r.OccurredAt,
		ReferenceId:   r.ReferenceId,
		ReferenceType: string(r.ReferenceType),
		OldObj:        r.OldObj,
		NewObj:        r.NewObj,
		ActorId:       r.ActorId,
		ActorName:     r.ActorName,
		CorrelationId: r.CorrelationId,
	}
}
