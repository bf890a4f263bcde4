package config

import (
	"os"
	"strings"
)

// AuditOutboxDispatchEnabled controls whether the in-process outbox dispatcher
// publishes audit events to Pub/Sub. When disabled, outbox rows still
// accumulate (nothing is lost) and an external dispatcher can drain them.
//
// Set via env:
// - AUDIT_OUTBOX_DISPATCH=true
func AuditOutboxDispatchEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("AUDIT_OUTBOX_DISPATCH")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// StrictIntegerQuantities rejects fractional line-item quantities at the API
// boundary. Retail resellers sell whole units; disable only for data
// backfills.
//
// Set via env:
// - STRICT_INTEGER_QTY=false (default true)
func StrictIntegerQuantities() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_INTEGER_QTY")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
