package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bazaarhq/bazaar-backend/pkg/enums"
)

// ReconciliationItem queues a settlement attempt for out-of-band follow-up.
type ReconciliationItem struct {
	ID                  uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SettlementID        uuid.UUID                  `gorm:"column:settlement_id;type:uuid;not null" json:"settlement_id"`
	OrderID             uuid.UUID                  `gorm:"column:order_id;type:uuid;not null" json:"order_id"`
	Reason              enums.ReconciliationReason `gorm:"column:reason;type:reconciliation_reason;not null" json:"reason"`
	Status              enums.ReconciliationStatus `gorm:"column:status;type:reconciliation_status;not null;default:'open'" json:"status"`
	Attempts            int                        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	NextAttemptAt       time.Time                  `gorm:"column:next_attempt_at;not null" json:"next_attempt_at"`
	LastError           *string                    `gorm:"column:last_error" json:"last_error"`
	ResolutionNote      *string                    `gorm:"column:resolution_note" json:"resolution_note"`
	ResolvedTransferRef *string                    `gorm:"column:resolved_transfer_ref" json:"resolved_transfer_ref"`
	ResolvedAt          *time.Time                 `gorm:"column:resolved_at" json:"resolved_at"`
	CreatedAt           time.Time                  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time                  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
