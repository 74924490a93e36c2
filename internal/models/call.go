package models

import (
	"time"

	"github.com/google/uuid"
)

// CallDirection is retained from the teacher's telephony model. No other
// package references it; a session records the placing party as HostID.
type CallDirection string

const (
	CallDirectionIncoming CallDirection = "incoming"
	CallDirectionOutgoing CallDirection = "outgoing"
)

// CallType is the media kind negotiated for a call (spec.md §3).
type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

// CallProvider toggles which control plane brokers media for a call.
type CallProvider string

const (
	CallProviderP2P CallProvider = "p2p"
	CallProviderSFU CallProvider = "sfu"
)

// CallHistoryStatus is the terminal status of a finalized call
// (spec.md §3 "Call History Record").
type CallHistoryStatus string

const (
	CallHistoryCompleted CallHistoryStatus = "completed"
	CallHistoryMissed    CallHistoryStatus = "missed"
	CallHistoryNoAnswer  CallHistoryStatus = "no-answer"
	CallHistoryRejected  CallHistoryStatus = "rejected"
	CallHistoryCancelled CallHistoryStatus = "cancelled"
)

// ParticipantRole distinguishes the call's single host from its members.
type ParticipantRole string

const (
	ParticipantRoleHost   ParticipantRole = "host"
	ParticipantRoleMember ParticipantRole = "member"
)

// ParticipantStatus is the outcome recorded for one participant row,
// derived deterministically from the parent call's terminal status
// (spec.md §4.2).
type ParticipantStatus string

const (
	ParticipantJoined  ParticipantStatus = "joined"
	ParticipantMissed  ParticipantStatus = "missed"
	ParticipantRejected ParticipantStatus = "rejected"
	ParticipantLeft    ParticipantStatus = "left"
)

// MaxCallDuration clamps a finalized call's duration (spec.md §3, §4.2).
const MaxCallDuration = 24 * time.Hour

// CallHistoryRecord is the durable record of a finished call
// (spec.md §3 "Call History Record"). It owns a collection of
// CallParticipant rows.
type CallHistoryRecord struct {
	BaseModel
	InitiatorID      uuid.UUID         `gorm:"type:uuid;not null;index" json:"initiator_id"`
	ParticipantCount int               `gorm:"not null" json:"participant_count"`
	CallType         CallType          `gorm:"size:20;not null" json:"call_type"`
	Provider         CallProvider      `gorm:"size:10;not null" json:"provider"`
	ConversationID   *uuid.UUID        `gorm:"type:uuid;index" json:"conversation_id,omitempty"`
	Status           CallHistoryStatus `gorm:"size:20;not null;index" json:"status"`
	Duration         int               `gorm:"not null;default:0" json:"duration"`
	StartedAt        time.Time         `gorm:"not null" json:"started_at"`
	EndedAt          time.Time         `gorm:"not null" json:"ended_at"`
	EndReason        string            `gorm:"size:50" json:"end_reason,omitempty"`

	Participants []CallParticipant `gorm:"foreignKey:CallHistoryRecordID" json:"participants,omitempty"`
}

func (CallHistoryRecord) TableName() string {
	return "call_history_records"
}

// CallParticipant is one row of a CallHistoryRecord's participant set
// (spec.md §3).
type CallParticipant struct {
	BaseModel
	CallHistoryRecordID uuid.UUID         `gorm:"type:uuid;not null;index" json:"call_history_record_id"`
	UserID              uuid.UUID         `gorm:"type:uuid;not null;index" json:"user_id"`
	Role                ParticipantRole   `gorm:"size:10;not null" json:"role"`
	Status              ParticipantStatus `gorm:"size:10;not null" json:"status"`
	JoinedAt            *time.Time        `json:"joined_at,omitempty"`
	LeftAt              *time.Time        `json:"left_at,omitempty"`
}

func (CallParticipant) TableName() string {
	return "call_participants"
}

// MissedCallViewState persists the per-user "last viewed" timestamp that
// gates the missed-call badge count (spec.md §3 "Missed-Call Badge
// State"). The cache holds the hot read path (§6 cache keys); this table
// is the durable backstop so the badge survives a cache flush.
type MissedCallViewState struct {
	UserID       uuid.UUID `gorm:"type:uuid;primary_key" json:"user_id"`
	LastViewedAt time.Time `json:"last_viewed_at"`
}

func (MissedCallViewState) TableName() string {
	return "missed_call_view_state"
}
