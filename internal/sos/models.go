package sos

import (
	"time"

	"backend-trailmates/internal/shared/geo"
)

const (
	TypeManual    = "manual"
	TypeAutomatic = "automatic"
)

const SeverityCritical = "critical"

const (
	ResponseOnWay     = "on_way"
	ResponseContacted = "contacted"
	ResponseHandled   = "handled"
)

func ValidResponseKind(kind string) bool {
	switch kind {
	case ResponseOnWay, ResponseContacted, ResponseHandled:
		return true
	}
	return false
}

type Alert struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	ActivityID      string     `json:"activity_id"`
	SessionID       string     `json:"session_id,omitempty"`
	Location        geo.Point  `json:"location"`
	Type            string     `json:"type"`
	Reason          string     `json:"reason"`
	Severity        string     `json:"severity"`
	NotifiedUsers   []string   `json:"notified_users"`
	Responses       []Response `json:"responses"`
	Resolved        bool       `json:"resolved"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type Response struct {
	UserID string    `json:"user_id"`
	Kind   string    `json:"response"`
	Notes  string    `json:"notes,omitempty"`
	At     time.Time `json:"timestamp"`
}

type TriggerInput struct {
	UserID     string
	ActivityID string
	Location   geo.Point
	Reason     string
	Type       string
}

type Resolution struct {
	By    string
	Notes string
	At    time.Time
}
