package realtime

import (
	"encoding/json"
	"time"

	"backend-trailmates/internal/safety"
	"backend-trailmates/internal/session"
	"backend-trailmates/internal/shared/geo"
)

// Client to server.
const (
	EventAuthenticate   = "authenticate"
	EventJoinActivity   = "join-activity"
	EventLeaveActivity  = "leave-activity"
	EventLocationUpdate = "location-update"
	EventSOSAlert       = "sos-alert"
	EventStatusUpdate   = "status-update"
	EventGetGroupStats  = "get-group-stats"
)

// Server to client.
const (
	EventAuthenticated           = "authenticated"
	EventJoinedActivity          = "joined-activity"
	EventParticipantJoined       = "participant-joined"
	EventParticipantLeft         = "participant-left"
	EventParticipantDisconnected = "participant-disconnected"
	EventParticipantLocation     = "participant-location"
	EventParticipantStatus       = "participant-status"
	EventLocationAck             = "location-ack"
	EventSafetyAlert             = "safety-alert"
	EventEmergencyAlert          = "emergency-alert"
	EventEmergencyResponse       = "emergency-response"
	EventEmergencyResolved       = "emergency-resolved"
	EventGroupStats              = "group-stats"
	EventSessionStarted          = "session-started"
	EventSessionEnded            = "session-ended"
	EventError                   = "error"
)

type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func encode(typ string, data any) ([]byte, error) {
	return json.Marshal(outbound{Type: typ, Data: data})
}

type authenticateRequest struct {
	Credential string `json:"credential"`
	Token      string `json:"token"`
}

func (r authenticateRequest) token() string {
	if r.Credential != "" {
		return r.Credential
	}
	return r.Token
}

type joinRequest struct {
	ActivityID string `json:"activityId"`
	UserID     string `json:"userId"`
}

type leaveRequest struct {
	ActivityID string `json:"activityId"`
}

type locationRequest struct {
	ActivityID string          `json:"activityId"`
	UserID     string          `json:"userId"`
	Location   json.RawMessage `json:"location"`
	Stats      json.RawMessage `json:"stats"`
	Health     json.RawMessage `json:"health"`
}

type sosRequest struct {
	ActivityID string          `json:"activityId"`
	UserID     string          `json:"userId"`
	Location   json.RawMessage `json:"location"`
	Reason     string          `json:"reason"`
}

type statusRequest struct {
	ActivityID string `json:"activityId"`
	UserID     string `json:"userId"`
	Status     string `json:"status"`
}

type groupStatsRequest struct {
	ActivityID string `json:"activityId"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type authenticatedPayload struct {
	UserID string `json:"userId"`
}

type joinedPayload struct {
	ActivityID string           `json:"activityId"`
	Session    *session.Session `json:"session,omitempty"`
}

type participantPayload struct {
	ActivityID  string    `json:"activityId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type participantLocationPayload struct {
	UserID    string          `json:"userId"`
	Location  geo.Point       `json:"location"`
	Stats     session.Stats   `json:"stats"`
	Health    json.RawMessage `json:"health,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type participantStatusPayload struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type locationAckPayload struct {
	ActivityID string    `json:"activityId"`
	Version    int64     `json:"version"`
	Timestamp  time.Time `json:"timestamp"`
}

type safetyAlertPayload struct {
	UserID   string         `json:"userId"`
	Alerts   []safety.Alert `json:"alerts"`
	Location *geo.Point     `json:"location,omitempty"`
}

type emergencyAlertPayload struct {
	AlertID   string    `json:"alertId"`
	UserID    string    `json:"userId"`
	Location  geo.Point `json:"location"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

type emergencyResponsePayload struct {
	AlertID   string    `json:"alertId"`
	UserID    string    `json:"userId"`
	Response  string    `json:"response"`
	Notes     string    `json:"notes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type emergencyResolvedPayload struct {
	AlertID    string    `json:"alertId"`
	ResolvedBy string    `json:"resolvedBy"`
	Notes      string    `json:"notes,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type groupStatsPayload struct {
	Stats            session.GroupStats `json:"stats"`
	ParticipantCount int                `json:"participantCount"`
	Timestamp        time.Time          `json:"timestamp"`
}

type sessionStartedPayload struct {
	ActivityID   string                `json:"activityId"`
	SessionID    string                `json:"sessionId"`
	StartTime    time.Time             `json:"startTime"`
	Participants []session.Participant `json:"participants"`
}

type sessionEndedPayload struct {
	ActivityID string             `json:"activityId"`
	SessionID  string             `json:"sessionId"`
	EndTime    *time.Time         `json:"endTime,omitempty"`
	GroupStats session.GroupStats `json:"groupStats"`
}
