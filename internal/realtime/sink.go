package realtime

import (
	"backend-trailmates/internal/session"
	"backend-trailmates/internal/sos"
)

// The gateway announces changes made through the REST façades to the
// activity room. It satisfies session.Events and sos.Events.

func (g *Gateway) SessionStarted(s session.Session) {
	g.broadcast(s.ActivityID, EventSessionStarted, sessionStartedPayload{
		ActivityID:   s.ActivityID,
		SessionID:    s.ID,
		StartTime:    s.StartedAt,
		Participants: s.Participants,
	}, nil)
}

func (g *Gateway) SessionEnded(s session.Session) {
	g.broadcast(s.ActivityID, EventSessionEnded, sessionEndedPayload{
		ActivityID: s.ActivityID,
		SessionID:  s.ID,
		EndTime:    s.EndedAt,
		GroupStats: s.GroupStats,
	}, nil)
}

func (g *Gateway) AlertTriggered(a sos.Alert) {
	g.broadcast(a.ActivityID, EventEmergencyAlert, emergencyAlertPayload{
		AlertID:   a.ID,
		UserID:    a.UserID,
		Location:  a.Location,
		Reason:    a.Reason,
		Timestamp: a.CreatedAt,
	}, nil)
}

func (g *Gateway) AlertResponded(a sos.Alert, r sos.Response) {
	g.broadcast(a.ActivityID, EventEmergencyResponse, emergencyResponsePayload{
		AlertID:   a.ID,
		UserID:    r.UserID,
		Response:  r.Kind,
		Notes:     r.Notes,
		Timestamp: r.At,
	}, nil)
}

func (g *Gateway) AlertResolved(a sos.Alert) {
	payload := emergencyResolvedPayload{
		AlertID:    a.ID,
		ResolvedBy: a.ResolvedBy,
		Notes:      a.ResolutionNotes,
	}
	if a.ResolvedAt != nil {
		payload.Timestamp = *a.ResolvedAt
	}
	g.broadcast(a.ActivityID, EventEmergencyResolved, payload, nil)
}

var (
	_ session.Events = (*Gateway)(nil)
	_ sos.Events     = (*Gateway)(nil)
)
