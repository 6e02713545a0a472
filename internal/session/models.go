package session

import (
	"time"

	"backend-trailmates/internal/activity"
	"backend-trailmates/internal/shared/geo"
)

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const (
	ParticipantActive    = "active"
	ParticipantPaused    = "paused"
	ParticipantCompleted = "completed"
	ParticipantEmergency = "emergency"
)

// ValidParticipantStatus reports whether status is a known participant status.
func ValidParticipantStatus(status string) bool {
	switch status {
	case ParticipantActive, ParticipantPaused, ParticipantCompleted, ParticipantEmergency:
		return true
	}
	return false
}

type Session struct {
	ID           string        `json:"id"`
	ActivityID   string        `json:"activity_id"`
	StartedAt    time.Time     `json:"start_time"`
	EndedAt      *time.Time    `json:"end_time,omitempty"`
	Status       string        `json:"status"`
	Participants []Participant `json:"participants"`
	GroupStats   GroupStats    `json:"group_stats"`
	Version      int64         `json:"version"`
}

type Participant struct {
	UserID      string      `json:"user_id"`
	DisplayName string      `json:"display_name"`
	Location    *geo.Point  `json:"current_location,omitempty"`
	Route       []geo.Point `json:"route"`
	Stats       Stats       `json:"stats"`
	LastUpdate  time.Time   `json:"last_update"`
	Status      string      `json:"status"`
}

type Stats struct {
	DistanceM      float64 `json:"distance"`
	DurationSec    float64 `json:"duration"`
	Pace           float64 `json:"pace"`
	Speed          float64 `json:"speed"`
	ElevationGainM float64 `json:"elevation_gain"`
	HeartRate      *int    `json:"heart_rate,omitempty"`
	Calories       float64 `json:"calories"`
	Steps          int64   `json:"steps"`
	BatteryLevel   *int    `json:"battery_level,omitempty"`
}

// StatsPatch is a partial stats bundle; nil fields leave the stored value untouched.
type StatsPatch struct {
	DistanceM      *float64 `json:"distance,omitempty"`
	DurationSec    *float64 `json:"duration,omitempty"`
	Pace           *float64 `json:"pace,omitempty"`
	Speed          *float64 `json:"speed,omitempty"`
	ElevationGainM *float64 `json:"elevation_gain,omitempty"`
	HeartRate      *int     `json:"heart_rate,omitempty"`
	Calories       *float64 `json:"calories,omitempty"`
	Steps          *int64   `json:"steps,omitempty"`
	BatteryLevel   *int     `json:"battery_level,omitempty"`
}

// Apply shallow-merges p into s. Distance, duration, calories and steps never
// move backwards within a session; a smaller reported value is ignored.
func (s Stats) Apply(p StatsPatch) Stats {
	if p.DistanceM != nil && *p.DistanceM > s.DistanceM {
		s.DistanceM = *p.DistanceM
	}
	if p.DurationSec != nil && *p.DurationSec > s.DurationSec {
		s.DurationSec = *p.DurationSec
	}
	if p.Calories != nil && *p.Calories > s.Calories {
		s.Calories = *p.Calories
	}
	if p.Steps != nil && *p.Steps > s.Steps {
		s.Steps = *p.Steps
	}
	if p.Pace != nil {
		s.Pace = *p.Pace
	}
	if p.Speed != nil {
		s.Speed = *p.Speed
	}
	if p.ElevationGainM != nil {
		s.ElevationGainM = *p.ElevationGainM
	}
	if p.HeartRate != nil {
		v := *p.HeartRate
		s.HeartRate = &v
	}
	if p.BatteryLevel != nil {
		v := *p.BatteryLevel
		s.BatteryLevel = &v
	}
	return s
}

// Participant returns the participant entry for userID, or nil.
func (s *Session) Participant(userID string) *Participant {
	for i := range s.Participants {
		if activity.SameUser(s.Participants[i].UserID, userID) {
			return &s.Participants[i]
		}
	}
	return nil
}

// upsertLocation is the only path that mutates participant telemetry.
func (s *Session) upsertLocation(userID, displayName string, point geo.Point, patch StatsPatch, now time.Time) {
	p := s.Participant(userID)
	if p == nil {
		loc := point
		s.Participants = append(s.Participants, Participant{
			UserID:      userID,
			DisplayName: displayName,
			Location:    &loc,
			Route:       []geo.Point{point},
			Stats:       Stats{}.Apply(patch),
			LastUpdate:  now,
			Status:      ParticipantActive,
		})
		return
	}

	loc := point
	p.Location = &loc
	p.Route = append(p.Route, point)
	p.Stats = p.Stats.Apply(patch)
	p.LastUpdate = now
	if p.DisplayName == "" {
		p.DisplayName = displayName
	}
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s Session) Clone() Session {
	out := s
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	out.Participants = make([]Participant, len(s.Participants))
	for i, p := range s.Participants {
		cp := p
		if p.Location != nil {
			loc := *p.Location
			cp.Location = &loc
		}
		cp.Route = make([]geo.Point, len(p.Route))
		copy(cp.Route, p.Route)
		if p.Stats.HeartRate != nil {
			v := *p.Stats.HeartRate
			cp.Stats.HeartRate = &v
		}
		if p.Stats.BatteryLevel != nil {
			v := *p.Stats.BatteryLevel
			cp.Stats.BatteryLevel = &v
		}
		out.Participants[i] = cp
	}
	return out
}

func newParticipant(m activity.Member) Participant {
	return Participant{
		UserID:      m.UserID,
		DisplayName: m.DisplayName,
		Route:       []geo.Point{},
		Status:      ParticipantActive,
	}
}
