// Package safety evaluates a participant's latest session snapshot against
// the group safety thresholds. Alerts are computed, never stored.
package safety

import (
	"fmt"
	"time"

	"backend-trailmates/internal/session"
)

const (
	TypeNoMovement        = "NO_MOVEMENT"
	TypeFallingBehind     = "FALLING_BEHIND"
	TypeAbnormalHeartRate = "ABNORMAL_HEART_RATE"
	TypeLowBattery        = "LOW_BATTERY"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

type Alert struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Thresholds struct {
	NoMovement     time.Duration
	FallingBehindM float64
	HeartRateMax   int
	HeartRateMin   int
	LowBattery     int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		NoMovement:     300 * time.Second,
		FallingBehindM: 2000,
		HeartRateMax:   180,
		HeartRateMin:   40,
		LowBattery:     10,
	}
}

type Detector struct {
	t Thresholds
}

func NewDetector(t Thresholds) *Detector {
	return &Detector{t: t}
}

// Evaluate runs every check for userID against s and returns the triggered
// alerts in check order. An unknown user yields no alerts.
func (d *Detector) Evaluate(s session.Session, userID string, now time.Time) []Alert {
	p := s.Participant(userID)
	if p == nil {
		return nil
	}

	var alerts []Alert
	add := func(typ, severity, msg string) {
		alerts = append(alerts, Alert{Type: typ, Severity: severity, Message: msg, Timestamp: now})
	}

	// A participant who never reported has no position to be stuck at.
	if p.Status == session.ParticipantActive && p.Stats.Speed == 0 && !p.LastUpdate.IsZero() && now.Sub(p.LastUpdate) > d.t.NoMovement {
		add(TypeNoMovement, SeverityHigh,
			fmt.Sprintf("%s has not moved for %d minutes", name(p), int(now.Sub(p.LastUpdate).Minutes())))
	}

	if s.GroupStats.HasLeader() {
		gap := s.GroupStats.LeaderDistanceM - p.Stats.DistanceM
		if gap > d.t.FallingBehindM {
			add(TypeFallingBehind, SeverityMedium,
				fmt.Sprintf("%s is %.1fkm behind the leader", name(p), gap/1000))
		}
	}

	if hr := p.Stats.HeartRate; hr != nil && (*hr > d.t.HeartRateMax || *hr < d.t.HeartRateMin) {
		add(TypeAbnormalHeartRate, SeverityHigh,
			fmt.Sprintf("%s has an abnormal heart rate of %d bpm", name(p), *hr))
	}

	if b := p.Stats.BatteryLevel; b != nil && *b < d.t.LowBattery {
		add(TypeLowBattery, SeverityLow,
			fmt.Sprintf("%s's device battery is at %d%%", name(p), *b))
	}

	return alerts
}

// ParticipantAlerts groups the alerts raised for one participant.
type ParticipantAlerts struct {
	UserID string
	Alerts []Alert
}

// EvaluateAll runs Evaluate for every participant of s, in participant order,
// and keeps those with at least one alert.
func (d *Detector) EvaluateAll(s session.Session, now time.Time) []ParticipantAlerts {
	var out []ParticipantAlerts
	for _, p := range s.Participants {
		if alerts := d.Evaluate(s, p.UserID, now); len(alerts) > 0 {
			out = append(out, ParticipantAlerts{UserID: p.UserID, Alerts: alerts})
		}
	}
	return out
}

func name(p *session.Participant) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.UserID
}
