package session

import "time"

type GroupStats struct {
	TotalDistanceM   float64   `json:"total_distance"`
	AverageSpeed     float64   `json:"average_speed"`
	LeaderID         string    `json:"leader_id,omitempty"`
	LeaderDistanceM  float64   `json:"leader_distance"`
	TrailerID        string    `json:"trailer_id,omitempty"`
	TrailerDistanceM float64   `json:"trailer_distance"`
	SpreadDistanceM  float64   `json:"spread_distance"`
	ActiveCount      int       `json:"active_count"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (g GroupStats) HasLeader() bool { return g.LeaderID != "" }

// Recompute derives GroupStats from the participants whose status is active.
// With no active participant the previous aggregate is kept as is.
// Ties for leader and trailer go to the participant listed first.
func Recompute(s *Session, now time.Time) {
	var (
		stats      GroupStats
		speedSum   float64
		leader     = -1
		trailer    = -1
		activeSeen int
	)
	for i, p := range s.Participants {
		if p.Status != ParticipantActive {
			continue
		}
		activeSeen++
		d := p.Stats.DistanceM
		stats.TotalDistanceM += d
		speedSum += p.Stats.Speed
		if leader < 0 || d > s.Participants[leader].Stats.DistanceM {
			leader = i
		}
		if trailer < 0 || d < s.Participants[trailer].Stats.DistanceM {
			trailer = i
		}
	}
	if activeSeen == 0 {
		return
	}

	stats.ActiveCount = activeSeen
	stats.AverageSpeed = speedSum / float64(activeSeen)
	stats.LeaderID = s.Participants[leader].UserID
	stats.LeaderDistanceM = s.Participants[leader].Stats.DistanceM
	stats.TrailerID = s.Participants[trailer].UserID
	stats.TrailerDistanceM = s.Participants[trailer].Stats.DistanceM
	stats.SpreadDistanceM = stats.LeaderDistanceM - stats.TrailerDistanceM
	stats.UpdatedAt = now
	s.GroupStats = stats
}
