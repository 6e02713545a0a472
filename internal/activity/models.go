package activity

import (
	"strings"
	"time"
)

const (
	StatusUpcoming  = "upcoming"
	StatusLive      = "live"
	StatusCompleted = "completed"
)

const (
	RoleOrganizer = "organizer"
	RoleMember    = "member"
)

type Activity struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	OrganizerID string    `json:"organizer_id"`
	Status      string    `json:"status"`
	StartsAt    time.Time `json:"starts_at"`
	CreatedAt   time.Time `json:"created_at"`
}

type Member struct {
	ActivityID  string    `json:"activity_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Membership is an activity together with its current members.
type Membership struct {
	Activity Activity
	Members  []Member
}

// SameUser compares user identifiers independent of surrounding whitespace and case.
func SameUser(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

func (m Membership) IsOrganizer(userID string) bool {
	return SameUser(m.Activity.OrganizerID, userID)
}

// IsParticipant treats the organizer as an implicit participant.
func (m Membership) IsParticipant(userID string) bool {
	if m.IsOrganizer(userID) {
		return true
	}
	for _, mem := range m.Members {
		if SameUser(mem.UserID, userID) {
			return true
		}
	}
	return false
}

func (m Membership) DisplayName(userID string) string {
	for _, mem := range m.Members {
		if SameUser(mem.UserID, userID) {
			return mem.DisplayName
		}
	}
	return ""
}

// UserIDs lists every participant, organizer included, each once.
func (m Membership) UserIDs() []string {
	ids := make([]string, 0, len(m.Members)+1)
	seen := map[string]struct{}{}
	add := func(id string) {
		key := strings.ToLower(strings.TrimSpace(id))
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		ids = append(ids, id)
	}
	add(m.Activity.OrganizerID)
	for _, mem := range m.Members {
		add(mem.UserID)
	}
	return ids
}
