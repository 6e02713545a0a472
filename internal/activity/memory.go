package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backend-trailmates/internal/apperr"

	"github.com/spf13/viper"
)

// Directory is what the live session components need from activities.
type Directory interface {
	Membership(ctx context.Context, activityID string) (Membership, error)
	SetStatus(ctx context.Context, activityID, status string) error
}

// MemoryDirectory serves membership when the database is disabled.
type MemoryDirectory struct {
	mu         sync.RWMutex
	activities map[string]Membership // activityID -> activity and members
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{activities: map[string]Membership{}}
}

// Add registers or replaces an activity together with its members.
func (d *MemoryDirectory) Add(a Activity, members ...Member) {
	if a.Status == "" {
		a.Status = StatusUpcoming
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.StartsAt.IsZero() {
		a.StartsAt = a.CreatedAt
	}
	ms := make([]Member, len(members))
	for i, m := range members {
		m.ActivityID = a.ID
		if m.Role == "" {
			m.Role = RoleMember
		}
		if m.JoinedAt.IsZero() {
			m.JoinedAt = a.CreatedAt
		}
		ms[i] = m
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.activities[a.ID] = Membership{Activity: a, Members: ms}
}

func (d *MemoryDirectory) Get(_ context.Context, id string) (Activity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.activities[id]
	if !ok {
		return Activity{}, errActivityNotFound
	}
	return m.Activity, nil
}

func (d *MemoryDirectory) Membership(_ context.Context, activityID string) (Membership, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.activities[activityID]
	if !ok {
		return Membership{}, errActivityNotFound
	}
	m.Members = append([]Member(nil), m.Members...)
	return m, nil
}

func (d *MemoryDirectory) SetStatus(_ context.Context, activityID, status string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.activities[activityID]
	if !ok {
		return errActivityNotFound
	}
	m.Activity.Status = status
	d.activities[activityID] = m
	return nil
}

type seedFile struct {
	Activities []seedActivity `mapstructure:"activities"`
}

type seedActivity struct {
	ID          string       `mapstructure:"id"`
	Title       string       `mapstructure:"title"`
	OrganizerID string       `mapstructure:"organizer_id"`
	Status      string       `mapstructure:"status"`
	Members     []seedMember `mapstructure:"members"`
}

type seedMember struct {
	UserID      string `mapstructure:"user_id"`
	DisplayName string `mapstructure:"display_name"`
	Role        string `mapstructure:"role"`
}

// LoadSeed fills d from a YAML or JSON file with a top-level "activities" list.
func (d *MemoryDirectory) LoadSeed(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read activity seed: %w", err)
	}
	var seed seedFile
	if err := v.Unmarshal(&seed); err != nil {
		return fmt.Errorf("decode activity seed: %w", err)
	}
	for _, a := range seed.Activities {
		if a.ID == "" || a.OrganizerID == "" {
			return fmt.Errorf("activity seed: id and organizer_id are required")
		}
		members := make([]Member, 0, len(a.Members))
		for _, m := range a.Members {
			members = append(members, Member{UserID: m.UserID, DisplayName: m.DisplayName, Role: m.Role})
		}
		d.Add(Activity{ID: a.ID, Title: a.Title, OrganizerID: a.OrganizerID, Status: a.Status}, members...)
	}
	return nil
}
