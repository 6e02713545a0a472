package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"backend-trailmates/internal/activity"
	"backend-trailmates/internal/apperr"
	"backend-trailmates/internal/notify"
	"backend-trailmates/internal/safety"
	"backend-trailmates/internal/session"
	"backend-trailmates/internal/sos"
	"backend-trailmates/internal/stream"
	"backend-trailmates/internal/telemetry"
)

type fakeVerifier map[string]string

func (f fakeVerifier) ValidateAccessToken(token string) (string, error) {
	if id, ok := f[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

type fakeDirectory struct{}

func (fakeDirectory) Membership(_ context.Context, activityID string) (activity.Membership, error) {
	if activityID != "act-1" {
		return activity.Membership{}, apperr.New(apperr.KindNotFound, apperr.CodeNotFound, "activity not found")
	}
	return activity.Membership{
		Activity: activity.Activity{ID: activityID, OrganizerID: "org-1"},
		Members: []activity.Member{
			{UserID: "user-1", DisplayName: "Ayu"},
			{UserID: "user-2", DisplayName: "Budi"},
		},
	}, nil
}

func (fakeDirectory) SetStatus(context.Context, string, string) error { return nil }

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fixture struct {
	gw         *Gateway
	sessions   *session.Service
	dispatcher *notify.Dispatcher
	published  *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, safety.DefaultThresholds())
}

func newFixtureWith(t *testing.T, th safety.Thresholds) *fixture {
	t.Helper()
	normalizer, err := telemetry.NewNormalizer()
	if err != nil {
		t.Fatalf("normalizer: %v", err)
	}

	pub := &recordingPublisher{}
	dispatcher := notify.NewDispatcher(pub, nil)
	sessions := session.NewService(session.NewMemoryStore(), fakeDirectory{}, nil)
	gw := NewGateway(Deps{
		Hub:        stream.NewHub(nil, nil),
		Verifier:   fakeVerifier{"tok-org": "org-1", "tok-1": "user-1", "tok-2": "user-2", "tok-x": "stranger"},
		Directory:  fakeDirectory{},
		Sessions:   sessions,
		SOS:        sos.NewService(sos.NewMemoryStore(), fakeDirectory{}, sessions, dispatcher, nil),
		Normalizer: normalizer,
		Detector:   safety.NewDetector(th),
		Notifier:   dispatcher,
	})
	return &fixture{gw: gw, sessions: sessions, dispatcher: dispatcher, published: pub}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if _, err := f.sessions.StartSession(context.Background(), "act-1", "org-1"); err != nil {
		t.Fatalf("start session: %v", err)
	}
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func send(t *testing.T, g *Gateway, c *Conn, typ string, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"type": typ, "data": data})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	g.Handle(context.Background(), c, raw)
}

// drain collects every frame queued for c.
func drain(c *Conn) []frame {
	var out []frame
	for {
		select {
		case raw, ok := <-c.Outbound():
			if !ok {
				return out
			}
			var f frame
			_ = json.Unmarshal(raw, &f)
			out = append(out, f)
		case <-time.After(30 * time.Millisecond):
			return out
		}
	}
}

func types(frames []frame) []string {
	out := []string{}
	for _, f := range frames {
		out = append(out, f.Type)
	}
	return out
}

func find(t *testing.T, frames []frame, typ string, v any) {
	t.Helper()
	for _, f := range frames {
		if f.Type == typ {
			if err := json.Unmarshal(f.Data, v); err != nil {
				t.Fatalf("decode %s: %v", typ, err)
			}
			return
		}
	}
	t.Fatalf("no %s frame in %v", typ, types(frames))
}

func safetyAlerts(t *testing.T, frames []frame) []safetyAlertPayload {
	t.Helper()
	var out []safetyAlertPayload
	for _, f := range frames {
		if f.Type != EventSafetyAlert {
			continue
		}
		var p safetyAlertPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			t.Fatalf("decode safety alert: %v", err)
		}
		out = append(out, p)
	}
	return out
}

func expectCode(t *testing.T, c *Conn, want string) {
	t.Helper()
	var e errorPayload
	find(t, drain(c), EventError, &e)
	if e.Code != want {
		t.Fatalf("expected error code %s, got %s (%s)", want, e.Code, e.Message)
	}
}

func connect(t *testing.T, f *fixture, token, userID string) *Conn {
	t.Helper()
	c := f.gw.Open()
	send(t, f.gw, c, EventAuthenticate, map[string]string{"credential": token})
	var auth authenticatedPayload
	find(t, drain(c), EventAuthenticated, &auth)
	if auth.UserID != userID {
		t.Fatalf("authenticated as %q, want %q", auth.UserID, userID)
	}
	return c
}

func join(t *testing.T, f *fixture, c *Conn, userID string) {
	t.Helper()
	send(t, f.gw, c, EventJoinActivity, map[string]string{"activityId": "act-1", "userId": userID})
	var joined joinedPayload
	find(t, drain(c), EventJoinedActivity, &joined)
	if joined.ActivityID != "act-1" {
		t.Fatalf("joined %q", joined.ActivityID)
	}
}

func TestAuthenticationRequired(t *testing.T) {
	f := newFixture(t)
	c := f.gw.Open()

	send(t, f.gw, c, EventJoinActivity, map[string]string{"activityId": "act-1", "userId": "user-1"})
	expectCode(t, c, apperr.CodeNotAuthenticated)
	send(t, f.gw, c, EventLocationUpdate, map[string]any{"activityId": "act-1", "location": []float64{1, 1}})
	expectCode(t, c, apperr.CodeNotAuthenticated)
	if c.State() != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", c.State())
	}

	send(t, f.gw, c, EventAuthenticate, map[string]string{"credential": "forged"})
	expectCode(t, c, apperr.CodeNotAuthenticated)

	send(t, f.gw, c, EventAuthenticate, map[string]string{"token": "tok-1"})
	var auth authenticatedPayload
	find(t, drain(c), EventAuthenticated, &auth)
	if auth.UserID != "user-1" || c.State() != StateAuthenticated {
		t.Fatalf("unexpected auth state: %s %s", auth.UserID, c.State())
	}
}

func TestJoinRules(t *testing.T) {
	f := newFixture(t)
	c := connect(t, f, "tok-1", "user-1")

	send(t, f.gw, c, EventJoinActivity, map[string]string{"activityId": "act-1", "userId": "user-2"})
	expectCode(t, c, apperr.CodeUserMismatch)

	stranger := connect(t, f, "tok-x", "stranger")
	send(t, f.gw, stranger, EventJoinActivity, map[string]string{"activityId": "act-1", "userId": "stranger"})
	expectCode(t, stranger, apperr.CodeNotAParticipant)

	join(t, f, c, "USER-1")
	other := connect(t, f, "tok-2", "user-2")
	join(t, f, other, "user-2")

	var joined participantPayload
	find(t, drain(c), EventParticipantJoined, &joined)
	if joined.UserID != "user-2" || joined.DisplayName != "Budi" {
		t.Fatalf("unexpected joined payload: %+v", joined)
	}

	send(t, f.gw, other, EventLeaveActivity, map[string]string{"activityId": "act-1"})
	var left participantPayload
	find(t, drain(c), EventParticipantLeft, &left)
	if left.UserID != "user-2" {
		t.Fatalf("unexpected left payload: %+v", left)
	}
}

func TestLocationUpdateFanOut(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	a := connect(t, f, "tok-1", "user-1")
	b := connect(t, f, "tok-2", "user-2")
	join(t, f, a, "user-1")
	join(t, f, b, "user-2")
	drain(a)

	send(t, f.gw, a, EventLocationUpdate, map[string]any{
		"activityId": "act-1",
		"userId":     "user-1",
		"location":   map[string]any{"type": "Point", "coordinates": []float64{116.457, -8.411}},
		"stats":      map[string]any{"distance": 1200, "speed": 1.3},
	})

	fromA := types(drain(a))
	fromB := drain(b)
	if slices.Contains(fromA, EventParticipantLocation) {
		t.Fatalf("sender must not receive its own delta: %v", fromA)
	}
	if !slices.Contains(fromA, EventGroupStats) || !slices.Contains(fromA, EventLocationAck) {
		t.Fatalf("sender missing group stats or ack: %v", fromA)
	}
	if slices.Contains(fromA, EventSafetyAlert) {
		t.Fatalf("unexpected safety alert: %v", fromA)
	}

	var loc participantLocationPayload
	find(t, fromB, EventParticipantLocation, &loc)
	if loc.UserID != "user-1" || loc.Location.Lng != 116.457 || loc.Stats.DistanceM != 1200 {
		t.Fatalf("unexpected location payload: %+v", loc)
	}

	var gs groupStatsPayload
	find(t, fromB, EventGroupStats, &gs)
	if gs.Stats.LeaderID != "user-1" || gs.ParticipantCount != 3 {
		t.Fatalf("unexpected group stats: %+v", gs)
	}

	sess, err := f.sessions.ActiveSession(context.Background(), "act-1")
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if n := len(sess.Participant("user-1").Route); n != 1 {
		t.Fatalf("expected one route point, got %d", n)
	}
}

func TestLocationUpdateRejections(t *testing.T) {
	f := newFixture(t)
	a := connect(t, f, "tok-1", "user-1")

	send(t, f.gw, a, EventLocationUpdate, map[string]any{"activityId": "act-1", "location": []float64{1, 1}})
	expectCode(t, a, apperr.CodeNotJoined)

	join(t, f, a, "user-1")
	send(t, f.gw, a, EventLocationUpdate, map[string]any{"activityId": "act-1", "location": []float64{1, 1}})
	expectCode(t, a, apperr.CodeNoActiveSession)

	send(t, f.gw, a, EventLocationUpdate, map[string]any{"activityId": "act-1", "location": []float64{1}})
	expectCode(t, a, apperr.CodeInvalidLocation)

	send(t, f.gw, a, EventLocationUpdate, map[string]any{"activityId": "act-1", "userId": "user-2", "location": []float64{1, 1}})
	expectCode(t, a, apperr.CodeUserMismatch)
}

func TestSafetyAlertBroadcast(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	a := connect(t, f, "tok-1", "user-1")
	b := connect(t, f, "tok-2", "user-2")
	join(t, f, a, "user-1")
	join(t, f, b, "user-2")
	drain(a)

	send(t, f.gw, a, EventLocationUpdate, map[string]any{
		"activityId": "act-1",
		"location":   []float64{116.4, -8.4},
		"stats":      map[string]any{"speed": 1.0},
		"health":     map[string]any{"heartRate": 190, "batteryLevel": 5},
	})

	for _, c := range []*Conn{a, b} {
		alerts := safetyAlerts(t, drain(c))
		if len(alerts) != 1 || alerts[0].UserID != "user-1" {
			t.Fatalf("expected one alert for user-1, got %+v", alerts)
		}
		got := alerts[0].Alerts
		if len(got) != 2 || got[0].Type != safety.TypeAbnormalHeartRate || got[1].Type != safety.TypeLowBattery {
			t.Fatalf("unexpected alerts: %+v", got)
		}
		if alerts[0].Location == nil || alerts[0].Location.Lng != 116.4 {
			t.Fatalf("alert should carry the last location: %+v", alerts[0].Location)
		}
	}
	f.dispatcher.Wait()
	if got := f.published.kinds(); !slices.Equal(got, []string{notify.KindSafetyAlert}) {
		t.Fatalf("unexpected notifications: %v", got)
	}
}

func TestStalledParticipantFlaggedOnOthersUpdate(t *testing.T) {
	th := safety.DefaultThresholds()
	th.NoMovement = 20 * time.Millisecond
	f := newFixtureWith(t, th)
	f.start(t)
	a := connect(t, f, "tok-1", "user-1")
	b := connect(t, f, "tok-2", "user-2")
	join(t, f, a, "user-1")
	join(t, f, b, "user-2")

	send(t, f.gw, a, EventLocationUpdate, map[string]any{
		"activityId": "act-1",
		"location":   []float64{116.4, -8.4},
		"stats":      map[string]any{"speed": 0},
	})
	if alerts := safetyAlerts(t, drain(a)); len(alerts) != 0 {
		t.Fatalf("fresh update must not raise alerts: %+v", alerts)
	}
	drain(b)

	time.Sleep(50 * time.Millisecond)
	send(t, f.gw, b, EventLocationUpdate, map[string]any{
		"activityId": "act-1",
		"location":   []float64{116.41, -8.41},
		"stats":      map[string]any{"speed": 1.2, "distance": 300},
	})

	for _, c := range []*Conn{a, b} {
		alerts := safetyAlerts(t, drain(c))
		if len(alerts) != 1 || alerts[0].UserID != "user-1" {
			t.Fatalf("expected one alert for the stalled user-1, got %+v", alerts)
		}
		if len(alerts[0].Alerts) != 1 || alerts[0].Alerts[0].Type != safety.TypeNoMovement {
			t.Fatalf("expected NO_MOVEMENT, got %+v", alerts[0].Alerts)
		}
	}
	f.dispatcher.Wait()
	if got := f.published.kinds(); !slices.Equal(got, []string{notify.KindSafetyAlert}) {
		t.Fatalf("unexpected notifications: %v", got)
	}
}

func TestSOSAlertBroadcast(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	a := connect(t, f, "tok-1", "user-1")
	b := connect(t, f, "tok-2", "user-2")
	join(t, f, a, "user-1")
	join(t, f, b, "user-2")
	drain(a)

	send(t, f.gw, a, EventSOSAlert, map[string]any{
		"activityId": "act-1",
		"userId":     "user-1",
		"location":   []float64{116.4, -8.4},
		"reason":     "fell into ravine",
	})

	for _, c := range []*Conn{a, b} {
		frames := drain(c)
		var alert emergencyAlertPayload
		find(t, frames, EventEmergencyAlert, &alert)
		if alert.Reason != "fell into ravine" || alert.AlertID == "" {
			t.Fatalf("unexpected emergency alert: %+v", alert)
		}
		var status participantStatusPayload
		find(t, frames, EventParticipantStatus, &status)
		if status.Status != session.ParticipantEmergency {
			t.Fatalf("unexpected status: %+v", status)
		}
	}

	sess, err := f.sessions.ActiveSession(context.Background(), "act-1")
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if got := sess.Participant("user-1").Status; got != session.ParticipantEmergency {
		t.Fatalf("expected emergency status, got %s", got)
	}

	f.dispatcher.Wait()
	if got := f.published.kinds(); !slices.Equal(got, []string{notify.KindSOSTriggered}) {
		t.Fatalf("unexpected notifications: %v", got)
	}

	stranger := connect(t, f, "tok-x", "stranger")
	send(t, f.gw, stranger, EventSOSAlert, map[string]any{"activityId": "act-1", "location": []float64{1, 1}})
	expectCode(t, stranger, apperr.CodeNotAParticipant)
}

func TestStatusUpdateAndGroupStats(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	a := connect(t, f, "tok-1", "user-1")

	send(t, f.gw, a, EventGetGroupStats, map[string]any{"activityId": "act-1"})
	expectCode(t, a, apperr.CodeNotJoined)

	join(t, f, a, "user-1")
	send(t, f.gw, a, EventStatusUpdate, map[string]any{"activityId": "act-1", "userId": "user-1", "status": session.ParticipantPaused})
	var status participantStatusPayload
	find(t, drain(a), EventParticipantStatus, &status)
	if status.Status != session.ParticipantPaused {
		t.Fatalf("unexpected status: %+v", status)
	}

	send(t, f.gw, a, EventGetGroupStats, map[string]any{"activityId": "act-1"})
	var gs groupStatsPayload
	find(t, drain(a), EventGroupStats, &gs)
	if gs.Stats.ActiveCount != 2 {
		t.Fatalf("expected 2 active participants, got %d", gs.Stats.ActiveCount)
	}

	send(t, f.gw, a, EventStatusUpdate, map[string]any{"activityId": "act-1", "status": "asleep"})
	expectCode(t, a, apperr.CodeInvalidPayload)
}

func TestDisconnectNotifiesRoomAndKeepsState(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	a := connect(t, f, "tok-1", "user-1")
	b := connect(t, f, "tok-2", "user-2")
	join(t, f, a, "user-1")
	join(t, f, b, "user-2")
	send(t, f.gw, a, EventLocationUpdate, map[string]any{"activityId": "act-1", "location": []float64{116.4, -8.4}})
	drain(b)

	f.gw.Close(a)
	f.gw.Close(a)
	if a.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", a.State())
	}

	var gone participantPayload
	find(t, drain(b), EventParticipantDisconnected, &gone)
	if gone.UserID != "user-1" {
		t.Fatalf("unexpected disconnect payload: %+v", gone)
	}

	sess, err := f.sessions.ActiveSession(context.Background(), "act-1")
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if sess.Participant("user-1").Location == nil {
		t.Fatalf("disconnect must keep the last location")
	}
}

func TestMalformedMessages(t *testing.T) {
	f := newFixture(t)
	c := connect(t, f, "tok-1", "user-1")

	f.gw.Handle(context.Background(), c, []byte("not json"))
	expectCode(t, c, apperr.CodeInvalidPayload)

	send(t, f.gw, c, "dance", map[string]any{})
	expectCode(t, c, apperr.CodeInvalidPayload)

	f.gw.Handle(context.Background(), c, []byte(`{"type":"join-activity"}`))
	expectCode(t, c, apperr.CodeInvalidPayload)
}

func TestReauthenticationDropsRooms(t *testing.T) {
	f := newFixture(t)
	c := connect(t, f, "tok-1", "user-1")
	join(t, f, c, "user-1")

	send(t, f.gw, c, EventAuthenticate, map[string]string{"credential": "tok-2"})
	drain(c)
	if c.UserID() != "user-2" {
		t.Fatalf("expected user-2, got %s", c.UserID())
	}
	send(t, f.gw, c, EventGetGroupStats, map[string]any{"activityId": "act-1"})
	expectCode(t, c, apperr.CodeNotJoined)
}

func TestRESTEventsReachRoom(t *testing.T) {
	f := newFixture(t)
	a := connect(t, f, "tok-1", "user-1")
	join(t, f, a, "user-1")

	started, err := f.sessions.StartSession(context.Background(), "act-1", "org-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.gw.SessionStarted(started)
	var sp sessionStartedPayload
	find(t, drain(a), EventSessionStarted, &sp)
	if sp.SessionID != started.ID || len(sp.Participants) != 3 {
		t.Fatalf("unexpected session-started: %+v", sp)
	}

	ended, err := f.sessions.EndSession(context.Background(), "act-1", "org-1")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	f.gw.SessionEnded(ended)
	var ep sessionEndedPayload
	find(t, drain(a), EventSessionEnded, &ep)
	if ep.EndTime == nil {
		t.Fatalf("session-ended without end time")
	}

	now := time.Now()
	alert := sos.Alert{ID: "alert-1", ActivityID: "act-1", UserID: "user-2", ResolvedBy: "org-1", ResolvedAt: &now}
	f.gw.AlertResponded(alert, sos.Response{UserID: "user-1", Kind: sos.ResponseOnWay, At: now})
	f.gw.AlertResolved(alert)
	frames := drain(a)
	var resp emergencyResponsePayload
	find(t, frames, EventEmergencyResponse, &resp)
	if resp.Response != sos.ResponseOnWay {
		t.Fatalf("unexpected response: %+v", resp)
	}
	var res emergencyResolvedPayload
	find(t, frames, EventEmergencyResolved, &res)
	if res.ResolvedBy != "org-1" {
		t.Fatalf("unexpected resolution: %+v", res)
	}
}
