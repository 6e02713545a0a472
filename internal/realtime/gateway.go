// Package realtime is the authenticated, room-scoped event channel between
// participant devices and the session engine.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"backend-trailmates/internal/activity"
	"backend-trailmates/internal/apperr"
	"backend-trailmates/internal/logger"
	"backend-trailmates/internal/notify"
	"backend-trailmates/internal/safety"
	"backend-trailmates/internal/session"
	"backend-trailmates/internal/sos"
	"backend-trailmates/internal/stream"
	"backend-trailmates/internal/telemetry"

	"go.uber.org/zap"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

type Verifier interface {
	ValidateAccessToken(token string) (string, error)
}

type Directory interface {
	Membership(ctx context.Context, activityID string) (activity.Membership, error)
}

type Deps struct {
	Hub        *stream.Hub
	Verifier   Verifier
	Directory  Directory
	Sessions   *session.Service
	SOS        *sos.Service
	Normalizer *telemetry.Normalizer
	Detector   *safety.Detector
	Notifier   *notify.Dispatcher
	Logger     *zap.Logger
}

type Gateway struct {
	hub        *stream.Hub
	verifier   Verifier
	dir        Directory
	sessions   *session.Service
	sos        *sos.Service
	normalizer *telemetry.Normalizer
	detector   *safety.Detector
	notifier   *notify.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

func NewGateway(d Deps) *Gateway {
	return &Gateway{
		hub:        d.Hub,
		verifier:   d.Verifier,
		dir:        d.Directory,
		sessions:   d.Sessions,
		sos:        d.SOS,
		normalizer: d.Normalizer,
		detector:   d.Detector,
		notifier:   d.Notifier,
		logger:     logger.OrNop(d.Logger),
		now:        time.Now,
	}
}

// Conn is the server side of one device connection.
type Conn struct {
	client *stream.Client

	mu     sync.Mutex
	state  State
	userID string
	names  map[string]string
}

func (g *Gateway) Open() *Conn {
	return &Conn{client: g.hub.Connect(), state: StateUnauthenticated, names: map[string]string{}}
}

// Outbound is closed once the connection is closed.
func (c *Conn) Outbound() <-chan []byte { return c.client.Send }

func (c *Conn) ID() string { return c.client.ID }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) displayName(activityID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.names[activityID]
}

// Close disconnects c and tells the rooms it was in. Session state is kept.
func (g *Gateway) Close(c *Conn) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	wasAuthenticated := c.state == StateAuthenticated
	userID := c.userID
	c.state = StateDisconnected
	c.mu.Unlock()

	rooms := g.hub.Disconnect(c.client)
	if !wasAuthenticated {
		return
	}
	now := g.now()
	for _, room := range rooms {
		g.broadcast(room, EventParticipantDisconnected, participantPayload{ActivityID: room, UserID: userID, Timestamp: now}, nil)
	}
	g.logger.Info("realtime connection closed", zap.String("conn_id", c.ID()), zap.String("user_id", userID), zap.Int("rooms", len(rooms)))
}

// Authenticate validates a credential and binds its identity to c.
func (g *Gateway) Authenticate(c *Conn, credential string) error {
	if credential == "" {
		return apperr.New(apperr.KindAuthorization, apperr.CodeNotAuthenticated, "credential required")
	}
	userID, err := g.verifier.ValidateAccessToken(credential)
	if err != nil {
		return apperr.New(apperr.KindAuthorization, apperr.CodeNotAuthenticated, "invalid credential")
	}

	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return apperr.New(apperr.KindAuthorization, apperr.CodeNotAuthenticated, "connection closed")
	}
	previous := c.userID
	c.state = StateAuthenticated
	c.userID = userID
	rooms := c.names
	if previous != "" && !activity.SameUser(previous, userID) {
		c.names = map[string]string{}
	}
	c.mu.Unlock()

	// A new identity must not inherit the rooms of the old one.
	if previous != "" && !activity.SameUser(previous, userID) {
		for room := range rooms {
			g.hub.Leave(c.client, room)
		}
	}
	g.reply(c, EventAuthenticated, authenticatedPayload{UserID: userID})
	return nil
}

// Handle processes one inbound frame. Failures are answered with an error
// event on the same connection, which stays open.
func (g *Gateway) Handle(ctx context.Context, c *Conn, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
		g.fail(c, apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "malformed message"))
		return
	}
	if err := g.dispatch(ctx, c, msg); err != nil {
		g.logger.Debug("realtime event rejected",
			zap.String("conn_id", c.ID()), zap.String("type", msg.Type), zap.Error(err))
		g.fail(c, err)
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *Conn, msg Message) error {
	if msg.Type == EventAuthenticate {
		var req authenticateRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		return g.Authenticate(c, req.token())
	}

	userID, err := requireAuth(c)
	if err != nil {
		return err
	}

	switch msg.Type {
	case EventJoinActivity:
		var req joinRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		return g.join(ctx, c, userID, req)
	case EventLeaveActivity:
		var req leaveRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		g.leave(c, userID, req.ActivityID)
		return nil
	case EventLocationUpdate:
		var req locationRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		return g.location(ctx, c, userID, req)
	case EventSOSAlert:
		var req sosRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		return g.sosAlert(ctx, c, userID, req)
	case EventStatusUpdate:
		var req statusRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		return g.status(ctx, c, userID, req)
	case EventGetGroupStats:
		var req groupStatsRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		return g.groupStats(ctx, c, req.ActivityID)
	}
	return apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "unknown event "+msg.Type)
}

func (g *Gateway) join(ctx context.Context, c *Conn, userID string, req joinRequest) error {
	if req.ActivityID == "" {
		return missing("activityId")
	}
	if err := sameIdentity(userID, req.UserID); err != nil {
		return err
	}
	m, err := g.dir.Membership(ctx, req.ActivityID)
	if err != nil {
		return err
	}
	if !m.IsParticipant(userID) {
		return apperr.New(apperr.KindAuthorization, apperr.CodeNotAParticipant, "not a participant of this activity")
	}

	name := m.DisplayName(userID)
	c.mu.Lock()
	c.names[req.ActivityID] = name
	c.mu.Unlock()
	g.hub.Join(c.client, req.ActivityID)

	joined := joinedPayload{ActivityID: req.ActivityID}
	if sess, err := g.sessions.ActiveSession(ctx, req.ActivityID); err == nil {
		joined.Session = &sess
	}
	g.reply(c, EventJoinedActivity, joined)
	g.broadcast(req.ActivityID, EventParticipantJoined, participantPayload{
		ActivityID:  req.ActivityID,
		UserID:      userID,
		DisplayName: name,
		Timestamp:   g.now(),
	}, c)
	return nil
}

func (g *Gateway) leave(c *Conn, userID, activityID string) {
	if !g.hub.Leave(c.client, activityID) {
		return
	}
	c.mu.Lock()
	delete(c.names, activityID)
	c.mu.Unlock()
	g.broadcast(activityID, EventParticipantLeft, participantPayload{ActivityID: activityID, UserID: userID, Timestamp: g.now()}, nil)
}

// location applies a telemetry update, then fans out the delta to the other
// members, the refreshed aggregate and any safety alerts to the whole room.
func (g *Gateway) location(ctx context.Context, c *Conn, userID string, req locationRequest) error {
	if err := g.requireJoined(c, userID, req.ActivityID, req.UserID); err != nil {
		return err
	}
	update, err := g.normalizer.Normalize(userID, req.Location, req.Stats, req.Health)
	if err != nil {
		return err
	}
	sess, err := g.sessions.UpsertParticipantLocation(ctx, req.ActivityID, userID, c.displayName(req.ActivityID), update.Point, update.Patch)
	if err != nil {
		return err
	}

	now := g.now()
	p := sess.Participant(userID)
	g.broadcast(req.ActivityID, EventParticipantLocation, participantLocationPayload{
		UserID:    userID,
		Location:  update.Point,
		Stats:     p.Stats,
		Health:    req.Health,
		Timestamp: now,
	}, c)
	g.publishGroupStats(sess, now)
	g.raiseSafetyAlerts(sess, now)

	g.reply(c, EventLocationAck, locationAckPayload{ActivityID: req.ActivityID, Version: sess.Version, Timestamp: now})
	return nil
}

func (g *Gateway) sosAlert(ctx context.Context, c *Conn, userID string, req sosRequest) error {
	if req.ActivityID == "" {
		return missing("activityId")
	}
	if err := sameIdentity(userID, req.UserID); err != nil {
		return err
	}
	point, err := g.normalizer.Location(req.Location)
	if err != nil {
		return err
	}
	alert, err := g.sos.Trigger(ctx, sos.TriggerInput{
		UserID:     userID,
		ActivityID: req.ActivityID,
		Location:   point,
		Reason:     req.Reason,
		Type:       sos.TypeManual,
	})
	if err != nil {
		return err
	}
	g.AlertTriggered(alert)

	if _, err := g.sessions.SetParticipantStatus(ctx, req.ActivityID, userID, session.ParticipantEmergency); err == nil {
		g.broadcast(req.ActivityID, EventParticipantStatus, participantStatusPayload{
			UserID: userID, Status: session.ParticipantEmergency, Timestamp: g.now(),
		}, nil)
	} else if !apperr.Is(err, apperr.CodeNoActiveSession) {
		g.logger.Warn("participant not marked as emergency",
			zap.String("activity_id", req.ActivityID), zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

func (g *Gateway) status(ctx context.Context, c *Conn, userID string, req statusRequest) error {
	if err := g.requireJoined(c, userID, req.ActivityID, req.UserID); err != nil {
		return err
	}
	sess, err := g.sessions.SetParticipantStatus(ctx, req.ActivityID, userID, req.Status)
	if err != nil {
		return err
	}
	now := g.now()
	g.broadcast(req.ActivityID, EventParticipantStatus, participantStatusPayload{UserID: userID, Status: req.Status, Timestamp: now}, nil)
	g.publishGroupStats(sess, now)
	g.raiseSafetyAlerts(sess, now)
	return nil
}

// raiseSafetyAlerts evaluates every participant of the fresh snapshot and
// sends one safety-alert per affected user to the room and to notify.
func (g *Gateway) raiseSafetyAlerts(sess session.Session, now time.Time) {
	for _, pa := range g.detector.EvaluateAll(sess, now) {
		payload := safetyAlertPayload{UserID: pa.UserID, Alerts: pa.Alerts}
		if p := sess.Participant(pa.UserID); p != nil && p.Location != nil {
			loc := *p.Location
			payload.Location = &loc
		}
		g.broadcast(sess.ActivityID, EventSafetyAlert, payload, nil)
		g.notifier.Dispatch(notify.Event{
			Kind:       notify.KindSafetyAlert,
			ActivityID: sess.ActivityID,
			UserID:     pa.UserID,
			Payload:    payload,
			At:         now,
		})
	}
}

func (g *Gateway) groupStats(ctx context.Context, c *Conn, activityID string) error {
	if activityID == "" {
		return missing("activityId")
	}
	if !g.hub.InRoom(c.client, activityID) {
		return notJoined()
	}
	sess, err := g.sessions.ActiveSession(ctx, activityID)
	if err != nil {
		return err
	}
	g.reply(c, EventGroupStats, groupStatsPayload{
		Stats:            sess.GroupStats,
		ParticipantCount: len(sess.Participants),
		Timestamp:        g.now(),
	})
	return nil
}

func (g *Gateway) publishGroupStats(sess session.Session, now time.Time) {
	g.broadcast(sess.ActivityID, EventGroupStats, groupStatsPayload{
		Stats:            sess.GroupStats,
		ParticipantCount: len(sess.Participants),
		Timestamp:        now,
	}, nil)
}

func (g *Gateway) requireJoined(c *Conn, userID, activityID, claimed string) error {
	if activityID == "" {
		return missing("activityId")
	}
	if err := sameIdentity(userID, claimed); err != nil {
		return err
	}
	if !g.hub.InRoom(c.client, activityID) {
		return notJoined()
	}
	return nil
}

func (g *Gateway) reply(c *Conn, typ string, data any) {
	frame, err := encode(typ, data)
	if err != nil {
		g.logger.Error("encode event", zap.String("type", typ), zap.Error(err))
		return
	}
	if !g.hub.Send(c.client, frame) {
		g.logger.Debug("reply dropped", zap.String("conn_id", c.ID()), zap.String("type", typ))
	}
}

func (g *Gateway) broadcast(room, typ string, data any, except *Conn) {
	frame, err := encode(typ, data)
	if err != nil {
		g.logger.Error("encode event", zap.String("type", typ), zap.Error(err))
		return
	}
	var skip *stream.Client
	if except != nil {
		skip = except.client
	}
	g.hub.Broadcast(room, frame, skip)
}

func (g *Gateway) fail(c *Conn, err error) {
	payload := errorPayload{Message: err.Error(), Code: apperr.CodeOf(err)}
	if payload.Code == "" {
		payload.Message = "internal error"
		g.logger.Error("realtime handler failed", zap.String("conn_id", c.ID()), zap.Error(err))
	}
	g.reply(c, EventError, payload)
}

func requireAuth(c *Conn) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated {
		return "", apperr.New(apperr.KindAuthorization, apperr.CodeNotAuthenticated, "authenticate first")
	}
	return c.userID, nil
}

// sameIdentity rejects a claimed user id that differs from the authenticated
// one. An omitted claim means the authenticated user.
func sameIdentity(authenticated, claimed string) error {
	if claimed == "" || activity.SameUser(authenticated, claimed) {
		return nil
	}
	return apperr.New(apperr.KindAuthorization, apperr.CodeUserMismatch, "user id does not match the authenticated user")
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "malformed data: "+err.Error())
	}
	return nil
}

func missing(field string) error {
	return apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, field+" required")
}

func notJoined() error {
	return apperr.New(apperr.KindAuthorization, apperr.CodeNotJoined, "join the activity first")
}
