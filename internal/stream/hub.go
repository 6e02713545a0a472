// Package stream keeps room membership for realtime connections and fans
// broadcasts out locally and, when redis is configured, across processes.
package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"backend-trailmates/internal/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	sendBuffer       = 64
	channelPrefix    = "realtime:"
	channelSuffix    = ":broadcast"
	subscribeTimeout = 2 * time.Second
)

type Hub struct {
	redis  *redis.Client
	nodeID string
	logger *zap.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// Client is one connection's outbound queue and room set.
// rooms and closed are guarded by the hub mutex.
type Client struct {
	ID     string
	Send   chan []byte
	rooms  map[string]struct{}
	closed bool
}

// envelope is what travels over redis between processes.
type envelope struct {
	Origin  string          `json:"origin"`
	Except  string          `json:"except,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func NewHub(redisClient *redis.Client, log *zap.Logger) *Hub {
	h := &Hub{
		redis:  redisClient,
		nodeID: uuid.NewString(),
		logger: logger.OrNop(log),
		rooms:  map[string]map[*Client]struct{}{},
	}
	if redisClient != nil {
		h.subscribeRedis()
	}
	return h
}

func (h *Hub) NodeID() string { return h.nodeID }

func (h *Hub) Connect() *Client {
	return &Client{
		ID:    uuid.NewString(),
		Send:  make(chan []byte, sendBuffer),
		rooms: map[string]struct{}{},
	}
}

func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = map[*Client]struct{}{}
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// Leave reports whether c was a member of room.
func (h *Hub) Leave(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) bool {
	if _, ok := c.rooms[room]; !ok {
		return false
	}
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	return true
}

func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// Disconnect removes c from every room, closes its queue and returns the
// rooms it was in.
func (h *Hub) Disconnect(c *Client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return nil
	}
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		h.leaveLocked(c, room)
	}
	c.closed = true
	close(c.Send)
	return rooms
}

func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Send queues payload for one client. A full queue drops the frame.
func (h *Hub) Send(c *Client, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c.closed {
		return false
	}
	return trySend(c, payload)
}

// Broadcast delivers payload to every member of room except the given
// client, which may be nil.
func (h *Hub) Broadcast(room string, payload []byte, except *Client) {
	exceptID := ""
	if except != nil {
		exceptID = except.ID
	}
	h.deliver(room, payload, exceptID)

	if h.redis == nil {
		return
	}
	msg, err := json.Marshal(envelope{Origin: h.nodeID, Except: exceptID, Payload: payload})
	if err != nil {
		h.logger.Error("encode broadcast", zap.String("room", room), zap.Error(err))
		return
	}
	if err := h.redis.Publish(context.Background(), redisChannel(room), msg).Err(); err != nil {
		h.logger.Warn("redis publish failed", zap.String("room", room), zap.Error(err))
	}
}

func (h *Hub) deliver(room string, payload []byte, exceptID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		if c.ID == exceptID {
			continue
		}
		if !trySend(c, payload) {
			h.logger.Debug("dropping frame for slow client", zap.String("client_id", c.ID), zap.String("room", room))
		}
	}
}

func trySend(c *Client, payload []byte) bool {
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) subscribeRedis() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})

	pubsub := h.redis.PSubscribe(ctx, channelPrefix+"*"+channelSuffix)
	waitCtx, waitCancel := context.WithTimeout(ctx, subscribeTimeout)
	if _, err := pubsub.Receive(waitCtx); err != nil {
		h.logger.Warn("redis subscribe failed", zap.Error(err))
	}
	waitCancel()

	go func() {
		defer close(h.done)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				h.handleRemote(msg.Channel, msg.Payload)
			}
		}
	}()
}

func (h *Hub) handleRemote(channel, raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		h.logger.Warn("malformed broadcast", zap.String("channel", channel), zap.Error(err))
		return
	}
	if env.Origin == h.nodeID {
		return
	}
	room := roomFromChannel(channel)
	if room == "" {
		return
	}
	h.deliver(room, env.Payload, env.Except)
}

// Close stops the redis subscription.
func (h *Hub) Close() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
}

func redisChannel(room string) string {
	return channelPrefix + room + channelSuffix
}

func roomFromChannel(ch string) string {
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
