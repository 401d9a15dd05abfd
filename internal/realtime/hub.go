package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/nort-backend/internal/observability"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
)

const DefaultHeartbeat = 30 * time.Second

// Backlog loads the events a new subscriber must see before live delivery. It runs under the
// room lock so nothing published in between is lost.
type Backlog func() ([]Event, error)

type Subscription struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	UserID         uuid.UUID

	sink      Sink
	highWater int64
	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed once the hub has dropped the sink.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.sink.Close()
	})
}

type room struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
	dead bool
}

type Hub struct {
	log       *logger.Logger
	heartbeat time.Duration

	mu    sync.RWMutex
	rooms map[uuid.UUID]*room
}

func NewHub(log *logger.Logger, heartbeat time.Duration) *Hub {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Hub{
		log:       log.With("component", "Hub"),
		heartbeat: heartbeat,
		rooms:     make(map[uuid.UUID]*room),
	}
}

func (h *Hub) room(conversationID uuid.UUID) *room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[conversationID]
}

func (h *Hub) roomForJoin(conversationID uuid.UUID) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[conversationID]
	if !ok {
		r = &room{subs: make(map[*Subscription]struct{})}
		h.rooms[conversationID] = r
	}
	return r
}

// Subscribe sends a connected event and the backlog to sink, then adds it to the room.
// When any of those writes fail the sink is closed and an error returned.
func (h *Hub) Subscribe(conversationID, userID uuid.UUID, sink Sink, backlog Backlog) (*Subscription, error) {
	sub := &Subscription{
		ID:             uuid.New(),
		ConversationID: conversationID,
		UserID:         userID,
		sink:           sink,
		done:           make(chan struct{}),
	}
	for {
		r := h.roomForJoin(conversationID)
		r.mu.Lock()
		if r.dead {
			r.mu.Unlock()
			continue
		}
		err := h.replay(sub, backlog)
		if err != nil {
			r.mu.Unlock()
			sub.close()
			h.pruneIfEmpty(conversationID, r)
			return nil, err
		}
		r.subs[sub] = struct{}{}
		r.mu.Unlock()
		break
	}
	observability.Current().LiveSinksAdd(1)
	h.log.Debug("Sink subscribed", "conversation_id", conversationID, "subscription_id", sub.ID)
	return sub, nil
}

func (h *Hub) replay(sub *Subscription, backlog Backlog) error {
	connected := Event{
		ConversationID: sub.ConversationID,
		Type:           EventConnected,
		Data: map[string]any{
			"conversation_id": sub.ConversationID,
			"subscription_id": sub.ID,
		},
	}
	if err := sub.sink.Send(connected); err != nil {
		return fmt.Errorf("send connected: %w", err)
	}
	if backlog == nil {
		return nil
	}
	events, err := backlog()
	if err != nil {
		return fmt.Errorf("load backlog: %w", err)
	}
	for _, ev := range events {
		if err := sub.sink.Send(ev); err != nil {
			return fmt.Errorf("send backlog: %w", err)
		}
		if ev.Seq > sub.highWater {
			sub.highWater = ev.Seq
		}
	}
	return nil
}

// Unsubscribe removes sub from its room and closes its sink. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r := h.room(sub.ConversationID)
	if r == nil {
		sub.close()
		return
	}
	r.mu.Lock()
	_, present := r.subs[sub]
	delete(r.subs, sub)
	r.mu.Unlock()
	sub.close()
	if present {
		observability.Current().LiveSinksAdd(-1)
	}
	h.pruneIfEmpty(sub.ConversationID, r)
}

func (h *Hub) pruneIfEmpty(conversationID uuid.UUID, r *room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subs) == 0 && !r.dead && h.rooms[conversationID] == r {
		r.dead = true
		delete(h.rooms, conversationID)
	}
}

// Publish delivers ev to every sink of the conversation in order. Sinks whose send fails are
// dropped and closed.
func (h *Hub) Publish(conversationID uuid.UUID, ev Event) {
	ev.ConversationID = conversationID
	observability.Current().IncLiveEvent(string(ev.Type))
	r := h.room(conversationID)
	if r == nil {
		return
	}
	r.mu.Lock()
	var failed []*Subscription
	for sub := range r.subs {
		if ev.Type == EventMessageAdded && ev.Seq > 0 && ev.Seq <= sub.highWater {
			continue
		}
		if err := sub.sink.Send(ev); err != nil {
			h.log.Warn("Dropping sink after failed send", "subscription_id", sub.ID, "error", err)
			failed = append(failed, sub)
		}
	}
	for _, sub := range failed {
		delete(r.subs, sub)
	}
	r.mu.Unlock()
	h.dropAll(conversationID, r, failed)
}

func (h *Hub) dropAll(conversationID uuid.UUID, r *room, subs []*Subscription) {
	if len(subs) == 0 {
		return
	}
	m := observability.Current()
	for _, sub := range subs {
		sub.close()
		m.LiveSinksAdd(-1)
		m.IncLiveDropped()
	}
	h.pruneIfEmpty(conversationID, r)
}

// Ping sends a heartbeat to every sink and prunes the ones that fail.
func (h *Hub) Ping() {
	h.mu.RLock()
	rooms := make(map[uuid.UUID]*room, len(h.rooms))
	for id, r := range h.rooms {
		rooms[id] = r
	}
	h.mu.RUnlock()

	for id, r := range rooms {
		r.mu.Lock()
		var failed []*Subscription
		for sub := range r.subs {
			if err := sub.sink.Ping(); err != nil {
				failed = append(failed, sub)
			}
		}
		for _, sub := range failed {
			delete(r.subs, sub)
		}
		r.mu.Unlock()
		h.dropAll(id, r, failed)
	}
}

// Run pings on every heartbeat until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Ping()
		}
	}
}

// Close drops every sink.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[uuid.UUID]*room)
	h.mu.Unlock()
	for _, r := range rooms {
		r.mu.Lock()
		r.dead = true
		subs := make([]*Subscription, 0, len(r.subs))
		for sub := range r.subs {
			subs = append(subs, sub)
		}
		r.subs = map[*Subscription]struct{}{}
		r.mu.Unlock()
		for _, sub := range subs {
			sub.close()
			observability.Current().LiveSinksAdd(-1)
		}
	}
}

func (h *Hub) SinkCount(conversationID uuid.UUID) int {
	r := h.room(conversationID)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
