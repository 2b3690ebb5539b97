package chat

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

// ListFunc loads the current chat list of a user.
type ListFunc func(ctx context.Context, userID string) ([]Chat, error)

// Hub pushes chat-list snapshots to per-user subscribers. Each subscriber
// only ever sees the latest snapshot; an unread older one is replaced.
type Hub struct {
	list   ListFunc
	logger *log.Logger

	mu   sync.RWMutex
	subs map[string]map[chan []Chat]struct{}

	// serializes reload+push so a stale list never overtakes a newer one
	notifyMu sync.Mutex
}

func NewHub(list ListFunc, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		list:   list,
		logger: logger,
		subs:   make(map[string]map[chan []Chat]struct{}),
	}
}

// Subscribe registers a listener for userID and pushes the current list. The
// returned func unsubscribes and closes the channel; calling it twice is safe.
func (h *Hub) Subscribe(ctx context.Context, userID string) (<-chan []Chat, func(), error) {
	ch := make(chan []Chat, 1)

	h.mu.Lock()
	subs, ok := h.subs[userID]
	if !ok {
		subs = make(map[chan []Chat]struct{})
		h.subs[userID] = subs
	}
	subs[ch] = struct{}{}
	h.logger.Debug("chat list subscription opened", "user_id", userID, "subscriber_count", len(subs))
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { h.unsubscribe(userID, ch) })
	}

	chats, err := h.list(ctx, userID)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	h.mu.RLock()
	if _, open := h.subs[userID][ch]; open {
		offer(ch, chats)
	}
	h.mu.RUnlock()

	return ch, cancel, nil
}

func (h *Hub) unsubscribe(userID string, ch chan []Chat) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[userID]
	if !ok {
		return
	}
	if _, exists := subs[ch]; !exists {
		return
	}
	delete(subs, ch)
	close(ch)
	h.logger.Debug("chat list subscription closed", "user_id", userID, "subscriber_count", len(subs))
	if len(subs) == 0 {
		delete(h.subs, userID)
	}
}

// Notify re-fetches the user's chat list and pushes it to every subscriber.
func (h *Hub) Notify(ctx context.Context, userID string) {
	if !h.hasSubscribers(userID) {
		return
	}

	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	chats, err := h.list(ctx, userID)
	if err != nil {
		h.logger.Error("reload chat list failed", "user_id", userID, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.subs[userID]
	h.logger.Debug("publishing chat list", "user_id", userID, "chats", len(chats), "subscriber_count", len(subs))
	for ch := range subs {
		offer(ch, chats)
	}
}

func (h *Hub) hasSubscribers(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID]) > 0
}

// offer never blocks. Callers hold h.mu so ch cannot be closed concurrently.
func offer(ch chan []Chat, chats []Chat) {
	for {
		select {
		case ch <- chats:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
