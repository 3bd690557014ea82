package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"treasuryarena/internal/ledger"
	"treasuryarena/internal/logger"
	"treasuryarena/internal/models"
)

const subscriberBuffer = 100

// Hub is an audit log that also fans every appended event out to live
// subscribers. Events are persisted first; a subscriber that falls behind
// loses events rather than blocking the writer.
type Hub struct {
	store ledger.AuditLog
	log   *logger.Logger

	mu     sync.RWMutex
	subs   map[int]chan models.AuditEvent
	nextID int
}

func NewHub(store ledger.AuditLog, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Discard()
	}
	return &Hub{
		store: store,
		log:   log,
		subs:  make(map[int]chan models.AuditEvent),
	}
}

func (h *Hub) logEntry() *logrus.Entry {
	return h.log.WithComponent("events")
}

// Append persists e and broadcasts it.
func (h *Hub) Append(ctx context.Context, e models.AuditEvent) error {
	if h.store != nil {
		if err := h.store.Append(ctx, e); err != nil {
			return err
		}
	}
	h.broadcast(e)
	return nil
}

// ListAudit reads from the wrapped store when it supports reads.
func (h *Hub) ListAudit(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	reader, ok := h.store.(ledger.AuditReader)
	if !ok {
		return nil, nil
	}
	return reader.ListAudit(ctx, limit)
}

func (h *Hub) broadcast(e models.AuditEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.logEntry().WithField("subscriber", id).Warn("Подписчик не успевает, событие пропущено.")
		}
	}
}

// Subscribe returns a channel of future events and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan models.AuditEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan models.AuditEvent, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
