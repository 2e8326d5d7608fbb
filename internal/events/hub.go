package events

import (
	"log/slog"
	"sync"

	"ticket-checkout/models"
)

// Publisher receives every payment update applied in the process.
type Publisher interface {
	Publish(update models.PaymentUpdate)
}

// Hub is the process-wide broadcast of payment updates. Any number of
// observers can subscribe; each gets its own buffered channel. Delivery never
// blocks the publisher: an observer whose buffer is full misses the update.
type Hub struct {
	mu         sync.RWMutex
	nextID     uint64
	observers  map[uint64]*observer
	publishers []Publisher
	bufferSize int
}

type observer struct {
	paymentID string // empty observes every payment
	ch        chan models.PaymentUpdate
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Hub{
		observers:  make(map[uint64]*observer),
		bufferSize: bufferSize,
	}
}

// AddPublisher registers a sink that is called synchronously for every update.
func (h *Hub) AddPublisher(p Publisher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishers = append(h.publishers, p)
}

// Subscribe returns a channel of updates for paymentID (all payments when
// empty) and a function that removes the observer and closes the channel.
func (h *Hub) Subscribe(paymentID string) (<-chan models.PaymentUpdate, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	obs := &observer{
		paymentID: paymentID,
		ch:        make(chan models.PaymentUpdate, h.bufferSize),
	}
	h.observers[id] = obs

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.observers, id)
			close(obs.ch)
		})
	}
	return obs.ch, cancel
}

// Publish fans update out to observers and publishers.
func (h *Hub) Publish(update models.PaymentUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, obs := range h.observers {
		if obs.paymentID != "" && obs.paymentID != update.PaymentID {
			continue
		}
		select {
		case obs.ch <- update:
		default:
			slog.Warn("payment update dropped for slow observer", "payment_id", update.PaymentID, "status", update.Status)
		}
	}

	for _, p := range h.publishers {
		p.Publish(update)
	}
}

// Observers returns the number of active observers.
func (h *Hub) Observers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}
