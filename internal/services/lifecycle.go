package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ticket-checkout/internal/events"
	"ticket-checkout/internal/status"
	"ticket-checkout/models"
	"ticket-checkout/monitoring"
)

// Sources of a status update, used for logs and metrics.
const (
	SourceWebhook   = "webhook"
	SourcePoll      = "poll"
	SourceQuery     = "query"
	SourceSimulated = "simulated"
	SourceExpiry    = "expiry"
	SourceManual    = "manual"
)

// Background tasks a payment can own. Starting a task replaces the running
// task of the same kind.
const (
	taskPoll    = "poll"
	taskExpiry  = "expiry"
	taskApprove = "approve"
)

// StatusListener is called every time a status is applied to the payment it
// was registered for. It may be called more than once with the same status.
// Listeners run outside the lifecycle lock and may call back into it. When
// two updates for one payment race, the listener can see them in a different
// order than the cache applied them; GetPaymentStatus is authoritative.
type StatusListener func(paymentID string, status models.PaymentStatus)

// PaymentLifecycle creates Pix payments and tracks their status. The gateway
// backed and the simulated implementations are interchangeable.
type PaymentLifecycle interface {
	CreatePayment(ctx context.Context, amount decimal.Decimal, description string, items []models.LineItem, customer *models.Customer) (*models.PaymentRecord, error)
	GetPaymentStatus(ctx context.Context, id string) (*models.PaymentRecord, bool)
	Subscribe(id string, listener StatusListener)
	ApplyStatusUpdate(id string, newStatus models.PaymentStatus)
	ReceiveExternalEvent(id string, newStatus models.PaymentStatus, rawPayload []byte)
	StartStatusPolling(id string, interval time.Duration)
	WatchExpiry(id string)
	Payments() []*models.PaymentRecord
	EvictStale(now time.Time) int
	CleanupStalePayments(ctx context.Context, interval time.Duration)
	Mode() string
	Close()
}

type Options struct {
	ExpiresIn    time.Duration
	PollInterval time.Duration
	PollCeiling  time.Duration
	// Retention is how long a record stays in memory after it reached a
	// terminal status, or after it expired while still pending.
	Retention time.Duration
}

func (o Options) withDefaults() Options {
	if o.ExpiresIn <= 0 {
		o.ExpiresIn = 15 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.PollCeiling <= 0 {
		o.PollCeiling = 20 * time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = time.Hour
	}
	return o
}

type entry struct {
	record     *models.PaymentRecord
	terminalAt time.Time
}

// lifecycle holds the state both implementations share: the payment cache,
// the listener registry and the per-payment background tasks, all guarded
// by one mutex.
type lifecycle struct {
	opts    Options
	hub     *events.Hub
	monitor *monitoring.Monitor

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	payments  map[string]*entry
	listeners map[string]StatusListener
	tasks     map[string]map[string]*task

	// query returns the freshest known record without changing the cache.
	query func(ctx context.Context, id string) (*models.PaymentRecord, bool)
}

func newLifecycle(opts Options, hub *events.Hub, monitor *monitoring.Monitor) *lifecycle {
	if hub == nil {
		hub = events.NewHub(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &lifecycle{
		opts:      opts.withDefaults(),
		hub:       hub,
		monitor:   monitor,
		ctx:       ctx,
		cancel:    cancel,
		payments:  make(map[string]*entry),
		listeners: make(map[string]StatusListener),
		tasks:     make(map[string]map[string]*task),
	}
	l.query = func(_ context.Context, id string) (*models.PaymentRecord, bool) {
		return l.cached(id)
	}
	return l
}

func validatePayment(amount decimal.Decimal, items []models.LineItem) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", status.ErrInvalidRequest)
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one line item is required", status.ErrInvalidRequest)
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: quantity of %q must be positive", status.ErrInvalidRequest, item.Category)
		}
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: unit price of %q is negative", status.ErrInvalidRequest, item.Category)
		}
		if !item.LineTotal.Equal(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))) {
			return fmt.Errorf("%w: line total of %q does not match quantity x unit price", status.ErrInvalidRequest, item.Category)
		}
	}
	return nil
}

// insert caches rec, replacing any record with the same id.
func (l *lifecycle) insert(rec *models.PaymentRecord) {
	l.mu.Lock()
	l.payments[rec.ID] = &entry{record: rec.Clone()}
	n := len(l.payments)
	l.mu.Unlock()

	l.monitor.SetCachedPayments(n)
}

func (l *lifecycle) cached(id string) (*models.PaymentRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.payments[id]
	if !ok {
		return nil, false
	}
	return e.record.Clone(), true
}

func (l *lifecycle) Subscribe(id string, listener StatusListener) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if listener == nil {
		delete(l.listeners, id)
		return
	}
	l.listeners[id] = listener
}

func (l *lifecycle) ApplyStatusUpdate(id string, newStatus models.PaymentStatus) {
	l.apply(id, newStatus, SourceManual, false)
}

// ReceiveExternalEvent is the entry point of the webhook relay. Events reach
// it already verified.
func (l *lifecycle) ReceiveExternalEvent(id string, newStatus models.PaymentStatus, rawPayload []byte) {
	slog.Info("external payment event", "payment_id", id, "status", newStatus, "payload_bytes", len(rawPayload))
	l.apply(id, newStatus, SourceWebhook, false)
}

// apply is the only place a cached status changes. It updates the record,
// stops the payment's tasks on a terminal status, then notifies the listener
// and the hub outside the lock. With onlyFromPending set, the update is
// dropped unless the payment is cached and still pending. A gateway read
// never moves a terminal payment back to pending.
func (l *lifecycle) apply(id string, newStatus models.PaymentStatus, source string, onlyFromPending bool) bool {
	if !newStatus.IsValid() {
		slog.Warn("ignoring invalid payment status", "payment_id", id, "status", newStatus, "source", source)
		return false
	}

	l.mu.Lock()
	e, cached := l.payments[id]
	if onlyFromPending && (!cached || e.record.Status != models.StatusPending) {
		l.mu.Unlock()
		return false
	}

	if cached && e.record.Status.IsTerminal() && !newStatus.IsTerminal() && isGatewayRead(source) {
		l.mu.Unlock()
		slog.Debug("ignoring stale gateway status", "payment_id", id, "status", newStatus, "source", source)
		return false
	}

	if cached {
		prev := e.record.Status
		if prev.IsTerminal() && prev != newStatus {
			slog.Warn("payment left terminal status", "payment_id", id, "from", prev, "to", newStatus, "source", source)
		}
		e.record.Status = newStatus
		if newStatus.IsTerminal() {
			if e.terminalAt.IsZero() {
				e.terminalAt = time.Now()
			}
		} else {
			e.terminalAt = time.Time{}
		}
	}

	var stops []func()
	if newStatus.IsTerminal() {
		stops = l.detachTasksLocked(id)
	}
	listener := l.listeners[id]
	l.mu.Unlock()

	for _, stop := range stops {
		stop()
	}

	l.monitor.TrackStatusUpdate(string(newStatus), source)

	if listener != nil {
		listener(id, newStatus)
	}

	l.hub.Publish(models.PaymentUpdate{
		PaymentID: id,
		Status:    newStatus,
		Source:    source,
		At:        time.Now(),
	})

	return true
}

func isGatewayRead(source string) bool {
	return source == SourceQuery || source == SourcePoll
}

type task struct {
	cancel context.CancelFunc
}

// spawn runs fn in its own goroutine as the task of the given kind for id,
// cancelling the task it replaces. The task is cancelled when the payment
// reaches a terminal status, is evicted, or the lifecycle is closed.
func (l *lifecycle) spawn(id, kind string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(l.ctx)
	t := &task{cancel: cancel}

	l.mu.Lock()
	tasks, ok := l.tasks[id]
	if !ok {
		tasks = make(map[string]*task)
		l.tasks[id] = tasks
	}
	prev := tasks[kind]
	tasks[kind] = t
	l.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	go func() {
		defer l.finish(id, kind, t)
		fn(ctx)
	}()
}

// finish releases t and forgets it unless it was already replaced.
func (l *lifecycle) finish(id, kind string, t *task) {
	t.cancel()

	l.mu.Lock()
	defer l.mu.Unlock()

	tasks, ok := l.tasks[id]
	if !ok || tasks[kind] != t {
		return
	}
	delete(tasks, kind)
	if len(tasks) == 0 {
		delete(l.tasks, id)
	}
}

func (l *lifecycle) detachTasksLocked(id string) []func() {
	tasks := l.tasks[id]
	delete(l.tasks, id)

	stops := make([]func(), 0, len(tasks))
	for _, t := range tasks {
		stops = append(stops, t.cancel)
	}
	return stops
}

// hasTask reports whether a task of the given kind is running for id.
func (l *lifecycle) hasTask(id, kind string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.tasks[id][kind]
	return ok
}

// StartStatusPolling queries the payment every interval until it reports a
// terminal status, which is then applied. Polling gives up after the poll
// ceiling. Starting a poller replaces the one already running for id.
func (l *lifecycle) StartStatusPolling(id string, interval time.Duration) {
	if interval <= 0 {
		interval = l.opts.PollInterval
	}

	l.spawn(id, taskPoll, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, l.opts.PollCeiling)
		defer cancel()

		l.monitor.PollerStarted()
		defer l.monitor.PollerStopped()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					slog.Warn("status polling reached its ceiling", "payment_id", id, "ceiling", l.opts.PollCeiling)
				}
				return
			case <-ticker.C:
				rec, ok := l.query(ctx, id)
				if !ok || !rec.Status.IsTerminal() {
					continue
				}
				l.apply(id, rec.Status, SourcePoll, false)
				return
			}
		}
	})
}

// WatchExpiry arms the countdown shown next to the QR code: if the payment
// is still pending at expiresAt it is moved to expired, once.
func (l *lifecycle) WatchExpiry(id string) {
	rec, ok := l.cached(id)
	if !ok || rec.Status.IsTerminal() {
		return
	}

	delay := time.Until(rec.ExpiresAt)
	if delay < 0 {
		delay = 0
	}

	l.spawn(id, taskExpiry, func(ctx context.Context) {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
		case <-timer.C:
			if l.apply(id, models.StatusExpired, SourceExpiry, true) {
				slog.Info("payment expired", "payment_id", id)
			}
		}
	})
}

// Payments returns a snapshot of every cached record, newest first.
func (l *lifecycle) Payments() []*models.PaymentRecord {
	l.mu.Lock()
	out := make([]*models.PaymentRecord, 0, len(l.payments))
	for _, e := range l.payments {
		out = append(out, e.record.Clone())
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// EvictStale drops records that have been terminal for longer than the
// retention window, and pending records whose expiry is older than it.
// Their listener and tasks go with them.
func (l *lifecycle) EvictStale(now time.Time) int {
	l.mu.Lock()
	var stops []func()
	evicted := 0
	for id, e := range l.payments {
		stale := false
		switch {
		case !e.terminalAt.IsZero():
			stale = now.Sub(e.terminalAt) > l.opts.Retention
		case !e.record.ExpiresAt.IsZero():
			stale = now.Sub(e.record.ExpiresAt) > l.opts.Retention
		}
		if !stale {
			continue
		}

		delete(l.payments, id)
		delete(l.listeners, id)
		stops = append(stops, l.detachTasksLocked(id)...)
		evicted++
	}
	n := len(l.payments)
	l.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	l.monitor.SetCachedPayments(n)

	return evicted
}

// CleanupStalePayments runs EvictStale every interval until ctx is done.
func (l *lifecycle) CleanupStalePayments(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := l.EvictStale(now); n > 0 {
				slog.Info("evicted stale payments", "count", n)
			}
		}
	}
}

// Close stops every background task.
func (l *lifecycle) Close() {
	l.cancel()

	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.tasks)
}
