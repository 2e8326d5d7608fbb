package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-checkout/internal/events"
	"ticket-checkout/internal/status"
	"ticket-checkout/models"
)

func vipItems() []models.LineItem {
	return []models.LineItem{models.NewLineItem("VIP", 2, decimal.RequireFromString("50.0"))}
}

func pendingRecord(id string, expiresIn time.Duration) *models.PaymentRecord {
	now := time.Now()
	return &models.PaymentRecord{
		ID:          id,
		Amount:      decimal.NewFromInt(100),
		Description: "2 tickets",
		LineItems:   vipItems(),
		Status:      models.StatusPending,
		PixPayload:  "000201",
		CreatedAt:   now,
		ExpiresAt:   now.Add(expiresIn),
	}
}

// statusRecorder counts listener invocations per status.
type statusRecorder struct {
	mu    sync.Mutex
	calls []models.PaymentStatus
}

func (r *statusRecorder) listen(_ string, s models.PaymentStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *statusRecorder) snapshot() []models.PaymentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.PaymentStatus(nil), r.calls...)
}

func TestApplyStatusUpdate_Idempotent(t *testing.T) {
	l := newLifecycle(Options{}, nil, nil)
	defer l.Close()
	l.insert(pendingRecord("pay_1", time.Minute))

	rec := &statusRecorder{}
	l.Subscribe("pay_1", rec.listen)

	l.ApplyStatusUpdate("pay_1", models.StatusPaid)
	l.ApplyStatusUpdate("pay_1", models.StatusPaid)

	cached, ok := l.cached("pay_1")
	require.True(t, ok)
	assert.Equal(t, models.StatusPaid, cached.Status)
	assert.Equal(t, []models.PaymentStatus{models.StatusPaid, models.StatusPaid}, rec.snapshot())
}

func TestApplyStatusUpdate_UnknownPayment(t *testing.T) {
	l := newLifecycle(Options{}, nil, nil)
	defer l.Close()

	rec := &statusRecorder{}
	l.Subscribe("pay_unknown", rec.listen)

	assert.NotPanics(t, func() {
		l.ApplyStatusUpdate("pay_unknown", models.StatusFailed)
	})

	_, ok := l.cached("pay_unknown")
	assert.False(t, ok)
	assert.Equal(t, []models.PaymentStatus{models.StatusFailed}, rec.snapshot())
}

func TestApplyStatusUpdate_InvalidStatusIgnored(t *testing.T) {
	l := newLifecycle(Options{}, nil, nil)
	defer l.Close()
	l.insert(pendingRecord("pay_1", time.Minute))

	l.ApplyStatusUpdate("pay_1", models.PaymentStatus("refunded"))

	cached, _ := l.cached("pay_1")
	assert.Equal(t, models.StatusPending, cached.Status)
}

func TestApplyStatusUpdate_BroadcastsToHub(t *testing.T) {
	hub := events.NewHub(4)
	l := newLifecycle(Options{}, hub, nil)
	defer l.Close()
	l.insert(pendingRecord("pay_1", time.Minute))

	updates, cancel := hub.Subscribe("")
	defer cancel()

	l.ReceiveExternalEvent("pay_1", models.StatusPaid, []byte(`{"event":"payment.paid"}`))

	select {
	case u := <-updates:
		assert.Equal(t, "pay_1", u.PaymentID)
		assert.Equal(t, models.StatusPaid, u.Status)
		assert.Equal(t, SourceWebhook, u.Source)
	case <-time.After(time.Second):
		t.Fatal("no update broadcast")
	}
}

func TestSubscribe_ReplacesListener(t *testing.T) {
	l := newLifecycle(Options{}, nil, nil)
	defer l.Close()
	l.insert(pendingRecord("pay_1", time.Minute))

	first, second := &statusRecorder{}, &statusRecorder{}
	l.Subscribe("pay_1", first.listen)
	l.Subscribe("pay_1", second.listen)

	l.ApplyStatusUpdate("pay_1", models.StatusPaid)

	assert.Empty(t, first.snapshot())
	assert.Len(t, second.snapshot(), 1)
}

func TestStartStatusPolling_StopsAfterTerminalTick(t *testing.T) {
	l := newLifecycle(Options{}, nil, nil)
	defer l.Close()
	l.insert(pendingRecord("pay_1", time.Minute))

	var ticks int32
	l.query = func(_ context.Context, id string) (*models.PaymentRecord, bool) {
		atomic.AddInt32(&ticks, 1)
		rec := pendingRecord(id, time.Minute)
		rec.Status = models.StatusPaid
		return rec, true
	}

	l.StartStatusPolling("pay_1", 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return !l.hasTask("pay_1", taskPoll)
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ticks))

	cached, _ := l.cached("pay_1")
	assert.Equal(t, models.StatusPaid, cached.Status)
}

func TestStartStatusPolling_Ceiling(t *testing.T) {
	l := newLifecycle(Options{PollCeiling: 60 * time.Millisecond}, nil, nil)
	defer l.Close()
	l.insert(pendingRecord("pay_1", time.Minute))

	var ticks int32
	l.query = func(_ context.Context, id string) (*models.PaymentRecord, bool) {
		atomic.AddInt32(&ticks, 1)
		return pendingRecord(id, time.Minute), true
	}

	l.StartStatusPolling("pay_1", 10*time.Millisecond)
	assert.True(t, l.hasTask("pay_1", taskPoll))

	assert.Eventually(t, func() bool {
		return !l.hasTask("pay_1", taskPoll)
	}, time.Second, 5*time.Millisecond)

	stopped := atomic.LoadInt32(&ticks)
	assert.Positive(t, stopped)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&ticks))

	cached, _ := l.cached("pay_1")
	assert.Equal(t, models.StatusPending, cached.Status)
}

func TestStartStatusPolling_ReplacesRunningPoller(t *testing.T) {
	l := newLifecycle(Options{}, nil, nil)
	defer l.Close()
	l.insert(pendingRecord("pay_1", time.Minute))

	l.StartStatusPolling("pay_1", time.Hour)
	l.StartStatusPolling("pay_1", time.Hour)

	l.mu.Lock()
	assert.Len(t, l.tasks["pay_1"], 1)
	l.mu.Unlock()

	l.ApplyStatusUpdate("pay_1", models.StatusFailed)
	assert.False(t, l.hasTask("pay_1", taskPoll))
}

func TestWatchExpiry_FiresOnce(t *testing.T) {
	l := newLifecycle(Options{}, nil, nil)
	defer l.Close()
	l.insert(pendingRecord("pay_1", 50*time.Millisecond))

	rec := &statusRecorder{}
	l.Subscribe("pay_1", rec.listen)

	l.WatchExpiry("pay_1")

	assert.Eventually(t, func() bool {
		cached, _ := l.cached("pay_1")
		return cached.Status == models.StatusExpired
	}, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []models.PaymentStatus{models.StatusExpired}, rec.snapshot())
}

func TestWatchExpiry_CancelledByPayment(t *testing.T) {
	l := newLifecycle(Options{}, nil, nil)
	defer l.Close()
	l.insert(pendingRecord("pay_1", 50*time.Millisecond))

	l.WatchExpiry("pay_1")
	l.ApplyStatusUpdate("pay_1", models.StatusPaid)

	time.Sleep(100 * time.Millisecond)

	cached, _ := l.cached("pay_1")
	assert.Equal(t, models.StatusPaid, cached.Status)
	assert.False(t, l.hasTask("pay_1", taskExpiry))
}

func TestEvictStale(t *testing.T) {
	l := newLifecycle(Options{Retention: time.Hour}, nil, nil)
	defer l.Close()

	l.insert(pendingRecord("pay_pending", 15*time.Minute))
	l.insert(pendingRecord("pay_paid", 15*time.Minute))
	l.ApplyStatusUpdate("pay_paid", models.StatusPaid)
	l.Subscribe("pay_paid", func(string, models.PaymentStatus) {})

	now := time.Now()
	assert.Equal(t, 0, l.EvictStale(now.Add(30*time.Minute)))
	assert.Len(t, l.Payments(), 2)

	assert.Equal(t, 1, l.EvictStale(now.Add(61*time.Minute)))
	_, ok := l.cached("pay_paid")
	assert.False(t, ok)

	l.mu.Lock()
	_, listening := l.listeners["pay_paid"]
	l.mu.Unlock()
	assert.False(t, listening)

	assert.Equal(t, 1, l.EvictStale(now.Add(2*time.Hour)))
	assert.Empty(t, l.Payments())
}

func TestCleanupStalePayments_StopsWithContext(t *testing.T) {
	l := newLifecycle(Options{}, nil, nil)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.CleanupStalePayments(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not stop")
	}
}

func TestPayments_NewestFirst(t *testing.T) {
	l := newLifecycle(Options{}, nil, nil)
	defer l.Close()

	older := pendingRecord("pay_old", time.Minute)
	older.CreatedAt = older.CreatedAt.Add(-time.Minute)
	l.insert(older)
	l.insert(pendingRecord("pay_new", time.Minute))

	payments := l.Payments()
	require.Len(t, payments, 2)
	assert.Equal(t, "pay_new", payments[0].ID)
	assert.Equal(t, "pay_old", payments[1].ID)
}

func TestClose_StopsTasks(t *testing.T) {
	l := newLifecycle(Options{}, nil, nil)
	l.insert(pendingRecord("pay_1", time.Hour))

	l.StartStatusPolling("pay_1", time.Hour)
	l.WatchExpiry("pay_1")

	l.Close()

	assert.False(t, l.hasTask("pay_1", taskPoll))
	assert.False(t, l.hasTask("pay_1", taskExpiry))
}

func TestValidatePayment(t *testing.T) {
	tests := []struct {
		name    string
		amount  decimal.Decimal
		items   []models.LineItem
		wantErr bool
	}{
		{"valid", decimal.NewFromInt(100), vipItems(), false},
		{"zero amount", decimal.Zero, vipItems(), true},
		{"negative amount", decimal.NewFromInt(-1), vipItems(), true},
		{"no items", decimal.NewFromInt(100), nil, true},
		{"zero quantity", decimal.NewFromInt(100), []models.LineItem{{Category: "VIP", Quantity: 0}}, true},
		{"wrong line total", decimal.NewFromInt(100), []models.LineItem{{
			Category:  "VIP",
			Quantity:  2,
			UnitPrice: decimal.NewFromInt(50),
			LineTotal: decimal.NewFromInt(90),
		}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePayment(tt.amount, tt.items)
			if tt.wantErr {
				assert.ErrorIs(t, err, status.ErrInvalidRequest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyStatusUpdate_GatewayReadKeepsTerminalStatus(t *testing.T) {
	l := newLifecycle(Options{}, nil, nil)
	defer l.Close()
	l.insert(pendingRecord("pay_1", time.Hour))

	require.True(t, l.apply("pay_1", models.StatusPaid, SourceWebhook, false))

	assert.False(t, l.apply("pay_1", models.StatusPending, SourceQuery, false))
	assert.False(t, l.apply("pay_1", models.StatusPending, SourcePoll, false))

	cached, _ := l.cached("pay_1")
	assert.Equal(t, models.StatusPaid, cached.Status)

	// an operator can still reopen it
	assert.True(t, l.apply("pay_1", models.StatusPending, SourceManual, false))
	cached, _ = l.cached("pay_1")
	assert.Equal(t, models.StatusPending, cached.Status)
}

func TestSubscribe_ListenerMayCallBack(t *testing.T) {
	l := newLifecycle(Options{}, nil, nil)
	defer l.Close()
	l.insert(pendingRecord("pay_1", time.Hour))

	seen := make(chan models.PaymentStatus, 1)
	l.Subscribe("pay_1", func(id string, _ models.PaymentStatus) {
		rec, ok := l.cached(id)
		if assert.True(t, ok) {
			seen <- rec.Status
		}
		l.Subscribe(id, nil)
	})

	done := make(chan struct{})
	go func() {
		l.ApplyStatusUpdate("pay_1", models.StatusPaid)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener calling back into the lifecycle blocked")
	}
	assert.Equal(t, models.StatusPaid, <-seen)
}
