package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/moneyprotocol/engineering-sub002/internal/metrics"
	"github.com/moneyprotocol/engineering-sub002/internal/mirror"
	"github.com/moneyprotocol/engineering-sub002/internal/model"
)

// DefaultRecorderBuffer is the number of notifications a Recorder queues
// before it starts dropping.
const DefaultRecorderBuffer = 256

// writeTimeout bounds one journal write.
const writeTimeout = 5 * time.Second

// NewChangeRecord builds the journal entry for a notification.
func NewChangeRecord(n mirror.Notification, recordedAt time.Time) (*model.ChangeRecord, error) {
	state, err := json.Marshal(n.New)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return &model.ChangeRecord{
		ID:              uuid.NewString(),
		Fields:          n.Fields.Strings(),
		Price:           n.New.Price.Shopspring(),
		TotalCollateral: n.New.Total.Collateral.Shopspring(),
		TotalDebt:       n.New.Total.Debt.Shopspring(),
		BorrowingRate:   n.New.BorrowingRate.Shopspring(),
		RedemptionRate:  n.New.RedemptionRate.Shopspring(),
		RecoveryMode:    n.New.RecoveryMode,
		State:           state,
		RecordedAt:      recordedAt,
	}, nil
}

type job struct {
	notification *mirror.Notification
	state        mirror.State
}

// Recorder journals mirror notifications. Listen never blocks the mirror:
// it enqueues and returns, and drops the notification when the queue is
// full. Run performs the writes.
type Recorder struct {
	store  Store
	queue  chan job
	clock  func() time.Time
	logger *slog.Logger
}

// NewRecorder creates a recorder. A non-positive buffer selects
// DefaultRecorderBuffer.
func NewRecorder(s Store, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  s,
		queue:  make(chan job, buffer),
		clock:  time.Now,
		logger: logger,
	}
}

// Listen is a mirror.Listener.
func (r *Recorder) Listen(n mirror.Notification) {
	r.enqueue(job{notification: &n, state: n.New})
}

// Loaded saves the initial snapshot. It has the shape of
// mirror.Options.OnLoaded.
func (r *Recorder) Loaded(s mirror.State) {
	r.enqueue(job{state: s})
}

func (r *Recorder) enqueue(j job) {
	select {
	case r.queue <- j:
	default:
		metrics.JournalWrites.WithLabelValues("dropped").Inc()
		r.logger.Warn("journal queue full, dropping change")
	}
}

// Run writes queued changes until ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.queue:
			r.write(ctx, j)
		}
	}
}

func (r *Recorder) write(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	now := r.clock()

	if j.notification != nil {
		rec, err := NewChangeRecord(*j.notification, now)
		if err == nil {
			err = r.store.AppendChange(ctx, rec)
		}
		if err != nil {
			metrics.JournalWrites.WithLabelValues("error").Inc()
			r.logger.Error("failed to journal change", "error", err)
			return
		}
		metrics.JournalWrites.WithLabelValues("ok").Inc()
	}

	state, err := json.Marshal(j.state)
	if err == nil {
		err = r.store.SaveSnapshot(ctx, &model.Snapshot{State: state, UpdatedAt: now})
	}
	if err != nil {
		metrics.JournalWrites.WithLabelValues("error").Inc()
		r.logger.Error("failed to save snapshot", "error", err)
	}
}
