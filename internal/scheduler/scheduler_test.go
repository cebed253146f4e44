package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"hospital-queue/internal/estimator"
	"hospital-queue/internal/lifecycle"
	"hospital-queue/internal/models"
	"hospital-queue/internal/notifier"
	"hospital-queue/internal/position"
	"hospital-queue/internal/predictor"
	"hospital-queue/internal/queuenumber"
	"hospital-queue/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type noPredictors struct{}

func (noPredictors) Resolve(...predictor.Scope) *predictor.Handle { return nil }

type recordingNotifier struct {
	events []models.ChangeEvent
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, e models.ChangeEvent) error {
	r.events = append(r.events, e)
	return r.err
}

type fixture struct {
	store    *repository.MemoryStore
	notifier *recordingNotifier
	sched    *Scheduler
	logs     *observer.ObservedLogs
	base     time.Time
}

func strPtr(s string) *string { return &s }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	store.PutDepartment(models.Department{ID: "d1", Code: "RAD"})
	store.PutDepartment(models.Department{ID: "d2", Code: "LAB"})
	store.PutExamination(models.Examination{ID: "x1", DepartmentID: "d1", Duration: 20})
	store.PutExamination(models.Examination{ID: "x2", DepartmentID: "d2", Duration: 10})

	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	est := estimator.NewEstimator(position.NewResolver(store), noPredictors{}, store, store, estimator.DefaultConfig(), logger)
	ctrl := lifecycle.NewController(store, store, est, queuenumber.NewGenerator(store, 0), logger)
	n := &recordingNotifier{}
	sched := NewScheduler(store, est, ctrl, n, DefaultConfig(), logger)
	return &fixture{store: store, notifier: n, sched: sched, logs: logs, base: time.Now().Add(-time.Hour)}
}

// seed 直接写入 waiting 记录，estimated 为旧的预计值
func (f *fixture) seed(t *testing.T, id, dept, exam string, offset time.Duration, estimated int) {
	t.Helper()
	require.NoError(t, f.store.CreateEntry(context.Background(), &models.QueueEntry{
		ID:            id,
		PatientID:     "p-" + id,
		DepartmentID:  dept,
		ExaminationID: strPtr(exam),
		QueueNumber:   "Q-" + id,
		Status:        models.StatusWaiting,
		EnterTime:     f.base.Add(offset),
		EstimatedWait: estimated,
	}))
}

func (f *fixture) estimateOf(t *testing.T, id string) int {
	t.Helper()
	e, err := f.store.GetEntry(context.Background(), id)
	require.NoError(t, err)
	return e.EstimatedWait
}

func TestSweep_UpdatesAndNotifiesSignificantChanges(t *testing.T) {
	f := newFixture(t)
	// 位置 1,2,3 -> 预计 10(下限), 20, 40
	f.seed(t, "a", "d1", "x1", 0, 10)
	f.seed(t, "b", "d1", "x1", time.Minute, 18)
	f.seed(t, "c", "d1", "x1", 2*time.Minute, 0)

	res, err := f.sched.Sweep(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Scanned: 3, Updated: 2, Notified: 1}, res)
	assert.Equal(t, 10, f.estimateOf(t, "a"))
	assert.Equal(t, 20, f.estimateOf(t, "b"))
	assert.Equal(t, 40, f.estimateOf(t, "c"))

	require.Len(t, f.notifier.events, 1)
	ev := f.notifier.events[0]
	assert.Equal(t, "c", ev.EntryID)
	assert.Equal(t, "p-c", ev.PatientID)
	assert.Equal(t, 0, ev.OldEstimate)
	assert.Equal(t, 40, ev.NewEstimate)
	assert.Equal(t, models.EventWaitTimeChanged, ev.Kind)
}

func TestSweep_CorruptEntryIsIsolated(t *testing.T) {
	f := newFixture(t)
	const n = 5
	for i := 0; i < n; i++ {
		exam := "x1"
		if i == 2 {
			exam = "missing"
		}
		f.seed(t, fmt.Sprintf("e%d", i), "d1", exam, time.Duration(i)*time.Minute, 999)
	}

	res, err := f.sched.Sweep(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, n, res.Scanned)
	assert.Equal(t, n-1, res.Updated)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 999, f.estimateOf(t, "e2"))
	failures := f.logs.FilterMessage("Failed to recalculate wait time").All()
	require.Len(t, failures, 1)
	assert.Equal(t, true, failures[0].ContextMap()["data_error"])
	assert.Equal(t, "e2", failures[0].ContextMap()["entry_id"])
}

func TestSweep_RestrictedToDepartment(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "d1", "x1", 0, 0)
	f.seed(t, "b", "d2", "x2", 0, 0)

	res, err := f.sched.Sweep(context.Background(), "d2")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 0, f.estimateOf(t, "a"))
	assert.Equal(t, 5, f.estimateOf(t, "b"))
}

func TestSweep_NotifierFailureDoesNotFailEntry(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("stream down")
	f.seed(t, "a", "d1", "x1", 0, 100)

	res, err := f.sched.Sweep(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 1, res.NotifyFailed)
	assert.Equal(t, 10, f.estimateOf(t, "a"))
}

func TestRecalculateOne(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "d1", "x1", 0, 30)

	out, err := f.sched.RecalculateOne(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, &Outcome{EntryID: "a", OldEstimate: 30, NewEstimate: 10, Updated: true, Notified: true}, out)

	out, err = f.sched.RecalculateOne(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, out.Updated)

	_, err = f.sched.RecalculateOne(context.Background(), "nope")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRecalculateOne_RejectsNonWaiting(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "d1", "x1", 0, 30)
	_, err := f.sched.transitions.Transition(context.Background(), "a", models.StatusInService, "")
	require.NoError(t, err)

	_, err = f.sched.RecalculateOne(context.Background(), "a")
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "old", "d1", "x1", -48*time.Hour, 30)
	f.seed(t, "fresh", "d1", "x1", 0, 30)

	res, err := f.sched.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExpireResult{Scanned: 1, Expired: 1}, res)

	old, err := f.store.GetEntry(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, old.Status)
	assert.Contains(t, old.Notes, "expired")
	assert.Equal(t, 1, f.store.HistoryCount())

	fresh, err := f.store.GetEntry(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, fresh.Status)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, models.EventEntryExpired, f.notifier.events[0].Kind)
}

func TestFlagDelayed(t *testing.T) {
	f := newFixture(t)
	f.sched.now = func() time.Time { return f.base.Add(time.Hour) }
	f.seed(t, "late", "d1", "x1", 0, 30)
	f.seed(t, "on-time", "d1", "x1", 0, 90)
	f.seed(t, "edge", "d1", "x1", 30*time.Minute, 30)
	f.seed(t, "serving", "d1", "x1", 0, 5)
	_, err := f.sched.transitions.Transition(context.Background(), "serving", models.StatusInService, "")
	require.NoError(t, err)

	res, err := f.sched.FlagDelayed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DelayResult{Scanned: 3, Delayed: 1, Notified: 1}, res)

	require.Len(t, f.notifier.events, 1)
	ev := f.notifier.events[0]
	assert.Equal(t, models.EventEntryDelayed, ev.Kind)
	assert.Equal(t, "late", ev.EntryID)
	assert.Equal(t, "p-late", ev.PatientID)
	assert.Equal(t, 30, ev.OldEstimate)
	assert.Equal(t, 60, ev.ElapsedMinutes)

	// 估算器不会因为超时提醒而被调用，记录保持不变
	assert.Equal(t, 30, f.estimateOf(t, "late"))
}

func TestFlagDelayed_CountsSuppressedAndFailed(t *testing.T) {
	f := newFixture(t)
	f.sched.now = func() time.Time { return f.base.Add(time.Hour) }
	f.seed(t, "late", "d1", "x1", 0, 30)

	f.notifier.err = notifier.ErrSuppressed
	res, err := f.sched.FlagDelayed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DelayResult{Scanned: 1, Delayed: 1, Suppressed: 1}, res)

	f.notifier.err = errors.New("mqtt down")
	res, err = f.sched.FlagDelayed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DelayResult{Scanned: 1, Delayed: 1, NotifyFailed: 1}, res)
}

func TestSweep_SuppressedNotificationIsNotCountedAsDelivered(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = notifier.ErrSuppressed
	f.seed(t, "a", "d1", "x1", 0, 100)

	res, err := f.sched.Sweep(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.Notified)
	assert.Equal(t, 1, res.Suppressed)
	assert.Equal(t, 0, res.NotifyFailed)

	out, err := f.sched.RecalculateOne(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, out.Suppressed)
}

func TestSweep_ZeroDeltaNotifiesEveryChange(t *testing.T) {
	f := newFixture(t)
	f.sched.cfg.SignificantDelta = 0
	// 位置 2 -> 预计 20，只变化 2 分钟
	f.seed(t, "a", "d1", "x1", 0, 10)
	f.seed(t, "b", "d1", "x1", time.Minute, 18)

	res, err := f.sched.Sweep(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Notified)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "b", f.notifier.events[0].EntryID)
}

func TestNewScheduler_KeepsZeroDelta(t *testing.T) {
	s := NewScheduler(nil, nil, nil, nil, Config{SignificantDelta: 0, ExpireAfter: time.Hour}, zap.NewNop())
	assert.Equal(t, 0, s.cfg.SignificantDelta)

	s = NewScheduler(nil, nil, nil, nil, Config{SignificantDelta: -1}, zap.NewNop())
	assert.Equal(t, DefaultSignificantDelta, s.cfg.SignificantDelta)
	assert.Equal(t, DefaultExpireAfter, s.cfg.ExpireAfter)
}
