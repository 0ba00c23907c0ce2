package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/getpup/pupsourcing-replication"
	"github.com/getpup/pupsourcing-replication/config"
	"github.com/getpup/pupsourcing-replication/internal/logging"
	"github.com/getpup/pupsourcing-replication/status"
	"github.com/getpup/pupsourcing-replication/table"
	"github.com/getpup/pupsourcing-replication/table/memory"
	"github.com/getpup/pupsourcing-replication/workqueue"
	memqueue "github.com/getpup/pupsourcing-replication/workqueue/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workKey(file, qualifier string) table.Key {
	return table.Key{Row: file, Family: table.WorkSection.Family, Qualifier: qualifier}
}

// needsWork is a closed file with data left to replicate.
func needsWork() []byte {
	return status.Encode(status.Status{Begin: 0, End: 100, Closed: true})
}

// replicated is a closed file whose data has been fully replicated.
func replicated() []byte {
	return status.Encode(status.Status{Begin: 100, End: 100, Closed: true})
}

func newInitializedAssigner(t *testing.T, cfg AssignerConfig) *Assigner {
	t.Helper()
	a := NewAssigner(cfg)
	require.NoError(t, a.InitializeQueuedWork(context.Background()))
	return a
}

func keys(ks ...string) []replication.WorkKey {
	out := make([]replication.WorkKey, len(ks))
	for i, k := range ks {
		out[i] = replication.WorkKey(k)
	}
	return out
}

func TestNewAssigner_AppliesDefaults(t *testing.T) {
	a := NewAssigner(AssignerConfig{Tables: memory.New(), Queue: memqueue.New()})

	assert.Equal(t, "replication", a.config.ReplicationTable)
	assert.Equal(t, 4, a.config.ScanParallelism)
	assert.Equal(t, config.DefaultMaxQueueSize, a.config.MaxQueueSize.MaxQueueSize(context.Background()))
	assert.False(t, a.Initialized())
}

func TestAssigner_RecoversQueuedWorkBeforeScanning(t *testing.T) {
	ctx := context.Background()
	queue := memqueue.New()
	require.NoError(t, queue.Add(ctx, "a.rf|1", "/data/a.rf"))
	require.NoError(t, queue.Add(ctx, "b.rf|2", "/data/b.rf"))
	tables := table.NewMockService()

	a := NewAssigner(AssignerConfig{Tables: tables, Queue: queue})
	require.NoError(t, a.InitializeQueuedWork(ctx))

	assert.True(t, a.Initialized())
	assert.Equal(t, keys("a.rf|1", "b.rf|2"), a.QueuedWork())
	assert.Empty(t, tables.ScanCalls)
}

func TestAssigner_DoubleInitializationIsFatal(t *testing.T) {
	a := newInitializedAssigner(t, AssignerConfig{Tables: memory.New(), Queue: memqueue.New()})

	err := a.InitializeQueuedWork(context.Background())
	assert.ErrorIs(t, err, replication.ErrQueuedWorkInitialized)
}

func TestAssigner_FailedRecoveryIsRetried(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("session expired")
	queue := workqueue.NewMockQueue()
	calls := 0
	queue.ListQueuedFunc = func(ctx context.Context) ([]string, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return []string{"a.rf|1"}, nil
	}
	tables := table.NewMockService()
	rec := logging.NewRecorder()
	a := NewAssigner(AssignerConfig{Tables: tables, Queue: queue, Logger: rec})

	report, err := a.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, replication.OutcomeFailed, report.Work.Outcome)
	assert.ErrorIs(t, report.Work.Err, boom)
	assert.False(t, a.Initialized())
	assert.Empty(t, tables.ScanCalls)
	assert.Len(t, rec.Level("warn"), 1)

	report, err = a.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, replication.OutcomeCompleted, report.Work.Outcome)
	assert.True(t, a.Initialized())
	assert.Len(t, tables.ScanCalls, 1)
}

func TestAssigner_CreateWorkRequiresInitialization(t *testing.T) {
	a := NewAssigner(AssignerConfig{Tables: memory.New(), Queue: memqueue.New()})

	report := a.CreateWork(context.Background())
	assert.Equal(t, replication.OutcomeFailed, report.Outcome)
	assert.ErrorIs(t, report.Err, replication.ErrQueuedWorkNotInitialized)
}

func TestAssigner_DispatchesOnlyRequiredWork(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Put("replication", workKey("/path/to/f1", "T1"), needsWork())
	store.Put("replication", workKey("/path/to/f2", "T1"), replicated())
	queue := memqueue.New()

	a := newInitializedAssigner(t, AssignerConfig{
		Tables:       store,
		Queue:        queue,
		MaxQueueSize: config.Static(10),
	})
	report := a.CreateWork(ctx)

	assert.Equal(t, replication.OutcomeCompleted, report.Outcome)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Dispatched)

	queued, err := queue.ListQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1|T1"}, queued)

	path, found, err := queue.Get(ctx, "f1|T1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "/path/to/f1", path)

	assert.Equal(t, keys("f1|T1"), a.QueuedWork())
}

func TestAssigner_IgnoresOtherFamilies(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Put("replication", table.Key{Row: "/data/a.rf", Family: "repl", Qualifier: "1"}, needsWork())
	queue := memqueue.New()

	a := newInitializedAssigner(t, AssignerConfig{Tables: store, Queue: queue})
	report := a.CreateWork(ctx)

	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, 0, queue.Len())
}

func TestAssigner_NoDuplicateDispatch(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Put("replication", workKey("/data/a.rf", "1"), needsWork())
	store.Put("replication", workKey("/data/a.rf", "2"), needsWork())
	store.Put("replication", workKey("/data/b.rf", "1"), needsWork())
	queue := workqueue.NewMockQueue()

	a := newInitializedAssigner(t, AssignerConfig{Tables: store, Queue: queue})

	first := a.CreateWork(ctx)
	second := a.CreateWork(ctx)

	assert.Equal(t, 3, first.Dispatched)
	assert.Equal(t, 0, second.Dispatched)
	assert.Equal(t, 3, second.AlreadyQueued)
	assert.Equal(t, []string{"a.rf|1", "a.rf|2", "b.rf|1"}, queue.AddedKeys())
	assert.Equal(t, keys("a.rf|1", "a.rf|2", "b.rf|1"), a.QueuedWork())
}

func TestAssigner_SkipsRecoveredKeys(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Put("replication", workKey("/data/a.rf", "1"), needsWork())
	store.Put("replication", workKey("/data/b.rf", "2"), needsWork())
	queue := workqueue.NewMockQueue()
	queue.ListQueuedFunc = func(ctx context.Context) ([]string, error) {
		return []string{"a.rf|1"}, nil
	}

	a := newInitializedAssigner(t, AssignerConfig{Tables: store, Queue: queue})
	report := a.CreateWork(ctx)

	assert.Equal(t, 1, report.AlreadyQueued)
	assert.Equal(t, []string{"b.rf|2"}, queue.AddedKeys())
}

func TestAssigner_BackpressureStopsScanning(t *testing.T) {
	ctx := context.Background()
	queue := workqueue.NewMockQueue()
	queue.ListQueuedFunc = func(ctx context.Context) ([]string, error) {
		return []string{"x.rf|1", "y.rf|1", "z.rf|1"}, nil
	}
	scanner := table.NewSliceScanner([]table.Entry{
		{Key: workKey("/data/a.rf", "1"), Value: needsWork()},
		{Key: workKey("/data/b.rf", "1"), Value: needsWork()},
	})
	tables := table.NewMockService()
	tables.ScanFunc = func(ctx context.Context, name string, opts table.ScanOptions) (table.Scanner, error) {
		return scanner, nil
	}
	rec := logging.NewRecorder()

	a := NewAssigner(AssignerConfig{
		Tables:       tables,
		Queue:        queue,
		MaxQueueSize: config.Static(2),
		Logger:       rec,
	})
	cycle, err := a.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, replication.OutcomeBackpressure, cycle.Work.Outcome)
	assert.Equal(t, 0, cycle.Work.Dispatched)
	assert.Equal(t, 0, cycle.Work.Scanned)
	assert.Empty(t, queue.AddCalls)
	assert.Equal(t, 0, scanner.Consumed())
	assert.True(t, scanner.Closed())

	w, ok := rec.Find("queued work exceeds max queue size, not queueing more work")
	require.True(t, ok)
	assert.Equal(t, "warn", w.Level)
	assert.Equal(t, 3, w.Value("queued"))
	assert.Equal(t, 2, w.Value("max"))
}

func TestAssigner_CreateWorkHonorsConfiguredMaxQueueSize(t *testing.T) {
	ctx := context.Background()
	queue := memqueue.New()
	for _, k := range []string{"x.rf|1", "y.rf|1", "z.rf|1"} {
		require.NoError(t, queue.Add(ctx, k, "/data/"+k))
	}
	scanner := table.NewSliceScanner([]table.Entry{
		{Key: workKey("/data/a.rf", "1"), Value: needsWork()},
	})
	tables := table.NewMockService()
	tables.ScanFunc = func(ctx context.Context, name string, opts table.ScanOptions) (table.Scanner, error) {
		return scanner, nil
	}

	a := newInitializedAssigner(t, AssignerConfig{Tables: tables, Queue: queue, MaxQueueSize: config.Static(2)})
	report := a.CreateWork(ctx)

	assert.Equal(t, replication.OutcomeBackpressure, report.Outcome)
	assert.Equal(t, 0, report.Dispatched)
	assert.Equal(t, 0, scanner.Consumed())
	assert.Equal(t, 3, queue.Len())
	assert.Len(t, a.QueuedWork(), 3)
}

func TestAssigner_CreateWorkReadsMaxQueueSizeEveryPass(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Put("replication", workKey("/data/a.rf", "1"), needsWork())
	queue := memqueue.New()
	require.NoError(t, queue.Add(ctx, "x.rf|1", "/data/x.rf"))

	ceiling := &mutableCeiling{value: 0}
	a := newInitializedAssigner(t, AssignerConfig{Tables: store, Queue: queue, MaxQueueSize: ceiling})

	assert.Equal(t, replication.OutcomeBackpressure, a.CreateWork(ctx).Outcome)

	ceiling.value = 5
	report := a.CreateWork(ctx)
	assert.Equal(t, replication.OutcomeCompleted, report.Outcome)
	assert.Equal(t, 1, report.Dispatched)
}

func TestAssigner_BackpressureMidScan(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	for _, f := range []string{"/data/a.rf", "/data/b.rf", "/data/c.rf", "/data/d.rf"} {
		store.Put("replication", workKey(f, "1"), needsWork())
	}
	queue := memqueue.New()

	a := newInitializedAssigner(t, AssignerConfig{Tables: store, Queue: queue, MaxQueueSize: config.Static(1)})
	report := a.CreateWork(ctx)

	// the ceiling is exceeded once the set holds two keys
	assert.Equal(t, replication.OutcomeBackpressure, report.Outcome)
	assert.Equal(t, 2, report.Dispatched)
	assert.Equal(t, 2, queue.Len())
}

func TestAssigner_MalformedStatusIsSkipped(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Put("replication", workKey("/data/a.rf", "1"), []byte{0xff})
	store.Put("replication", workKey("/data/b.rf", "1"), needsWork())
	queue := memqueue.New()
	rec := logging.NewRecorder()

	a := newInitializedAssigner(t, AssignerConfig{Tables: store, Queue: queue, Logger: rec})
	report := a.CreateWork(ctx)

	assert.Equal(t, replication.OutcomeCompleted, report.Outcome)
	assert.Equal(t, 1, report.Malformed)
	assert.Equal(t, 1, report.Dispatched)

	warnings := rec.Level("warn")
	require.Len(t, warnings, 1)
	assert.Equal(t, "/data/a.rf", warnings[0].Value("file"))
}

func TestAssigner_FailedDispatchDoesNotPolluteQueuedWork(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Put("replication", workKey("/data/a.rf", "1"), needsWork())
	store.Put("replication", workKey("/data/b.rf", "1"), needsWork())
	queue := workqueue.NewMockQueue()
	queue.AddFunc = func(ctx context.Context, key, path string) error {
		if key == "a.rf|1" {
			return errors.New("connection loss")
		}
		return nil
	}

	a := newInitializedAssigner(t, AssignerConfig{Tables: store, Queue: queue})
	report := a.CreateWork(ctx)

	assert.Equal(t, replication.OutcomeCompleted, report.Outcome)
	assert.Equal(t, 1, report.DispatchFailures)
	assert.Equal(t, 1, report.Dispatched)
	assert.Equal(t, keys("b.rf|1"), a.QueuedWork())

	// the failed key is dispatched again on the next pass
	queue.AddFunc = nil
	queue.Reset()
	a.CreateWork(ctx)
	assert.Equal(t, []string{"a.rf|1"}, queue.AddedKeys())
	assert.Equal(t, keys("a.rf|1", "b.rf|1"), a.QueuedWork())
}

func TestAssigner_ReplicationTableNotYetAvailable(t *testing.T) {
	a := newInitializedAssigner(t, AssignerConfig{Tables: memory.New(), Queue: memqueue.New()})

	report := a.CreateWork(context.Background())

	assert.Equal(t, replication.OutcomeNotYetAvailable, report.Outcome)
	assert.ErrorIs(t, report.Err, table.ErrTableNotFound)
}

func TestAssigner_ScanOpenFailure(t *testing.T) {
	boom := errors.New("no tablet servers")
	tables := table.NewMockService()
	tables.ScanFunc = func(ctx context.Context, name string, opts table.ScanOptions) (table.Scanner, error) {
		return nil, boom
	}

	a := newInitializedAssigner(t, AssignerConfig{Tables: tables, Queue: memqueue.New()})
	report := a.CreateWork(context.Background())

	assert.Equal(t, replication.OutcomeFailed, report.Outcome)
	assert.ErrorIs(t, report.Err, boom)
}

func TestAssigner_ScanUsesWorkSectionAndParallelism(t *testing.T) {
	tables := table.NewMockService()

	a := newInitializedAssigner(t, AssignerConfig{Tables: tables, Queue: memqueue.New(), ScanParallelism: 8})
	a.CreateWork(context.Background())

	require.Len(t, tables.ScanCalls, 1)
	assert.Equal(t, "replication", tables.ScanCalls[0].Table)
	assert.Equal(t, []string{"work"}, tables.ScanCalls[0].Options.Families)
	assert.Equal(t, table.FullRange(), tables.ScanCalls[0].Options.Range)
	assert.Equal(t, 8, tables.ScanCalls[0].Options.Parallelism)
}

func TestAssigner_ScanErrorMidway(t *testing.T) {
	boom := errors.New("scan interrupted")
	scanner := table.NewSliceScanner([]table.Entry{
		{Key: workKey("/data/a.rf", "1"), Value: needsWork()},
	}).FailAfterEntries(boom)
	tables := table.NewMockService()
	tables.ScanFunc = func(ctx context.Context, name string, opts table.ScanOptions) (table.Scanner, error) {
		return scanner, nil
	}

	a := newInitializedAssigner(t, AssignerConfig{Tables: tables, Queue: memqueue.New()})
	report := a.CreateWork(context.Background())

	assert.Equal(t, replication.OutcomeFailed, report.Outcome)
	assert.ErrorIs(t, report.Err, boom)
	assert.Equal(t, 1, report.Dispatched)
	assert.True(t, scanner.Closed())
}

func TestAssigner_CleanupRemovesFinishedWork(t *testing.T) {
	ctx := context.Background()
	queue := memqueue.New()
	require.NoError(t, queue.Add(ctx, "a.rf|1", "/data/a.rf"))
	require.NoError(t, queue.Add(ctx, "b.rf|1", "/data/b.rf"))

	a := newInitializedAssigner(t, AssignerConfig{Tables: memory.New(), Queue: queue})

	report := a.CleanupFinishedWork(ctx)
	assert.Equal(t, replication.CleanupReport{Checked: 2}, report)
	assert.Equal(t, keys("a.rf|1", "b.rf|1"), a.QueuedWork())

	// a worker finishes a.rf
	require.NoError(t, queue.Finish(ctx, "a.rf|1"))

	report = a.CleanupFinishedWork(ctx)
	assert.Equal(t, replication.CleanupReport{Checked: 2, Removed: 1}, report)
	assert.Equal(t, keys("b.rf|1"), a.QueuedWork())
}

func TestAssigner_CleanupKeepsKeysOnLookupError(t *testing.T) {
	ctx := context.Background()
	queue := workqueue.NewMockQueue()
	queue.ListQueuedFunc = func(ctx context.Context) ([]string, error) {
		return []string{"a.rf|1", "b.rf|1"}, nil
	}
	queue.GetFunc = func(ctx context.Context, key string) (string, bool, error) {
		if key == "a.rf|1" {
			return "", false, errors.New("connection loss")
		}
		return "", false, nil
	}
	rec := logging.NewRecorder()

	a := newInitializedAssigner(t, AssignerConfig{Tables: memory.New(), Queue: queue, Logger: rec})
	report := a.CleanupFinishedWork(ctx)

	assert.Equal(t, replication.CleanupReport{Checked: 2, Removed: 1, LookupErrors: 1}, report)
	assert.Equal(t, keys("a.rf|1"), a.QueuedWork())
	assert.Len(t, rec.Level("warn"), 1)
}

func TestAssigner_CleanupRunsAfterBackpressure(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Put("replication", workKey("/data/new.rf", "1"), needsWork())
	queue := memqueue.New()
	for _, k := range []string{"x.rf|1", "y.rf|1", "z.rf|1"} {
		require.NoError(t, queue.Add(ctx, k, "/data/"+k))
	}

	a := NewAssigner(AssignerConfig{Tables: store, Queue: queue, MaxQueueSize: config.Static(2)})

	cycle, err := a.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, replication.OutcomeBackpressure, cycle.Work.Outcome)
	assert.Equal(t, 3, cycle.Cleanup.Checked)

	// workers drain the queue, the next cycle reconciles and then the one after dispatches
	require.NoError(t, queue.Finish(ctx, "x.rf|1"))
	require.NoError(t, queue.Finish(ctx, "y.rf|1"))

	cycle, err = a.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, replication.OutcomeBackpressure, cycle.Work.Outcome)
	assert.Equal(t, 2, cycle.Cleanup.Removed)

	cycle, err = a.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, replication.OutcomeCompleted, cycle.Work.Outcome)
	assert.Equal(t, 1, cycle.Work.Dispatched)
	assert.Equal(t, keys("new.rf|1", "z.rf|1"), a.QueuedWork())
}

func TestAssigner_CleanupRunsAfterScanFailure(t *testing.T) {
	ctx := context.Background()
	queue := workqueue.NewMockQueue()
	queue.ListQueuedFunc = func(ctx context.Context) ([]string, error) {
		return []string{"a.rf|1"}, nil
	}

	a := NewAssigner(AssignerConfig{Tables: memory.New(), Queue: queue})
	cycle, err := a.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, replication.OutcomeNotYetAvailable, cycle.Work.Outcome)
	assert.Equal(t, []string{"a.rf|1"}, queue.GetCalls)
	assert.Empty(t, a.QueuedWork())
}

func TestAssigner_DispatchPrecedesCleanup(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Put("replication", workKey("/data/a.rf", "1"), needsWork())

	var order []string
	queue := workqueue.NewMockQueue()
	queue.AddFunc = func(ctx context.Context, key, path string) error {
		order = append(order, "add "+key)
		return nil
	}
	queue.GetFunc = func(ctx context.Context, key string) (string, bool, error) {
		order = append(order, "get "+key)
		return "/data/a.rf", true, nil
	}

	a := NewAssigner(AssignerConfig{Tables: store, Queue: queue})
	_, err := a.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"add a.rf|1", "get a.rf|1"}, order)
	assert.Equal(t, keys("a.rf|1"), a.QueuedWork())
}

func TestAssigner_RefreshesMaxQueueSizeEveryCycle(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Put("replication", workKey("/data/a.rf", "1"), needsWork())
	store.Put("replication", workKey("/data/b.rf", "1"), needsWork())
	queue := memqueue.New()
	require.NoError(t, queue.Add(ctx, "x.rf|1", "/data/x.rf"))

	ceiling := &mutableCeiling{value: 0}
	a := NewAssigner(AssignerConfig{Tables: store, Queue: queue, MaxQueueSize: ceiling})

	cycle, err := a.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, cycle.MaxQueueSize)
	assert.Equal(t, replication.OutcomeBackpressure, cycle.Work.Outcome)

	ceiling.value = 10
	cycle, err = a.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, cycle.MaxQueueSize)
	assert.Equal(t, 2, cycle.Work.Dispatched)
}

type mutableCeiling struct {
	value int
}

func (c *mutableCeiling) MaxQueueSize(ctx context.Context) int {
	return c.value
}
