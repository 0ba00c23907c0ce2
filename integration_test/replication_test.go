//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/getpup/pupsourcing-replication/internal/logging"
	"github.com/getpup/pupsourcing-replication/lifecycle"
	"github.com/getpup/pupsourcing-replication/lifecycle/etcdelection"
	"github.com/getpup/pupsourcing-replication/pkg/replication"
	"github.com/getpup/pupsourcing-replication/status"
	"github.com/getpup/pupsourcing-replication/table"
	"github.com/getpup/pupsourcing-replication/table/sqltable"
	"github.com/getpup/pupsourcing-replication/workqueue/etcdqueue"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dataDir = "/data/tables/2/"

func writeEntries(t *testing.T, tables table.Service, name string, mutations ...*table.Mutation) {
	t.Helper()
	ctx := context.Background()

	w, err := tables.NewBatchWriter(ctx, name)
	require.NoError(t, err)
	for _, m := range mutations {
		require.NoError(t, w.AddMutation(ctx, m))
	}
	require.NoError(t, w.Flush(ctx))
	require.NoError(t, w.Close(ctx))
}

func TestReplication_PostgresAndEtcd(t *testing.T) {
	db := getTestDB(t)
	client := getTestEtcd(t)
	cfg := setupTables(t, db)
	ctx := context.Background()

	tables := sqltable.New(db, "postgres")
	queue := etcdqueue.New(client, etcdqueue.Config{LinearizableGet: true})
	clock := clockwork.NewFakeClock()
	rec := logging.NewRecorder()

	needsWork := status.Encode(status.Status{End: 100, Closed: true})
	var markers, work []*table.Mutation
	for i := 0; i < 5; i++ {
		file := fmt.Sprintf("%sF%06d.rf", dataDir, i)
		markers = append(markers, table.NewMutation(table.ClosedFileSection.Row(file)).Put(table.ClosedFileSection.Family, "2", needsWork))
		work = append(work, table.WorkSection.Mutation(file, "peer1", needsWork))
	}
	writeEntries(t, tables, cfg.SourceTable, markers...)
	writeEntries(t, tables, cfg.ReplicationTable, work...)

	coord, err := replication.New(
		replication.WithTableService(tables),
		replication.WithWorkQueue(queue),
		replication.WithSourceTable(cfg.SourceTable),
		replication.WithReplicationTable(cfg.ReplicationTable),
		replication.WithMaxQueueSize(2),
		replication.WithClock(clock),
		replication.WithLogger(rec),
		replication.WithMetricsEnabled(false),
	)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- coord.Run(runCtx) }()

	waitCtx, waitCancel := context.WithTimeout(ctx, 30*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 2))

	// the ceiling is only checked between entries, so one item more than the maximum is queued
	keys, err := queue.ListQueued(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
	_, warned := rec.Find("queued work exceeds max queue size, not queueing more work")
	assert.True(t, warned)

	scanner, err := tables.Scan(ctx, cfg.ReplicationTable, table.StatusSection.ScanOptions(1))
	require.NoError(t, err)
	projected := 0
	for scanner.Next(ctx) {
		projected++
	}
	require.NoError(t, scanner.Err())
	require.NoError(t, scanner.Close())
	assert.Equal(t, 5, projected)

	// a worker replicates the queued files and deletes their nodes
	replicated := status.Encode(status.Status{Begin: 100, End: 100, Closed: true})
	var done3 []*table.Mutation
	for _, k := range keys {
		file := dataDir + strings.SplitN(k, "|", 2)[0]
		done3 = append(done3, table.WorkSection.Mutation(file, "peer1", replicated))
	}
	writeEntries(t, tables, cfg.ReplicationTable, done3...)
	for _, k := range keys {
		require.NoError(t, queue.Finish(ctx, k))
	}

	// the next cycle is still over the ceiling and only reconciles
	clock.Advance(5 * time.Second)
	require.NoError(t, clock.BlockUntilContext(waitCtx, 2))
	// the one after dispatches the remaining files
	clock.Advance(5 * time.Second)
	require.NoError(t, clock.BlockUntilContext(waitCtx, 2))

	keys, err = queue.ListQueued(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"F000003.rf|peer1", "F000004.rf|peer1"}, keys)

	for _, k := range keys {
		p, found, err := queue.Get(ctx, k)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, dataDir, path.Dir(p)+"/")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestReplication_ManagerFailsOver(t *testing.T) {
	db := getTestDB(t)
	client := getTestEtcd(t)
	cfg := setupTables(t, db)

	tables := sqltable.New(db, "postgres")
	queue := etcdqueue.New(client, etcdqueue.Config{})

	newManager := func(candidate string) *lifecycle.Manager {
		m, err := replication.NewManager(
			etcdelection.New(client, etcdelection.Config{Candidate: candidate, SessionTTL: 2}),
			replication.WithInstance(candidate),
			replication.WithTableService(tables),
			replication.WithWorkQueue(queue),
			replication.WithSourceTable(cfg.SourceTable),
			replication.WithReplicationTable(cfg.ReplicationTable),
			replication.WithPollInterval(100*time.Millisecond),
			replication.WithMetricsEnabled(false),
		)
		require.NoError(t, err)
		return m
	}

	first := newManager("node-1")
	second := newManager("node-2")

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	done1 := make(chan error, 1)
	go func() { done1 <- first.Run(ctx1) }()
	require.Eventually(t, func() bool { return first.Terms() == 1 }, 10*time.Second, 10*time.Millisecond)

	done2 := make(chan error, 1)
	go func() { done2 <- second.Run(ctx2) }()

	// node-2 waits while node-1 holds the role
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 0, second.Terms())

	cancel1()
	require.NoError(t, <-done1)
	require.Eventually(t, func() bool { return second.Terms() == 1 }, 10*time.Second, 10*time.Millisecond)

	cancel2()
	require.NoError(t, <-done2)
}
