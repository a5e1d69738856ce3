// Command offline-demo walks the offline sync engine through its full
// lifecycle against an in-process fake backend: queueing mutations while
// offline, draining the queue on reconnect, retrying transient failures,
// and resolving a conflict.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	offlinesync "github.com/lexflow/go-offline-sync"
	"github.com/lexflow/go-offline-sync/logging"
	"github.com/lexflow/go-offline-sync/storage/sqlite"
	"github.com/lexflow/go-offline-sync/transport/rest"
)

func main() {
	logging.Init(logging.GetConfigFromEnv())
	ctx := context.Background()

	backend := newFakeBackend()
	defer backend.server.Close()

	dir, err := os.MkdirTemp("", "offline-demo-")
	if err != nil {
		logging.Error("failed to create temp dir", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	store, err := sqlite.NewWithDataSource(filepath.Join(dir, "offline.db"))
	if err != nil {
		logging.Error("failed to open store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	adapter, err := rest.New(rest.Config{
		BaseURL: backend.server.URL + "/api/v1",
		Tokens:  offlinesync.StaticToken("demo-token"),
	})
	if err != nil {
		logging.Error("failed to build adapter", slog.String("error", err.Error()))
		os.Exit(1)
	}

	engine, err := offlinesync.New(offlinesync.Config{
		Store:        store,
		Adapter:      adapter,
		SyncInterval: 5 * time.Second,
	})
	if err != nil {
		logging.Error("failed to build engine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer engine.Close()

	if err := engine.Initialize(ctx); err != nil {
		logging.Error("failed to initialize engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	results := make(chan *offlinesync.SyncResult, 4)
	_ = engine.Subscribe(func(r *offlinesync.SyncResult) { results <- r })

	// Offline: mutations queue up locally without touching the network.
	logging.Info("working offline, queueing mutations")

	_, err = engine.AddToSyncQueue(ctx, offlinesync.OpCreate, offlinesync.DataTypeTimeEntry,
		json.RawMessage(`{"id":"te-1","caseId":"case-41","minutes":90,"note":"deposition prep"}`))
	must(err, "enqueue time entry")

	conflictID, err := engine.AddToSyncQueue(ctx, offlinesync.OpUpdate, offlinesync.DataTypeCase,
		json.RawMessage(`{"id":"case-41","status":"closed"}`))
	must(err, "enqueue case update")

	status := engine.GetSyncStatus()
	logging.Info("queue state while offline",
		slog.Bool("online", status.IsOnline),
		slog.Int("pending", status.PendingOperations),
	)

	// Connectivity returns: the reconnect signal triggers a pass. The
	// backend rejects the case update with 409 on its first attempt.
	logging.Info("connectivity restored")
	engine.SetOnline(true)
	result := <-results
	logging.Info("sync pass after reconnect",
		slog.Int("completed", result.Completed),
		slog.Int("conflicts", result.Conflicts),
	)

	op, err := engine.GetOperation(conflictID)
	must(err, "inspect conflicted operation")
	logging.Info("operation awaiting adjudication",
		slog.String("id", op.ID),
		slog.String("status", string(op.Status)),
		slog.String("error", op.Error),
	)

	// Keep the local change: the operation re-enters the queue and is
	// replayed immediately.
	must(engine.ResolveConflict(ctx, conflictID, offlinesync.ResolutionLocal), "resolve conflict")

	op, err = engine.GetOperation(conflictID)
	must(err, "inspect resolved operation")

	status = engine.GetSyncStatus()
	logging.Info("final state",
		slog.String("resolved_status", string(op.Status)),
		slog.Int("pending", status.PendingOperations),
		slog.Int("conflicts", status.Conflicts),
		slog.Time("last_sync", status.LastSync),
		slog.Int64("backend_requests", backend.requests.Load()),
	)
}

func must(err error, what string) {
	if err != nil {
		logging.Error("demo step failed",
			slog.String("step", what),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
}

// fakeBackend is a minimal practice-management API stand-in. The first
// update to any case returns 409 so the conflict path can be shown.
type fakeBackend struct {
	server    *httptest.Server
	requests  atomic.Int64
	conflicts atomic.Int64
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.requests.Add(1)

		if r.Method == http.MethodPut && b.conflicts.Add(1) == 1 {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"case was modified by another user"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	return b
}
