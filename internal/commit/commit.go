package commit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/store"
)

// Status is the outcome code of Commit.
type Status int

const (
	// StatusOK reports a successful commit, including an empty one.
	StatusOK Status = iota
	// StatusError reports a rolled back commit.
	StatusError
)

func (s Status) String() string {
	if s == StatusOK {
		return "OK"
	}
	return "ERROR"
}

// savepoint names the savepoint a commit runs in.
const savepoint = "lix_commit"

// Event is the state_commit notification.
type Event struct {
	// Changes lists the committed changes, then the flushed untracked rows.
	Changes []ir.CommittedChange `json:"changes"`
}

// Options configure Commit.
type Options struct {
	// Store resolves cache tables. Required.
	Store *store.Store

	// IDs allocates change set, commit and graph change ids. Defaults to
	// UUIDv7Generator.
	IDs IDGenerator

	// Timestamp stamps generated rows. Defaults to the wall clock.
	Timestamp func() string

	// Sequence, when set, returns the deterministic sequence to persist
	// once the commit succeeds.
	Sequence func() int64

	// Notify receives the state_commit event after the savepoint is
	// released. It is not called for an empty buffer.
	Notify func(Event)

	Logger  *slog.Logger
	Metrics *Metrics
}

func (o Options) withDefaults() Options {
	if o.IDs == nil {
		o.IDs = UUIDv7Generator{}
	}
	if o.Timestamp == nil {
		o.Timestamp = func() string { return time.Now().UTC().Format(store.TimestampLayout) }
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Commit makes the transaction buffer of conn durable. conn must be a
// single connection (a *sql.Conn or *sql.Tx): the buffer is a TEMP table
// of that connection.
//
// All work happens in one savepoint. On failure the savepoint is rolled
// back, so the buffer and every store table are left as they were.
func Commit(ctx context.Context, conn store.Querier, opts Options) (Status, error) {
	opts = opts.withDefaults()
	if opts.Store == nil {
		return StatusError, errors.New("commit: no store")
	}
	var timer *prometheus.Timer
	if opts.Metrics != nil {
		timer = prometheus.NewTimer(opts.Metrics.CommitDurationSeconds)
		defer timer.ObserveDuration()
	}

	if _, err := conn.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		return StatusError, fmt.Errorf("commit: open savepoint: %w", err)
	}
	c := &committer{conn: conn, opts: opts}
	ev, err := c.run(ctx)
	if err != nil {
		// Roll back with a fresh context so a cancelled ctx cannot leave
		// the savepoint open.
		if _, rbErr := conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK TO "+savepoint); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		if _, rbErr := conn.ExecContext(context.WithoutCancel(ctx), "RELEASE "+savepoint); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("release: %w", rbErr))
		}
		if opts.Metrics != nil {
			opts.Metrics.FailedCommitsTotal.Inc()
		}
		opts.Logger.Error("commit failed", "error", err)
		return StatusError, fmt.Errorf("commit: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "RELEASE "+savepoint); err != nil {
		return StatusError, fmt.Errorf("commit: release savepoint: %w", err)
	}

	if ev != nil && opts.Notify != nil {
		opts.Notify(*ev)
	}
	return StatusOK, nil
}

type committer struct {
	conn store.Querier
	opts Options
}

// run executes steps 1 to 9 and returns the event to emit, or nil for an
// empty buffer.
func (c *committer) run(ctx context.Context) (*Event, error) {
	rows, err := store.ReadTransactionRows(ctx, c.conn)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, c.persistSequence(ctx)
	}
	ts := c.opts.Timestamp()

	var (
		tracked   []ir.TransactionRow
		untracked []ir.UntrackedRow
		flushed   []ir.CommittedChange
	)
	for _, r := range rows {
		if err := store.SetWriter(ctx, c.conn, r.Identity(), r.WriterKey); err != nil {
			return nil, err
		}
		if !r.Untracked {
			tracked = append(tracked, r)
			continue
		}
		untracked = append(untracked, ir.UntrackedRow{
			EntityID:      r.EntityID,
			SchemaKey:     r.SchemaKey,
			SchemaVersion: r.SchemaVersion,
			FileID:        r.FileID,
			PluginKey:     r.PluginKey,
			VersionID:     r.VersionID,
			Snapshot:      r.Snapshot,
			CreatedAt:     r.CreatedAt,
			UpdatedAt:     ts,
		})
		flushed = append(flushed, ir.CommittedChange{
			ID:            r.ID,
			EntityID:      r.EntityID,
			SchemaKey:     r.SchemaKey,
			SchemaVersion: r.SchemaVersion,
			FileID:        r.FileID,
			PluginKey:     r.PluginKey,
			CreatedAt:     r.CreatedAt,
			Snapshot:      r.Snapshot,
			Metadata:      r.Metadata,
			VersionID:     r.VersionID,
			Untracked:     true,
			WriterKey:     r.WriterKey,
		})
	}
	if err := store.UpsertUntracked(ctx, c.conn, untracked); err != nil {
		return nil, err
	}
	c.count(func(m *Metrics) { m.UntrackedRowsTotal.Add(float64(len(untracked))) })

	if len(tracked) == 0 {
		if err := store.ClearTransaction(ctx, c.conn); err != nil {
			return nil, err
		}
		if err := c.persistSequence(ctx); err != nil {
			return nil, err
		}
		c.count(func(m *Metrics) { m.CommitsTotal.WithLabelValues("untracked").Inc() })
		c.opts.Logger.Info("commit", "untracked", len(untracked), "tracked", 0)
		return &Event{Changes: flushed}, nil
	}

	tables, err := c.opts.Store.CacheTables(ctx, c.conn)
	if err != nil {
		return nil, err
	}
	for _, r := range tracked {
		if _, ok := tables[r.SchemaKey]; !ok {
			return nil, &ConsistencyError{Kind: "schema", ID: r.SchemaKey, Message: "no cache table"}
		}
	}

	versions, err := c.loadVersions(ctx, tracked)
	if err != nil {
		return nil, err
	}
	if err := c.updateWorkingChangeSets(ctx, tables, tracked, versions, ts); err != nil {
		return nil, err
	}
	accounts, err := c.activeAccounts(ctx)
	if err != nil {
		return nil, err
	}

	res, err := GenerateCommit(GenerateInput{
		Changes:        tracked,
		Versions:       versions,
		ActiveAccounts: accounts,
		Timestamp:      ts,
		IDs:            c.opts.IDs,
	})
	if err != nil {
		return nil, err
	}

	if err := store.InsertChanges(ctx, c.conn, res.Changes); err != nil {
		return nil, err
	}
	if err := store.ClearTransaction(ctx, c.conn); err != nil {
		return nil, err
	}
	if err := store.UpsertCacheRows(ctx, c.conn, tables, res.CacheRows); err != nil {
		return nil, err
	}
	superseded := make([]ir.Identity, 0, len(tracked))
	for _, r := range tracked {
		superseded = append(superseded, r.Identity())
	}
	if err := store.DeleteUntracked(ctx, c.conn, superseded); err != nil {
		return nil, err
	}
	if err := c.updateFileLixcols(ctx, tracked, res.Commits); err != nil {
		return nil, err
	}
	if err := c.persistSequence(ctx); err != nil {
		return nil, err
	}

	c.count(func(m *Metrics) {
		m.CommitsTotal.WithLabelValues("graph").Inc()
		m.ChangesTotal.Add(float64(len(res.Changes)))
	})
	c.opts.Logger.Info("commit",
		"untracked", len(untracked),
		"tracked", len(tracked),
		"changes", len(res.Changes),
		"versions", len(res.Commits))
	return &Event{Changes: append(res.Committed, flushed...)}, nil
}

func (c *committer) count(f func(*Metrics)) {
	if c.opts.Metrics != nil {
		f(c.opts.Metrics)
	}
}

func (c *committer) persistSequence(ctx context.Context) error {
	if c.opts.Sequence == nil {
		return nil
	}
	return store.SetSequence(ctx, c.conn, c.opts.Sequence())
}

// loadVersions resolves the descriptor and tip of every version with
// tracked changes, and of global. Rows buffered in this transaction take
// precedence over the cache.
func (c *committer) loadVersions(ctx context.Context, tracked []ir.TransactionRow) (map[string]ir.Version, error) {
	ids := map[string]bool{ir.GlobalVersion: true}
	for _, r := range tracked {
		ids[r.VersionID] = true
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	out := make(map[string]ir.Version, len(sorted))
	for _, id := range sorted {
		var v ir.Version
		ok, err := c.lookup(ctx, tracked, ir.SchemaVersionDescriptor, id, &v.VersionDescriptor)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &ConsistencyError{Kind: "version", ID: id}
		}
		var tip ir.VersionTip
		ok, err = c.lookup(ctx, tracked, ir.SchemaVersionTip, id, &tip)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &ConsistencyError{Kind: "version tip", ID: id}
		}
		if tip.CommitID != "" {
			ok, err = c.lookup(ctx, tracked, ir.SchemaCommit, tip.CommitID, &ir.Commit{})
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, &ConsistencyError{Kind: "commit", ID: tip.CommitID, Message: "tip of version " + id}
			}
		}
		v.CommitID = tip.CommitID
		v.WorkingCommitID = tip.WorkingCommitID
		out[id] = v
	}
	return out, nil
}

// lookup decodes the live snapshot of a lix-owned entity in global into
// dst, reading the buffered rows first and the cache second.
func (c *committer) lookup(ctx context.Context, buffered []ir.TransactionRow, schemaKey, entityID string, dst any) (bool, error) {
	var snapshot json.RawMessage
	found := false
	for _, r := range buffered {
		if r.SchemaKey == schemaKey && r.EntityID == entityID &&
			r.VersionID == ir.GlobalVersion && r.FileID == ir.LixOwnFile {
			snapshot, found = r.Snapshot, true
		}
	}
	if !found {
		row, err := store.ReadCacheRow(ctx, c.conn, ir.Identity{
			EntityID:  entityID,
			SchemaKey: schemaKey,
			FileID:    ir.LixOwnFile,
			VersionID: ir.GlobalVersion,
		})
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		snapshot = row.Snapshot
	}
	if ir.IsNullSnapshot(snapshot) {
		return false, nil
	}
	if err := json.Unmarshal(snapshot, dst); err != nil {
		return false, fmt.Errorf("decode %s %s: %w", schemaKey, entityID, err)
	}
	return true, nil
}

// activeAccounts returns the ids of the live lix_active_account rows.
func (c *committer) activeAccounts(ctx context.Context) ([]string, error) {
	rows, err := store.ListUntracked(ctx, c.conn, ir.SchemaActiveAccount, ir.GlobalVersion)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		var doc struct {
			AccountID string `json:"account_id"`
		}
		if err := json.Unmarshal(r.Snapshot, &doc); err != nil {
			return nil, fmt.Errorf("decode active account %s: %w", r.EntityID, err)
		}
		out = append(out, doc.AccountID)
	}
	return out, nil
}

// updateFileLixcols points each touched (file, version) at its newest
// change. Deleting a file descriptor drops the file's entry.
func (c *committer) updateFileLixcols(ctx context.Context, tracked []ir.TransactionRow, commits map[string]ir.Commit) error {
	type key struct{ file, version string }
	latest := map[key]ir.TransactionRow{}
	deleted := map[key]bool{}
	var order []key
	for _, r := range tracked {
		k := key{r.FileID, r.VersionID}
		if r.SchemaKey == ir.SchemaFileDescriptor {
			k.file = r.EntityID
		}
		if k.file == ir.LixOwnFile {
			continue
		}
		if _, seen := latest[k]; !seen {
			order = append(order, k)
		}
		latest[k] = r
		if r.SchemaKey == ir.SchemaFileDescriptor {
			deleted[k] = ir.IsNullSnapshot(r.Snapshot)
		}
	}
	for _, k := range order {
		if deleted[k] {
			if err := store.DeleteFileLixcol(ctx, c.conn, k.file, k.version); err != nil {
				return err
			}
			continue
		}
		r := latest[k]
		err := store.UpsertFileLixcol(ctx, c.conn, store.FileLixcol{
			FileID:         k.file,
			VersionID:      k.version,
			LatestChangeID: r.ID,
			LatestCommitID: commits[k.version].ID,
			WriterKey:      r.WriterKey,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
