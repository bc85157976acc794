package commit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/sqlcompile"
	"github.com/roach88/lix/internal/sqlparser"
	"github.com/roach88/lix/internal/store"
	"github.com/roach88/lix/internal/vtable"
)

// committedStateSQL checks whether an entity is live in a version's
// committed state, inheritance included.
const committedStateSQL = `SELECT 1 FROM internal_state_vtable
WHERE entity_id = ? AND schema_key = ? AND file_id = ? AND version_id = ?
LIMIT 1`

// updateWorkingChangeSets refreshes the working change set of every
// non-global version with tracked changes. Elements are untracked rows, so
// maintaining them never produces changes of its own. Global's working
// change set is not maintained.
func (c *committer) updateWorkingChangeSets(ctx context.Context, tables map[string]string,
	tracked []ir.TransactionRow, versions map[string]ir.Version, ts string) error {
	lookup, err := c.committedStateLookup(tables)
	if err != nil {
		return err
	}

	var elements []ir.UntrackedRow
	changeSets := map[string]string{}
	for _, r := range tracked {
		if r.VersionID == ir.GlobalVersion {
			continue
		}
		csID, ok := changeSets[r.VersionID]
		if !ok {
			working := versions[r.VersionID].WorkingCommitID
			var commit ir.Commit
			found, err := c.lookup(ctx, tracked, ir.SchemaCommit, working, &commit)
			if err != nil {
				return err
			}
			if !found {
				return &ConsistencyError{Kind: "commit", ID: working, Message: "working commit of version " + r.VersionID}
			}
			csID = commit.ChangeSetID
			changeSets[r.VersionID] = csID
		}

		res, err := c.conn.ExecContext(ctx, `
			DELETE FROM internal_untracked_state
			WHERE schema_key = ? AND version_id = ?
			  AND json_extract(snapshot_content, '$.change_set_id') = ?
			  AND json_extract(snapshot_content, '$.entity_id') = ?
			  AND json_extract(snapshot_content, '$.schema_key') = ?
			  AND json_extract(snapshot_content, '$.file_id') = ?
		`, ir.SchemaChangeSetElement, ir.GlobalVersion, csID, r.EntityID, r.SchemaKey, r.FileID)
		if err != nil {
			return fmt.Errorf("clear working change set %s: %w", csID, err)
		}
		cleared, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("clear working change set %s: %w", csID, err)
		}
		keep, err := c.trackWorkingCreation(ctx, lookup, csID, r, cleared > 0)
		if err != nil {
			return err
		}
		if !keep {
			continue
		}

		el := ir.ChangeSetElement{
			ChangeSetID: csID,
			ChangeID:    r.ID,
			EntityID:    r.EntityID,
			SchemaKey:   r.SchemaKey,
			FileID:      r.FileID,
		}
		snapshot, err := canonical(el)
		if err != nil {
			return fmt.Errorf("encode working element: %w", err)
		}
		elements = append(elements, ir.UntrackedRow{
			EntityID:      el.StoredEntityID(),
			SchemaKey:     ir.SchemaChangeSetElement,
			SchemaVersion: builtinSchemaVersion,
			FileID:        ir.LixOwnFile,
			PluginKey:     ir.LixPlugin,
			VersionID:     ir.GlobalVersion,
			Snapshot:      snapshot,
			CreatedAt:     ts,
			UpdatedAt:     ts,
		})
	}
	if len(elements) == 0 {
		return nil
	}
	return store.UpsertUntracked(ctx, c.conn, elements)
}

// committedStateLookup compiles committedStateSQL against the committed
// sources only. The transaction buffer is excluded so the lookup sees the
// state before this commit.
func (c *committer) committedStateLookup(tables map[string]string) (string, error) {
	st, err := sqlparser.ParseStatement(committedStateSQL)
	if err != nil {
		return "", fmt.Errorf("parse committed state lookup: %w", err)
	}
	out, _, err := vtable.Rewrite(st, vtable.Options{CacheTables: tables})
	if err != nil {
		return "", fmt.Errorf("rewrite committed state lookup: %w", err)
	}
	return sqlcompile.CompileStatement(out), nil
}

// trackWorkingCreation records entities created inside the working
// change set and reports whether r gets a working element. A deletion
// only belongs there when the entity existed at the working set's
// baseline: an entity created and deleted inside the working set leaves
// nothing behind. hadElement reports whether the entity already had a
// working element, which means it was changed since the baseline.
func (c *committer) trackWorkingCreation(ctx context.Context, lookup, csID string, r ir.TransactionRow, hadElement bool) (bool, error) {
	var marked int
	err := c.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM internal_working_creation
		WHERE change_set_id = ? AND entity_id = ? AND schema_key = ? AND file_id = ?
	`, csID, r.EntityID, r.SchemaKey, r.FileID).Scan(&marked)
	if err != nil {
		return false, fmt.Errorf("read working creation of %s: %w", r.EntityID, err)
	}
	created := marked > 0

	if ir.IsNullSnapshot(r.Snapshot) {
		if created {
			if _, err := c.conn.ExecContext(ctx, `
				DELETE FROM internal_working_creation
				WHERE change_set_id = ? AND entity_id = ? AND schema_key = ? AND file_id = ?
			`, csID, r.EntityID, r.SchemaKey, r.FileID); err != nil {
				return false, fmt.Errorf("clear working creation of %s: %w", r.EntityID, err)
			}
			return false, nil
		}
		if hadElement {
			return true, nil
		}
		// Unchanged since the baseline, so the committed state is the
		// baseline state.
		return c.existedBefore(ctx, lookup, r.Identity())
	}

	if created || hadElement {
		return true, nil
	}
	existed, err := c.existedBefore(ctx, lookup, r.Identity())
	if err != nil || existed {
		return true, err
	}
	if _, err := c.conn.ExecContext(ctx, `
		INSERT INTO internal_working_creation (change_set_id, entity_id, schema_key, file_id)
		VALUES (?, ?, ?, ?)
	`, csID, r.EntityID, r.SchemaKey, r.FileID); err != nil {
		return false, fmt.Errorf("record working creation of %s: %w", r.EntityID, err)
	}
	return true, nil
}

func (c *committer) existedBefore(ctx context.Context, lookup string, id ir.Identity) (bool, error) {
	var one int
	err := c.conn.QueryRowContext(ctx, lookup, id.EntityID, id.SchemaKey, id.FileID, id.VersionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up committed state of %s: %w", id.EntityID, err)
	}
	return true, nil
}
