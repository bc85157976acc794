package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/roach88/lix/internal/preprocess"
	"github.com/roach88/lix/internal/store"
)

// Session is one connection to the lix. Its transaction buffer is private:
// writes stay invisible to other sessions until they commit.
//
// Outside Begin/Commit every Exec commits on its own (autocommit).
//
// A Session must not be used from several goroutines at once.
type Session struct {
	e    *Engine
	conn *sql.Conn

	mu     sync.Mutex
	inTx   bool
	closed bool
}

// Result reports the effect of Exec.
type Result struct {
	// RowsAffected sums the rows written by every statement.
	RowsAffected int64
	// Statements is the number of statements executed.
	Statements int
}

// Row is one result row keyed by column name.
type Row map[string]any

// Session reserves a connection for a new session.
func (e *Engine) Session(ctx context.Context) (*Session, error) {
	conn, err := e.store.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{e: e, conn: conn}, nil
}

func (s *Session) check() error {
	if s.closed {
		return newError(ErrCodeSessionClosed, "session is closed", nil)
	}
	return nil
}

// Begin starts an explicit transaction. Writes are buffered until Commit.
func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if s.inTx {
		return newError(ErrCodeTransactionOpen, "transaction already open", nil)
	}
	s.inTx = true
	return nil
}

// InTransaction reports whether Begin is in effect.
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx
}

// Commit commits the buffered writes. On failure the buffer is kept and
// the transaction stays open.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if !s.inTx {
		return newError(ErrCodeNoTransaction, "no transaction open", nil)
	}
	if err := s.e.commitSession(ctx, s); err != nil {
		return err
	}
	s.inTx = false
	return nil
}

// Rollback discards the buffered writes.
func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if !s.inTx {
		return newError(ErrCodeNoTransaction, "no transaction open", nil)
	}
	if err := store.ClearTransaction(ctx, s.conn); err != nil {
		return err
	}
	s.inTx = false
	return nil
}

// Exec preprocesses sql and runs every statement. Outside a transaction
// the writes are committed before Exec returns; if a statement or the
// commit fails, nothing buffered by this call survives.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return Result{}, err
	}

	out, err := s.e.Preprocess(preprocess.Input{SQL: query, Parameters: args})
	if err != nil {
		return Result{}, err
	}

	var res Result
	for i, st := range out.Statements {
		r, err := s.conn.ExecContext(ctx, st.SQL, st.Parameters...)
		if err != nil {
			s.discard(ctx)
			return res, fmt.Errorf("statement %d: %w", i+1, err)
		}
		n, err := r.RowsAffected()
		if err == nil {
			res.RowsAffected += n
		}
		res.Statements++
	}

	if !s.inTx {
		if err := s.e.commitSession(ctx, s); err != nil {
			s.discard(ctx)
			return res, err
		}
	}
	return res, nil
}

// discard clears the buffer of an autocommit call that failed.
func (s *Session) discard(ctx context.Context) {
	if s.inTx {
		return
	}
	if err := store.ClearTransaction(context.WithoutCancel(ctx), s.conn); err != nil {
		s.e.logger.Warn("discard transaction buffer", "error", err)
	}
}

// Query preprocesses a single statement and returns its rows. The rows
// include this session's uncommitted writes. Callers must close them.
func (s *Session) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	st, err := s.single(query, args)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.QueryContext(ctx, st.SQL, st.Parameters...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return rows, nil
}

// QueryRows runs Query and collects the result.
func (s *Session) QueryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *Session) single(query string, args []any) (preprocess.Statement, error) {
	out, err := s.e.Preprocess(preprocess.Input{SQL: query, Parameters: args})
	if err != nil {
		return preprocess.Statement{}, err
	}
	if len(out.Statements) != 1 {
		return preprocess.Statement{}, newError(ErrCodeMultipleStatements,
			fmt.Sprintf("query expects one statement, got %d", len(out.Statements)), nil)
	}
	return out.Statements[0], nil
}

// Close discards uncommitted writes and releases the connection.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.inTx {
		s.e.logger.Debug("session closed with open transaction; buffer discarded")
	}
	// The TEMP buffer outlives the session on a pooled connection.
	if err := store.ClearTransaction(context.Background(), s.conn); err != nil {
		s.conn.Close()
		return err
	}
	return s.conn.Close()
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	out := []Row{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Exec runs sql in a fresh session and commits it.
func (e *Engine) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	s, err := e.Session(ctx)
	if err != nil {
		return Result{}, err
	}
	defer s.Close()
	return s.Exec(ctx, query, args...)
}

// Query runs a single statement in a fresh session and collects the rows.
func (e *Engine) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	s, err := e.Session(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.QueryRows(ctx, query, args...)
}
