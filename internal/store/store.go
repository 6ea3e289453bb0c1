// Package store is the persistent store (§4.2): ACID transaction scopes
// (not nestable, see Tx), prepared statements cached per connection, an update
// hook fired on row create/update/delete, and a read/write concurrency
// discipline where a priority writer can preempt background readers.
//
// The store is *used*, not specified in the original spec — core
// packages depend on Store, not on *sql.DB directly, so the actual SQL
// engine stays an external collaborator per §1. Connection handling
// follows the teacher's internal/db/db.go (Connect/pooling); query
// shape follows internal/repository/*_repository.go.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	"github.com/mediavault/libcatalog/internal/mlerrors"
)

// UpdateHook is invoked after a row is created, updated or deleted inside
// a committed transaction. table is the SQL table name; op is one of
// "insert", "update", "delete".
type UpdateHook func(table, op string, id string)

// Store wraps a *sql.DB with the concurrency discipline and hook point
// the core components rely on.
type Store struct {
	db *sql.DB

	mu    sync.RWMutex
	hooks []UpdateHook

	// priority arbitrates reader/writer access: background workers
	// (FSD, parser, cache/thumbnailer workers) take a background read
	// or write token; a priority acquirer (e.g. an interactive query)
	// can request exclusive access, at which point new background
	// acquisitions wait and the acquirer waits for current holders to
	// release (§4.2, §5).
	priority *priorityGate

	stmtMu sync.Mutex
	stmts  map[string]*sql.Stmt
}

func Connect(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	log.Println("[store] database connected")
	return &Store{
		db:       db,
		priority: newPriorityGate(),
		stmts:    make(map[string]*sql.Stmt),
	}, nil
}

// Open wraps an already-open *sql.DB (used by tests and by callers that
// manage their own connection lifecycle, e.g. sqlite in unit tests).
func Open(db *sql.DB) *Store {
	return &Store{db: db, priority: newPriorityGate(), stmts: make(map[string]*sql.Stmt)}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// AddUpdateHook registers a callback fired after every committed
// mutation. Multiple hooks may be registered (e.g. the orchestrator's
// notifier, plus the discoverer's idle tracker).
func (s *Store) AddUpdateHook(h UpdateHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

func (s *Store) fireHooks(table, op, id string) {
	s.mu.RLock()
	hooks := append([]UpdateHook(nil), s.hooks...)
	s.mu.RUnlock()
	for _, h := range hooks {
		h(table, op, id)
	}
}

// Tx is a transaction scope. Every With*Tx call begins its own *sql.Tx;
// scopes do not nest. A With*Tx call made inside another scope opens a
// separate transaction, and WithWriteTx inside a write scope blocks on
// the write gate.
type Tx struct {
	tx      *sql.Tx
	store   *Store
	pending []func()
}

// WithWriteTx acquires a write-priority scope (blocking until any
// pending priority acquirer has finished, per §5) and runs fn inside a
// transaction. On success, every pending notification recorded via
// Notify is fired after commit.
func (s *Store) WithWriteTx(ctx context.Context, fn func(*Tx) error) error {
	release := s.priority.acquireWrite()
	defer release()
	return s.withTx(ctx, fn)
}

// WithReadTx acquires a background-read scope: it is preempted (made to
// wait) if a priority acquirer is waiting, so interactive queries are
// never starved by bulk background scanning (§4.6 step 1, §5).
func (s *Store) WithReadTx(ctx context.Context, fn func(*Tx) error) error {
	release := s.priority.acquireBackgroundRead()
	defer release()
	return s.withTx(ctx, fn)
}

// WithPriorityRead acquires an exclusive, high-priority read scope that
// preempts background writers (§5's "priority access primitive").
func (s *Store) WithPriorityRead(ctx context.Context, fn func(*Tx) error) error {
	release := s.priority.acquirePriority()
	defer release()
	return s.withTx(ctx, fn)
}

func (s *Store) withTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	t := &Tx{tx: sqlTx, store: s}
	if err := fn(t); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for _, p := range t.pending {
		p()
	}
	return nil
}

// Notify schedules a table/op/id triple to fire through the store's
// update hooks once the enclosing transaction commits — never before,
// so observers never see a notification for a change that then rolled
// back.
func (t *Tx) Notify(table, op, id string) {
	t.pending = append(t.pending, func() { t.store.fireHooks(table, op, id) })
}

func (t *Tx) Exec(query string, args ...interface{}) (sql.Result, error) {
	res, err := t.tx.Exec(query, args...)
	if err != nil {
		return nil, classifyErr(query, err)
	}
	return res, nil
}

func (t *Tx) QueryRow(query string, args ...interface{}) *sql.Row {
	return t.tx.QueryRow(query, args...)
}

func (t *Tx) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return t.tx.Query(query, args...)
}

// classifyErr maps a raw driver error to the constraint taxonomy of §7
// so callers can branch with mlerrors.IsConstraint instead of
// string-sniffing the driver error themselves.
func classifyErr(query string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	table := tableFromQuery(query)
	switch {
	case strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key"):
		return mlerrors.NewConstraintError(mlerrors.ConstraintUnique, table, err)
	case strings.Contains(msg, "foreign key constraint"):
		return mlerrors.NewConstraintError(mlerrors.ConstraintForeignKey, table, err)
	case strings.Contains(msg, "violates") || strings.Contains(msg, "constraint"):
		return mlerrors.NewConstraintError(mlerrors.ConstraintOther, table, err)
	}
	return err
}

func tableFromQuery(query string) string {
	lower := strings.ToLower(query)
	for _, marker := range []string{"insert into ", "update ", "delete from "} {
		if idx := strings.Index(lower, marker); idx >= 0 {
			rest := strings.TrimSpace(lower[idx+len(marker):])
			if sp := strings.IndexAny(rest, " (\n\t"); sp >= 0 {
				return rest[:sp]
			}
			return rest
		}
	}
	return "unknown"
}

// Prepare returns a cached prepared statement for query, preparing and
// caching it on first use (§4.2 "prepared statements cached per
// connection").
func (s *Store) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()
	if stmt, ok := s.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	s.stmts[query] = stmt
	return stmt, nil
}

// DisableForeignKeys temporarily disables FK enforcement for destructive
// schema operations (§4.2), restored by the returned function.
func (s *Store) DisableForeignKeys(ctx context.Context) (restore func(), err error) {
	if _, err := s.db.ExecContext(ctx, "SET CONSTRAINTS ALL DEFERRED"); err != nil {
		return nil, err
	}
	return func() {
		_, _ = s.db.ExecContext(ctx, "SET CONSTRAINTS ALL IMMEDIATE")
	}, nil
}
