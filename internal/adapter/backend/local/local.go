// Package local is a single-user backend on an embedded SQLite database.
// It implements the record store, an in-process change feed and the remote
// procedures, so the client works offline and in tests.
package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reelcast/reelcast/internal/domain"
	_ "modernc.org/sqlite"
)

// Options configures a local backend
type Options struct {
	Path   string // Database file; "" keeps everything in memory
	UserID string // Identity reported by CurrentUser; "" = signed out
	Logger *slog.Logger
}

// Backend is the SQLite-backed implementation
type Backend struct {
	db     *sql.DB
	userID string
	logger *slog.Logger
	now    func() time.Time

	writeMu sync.Mutex // Serializes read-modify-write sequences

	subMu  sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

type subscriber struct {
	mu      sync.Mutex // Handler calls for one subscription never overlap
	sub     domain.Subscription
	handler domain.ChangeHandler
}

// Open opens (and creates) the database and applies the schema
func Open(opts Options) (*Backend, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dsn := ":memory:"
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = opts.Path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: keeps an in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	opts.Logger.Debug("local backend opened", "path", dsn)
	return &Backend{
		db:     db,
		userID: opts.UserID,
		logger: opts.Logger,
		now:    time.Now,
		subs:   make(map[int]*subscriber),
	}, nil
}

// Close closes the database
func (b *Backend) Close() error {
	return b.db.Close()
}

// CurrentUser implements domain.Identity
func (b *Backend) CurrentUser() (string, bool) {
	return b.userID, b.userID != ""
}

func lookupTable(collection string) (table, error) {
	t, ok := tables[collection]
	if !ok {
		return table{}, fmt.Errorf("%w: unknown collection %q", domain.ErrInvalidInput, collection)
	}
	return t, nil
}

var sqlOps = map[domain.Op]string{
	domain.OpEq:  "=",
	domain.OpNeq: "!=",
	domain.OpGt:  ">",
	domain.OpGte: ">=",
	domain.OpLt:  "<",
	domain.OpLte: "<=",
}

// where renders the filters of q as a WHERE clause with positional args
func where(t table, q domain.Query) (string, []any, error) {
	if len(q.Filters) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(q.Filters))
	args := make([]any, 0, len(q.Filters))
	for _, f := range q.Filters {
		op, ok := sqlOps[f.Op]
		if !ok || !t.has(f.Column) {
			return "", nil, fmt.Errorf("%w: filter %s", domain.ErrInvalidInput, f.String())
		}
		parts = append(parts, f.Column+" "+op+" ?")
		args = append(args, bindValue(f.Value))
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func bindValue(v any) any {
	switch t := v.(type) {
	case nil, string, int, int64, float64, bool:
		return t
	case domain.TargetType:
		return string(t)
	case time.Time:
		return t.UTC().Format(domain.TimeFormat)
	default:
		return fmt.Sprint(t)
	}
}

func scanRecords(rows *sql.Rows, columns []string) ([]domain.Record, error) {
	defer rows.Close()

	var out []domain.Record
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec := make(domain.Record, len(columns))
		for i, col := range columns {
			switch v := values[i].(type) {
			case nil:
			case []byte:
				rec[col] = string(v)
			default:
				rec[col] = v
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Select implements domain.RecordStore
func (b *Backend) Select(ctx context.Context, collection string, q domain.Query) ([]domain.Record, error) {
	t, err := lookupTable(collection)
	if err != nil {
		return nil, err
	}
	clause, args, err := where(t, q)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + strings.Join(t.columns, ", ") + " FROM " + collection + clause
	if q.OrderBy != "" {
		if !t.has(q.OrderBy) {
			return nil, fmt.Errorf("%w: order by %q", domain.ErrInvalidInput, q.OrderBy)
		}
		query += " ORDER BY " + q.OrderBy
		if q.Descending {
			query += " DESC"
		}
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	return scanRecords(rows, t.columns)
}

// Count implements domain.RecordStore
func (b *Backend) Count(ctx context.Context, collection string, q domain.Query) (int, error) {
	t, err := lookupTable(collection)
	if err != nil {
		return 0, err
	}
	clause, args, err := where(t, q)
	if err != nil {
		return 0, err
	}

	var n int
	err = b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+collection+clause, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return n, nil
}

// prepare validates rec against the table and fills generated columns
func (b *Backend) prepare(t table, rec domain.Record) (domain.Record, error) {
	row := make(domain.Record, len(rec)+2)
	for k, v := range rec {
		if !t.has(k) {
			return nil, fmt.Errorf("%w: unknown column %q", domain.ErrInvalidInput, k)
		}
		row[k] = v
	}
	if t.generated["id"] && row.String("id") == "" {
		row["id"] = uuid.NewString()
	}
	if t.generated["created_at"] && row.String("created_at") == "" {
		row["created_at"] = b.now().UTC().Format(domain.TimeFormat)
	}
	return row, nil
}

func insertSQL(collection string, t table, row domain.Record) (string, []string, []any) {
	cols := make([]string, 0, len(row))
	for _, c := range t.columns {
		if _, ok := row[c]; ok {
			cols = append(cols, c)
		}
	}
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = bindValue(row[c])
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := "INSERT INTO " + collection + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders + ")"
	return query, cols, args
}

func (b *Backend) returning(ctx context.Context, query string, args []any, t table) (domain.Record, error) {
	rows, err := b.db.QueryContext(ctx, query+" RETURNING "+strings.Join(t.columns, ", "), args...)
	if err != nil {
		return nil, err
	}
	recs, err := scanRecords(rows, t.columns)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, domain.ErrNotFound
	}
	return recs[0], nil
}

// Insert implements domain.RecordStore
func (b *Backend) Insert(ctx context.Context, collection string, rec domain.Record) (domain.Record, error) {
	t, err := lookupTable(collection)
	if err != nil {
		return nil, err
	}
	row, err := b.prepare(t, rec)
	if err != nil {
		return nil, err
	}

	query, _, args := insertSQL(collection, t, row)

	b.writeMu.Lock()
	stored, err := b.returning(ctx, query, args, t)
	b.writeMu.Unlock()
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicate, collection)
		}
		return nil, fmt.Errorf("failed to insert into %s: %w", collection, err)
	}

	b.publish(domain.ChangeEvent{Collection: collection, Kind: domain.EventInsert, New: stored})
	return stored, nil
}

// Upsert implements domain.RecordStore
func (b *Backend) Upsert(ctx context.Context, collection string, rec domain.Record, onConflict []string) (domain.Record, error) {
	t, err := lookupTable(collection)
	if err != nil {
		return nil, err
	}
	if len(onConflict) == 0 {
		return b.Insert(ctx, collection, rec)
	}
	conflictQuery := domain.Query{}
	for _, c := range onConflict {
		if !t.has(c) {
			return nil, fmt.Errorf("%w: conflict column %q", domain.ErrInvalidInput, c)
		}
		conflictQuery = conflictQuery.Where(domain.Eq(c, rec[c]))
	}
	row, err := b.prepare(t, rec)
	if err != nil {
		return nil, err
	}

	query, cols, args := insertSQL(collection, t, row)
	var sets []string
	for _, c := range cols {
		if c == "id" || c == "created_at" || contains(onConflict, c) {
			continue
		}
		sets = append(sets, c+" = excluded."+c)
	}
	if len(sets) == 0 {
		query += " ON CONFLICT (" + strings.Join(onConflict, ", ") + ") DO NOTHING"
	} else {
		query += " ON CONFLICT (" + strings.Join(onConflict, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
	}

	b.writeMu.Lock()
	existing, err := b.Select(ctx, collection, conflictQuery)
	if err != nil {
		b.writeMu.Unlock()
		return nil, err
	}
	stored, err := b.returning(ctx, query, args, t)
	b.writeMu.Unlock()
	if errors.Is(err, domain.ErrNotFound) && len(existing) > 0 {
		return existing[0], nil // DO NOTHING returns no row
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert into %s: %w", collection, err)
	}

	ev := domain.ChangeEvent{Collection: collection, Kind: domain.EventInsert, New: stored}
	if len(existing) > 0 {
		ev.Kind = domain.EventUpdate
		ev.Old = existing[0]
	}
	b.publish(ev)
	return stored, nil
}

// Delete implements domain.RecordStore
func (b *Backend) Delete(ctx context.Context, collection string, q domain.Query) (int, error) {
	t, err := lookupTable(collection)
	if err != nil {
		return 0, err
	}
	clause, args, err := where(t, q)
	if err != nil {
		return 0, err
	}

	b.writeMu.Lock()
	removed, err := b.Select(ctx, collection, q)
	if err != nil {
		b.writeMu.Unlock()
		return 0, err
	}
	_, err = b.db.ExecContext(ctx, "DELETE FROM "+collection+clause, args...)
	b.writeMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", collection, err)
	}

	for _, old := range removed {
		b.publish(domain.ChangeEvent{Collection: collection, Kind: domain.EventDelete, Old: old})
	}
	return len(removed), nil
}

// Subscribe implements domain.ChangeFeed. Events are delivered synchronously
// after the write that caused them.
func (b *Backend) Subscribe(_ context.Context, sub domain.Subscription, handler domain.ChangeHandler) (domain.Unsubscribe, error) {
	if _, err := lookupTable(sub.Collection); err != nil {
		return nil, err
	}

	b.subMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{sub: sub, handler: handler}
	b.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.subs, id)
			b.subMu.Unlock()
		})
	}, nil
}

func (b *Backend) publish(ev domain.ChangeEvent) {
	b.subMu.Lock()
	var targets []*subscriber
	for _, s := range b.subs {
		if s.sub.Collection != ev.Collection || !s.sub.Wants(ev.Kind) {
			continue
		}
		if s.sub.Filter != nil && !s.sub.Filter.Matches(ev.Row()) {
			continue
		}
		targets = append(targets, s)
	}
	b.subMu.Unlock()

	for _, s := range targets {
		s.mu.Lock()
		s.handler(ev)
		s.mu.Unlock()
	}
}

// Call implements domain.Procedures
func (b *Backend) Call(ctx context.Context, name string, args map[string]any, out any) error {
	switch name {
	case domain.ProcIncrementEpisodeViews:
		res, err := b.db.ExecContext(ctx,
			"UPDATE episodes SET views_count = views_count + 1 WHERE id = ?", bindValue(args["episode_id"]))
		if err != nil {
			return fmt.Errorf("failed to increment views: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		return nil

	case domain.ProcHasRole:
		var n int
		err := b.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM user_roles WHERE user_id = ? AND role = ?",
			bindValue(args["_user_id"]), bindValue(args["_role"])).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to check role: %w", err)
		}
		return assign(out, n > 0)

	case domain.ProcCheckRateLimit:
		// Local buckets already throttle a single user
		return assign(out, true)

	default:
		return fmt.Errorf("%w: procedure %q", domain.ErrNotFound, name)
	}
}

// assign copies v into out through JSON, the way a remote result would arrive
func assign(out any, v any) error {
	if out == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
