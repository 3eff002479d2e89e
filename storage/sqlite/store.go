// Package sqlite provides a SQLite-backed JSON document store used by the development REST
// backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	stdSync "sync"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
	"github.com/c0deZ3R0/go-storefront-sync/logging"

	"github.com/mattn/go-sqlite3"
)

const component = syncErrors.Component("sqlite-store")

var (
	ErrNotFound      = errors.New("document not found")
	ErrStoreClosed   = errors.New("store is closed")
	ErrNotAnObject   = errors.New("document must be a JSON object")
	ErrDuplicateID   = errors.New("document id already exists")
	ErrInvalidField  = errors.New("invalid field name")
	errInvalidTable  = errors.New("invalid table name")
	identifierSyntax = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Config configures a DocumentStore. Zero values are filled in by New.
type Config struct {
	// DataSourceName is the SQLite connection string, e.g. "file:mockapi.db".
	DataSourceName string

	// EnableWAL opens the database in WAL mode with a 5s busy timeout and NORMAL synchronous.
	EnableWAL bool

	Logger *logging.Logger

	// TableName defaults to "documents".
	TableName string

	Pool Pool
}

// Pool sizes the database/sql connection pool.
type Pool struct {
	MaxOpen     int           // 25
	MaxIdle     int           // 5
	MaxLifetime time.Duration // 1h
	MaxIdleTime time.Duration // 5m
}

var defaultPool = Pool{MaxOpen: 25, MaxIdle: 5, MaxLifetime: time.Hour, MaxIdleTime: 5 * time.Minute}

func (p *Pool) fill(dsn string) {
	if p.MaxOpen == 0 {
		p.MaxOpen = defaultPool.MaxOpen
	}
	// every connection to ":memory:" opens a separate database
	if strings.Contains(dsn, ":memory:") {
		p.MaxOpen = 1
	}
	if p.MaxIdle == 0 {
		p.MaxIdle = defaultPool.MaxIdle
	}
	p.MaxIdle = min(p.MaxIdle, p.MaxOpen)
	if p.MaxLifetime == 0 {
		p.MaxLifetime = defaultPool.MaxLifetime
	}
	if p.MaxIdleTime == 0 {
		p.MaxIdleTime = defaultPool.MaxIdleTime
	}
}

func (p Pool) apply(db *sql.DB) {
	db.SetMaxOpenConns(p.MaxOpen)
	db.SetMaxIdleConns(p.MaxIdle)
	db.SetConnMaxLifetime(p.MaxLifetime)
	db.SetConnMaxIdleTime(p.MaxIdleTime)
}

func (c *Config) setDefaults() {
	if c.TableName == "" {
		c.TableName = "documents"
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	c.Pool.fill(c.DataSourceName)
}

// dsn returns the connection string with the WAL pragmas added when enabled.
func (c *Config) dsn() string {
	dsn := c.DataSourceName
	if !c.EnableWAL {
		return dsn
	}
	for _, kv := range [][2]string{{"_journal_mode", "WAL"}, {"_busy_timeout", "5000"}, {"_synchronous", "NORMAL"}} {
		dsn = withParam(dsn, kv[0], kv[1])
	}
	return dsn
}

func withParam(dsn, key, value string) string {
	if dsn == "" || strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + value
}

// DefaultConfig returns a Config for dataSourceName with WAL enabled.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{DataSourceName: dataSourceName, EnableWAL: true}
	config.setDefaults()
	return config
}

// DocumentStore keeps schemaless JSON documents grouped by collection. Every stored document
// carries its id in the "_id" field.
type DocumentStore struct {
	db        *sql.DB
	mu        stdSync.RWMutex
	closed    bool
	logger    *logging.Logger
	tableName string
}

// New opens the database and creates the schema.
func New(config *Config) (*DocumentStore, error) {
	if config == nil {
		return nil, errors.New("sqlite: nil config")
	}
	if config.DataSourceName == "" {
		return nil, errors.New("sqlite: data source name is required")
	}
	config.setDefaults()
	if !identifierSyntax.MatchString(config.TableName) {
		return nil, fmt.Errorf("%w: %q", errInvalidTable, config.TableName)
	}

	logger := config.Logger.WithComponent(logging.Component(component))
	db, err := sql.Open("sqlite3", config.dsn())
	if err != nil {
		return nil, fmt.Errorf("open document database: %w", err)
	}
	config.Pool.apply(db)

	store := &DocumentStore{db: db, logger: logger, tableName: config.TableName}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to document database: %w", err)
	}
	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create document schema: %w", err)
	}

	logger.Info("document store ready",
		slog.String("data_source", config.DataSourceName),
		slog.String("table", config.TableName),
		slog.Bool("wal", config.EnableWAL),
		slog.Int("max_open_conns", config.Pool.MaxOpen))
	return store, nil
}

func (s *DocumentStore) setupSchema() error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %[1]s (
        seq         INTEGER PRIMARY KEY AUTOINCREMENT,
        collection  TEXT NOT NULL,
        id          TEXT NOT NULL,
        body        TEXT NOT NULL,
        created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        UNIQUE (collection, id)
    );
    CREATE INDEX IF NOT EXISTS idx_%[1]s_collection ON %[1]s (collection);
    `, s.tableName)
	_, err := s.db.Exec(query)
	return err
}

func (s *DocumentStore) checkOpen(op syncErrors.Operation) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return syncErrors.E(op, component, syncErrors.KindUnavailable, ErrStoreClosed)
	}
	return nil
}

// List returns every document of a collection in insertion order.
func (s *DocumentStore) List(ctx context.Context, collection string) ([]json.RawMessage, error) {
	if err := s.checkOpen(syncErrors.OpLoad); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT body FROM %s WHERE collection = ? ORDER BY seq ASC`, s.tableName)
	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, syncErrors.E(syncErrors.OpLoad, component, syncErrors.KindInternal, err)
	}
	defer rows.Close()
	return scanBodies(rows)
}

// ListWhere returns the documents of a collection whose top-level field equals value.
func (s *DocumentStore) ListWhere(ctx context.Context, collection, field, value string) ([]json.RawMessage, error) {
	if err := s.checkOpen(syncErrors.OpLoad); err != nil {
		return nil, err
	}
	if !identifierSyntax.MatchString(field) {
		return nil, syncErrors.E(syncErrors.OpLoad, component, syncErrors.KindInvalid, ErrInvalidField, field)
	}
	query := fmt.Sprintf(`SELECT body FROM %s WHERE collection = ? AND json_extract(body, ?) = ? ORDER BY seq ASC`, s.tableName)
	rows, err := s.db.QueryContext(ctx, query, collection, "$."+field, value)
	if err != nil {
		return nil, syncErrors.E(syncErrors.OpLoad, component, syncErrors.KindInternal, err)
	}
	defer rows.Close()
	return scanBodies(rows)
}

// Get returns one document. A missing document is reported with errors.KindNotFound.
func (s *DocumentStore) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	if err := s.checkOpen(syncErrors.OpLoad); err != nil {
		return nil, err
	}
	var body string
	query := fmt.Sprintf(`SELECT body FROM %s WHERE collection = ? AND id = ?`, s.tableName)
	err := s.db.QueryRowContext(ctx, query, collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncErrors.E(syncErrors.OpLoad, component, syncErrors.KindNotFound, ErrNotFound)
	}
	if err != nil {
		return nil, syncErrors.E(syncErrors.OpLoad, component, syncErrors.KindInternal, err)
	}
	return json.RawMessage(body), nil
}

// Insert stores doc and returns its id. The id is taken from a non-empty string "_id" field,
// otherwise a new UUID is assigned and written into the document.
func (s *DocumentStore) Insert(ctx context.Context, collection string, doc json.RawMessage) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if err := s.checkOpen(syncErrors.OpStore); err != nil {
		return "", err
	}

	id, body, err := prepareDocument(doc)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf(`INSERT INTO %s (collection, id, body) VALUES (?, ?, ?)`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, collection, id, string(body)); err != nil {
		if isUniqueViolation(err) {
			return "", syncErrors.E(syncErrors.OpStore, component, syncErrors.KindInvalid, ErrDuplicateID, id)
		}
		return "", syncErrors.StorageFailure(err, syncErrors.OpStore, component)
	}
	s.logger.Debug("document inserted", slog.String("collection", collection), slog.String("id", id))
	return id, nil
}

// Merge applies fields to a stored document as a JSON merge patch. The "_id" field is never
// changed. A missing document is reported with errors.KindNotFound.
func (s *DocumentStore) Merge(ctx context.Context, collection, id string, fields json.RawMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := s.checkOpen(syncErrors.OpStore); err != nil {
		return err
	}

	var patch map[string]json.RawMessage
	if err := json.Unmarshal(fields, &patch); err != nil || patch == nil {
		return syncErrors.E(syncErrors.OpStore, component, syncErrors.KindInvalid, ErrNotAnObject)
	}
	delete(patch, "_id")
	encoded, err := json.Marshal(patch)
	if err != nil {
		return syncErrors.E(syncErrors.OpStore, component, syncErrors.KindInvalid, err)
	}

	query := fmt.Sprintf(`UPDATE %s SET body = json_patch(body, ?), updated_at = CURRENT_TIMESTAMP
        WHERE collection = ? AND id = ?`, s.tableName)
	res, err := s.db.ExecContext(ctx, query, string(encoded), collection, id)
	if err != nil {
		return syncErrors.StorageFailure(err, syncErrors.OpStore, component)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return syncErrors.E(syncErrors.OpStore, component, syncErrors.KindNotFound, ErrNotFound)
	}
	return nil
}

// Delete removes one document. A missing document is reported with errors.KindNotFound.
func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	if err := s.checkOpen(syncErrors.OpDelete); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE collection = ? AND id = ?`, s.tableName)
	res, err := s.db.ExecContext(ctx, query, collection, id)
	if err != nil {
		return syncErrors.E(syncErrors.OpDelete, component, syncErrors.KindInternal, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return syncErrors.E(syncErrors.OpDelete, component, syncErrors.KindNotFound, ErrNotFound)
	}
	return nil
}

// Count returns the number of documents in a collection.
func (s *DocumentStore) Count(ctx context.Context, collection string) (int, error) {
	if err := s.checkOpen(syncErrors.OpLoad); err != nil {
		return 0, err
	}
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE collection = ?`, s.tableName)
	if err := s.db.QueryRowContext(ctx, query, collection).Scan(&n); err != nil {
		return 0, syncErrors.E(syncErrors.OpLoad, component, syncErrors.KindInternal, err)
	}
	return n, nil
}

// Seed inserts documents in one transaction. Documents whose "_id" already exists are skipped,
// so seeding the same file twice is harmless. It returns the number of inserted documents.
func (s *DocumentStore) Seed(ctx context.Context, seed map[string][]json.RawMessage) (inserted int, err error) {
	if err := s.checkOpen(syncErrors.OpStore); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, syncErrors.StorageFailure(err, syncErrors.OpStore, component)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (collection, id, body) VALUES (?, ?, ?)`, s.tableName)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, syncErrors.StorageFailure(err, syncErrors.OpStore, component)
	}
	defer stmt.Close()

	for collection, docs := range seed {
		for i, doc := range docs {
			id, body, perr := prepareDocument(doc)
			if perr != nil {
				err = syncErrors.E(syncErrors.OpStore, component, perr, fmt.Sprintf("%s[%d]", collection, i))
				return 0, err
			}
			res, xerr := stmt.ExecContext(ctx, collection, id, string(body))
			if xerr != nil {
				err = syncErrors.E(syncErrors.OpStore, component, syncErrors.KindInternal, xerr)
				return 0, err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, syncErrors.StorageFailure(err, syncErrors.OpStore, component)
	}
	s.logger.Info("seed applied", slog.Int("inserted", inserted))
	return inserted, nil
}

// Close closes the database connection. It is safe to call more than once.
func (s *DocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Stats returns database connection pool statistics.
func (s *DocumentStore) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

// prepareDocument validates doc and makes sure it carries a string "_id".
func prepareDocument(doc json.RawMessage) (string, []byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(doc, &obj); err != nil || obj == nil {
		return "", nil, syncErrors.E(syncErrors.OpStore, component, syncErrors.KindInvalid, ErrNotAnObject)
	}

	var id string
	if raw, ok := obj["_id"]; ok {
		_ = json.Unmarshal(raw, &id)
	}
	if id == "" {
		id = uuid.NewString()
	}
	encodedID, err := json.Marshal(id)
	if err != nil {
		return "", nil, syncErrors.E(syncErrors.OpStore, component, syncErrors.KindInvalid, err)
	}
	obj["_id"] = encodedID

	body, err := json.Marshal(obj)
	if err != nil {
		return "", nil, syncErrors.E(syncErrors.OpStore, component, syncErrors.KindInvalid, err)
	}
	return id, body, nil
}

func scanBodies(rows *sql.Rows) ([]json.RawMessage, error) {
	docs := []json.RawMessage{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, syncErrors.E(syncErrors.OpLoad, component, syncErrors.KindInternal, err)
		}
		docs = append(docs, json.RawMessage(body))
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.E(syncErrors.OpLoad, component, syncErrors.KindInternal, err)
	}
	return docs, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
