package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"jms/internal/logger"
	"jms/internal/models"
)

const (
	DefaultShopName     = "Магазин 1"
	DefaultBarcodeStart = 1000000
	DefaultBusyTimeout  = 30 * time.Second
)

var coreTables = []string{"items", "users", "shops", "sales"}

type Options struct {
	BusyTimeout  time.Duration
	BarcodeStart int64
}

// Store owns the connection pool for one database file. Create it with Open
// and hand it to collaborators; Reinitialize swaps the pool after a restore.
type Store struct {
	mu     sync.RWMutex
	path   string
	opts   Options
	db     *sqlx.DB
	closed bool
}

// Column is one row of PRAGMA table_info.
type Column struct {
	CID     int            `db:"cid"`
	Name    string         `db:"name"`
	Type    string         `db:"type"`
	NotNull int            `db:"notnull"`
	Default sql.NullString `db:"dflt_value"`
	PK      int            `db:"pk"`
}

// Open validates the database location, connects and initializes the schema.
// An unusable parent directory fails immediately.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path must not be empty")
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}
	if opts.BarcodeStart <= 0 {
		opts.BarcodeStart = DefaultBarcodeStart
	}

	if err := checkWritableDir(filepath.Dir(path)); err != nil {
		logger.Error("Database directory is not usable", "path", path, "error", err)
		return nil, err
	}

	s := &Store{path: path, opts: opts}
	if err := s.connect(); err != nil {
		return nil, err
	}

	if err := s.Initialize(ctx); err != nil {
		s.Close()
		return nil, err
	}

	logger.Info("Database opened", "path", path)
	return s, nil
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".jms-write-check-*")
	if err != nil {
		return fmt.Errorf("database directory %s is not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func (s *Store) dsn() string {
	return fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_txlock=immediate",
		s.path, s.opts.BusyTimeout.Milliseconds())
}

func (s *Store) open() (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", s.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (s *Store) connect() error {
	db, err := s.open()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.db = db
	s.closed = false
	s.mu.Unlock()
	return nil
}

// DB returns the current pool. It blocks while Replace swaps the pool. After
// Close it returns the closed pool, so calls fail with "sql: database is
// closed" instead of dereferencing nil.
func (s *Store) DB() *sqlx.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Replace closes the pool, runs swap while no caller can obtain a
// connection, then reconnects to the same path and initializes it. swap
// may change the file on disk. The store is reopened even when swap fails.
func (s *Store) Replace(ctx context.Context, swap func() error) error {
	s.mu.Lock()
	if !s.closed {
		if err := s.db.Close(); err != nil {
			logger.Warn("Failed to close database before replace", "error", err)
		}
	}
	s.waitIdle(ctx, s.db)

	var swapErr error
	if swap != nil {
		swapErr = swap()
	}

	db, err := s.open()
	if err != nil {
		s.closed = true
		s.mu.Unlock()
		if swapErr != nil {
			return fmt.Errorf("%w (reopen failed: %v)", swapErr, err)
		}
		return err
	}
	s.db = db
	s.closed = false
	s.mu.Unlock()

	if swapErr != nil {
		if err := s.Initialize(ctx); err != nil {
			logger.Error("Failed to initialize database after failed replace", "error", err)
		}
		return swapErr
	}
	if err := s.Initialize(ctx); err != nil {
		return err
	}
	logger.Info("Database reinitialized", "path", s.path)
	return nil
}

// waitIdle waits for connections checked out of a closed pool to be
// returned, so none of them touches the file while it is swapped.
func (s *Store) waitIdle(ctx context.Context, db *sqlx.DB) {
	deadline := time.NewTimer(s.opts.BusyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for db.Stats().OpenConnections > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			logger.Warn("Connections still open before replace", "open", db.Stats().OpenConnections)
			return
		case <-tick.C:
		}
	}
}

// Reinitialize drops the current pool and reconnects to the same file.
// Factory reset calls it once the file contents have changed.
func (s *Store) Reinitialize(ctx context.Context) error {
	return s.Replace(ctx, nil)
}

// Checkpoint folds the write-ahead log into the main database file.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.DB().ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint database: %w", err)
	}
	return nil
}

// Initialize creates any missing table, seeding the default shop when the
// core tables did not all exist yet. It then runs column migrations and
// ensures the default administrator. Running it twice changes nothing.
func (s *Store) Initialize(ctx context.Context) error {
	exists, err := s.coreTablesExist(ctx)
	if err != nil {
		return err
	}

	if err := s.createSchema(ctx, !exists); err != nil {
		return err
	}
	if !exists {
		logger.Info("Database schema created", "path", s.path)
	}

	if err := s.ensureAuxiliaryTables(ctx); err != nil {
		return err
	}

	if err := s.migrate(ctx); err != nil {
		return err
	}

	if err := s.EnsureDefaultUser(ctx, false); err != nil {
		return err
	}

	return nil
}

func (s *Store) coreTablesExist(ctx context.Context) (bool, error) {
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN (?)`, coreTables)
	if err != nil {
		return false, err
	}

	var count int
	if err := s.DB().GetContext(ctx, &count, query, args...); err != nil {
		return false, fmt.Errorf("failed to inspect schema: %w", err)
	}
	return count == len(coreTables), nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		barcode TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		category TEXT NOT NULL,
		price REAL NOT NULL,
		cost REAL NOT NULL,
		weight REAL,
		metal_type TEXT,
		stone_type TEXT,
		stock_quantity INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT (datetime('now', 'localtime')),
		updated_at TIMESTAMP DEFAULT (datetime('now', 'localtime'))
	)`,
	`CREATE TABLE IF NOT EXISTS shops (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP DEFAULT (datetime('now', 'localtime'))
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		total_price REAL NOT NULL,
		sale_date TIMESTAMP DEFAULT (datetime('now', 'localtime')),
		shop_id INTEGER REFERENCES shops (id) ON DELETE SET NULL,
		FOREIGN KEY (item_id) REFERENCES items (id)
	)`,
	`CREATE TABLE IF NOT EXISTS shop_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		shop_id INTEGER NOT NULL,
		item_id INTEGER NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT (datetime('now', 'localtime')),
		updated_at TIMESTAMP DEFAULT (datetime('now', 'localtime')),
		FOREIGN KEY (shop_id) REFERENCES shops (id) ON DELETE CASCADE,
		FOREIGN KEY (item_id) REFERENCES items (id) ON DELETE CASCADE,
		UNIQUE(shop_id, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT (datetime('now', 'localtime'))
	)`,
}

var auxiliarySchema = []string{
	`CREATE TABLE IF NOT EXISTS custom_values (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		value TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP DEFAULT (datetime('now', 'localtime'))
	)`,
	`CREATE TABLE IF NOT EXISTS barcode_sequence (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		next_val INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT UNIQUE NOT NULL,
		shop_id INTEGER NOT NULL,
		shop_name TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		duration_minutes INTEGER,
		total_expected INTEGER,
		total_scanned INTEGER,
		total_missing INTEGER,
		total_completed INTEGER,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (shop_id) REFERENCES shops (id)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		audit_session_id INTEGER NOT NULL,
		item_id INTEGER,
		barcode TEXT NOT NULL,
		item_name TEXT,
		expected_quantity INTEGER,
		scanned_quantity INTEGER DEFAULT 0,
		status TEXT NOT NULL CHECK (status IN ('missing', 'found', 'extra')),
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (audit_session_id) REFERENCES audit_sessions (id),
		FOREIGN KEY (item_id) REFERENCES items (id)
	)`,
	`CREATE TABLE IF NOT EXISTS master_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key_code TEXT NOT NULL UNIQUE,
		is_used BOOLEAN NOT NULL DEFAULT FALSE,
		used_date TEXT,
		used_by TEXT,
		created_at TIMESTAMP DEFAULT (datetime('now', 'localtime'))
	)`,
}

type index struct {
	table string
	ddl   string
}

var indexes = []index{
	{"items", `CREATE INDEX IF NOT EXISTS idx_items_name ON items(name)`},
	{"items", `CREATE INDEX IF NOT EXISTS idx_items_category ON items(category)`},
	{"sales", `CREATE INDEX IF NOT EXISTS idx_sales_item_id ON sales(item_id)`},
	{"sales", `CREATE INDEX IF NOT EXISTS idx_sales_sale_date ON sales(sale_date)`},
	{"sales", `CREATE INDEX IF NOT EXISTS idx_sales_shop_id ON sales(shop_id)`},
	{"shop_items", `CREATE INDEX IF NOT EXISTS idx_shop_items_shop_id ON shop_items(shop_id)`},
	{"audit_results", `CREATE INDEX IF NOT EXISTS idx_audit_results_session ON audit_results(audit_session_id)`},
}

// createSchema creates the main tables that are missing. seedShop adds the
// default shop to a fresh database.
func (s *Store) createSchema(ctx context.Context, seedShop bool) error {
	tx, err := s.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	var shops int
	if err := tx.GetContext(ctx, &shops, "SELECT COUNT(*) FROM shops"); err != nil {
		return fmt.Errorf("failed to count shops: %w", err)
	}
	if seedShop && shops == 0 {
		if _, err := tx.ExecContext(ctx, "INSERT INTO shops (name) VALUES (?)", DefaultShopName); err != nil {
			return fmt.Errorf("failed to create default shop: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) ensureAuxiliaryTables(ctx context.Context) error {
	db := s.DB()
	for _, stmt := range auxiliarySchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			logger.Error("Failed to ensure auxiliary table", "error", err)
			return fmt.Errorf("failed to ensure auxiliary tables: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO barcode_sequence (id, next_val) VALUES (1, ?)", s.opts.BarcodeStart); err != nil {
		return fmt.Errorf("failed to seed barcode sequence: %w", err)
	}
	return nil
}

type columnMigration struct {
	table    string
	column   string
	ddl      string
	backfill string
}

// Columns added after the first release. SQLite refuses non-constant
// defaults in ADD COLUMN, so timestamps are backfilled separately.
var columnMigrations = []columnMigration{
	{
		table:    "shop_items",
		column:   "updated_at",
		ddl:      "TIMESTAMP",
		backfill: "UPDATE shop_items SET updated_at = COALESCE(created_at, datetime('now', 'localtime')) WHERE updated_at IS NULL",
	},
	{
		table:    "items",
		column:   "updated_at",
		ddl:      "TIMESTAMP",
		backfill: "UPDATE items SET updated_at = COALESCE(created_at, datetime('now', 'localtime')) WHERE updated_at IS NULL",
	},
	{
		table:  "sales",
		column: "shop_id",
		ddl:    "INTEGER REFERENCES shops (id) ON DELETE SET NULL",
	},
}

func (s *Store) migrate(ctx context.Context) error {
	db := s.DB()
	for _, m := range columnMigrations {
		columns, err := s.TableInfo(ctx, m.table)
		if err != nil {
			return err
		}
		if len(columns) == 0 {
			logger.Warn("Skipping migration for missing table", "table", m.table, "column", m.column)
			continue
		}
		if containsColumn(columns, m.column) {
			continue
		}

		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.ddl)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add %s.%s: %w", m.table, m.column, err)
		}
		if m.backfill != "" {
			if _, err := db.ExecContext(ctx, m.backfill); err != nil {
				return fmt.Errorf("failed to backfill %s.%s: %w", m.table, m.column, err)
			}
		}
		logger.Info("Added missing column", "table", m.table, "column", m.column)
	}

	for _, idx := range indexes {
		columns, err := s.TableInfo(ctx, idx.table)
		if err != nil {
			return err
		}
		if len(columns) == 0 {
			continue
		}
		if _, err := db.ExecContext(ctx, idx.ddl); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", idx.table, err)
		}
	}
	return nil
}

func containsColumn(columns []Column, name string) bool {
	for _, c := range columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	columns, err := s.TableInfo(ctx, table)
	if err != nil {
		return false, err
	}
	return containsColumn(columns, column), nil
}

// Tables lists user tables, skipping SQLite's internal ones.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	var tables []string
	err := s.DB().SelectContext(ctx, &tables,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return tables, nil
}

func (s *Store) TableInfo(ctx context.Context, table string) ([]Column, error) {
	var columns []Column
	if err := s.DB().SelectContext(ctx, &columns, fmt.Sprintf("PRAGMA table_info(%s)", QuoteIdent(table))); err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	return columns, nil
}

// QuoteIdent quotes a table or column name for use in SQL text.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func now() string {
	return time.Now().Format(models.TimestampLayout)
}
