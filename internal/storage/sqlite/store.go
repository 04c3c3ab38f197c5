// Package sqlite provides the SQLite-backed persistence sink.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/businessdata-uk/endole-crawler/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the SQLite store.
type Config struct {
	// Path is the database file location.
	Path string
	// Table overrides the default "companies" table name.
	Table string
	// BusyTimeout bounds waits on the SQLite file lock. Workers share one
	// database file, so writes can contend.
	BusyTimeout time.Duration
}

// Store writes business records into a local SQLite file. Uniqueness is
// enforced on the company key, so re-ingesting an already-scraped postcode
// is idempotent.
type Store struct {
	db    *sql.DB
	table string
}

// New opens (creating if necessary) the SQLite database at cfg.Path.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	table := cfg.Table
	if table == "" {
		table = "companies"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", cfg.Path, busy.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	return &Store{db: db, table: table}, nil
}

// NewWithDB constructs a Store from an existing handle (primarily for testing).
func NewWithDB(db *sql.DB, table string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db handle is required")
	}
	if table == "" {
		table = "companies"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{db: db, table: table}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Init creates the companies table and its postcode index if they do not
// already exist.
func (s *Store) Init(ctx context.Context) error {
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	company TEXT PRIMARY KEY,
	status TEXT,
	net_assets INTEGER,
	turnover INTEGER,
	name TEXT,
	reg_no TEXT,
	type TEXT,
	size TEXT,
	employees TEXT,
	adversity REAL,
	accounts REAL,
	directors TEXT,
	incorporation TIMESTAMP,
	accounts_year_end TIMESTAMP,
	accounts_due_by TIMESTAMP,
	accounts_last_made TIMESTAMP,
	website TEXT,
	address TEXT,
	county TEXT,
	sic_code TEXT,
	current_assets INTEGER,
	total_assets INTEGER,
	current_liabilities INTEGER,
	total_liabilities INTEGER,
	current_assets_pct REAL,
	fixed_assets_pct REAL,
	total_assets_pct REAL,
	net_assets_pct REAL,
	current_liabilities_pct REAL,
	long_term_liabilities_pct REAL,
	total_liabilities_pct REAL,
	turnover_pct REAL,
	postcode TEXT,
	scraped_at TIMESTAMP
)`, s.table)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	indexStmt := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_postcode ON %s (postcode)`, s.table, s.table)
	if _, err := s.db.ExecContext(ctx, indexStmt); err != nil {
		return fmt.Errorf("create postcode index: %w", err)
	}
	return nil
}

// DistinctPostcodes returns the set of postcode keys already present, which
// the driver uses to skip completed work on resumed runs.
func (s *Store) DistinctPostcodes(ctx context.Context) (map[string]struct{}, error) {
	query := fmt.Sprintf(`SELECT DISTINCT postcode FROM %s WHERE postcode IS NOT NULL`, s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query distinct postcodes: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var pc string
		if err := rows.Scan(&pc); err != nil {
			return nil, fmt.Errorf("scan postcode: %w", err)
		}
		seen[pc] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate postcodes: %w", err)
	}
	return seen, nil
}

// UpsertRecords inserts the batch inside one transaction, replacing rows
// whose company key already exists. Records without a company key are
// dropped. Returns the number of rows written.
func (s *Store) UpsertRecords(ctx context.Context, records []scrape.BusinessRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, s.upsertQuery())
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	stored := 0
	for _, rec := range records {
		if rec.Company == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, upsertArgs(rec)...); err != nil {
			return stored, fmt.Errorf("upsert company %q: %w", rec.Company, err)
		}
		stored++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert tx: %w", err)
	}
	return stored, nil
}

func (s *Store) upsertQuery() string {
	return fmt.Sprintf(`
INSERT INTO %s (
	company, status, net_assets, turnover, name, reg_no, type, size,
	employees, adversity, accounts, directors,
	incorporation, accounts_year_end, accounts_due_by, accounts_last_made,
	website, address, county, sic_code,
	current_assets, total_assets, current_liabilities, total_liabilities,
	current_assets_pct, fixed_assets_pct, total_assets_pct, net_assets_pct,
	current_liabilities_pct, long_term_liabilities_pct, total_liabilities_pct,
	turnover_pct, postcode, scraped_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(company) DO UPDATE SET
	status = excluded.status,
	net_assets = excluded.net_assets,
	turnover = excluded.turnover,
	name = excluded.name,
	reg_no = excluded.reg_no,
	type = excluded.type,
	size = excluded.size,
	employees = excluded.employees,
	adversity = excluded.adversity,
	accounts = excluded.accounts,
	directors = excluded.directors,
	incorporation = excluded.incorporation,
	accounts_year_end = excluded.accounts_year_end,
	accounts_due_by = excluded.accounts_due_by,
	accounts_last_made = excluded.accounts_last_made,
	website = excluded.website,
	address = excluded.address,
	county = excluded.county,
	sic_code = excluded.sic_code,
	current_assets = excluded.current_assets,
	total_assets = excluded.total_assets,
	current_liabilities = excluded.current_liabilities,
	total_liabilities = excluded.total_liabilities,
	current_assets_pct = excluded.current_assets_pct,
	fixed_assets_pct = excluded.fixed_assets_pct,
	total_assets_pct = excluded.total_assets_pct,
	net_assets_pct = excluded.net_assets_pct,
	current_liabilities_pct = excluded.current_liabilities_pct,
	long_term_liabilities_pct = excluded.long_term_liabilities_pct,
	total_liabilities_pct = excluded.total_liabilities_pct,
	turnover_pct = excluded.turnover_pct,
	postcode = excluded.postcode,
	scraped_at = excluded.scraped_at`, s.table)
}

func upsertArgs(rec scrape.BusinessRecord) []any {
	return []any{
		rec.Company,
		nullString(rec.Status),
		nullInt(rec.NetAssets),
		nullInt(rec.Turnover),
		nullString(rec.Name),
		nullString(rec.RegNo),
		nullString(rec.Type),
		nullString(rec.Size),
		nullString(rec.Employees),
		nullFloat(rec.Adversity),
		nullFloat(rec.Accounts),
		nullString(rec.Directors),
		nullTime(rec.Incorporation),
		nullTime(rec.AccountsYearEnd),
		nullTime(rec.AccountsDueBy),
		nullTime(rec.AccountsLastMade),
		nullString(rec.Website),
		nullString(rec.Address),
		nullString(rec.County),
		nullString(rec.SICCode),
		nullInt(rec.CurrentAssets),
		nullInt(rec.TotalAssets),
		nullInt(rec.CurrentLiabilities),
		nullInt(rec.TotalLiabilities),
		nullFloat(rec.CurrentAssetsPct),
		nullFloat(rec.FixedAssetsPct),
		nullFloat(rec.TotalAssetsPct),
		nullFloat(rec.NetAssetsPct),
		nullFloat(rec.CurrentLiabilitiesPct),
		nullFloat(rec.LongTermLiabilitiesPct),
		nullFloat(rec.TotalLiabilitiesPct),
		nullFloat(rec.TurnoverPct),
		rec.Postcode,
		rec.ScrapedAt,
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return *v
}
