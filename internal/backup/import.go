package backup

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/tidwall/gjson"

	"jms/internal/database"
	"jms/internal/logger"
)

// Parents come before their dependents; tables not listed follow in the
// order they appear in the source.
var importOrder = []string{"users", "shops", "items", "shop_items", "sales", "custom_values"}

// noValue is how the original desktop exports wrote NULL.
const noValue = "None"

type tableData struct {
	name    string
	columns []string
	rows    []map[string]interface{}
}

type TableResult struct {
	Table   string `json:"table"`
	Rows    int    `json:"rows"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ImportReport struct {
	Policy Policy        `json:"policy"`
	Tables []TableResult `json:"tables"`
}

func (r *ImportReport) Failed() []TableResult {
	var failed []TableResult
	for _, t := range r.Tables {
		if t.Error != "" {
			failed = append(failed, t)
		}
	}
	return failed
}

func (r *ImportReport) TotalRows() int {
	total := 0
	for _, t := range r.Tables {
		if t.Error == "" {
			total += t.Rows
		}
	}
	return total
}

func skipTable(name string) bool {
	return strings.HasPrefix(name, "sqlite_") || name == migrationInfoKey || name == metadataKey
}

func normalizeString(s string) interface{} {
	if s == "" || s == noValue {
		return nil
	}
	return s
}

func jsonValue(v gjson.Result) interface{} {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.String:
		return normalizeString(v.Str)
	case gjson.Number:
		if strings.ContainsAny(v.Raw, ".eE") {
			return v.Float()
		}
		return v.Int()
	case gjson.True:
		return true
	case gjson.False:
		return false
	default:
		return v.Raw
	}
}

// ImportJSON replaces table contents with the rows of a structured export.
// Both the "rows" key and the older "data" key are accepted.
func (m *Manager) ImportJSON(ctx context.Context, path string) (*ImportReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s is not valid JSON", database.ErrValidation, filepath.Base(path))
	}

	var tables []tableData
	gjson.ParseBytes(data).ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if skipTable(name) || !value.IsObject() {
			return true
		}

		t := tableData{name: name}
		for _, c := range value.Get("columns").Array() {
			t.columns = append(t.columns, c.String())
		}

		rows := value.Get("rows")
		if !rows.Exists() {
			rows = value.Get("data")
		}
		rows.ForEach(func(_, row gjson.Result) bool {
			record := map[string]interface{}{}
			switch {
			case row.IsObject():
				row.ForEach(func(k, v gjson.Result) bool {
					record[k.String()] = jsonValue(v)
					return true
				})
			case row.IsArray():
				for i, v := range row.Array() {
					if i < len(t.columns) {
						record[t.columns[i]] = jsonValue(v)
					}
				}
			}
			t.rows = append(t.rows, record)
			return true
		})

		tables = append(tables, t)
		return true
	})

	return m.importTables(ctx, tables)
}

// ImportCSV reads every <table>_<base name of path> file next to path.
func (m *Manager) ImportCSV(ctx context.Context, path string) (*ImportReport, error) {
	dir, base := filepath.Dir(path), filepath.Base(path)
	suffix := "_" + base

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read import directory: %w", err)
	}

	var tables []tableData
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, suffix) || name == suffix {
			continue
		}
		table := strings.TrimSuffix(name, suffix)
		if skipTable(table) {
			continue
		}

		t, err := readCSV(filepath.Join(dir, name), table)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: no files matching *%s", database.ErrNotFound, suffix)
	}

	return m.importTables(ctx, tables)
}

func readCSV(path, table string) (tableData, error) {
	t := tableData{name: table}

	f, err := os.Open(path)
	if err != nil {
		return t, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return t, nil
	}
	if err != nil {
		return t, fmt.Errorf("failed to read CSV header of %s: %w", path, err)
	}
	t.columns = header

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return t, fmt.Errorf("failed to read %s: %w", path, err)
		}
		row := make(map[string]interface{}, len(header))
		for i, column := range header {
			if i < len(record) {
				row[column] = normalizeString(record[i])
			}
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func orderTables(tables []tableData) []tableData {
	rank := make(map[string]int, len(importOrder))
	for i, name := range importOrder {
		rank[name] = i
	}

	ordered := make([]tableData, len(tables))
	copy(ordered, tables)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, iok := rank[ordered[i].name]
		rj, jok := rank[ordered[j].name]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return false
		}
	})
	return ordered
}

// importTables runs on one dedicated connection with foreign keys off.
// Under BestEffort each table commits on its own and a failing table is
// rolled back and reported; under AllOrNothing the first failure undoes
// everything.
func (m *Manager) importTables(ctx context.Context, tables []tableData) (*ImportReport, error) {
	report := &ImportReport{Policy: m.policy}

	targetTables, err := m.store.Tables(ctx)
	if err != nil {
		return nil, err
	}
	targetColumns := make(map[string]map[string]bool, len(targetTables))
	for _, table := range targetTables {
		columns, err := m.store.TableInfo(ctx, table)
		if err != nil {
			return nil, err
		}
		set := make(map[string]bool, len(columns))
		for _, c := range columns {
			set[c.Name] = true
		}
		targetColumns[table] = set
	}

	conn, err := m.store.DB().Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return nil, fmt.Errorf("failed to disable foreign keys: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), "PRAGMA foreign_keys = ON"); err != nil {
			logger.Error("Failed to re-enable foreign keys after import", "error", err)
		}
	}()

	var shared *sqlx.Tx
	if m.policy == AllOrNothing {
		shared, err = conn.BeginTxx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to begin import transaction: %w", err)
		}
		defer shared.Rollback()
	}

	for _, t := range orderTables(tables) {
		columns, ok := targetColumns[t.name]
		if !ok {
			logger.Warn("Skipping table missing from schema", "table", t.name)
			report.Tables = append(report.Tables, TableResult{Table: t.name, Skipped: true})
			continue
		}

		tx := shared
		if tx == nil {
			if tx, err = conn.BeginTxx(ctx, nil); err != nil {
				return report, fmt.Errorf("failed to begin import transaction: %w", err)
			}
		}

		n, err := importTable(ctx, tx, t, columns)
		if err == nil && shared == nil {
			err = tx.Commit()
		}
		if err != nil {
			if shared == nil {
				tx.Rollback()
			}
			logger.Error("Failed to import table", "table", t.name, "error", err)
			report.Tables = append(report.Tables, TableResult{Table: t.name, Error: err.Error()})
			if m.policy == AllOrNothing {
				return report, fmt.Errorf("import aborted at table %s: %w", t.name, err)
			}
			continue
		}

		logger.Info("Imported table", "table", t.name, "rows", n)
		report.Tables = append(report.Tables, TableResult{Table: t.name, Rows: n})
	}

	if shared != nil {
		if err := shared.Commit(); err != nil {
			return report, fmt.Errorf("failed to commit import: %w", err)
		}
	}

	m.checkForeignKeys(ctx, conn)

	if err := m.store.Initialize(ctx); err != nil {
		return report, fmt.Errorf("failed to re-initialize after import: %w", err)
	}

	logger.Info("Import completed", "policy", m.policy, "tables", len(report.Tables),
		"failed", len(report.Failed()), "rows", report.TotalRows())
	return report, nil
}

// importTable deletes the table's rows and inserts the imported ones.
// Columns the target schema does not know are dropped.
func importTable(ctx context.Context, tx *sqlx.Tx, t tableData, known map[string]bool) (int, error) {
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+database.QuoteIdent(t.name)); err != nil {
		return 0, fmt.Errorf("failed to clear table: %w", err)
	}

	dropped := map[string]bool{}
	inserted := 0
	for i, row := range t.rows {
		columns := make([]string, 0, len(row))
		for column := range row {
			if known[column] {
				columns = append(columns, column)
			} else {
				dropped[column] = true
			}
		}
		if len(columns) == 0 {
			continue
		}
		sort.Strings(columns)

		quoted := make([]string, len(columns))
		args := make([]interface{}, len(columns))
		for j, column := range columns {
			quoted[j] = database.QuoteIdent(column)
			args[j] = row[column]
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", database.QuoteIdent(t.name),
			strings.Join(quoted, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "))

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return inserted, fmt.Errorf("row %d: %w", i+1, err)
		}
		inserted++
	}

	for column := range dropped {
		logger.Warn("Dropped column unknown to schema", "table", t.name, "column", column)
	}
	return inserted, nil
}

type fkViolation struct {
	Table  string `db:"table"`
	RowID  *int64 `db:"rowid"`
	Parent string `db:"parent"`
	FKID   int    `db:"fkid"`
}

func (m *Manager) checkForeignKeys(ctx context.Context, conn *sqlx.Conn) {
	var violations []fkViolation
	if err := conn.SelectContext(ctx, &violations, "PRAGMA foreign_key_check"); err != nil {
		logger.Warn("Foreign key check failed", "error", err)
		return
	}
	for _, v := range violations {
		logger.Warn("Imported row violates foreign key", "table", v.Table, "parent", v.Parent)
	}
}
