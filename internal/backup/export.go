package backup

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"jms/internal/database"
	"jms/internal/logger"
	"jms/internal/models"
)

const (
	SoftwareVersion = "1.0"
	SchemaVersion   = "1.0"

	migrationInfoKey = "_migration_info"
	metadataKey      = "_metadata"
)

var exportWarnings = []string{
	"Always backup before import",
	"Verify version compatibility",
}

// TableExport is one table of a structured export.
type TableExport struct {
	Columns     []string                 `json:"columns"`
	ColumnTypes []string                 `json:"column_types"`
	Rows        []map[string]interface{} `json:"rows"`
	RowCount    int                      `json:"row_count"`
}

type MigrationInfo struct {
	SoftwareVersion    string         `json:"software_version"`
	ExportDate         string         `json:"export_date"`
	SchemaVersion      string         `json:"schema_version"`
	CompatibilityLevel string         `json:"compatibility_level"`
	ExportType         string         `json:"export_type"`
	TableCount         int            `json:"table_count"`
	TotalRows          int            `json:"total_rows"`
	TableRows          map[string]int `json:"table_rows"`
	Warnings           []string       `json:"warnings"`
}

// Snapshot reads every user table into memory.
func (m *Manager) Snapshot(ctx context.Context) (map[string]*TableExport, *MigrationInfo, error) {
	tables, err := m.store.Tables(ctx)
	if err != nil {
		return nil, nil, err
	}

	snapshot := make(map[string]*TableExport, len(tables))
	info := &MigrationInfo{
		SoftwareVersion:    SoftwareVersion,
		ExportDate:         m.now().Format(time.RFC3339),
		SchemaVersion:      SchemaVersion,
		CompatibilityLevel: "enhanced",
		ExportType:         "database_models",
		TableRows:          make(map[string]int, len(tables)),
		Warnings:           exportWarnings,
	}

	for _, table := range tables {
		export, err := m.exportTable(ctx, table)
		if err != nil {
			return nil, nil, err
		}
		snapshot[table] = export
		info.TableRows[table] = export.RowCount
		info.TotalRows += export.RowCount
	}
	info.TableCount = len(snapshot)

	return snapshot, info, nil
}

func (m *Manager) exportTable(ctx context.Context, table string) (*TableExport, error) {
	columns, err := m.store.TableInfo(ctx, table)
	if err != nil {
		return nil, err
	}

	export := &TableExport{
		Columns:     make([]string, len(columns)),
		ColumnTypes: make([]string, len(columns)),
		Rows:        []map[string]interface{}{},
	}
	for i, c := range columns {
		export.Columns[i] = c.Name
		export.ColumnTypes[i] = c.Type
	}

	rows, err := m.store.DB().QueryxContext(ctx, "SELECT * FROM "+database.QuoteIdent(table))
	if err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		row := make(map[string]interface{}, len(columns))
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan row of %s: %w", table, err)
		}
		for k, v := range row {
			row[k] = exportValue(v)
		}
		export.Rows = append(export.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", table, err)
	}

	export.RowCount = len(export.Rows)
	return export, nil
}

// exportValue keeps JSON primitives and stringifies everything else.
func exportValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, int64, float64, bool, string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		if val.IsZero() {
			return nil
		}
		return val.Format(models.TimestampLayout)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// ExportJSON writes a structured export of all tables to path.
func (m *Manager) ExportJSON(ctx context.Context, path string) (*MigrationInfo, error) {
	snapshot, info, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	doc := make(map[string]interface{}, len(snapshot)+1)
	for table, export := range snapshot {
		doc[table] = export
	}
	doc[migrationInfoKey] = info

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}

	if err := writeFile(path, data); err != nil {
		return nil, err
	}

	logger.Info("Data exported", "format", "json", "path", path, "tables", info.TableCount, "rows", info.TotalRows)
	return info, nil
}

// ExportCSV writes one CSV file per table next to path, named
// <table>_<base name of path>. It returns the files written.
func (m *Manager) ExportCSV(ctx context.Context, path string) ([]string, error) {
	snapshot, info, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	dir, base := filepath.Dir(path), filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	var files []string
	for table, export := range snapshot {
		target := filepath.Join(dir, table+"_"+base)
		if err := writeCSV(target, export); err != nil {
			return files, err
		}
		files = append(files, target)
	}

	logger.Info("Data exported", "format", "csv", "dir", dir, "tables", info.TableCount, "rows", info.TotalRows)
	return files, nil
}

func writeCSV(path string, export *TableExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(export.Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, row := range export.Rows {
		record := make([]string, len(export.Columns))
		for i, column := range export.Columns {
			record[i] = csvValue(row[column])
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func csvValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", val)
	}
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
