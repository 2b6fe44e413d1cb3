package warehouse

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Record is a single extracted row keyed by column name.
type Record map[string]any

// Batch is the result of one extraction query.
type Batch struct {
	Columns []string `json:"columns"`
	Records []Record `json:"records"`
	Count   int      `json:"count"`
}

// Column describes one column of a warehouse table.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// SelectSince fetches every row of database.table whose timestamp column is
// strictly greater than watermark, oldest first. The watermark is bound as a
// query parameter and parsed server side: RFC3339 carries T and Z markers the
// plain String to DateTime cast rejects. Identifiers come from trusted
// configuration.
func SelectSince(ctx context.Context, conn Conn, database, table, tsColumn, watermark string) (Batch, error) {
	query := fmt.Sprintf("SELECT * FROM %s.%s WHERE %s > parseDateTimeBestEffort(?) ORDER BY %s ASC", database, table, tsColumn, tsColumn)

	rows, err := conn.Query(ctx, query, watermark)
	if err != nil {
		return Batch{}, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// Describe returns the column listing of database.table.
func Describe(ctx context.Context, conn Conn, database, table string) ([]Column, error) {
	rows, err := conn.Query(ctx, fmt.Sprintf("DESCRIBE TABLE %s.%s", database, table))
	if err != nil {
		return nil, fmt.Errorf("failed to describe table: %w", err)
	}
	defer rows.Close()

	batch, err := scanRows(rows)
	if err != nil {
		return nil, err
	}

	columns := make([]Column, 0, batch.Count)
	for _, record := range batch.Records {
		name, _ := record["name"].(string)
		typ, _ := record["type"].(string)
		columns = append(columns, Column{Name: name, Type: typ})
	}
	return columns, nil
}

// scanRows drains rows into a Batch. The native protocol needs typed scan
// destinations, so each row scans into pointers allocated from the column
// scan types.
func scanRows(rows driver.Rows) (Batch, error) {
	columns := rows.Columns()
	columnTypes := rows.ColumnTypes()

	var records []Record
	for rows.Next() {
		values := make([]any, len(columnTypes))
		for i := range columnTypes {
			values[i] = reflect.New(columnTypes[i].ScanType()).Interface()
		}

		if err := rows.Scan(values...); err != nil {
			return Batch{}, fmt.Errorf("failed to scan row: %w", err)
		}

		record := make(Record, len(columns))
		for i, col := range columns {
			val := reflect.ValueOf(values[i]).Elem().Interface()
			switch v := val.(type) {
			case []byte:
				record[col] = string(v)
			default:
				record[col] = val
			}
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return Batch{}, fmt.Errorf("error iterating rows: %w", err)
	}

	return Batch{
		Columns: columns,
		Records: records,
		Count:   len(records),
	}, nil
}

// TimestampString serializes a timestamp cell for watermark bookkeeping.
// time.Time values render as UTC RFC3339; anything else falls back to its
// fmt.Sprint form. Watermark ordering is the lexical order of these strings.
func TimestampString(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
