// Package upsert implements the idempotent merge-by-key writer every
// ingestion and enrichment step goes through.
package upsert

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PageSize is the number of rows sent per INSERT statement.
const PageSize = 1000

// Upsert inserts rows into table and, for rows whose keyColumns match an
// existing row, overwrites every other column. Each row holds one value per
// entry in columns, in the same order.
//
// The return value is the number of rows submitted, not the number changed.
// An empty batch returns 0 without touching the database. Rows repeating a
// key within the batch collapse to the last occurrence.
func Upsert(ctx context.Context, db *gorm.DB, table string, columns []string, rows [][]any, keyColumns []string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(keyColumns) == 0 {
		return 0, fmt.Errorf("upsert into %s: no key columns given", table)
	}

	position := make(map[string]int, len(columns))
	for i, c := range columns {
		position[c] = i
	}
	keyIdx := make([]int, len(keyColumns))
	isKey := make(map[string]bool, len(keyColumns))
	for i, k := range keyColumns {
		p, ok := position[k]
		if !ok {
			return 0, fmt.Errorf("upsert into %s: key column %q not in column list", table, k)
		}
		keyIdx[i] = p
		isKey[k] = true
	}

	records := make([]map[string]any, 0, len(rows))
	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("upsert into %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		rec := make(map[string]any, len(columns))
		for j, c := range columns {
			rec[c] = row[j]
		}
		k := naturalKey(row, keyIdx)
		if at, ok := seen[k]; ok {
			records[at] = rec
			continue
		}
		seen[k] = len(records)
		records = append(records, rec)
	}

	conflict := clause.OnConflict{}
	for _, k := range keyColumns {
		conflict.Columns = append(conflict.Columns, clause.Column{Name: k})
	}
	var updates []string
	for _, c := range columns {
		if !isKey[c] {
			updates = append(updates, c)
		}
	}
	if len(updates) == 0 {
		conflict.DoNothing = true
	} else {
		conflict.DoUpdates = clause.AssignmentColumns(updates)
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(records); start += PageSize {
			end := min(start+PageSize, len(records))
			if err := tx.Table(table).Clauses(conflict).Create(records[start:end]).Error; err != nil {
				return fmt.Errorf("rows %d-%d: %w", start, end-1, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert into %s failed: %w", table, err)
	}
	return len(rows), nil
}

// naturalKey renders the key values of a row so pointer and value forms of
// the same key compare equal.
func naturalKey(row []any, keyIdx []int) string {
	parts := make([]string, len(keyIdx))
	for i, idx := range keyIdx {
		parts[i] = keyPart(row[idx])
	}
	return strings.Join(parts, "\x1f")
}

func keyPart(v any) string {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "\x00"
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return "\x00"
	}
	if t, ok := rv.Interface().(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(rv.Interface())
}
