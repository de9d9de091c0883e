package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"screener-engine/src/helpers"
	"screener-engine/src/models"
)

var rowHeadColumns = []string{"symbol", "name", "sector", "industry", "snapshot_at", "schema_version"}

// -----------------------------------------------------------------------------

// upsertQuery builds an insert that replaces every non-key column on conflict.
func (d *SQLDB) upsertQuery(table string, key []string, columns []string) string {
	var sets []string
	isKey := make(map[string]bool, len(key))
	for _, k := range key {
		isKey[k] = true
	}
	for _, c := range columns {
		if !isKey[c] {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}

	return d.rebind(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s`,
		d.table(table),
		strings.Join(columns, ", "),
		placeholders(len(columns)),
		strings.Join(key, ", "),
		strings.Join(sets, ", "),
	))
}

// -----------------------------------------------------------------------------

func (d *SQLDB) upsertRows(ctx context.Context, tx *sql.Tx, rows []models.MScreenerRow) error {
	if len(rows) == 0 {
		return nil
	}

	columns := append(append([]string(nil), rowHeadColumns...), models.FieldNames(models.ScreenerFields)...)
	stmt, err := tx.PrepareContext(ctx, d.upsertQuery("screener_rows", []string{"symbol"}, columns))
	if err != nil {
		return helpers.NewDatabaseError("prepare row upsert", err)
	}
	defer stmt.Close()

	for i := range rows {
		r := &rows[i]
		args := []any{r.Symbol, r.Name, r.Sector, r.Industry, r.SnapshotAt.Unix(), r.SchemaVersion}
		for _, f := range models.ScreenerFields {
			args = append(args, *f.Ref(r))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return helpers.NewDatabaseError("upsert row "+r.Symbol, err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLDB) GetRow(ctx context.Context, symbol string) (*models.MScreenerRow, error) {
	rows, err := d.selectRows(ctx, "WHERE symbol = ?", symbol)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, helpers.ErrNotFound
	}
	return &rows[0], nil
}

// -----------------------------------------------------------------------------

func (d *SQLDB) ListRows(ctx context.Context) ([]models.MScreenerRow, error) {
	return d.selectRows(ctx, "")
}

// -----------------------------------------------------------------------------

func (d *SQLDB) selectRows(ctx context.Context, where string, args ...any) ([]models.MScreenerRow, error) {
	columns := append(append([]string(nil), rowHeadColumns...), models.FieldNames(models.ScreenerFields)...)
	query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY symbol`, strings.Join(columns, ", "), d.table("screener_rows"), where)

	rows, err := d.DB.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, helpers.NewDatabaseError("query rows", err)
	}
	defer rows.Close()

	var out []models.MScreenerRow
	for rows.Next() {
		var (
			r          models.MScreenerRow
			snapshotAt int64
		)
		dest := []any{&r.Symbol, &r.Name, &r.Sector, &r.Industry, &snapshotAt, &r.SchemaVersion}
		for _, f := range models.ScreenerFields {
			dest = append(dest, f.Ref(&r))
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, helpers.NewDatabaseError("scan row", err)
		}
		r.SnapshotAt = time.Unix(snapshotAt, 0).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, helpers.NewDatabaseError("iterate rows", err)
	}
	return out, nil
}
