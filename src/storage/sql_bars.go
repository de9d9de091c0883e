package storage

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"screener-engine/src/helpers"
	"screener-engine/src/models"
)

const barColumns = "symbol, ts, open, high, low, close, volume"

// -----------------------------------------------------------------------------

// AppendBars inserts bars grouped by resolution. Existing keys are left
// untouched and left out of the returned slice.
func (d *SQLDB) AppendBars(ctx context.Context, bars []models.MBar) ([]models.MBar, error) {
	if len(bars) == 0 {
		return nil, nil
	}
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return nil, helpers.NewValidationError("append bars", err)
		}
	}

	byRes := make(map[models.Resolution][]models.MBar)
	for _, b := range bars {
		byRes[b.Resolution] = append(byRes[b.Resolution], b)
	}

	var inserted []models.MBar
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		inserted = inserted[:0]
		for _, res := range models.AllResolutions {
			list := byRes[res]
			if len(list) == 0 {
				continue
			}

			stmt, err := tx.PrepareContext(ctx, d.rebind(fmt.Sprintf(`
				INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (symbol, ts) DO NOTHING
			`, d.barTable(res), barColumns)))
			if err != nil {
				return helpers.NewDatabaseError("prepare bar insert", err)
			}

			for _, b := range list {
				result, err := stmt.ExecContext(ctx, b.Symbol, b.Timestamp.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume)
				if err != nil {
					stmt.Close()
					return helpers.NewDatabaseError("insert bar", err)
				}
				if n, err := result.RowsAffected(); err == nil && n > 0 {
					inserted = append(inserted, b)
				}
			}
			stmt.Close()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// -----------------------------------------------------------------------------

func (d *SQLDB) LatestBar(ctx context.Context, symbol string, res models.Resolution, at time.Time) (*models.MBar, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE symbol = ? AND ts <= ? ORDER BY ts DESC LIMIT 1`, barColumns, d.barTable(res))
	return d.queryOneBar(ctx, res, query, symbol, at.Unix())
}

// -----------------------------------------------------------------------------

func (d *SQLDB) EarliestBar(ctx context.Context, symbol string, res models.Resolution, from, to time.Time) (*models.MBar, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC LIMIT 1`, barColumns, d.barTable(res))
	return d.queryOneBar(ctx, res, query, symbol, from.Unix(), to.Unix())
}

// -----------------------------------------------------------------------------

func (d *SQLDB) LastBars(ctx context.Context, symbol string, res models.Resolution, at time.Time, n int) ([]models.MBar, error) {
	if n <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE symbol = ? AND ts <= ? ORDER BY ts DESC LIMIT ?`, barColumns, d.barTable(res))
	bars, err := d.queryBars(ctx, res, query, symbol, at.Unix(), n)
	if err != nil {
		return nil, err
	}
	slices.Reverse(bars)
	return bars, nil
}

// -----------------------------------------------------------------------------

func (d *SQLDB) RangeBars(ctx context.Context, symbol string, res models.Resolution, from, to time.Time) ([]models.MBar, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC`, barColumns, d.barTable(res))
	return d.queryBars(ctx, res, query, symbol, from.Unix(), to.Unix())
}

// -----------------------------------------------------------------------------

func (d *SQLDB) BarsBefore(ctx context.Context, res models.Resolution, cutoff time.Time) ([]models.MBar, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE ts < ? ORDER BY symbol, ts`, barColumns, d.barTable(res))
	return d.queryBars(ctx, res, query, cutoff.Unix())
}

// -----------------------------------------------------------------------------

func (d *SQLDB) DeleteBars(ctx context.Context, res models.Resolution, bars []models.MBar) error {
	if len(bars) == 0 {
		return nil
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, d.rebind(fmt.Sprintf(`DELETE FROM %s WHERE symbol = ? AND ts = ?`, d.barTable(res))))
		if err != nil {
			return helpers.NewDatabaseError("prepare bar delete", err)
		}
		defer stmt.Close()

		for _, b := range bars {
			if _, err := stmt.ExecContext(ctx, b.Symbol, b.Timestamp.Unix()); err != nil {
				return helpers.NewDatabaseError("delete bar", err)
			}
		}
		return nil
	})
}

// -----------------------------------------------------------------------------

func (d *SQLDB) DeleteBarsBefore(ctx context.Context, res models.Resolution, cutoff time.Time) (int64, error) {
	result, err := d.DB.ExecContext(ctx, d.rebind(fmt.Sprintf(`DELETE FROM %s WHERE ts < ?`, d.barTable(res))), cutoff.Unix())
	if err != nil {
		return 0, helpers.NewDatabaseError("delete old bars", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// -----------------------------------------------------------------------------

func (d *SQLDB) queryOneBar(ctx context.Context, res models.Resolution, query string, args ...any) (*models.MBar, error) {
	bars, err := d.queryBars(ctx, res, query, args...)
	if err != nil || len(bars) == 0 {
		return nil, err
	}
	return &bars[0], nil
}

// -----------------------------------------------------------------------------

func (d *SQLDB) queryBars(ctx context.Context, res models.Resolution, query string, args ...any) ([]models.MBar, error) {
	rows, err := d.DB.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, helpers.NewDatabaseError("query bars", err)
	}
	defer rows.Close()

	var bars []models.MBar
	for rows.Next() {
		var (
			b  models.MBar
			ts int64
		)
		if err := rows.Scan(&b.Symbol, &ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, helpers.NewDatabaseError("scan bar", err)
		}
		b.Resolution = res
		b.Timestamp = time.Unix(ts, 0).UTC()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, helpers.NewDatabaseError("iterate bars", err)
	}
	return bars, nil
}
