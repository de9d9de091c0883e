package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"screener-engine/src/helpers"
	"screener-engine/src/models"

	"github.com/shopspring/decimal"
)

var rollupColumns = []string{"symbol", "day", "session", "open", "high", "low", "close", "volume", "dollar_volume", "first_at", "last_at", "bar_count"}

// -----------------------------------------------------------------------------

// MergeRollup folds delta into the stored rollup under a row lock. An empty
// placeholder is inserted first so that two first bars of a session
// serialize on the same row instead of racing on insert.
func (d *SQLDB) MergeRollup(ctx context.Context, delta models.MSessionRollup) (*models.MSessionRollup, error) {
	var merged models.MSessionRollup

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		t := d.table("session_rollups")
		seed := fmt.Sprintf(`
			INSERT INTO %s (symbol, day, session, open, high, low, close, volume, dollar_volume, first_at, last_at, bar_count)
			VALUES (?, ?, ?, 0, 0, 0, 0, '0', '0', 0, 0, 0)
			ON CONFLICT (symbol, day, session) DO NOTHING
		`, t)
		if _, err := tx.ExecContext(ctx, d.rebind(seed), delta.Symbol, delta.Day, string(delta.Session)); err != nil {
			return helpers.NewDatabaseError("seed rollup", err)
		}

		current, err := d.scanRollup(tx.QueryRowContext(ctx, d.rebind(fmt.Sprintf(
			`SELECT %s FROM %s WHERE symbol = ? AND day = ? AND session = ?%s`,
			strings.Join(rollupColumns, ", "), t, d.dialect.forUpdate,
		)), delta.Symbol, delta.Day, string(delta.Session)))
		if err != nil {
			return err
		}

		merged = current.Merge(delta)
		return d.putRollup(ctx, tx, merged)
	})
	if err != nil {
		return nil, err
	}
	return &merged, nil
}

// -----------------------------------------------------------------------------

func (d *SQLDB) PutRollup(ctx context.Context, r models.MSessionRollup) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		return d.putRollup(ctx, tx, r)
	})
}

// -----------------------------------------------------------------------------

func (d *SQLDB) GetRollup(ctx context.Context, key models.MSessionKey) (*models.MSessionRollup, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE symbol = ? AND day = ? AND session = ?`, strings.Join(rollupColumns, ", "), d.table("session_rollups"))
	r, err := d.scanRollup(d.DB.QueryRowContext(ctx, d.rebind(query), key.Symbol, key.Day, string(key.Session)))
	if errors.Is(err, helpers.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.BarCount == 0 {
		return nil, nil
	}
	return &r, nil
}

// -----------------------------------------------------------------------------

func (d *SQLDB) DeleteRollupsBefore(ctx context.Context, day string) (int64, error) {
	result, err := d.DB.ExecContext(ctx, d.rebind(fmt.Sprintf(`DELETE FROM %s WHERE day < ?`, d.table("session_rollups"))), day)
	if err != nil {
		return 0, helpers.NewDatabaseError("prune rollups", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// -----------------------------------------------------------------------------

func (d *SQLDB) putRollup(ctx context.Context, tx *sql.Tx, r models.MSessionRollup) error {
	query := d.upsertQuery("session_rollups", []string{"symbol", "day", "session"}, rollupColumns)
	_, err := tx.ExecContext(ctx, query,
		r.Symbol, r.Day, string(r.Session),
		r.Open, r.High, r.Low, r.Close,
		r.Volume.String(), r.DollarVolume.String(),
		r.FirstAt.Unix(), r.LastAt.Unix(), r.BarCount,
	)
	if err != nil {
		return helpers.NewDatabaseError("write rollup", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLDB) scanRollup(row *sql.Row) (models.MSessionRollup, error) {
	var (
		r                    models.MSessionRollup
		session              string
		volume, dollarVolume string
		firstAt, lastAt      int64
	)
	err := row.Scan(&r.Symbol, &r.Day, &session, &r.Open, &r.High, &r.Low, &r.Close, &volume, &dollarVolume, &firstAt, &lastAt, &r.BarCount)
	if errors.Is(err, sql.ErrNoRows) {
		return r, helpers.ErrNotFound
	}
	if err != nil {
		return r, helpers.NewDatabaseError("scan rollup", err)
	}

	r.Session = models.Session(session)
	if r.Volume, err = decimal.NewFromString(volume); err != nil {
		return r, helpers.NewDatabaseError("parse rollup volume", err)
	}
	if r.DollarVolume, err = decimal.NewFromString(dollarVolume); err != nil {
		return r, helpers.NewDatabaseError("parse rollup dollar volume", err)
	}
	r.FirstAt = time.Unix(firstAt, 0).UTC()
	r.LastAt = time.Unix(lastAt, 0).UTC()
	return r, nil
}
