package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"screener-engine/src/helpers"
	"screener-engine/src/models"
)

const instrumentColumns = "symbol, name, sector, industry, market_cap, active, updated_at"

// -----------------------------------------------------------------------------

// UpsertInstruments registers or updates directory entries.
func (d *SQLDB) UpsertInstruments(ctx context.Context, instruments []models.MInstrument) error {
	if len(instruments) == 0 {
		return nil
	}

	query := d.rebind(fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol) DO UPDATE SET
			name = EXCLUDED.name,
			sector = EXCLUDED.sector,
			industry = EXCLUDED.industry,
			market_cap = EXCLUDED.market_cap,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`, d.table("instruments"), instrumentColumns))

	return d.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return helpers.NewDatabaseError("prepare instrument upsert", err)
		}
		defer stmt.Close()

		for _, inst := range instruments {
			if inst.Symbol == "" {
				return helpers.NewValidationError("instrument without symbol", nil)
			}
			updatedAt := inst.UpdatedAt
			if updatedAt.IsZero() {
				updatedAt = time.Now().UTC()
			}
			_, err := stmt.ExecContext(ctx, inst.Symbol, inst.Name, inst.Sector, inst.Industry, inst.MarketCap, inst.Active, updatedAt.Unix())
			if err != nil {
				return helpers.NewDatabaseError("upsert instrument "+inst.Symbol, err)
			}
		}
		return nil
	})
}

// -----------------------------------------------------------------------------

func (d *SQLDB) GetInstrument(ctx context.Context, symbol string) (*models.MInstrument, error) {
	list, err := d.queryInstruments(ctx, "WHERE symbol = ?", symbol)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, helpers.ErrNotFound
	}
	return &list[0], nil
}

// -----------------------------------------------------------------------------

func (d *SQLDB) ListActiveInstruments(ctx context.Context) ([]models.MInstrument, error) {
	return d.queryInstruments(ctx, "WHERE active = ?", true)
}

// -----------------------------------------------------------------------------

// DeactivateInstrument drops a symbol from the universe and clears its
// derived state in one transaction.
func (d *SQLDB) DeactivateInstrument(ctx context.Context, symbol string) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, d.rebind(fmt.Sprintf(`UPDATE %s SET active = ?, updated_at = ? WHERE symbol = ?`, d.table("instruments"))),
			false, time.Now().UTC().Unix(), symbol)
		if err != nil {
			return helpers.NewDatabaseError("deactivate instrument", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return helpers.ErrNotFound
		}

		for _, table := range []string{"screener_rows", "staleness", "ref_daily", "ref_minute"} {
			if _, err := tx.ExecContext(ctx, d.rebind(fmt.Sprintf(`DELETE FROM %s WHERE symbol = ?`, d.table(table))), symbol); err != nil {
				return helpers.NewDatabaseError("clear "+table, err)
			}
		}
		return nil
	})
}

// -----------------------------------------------------------------------------

func (d *SQLDB) queryInstruments(ctx context.Context, where string, args ...any) ([]models.MInstrument, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY symbol`, instrumentColumns, d.table("instruments"), where)

	rows, err := d.DB.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, helpers.NewDatabaseError("query instruments", err)
	}
	defer rows.Close()

	var out []models.MInstrument
	for rows.Next() {
		var (
			inst      models.MInstrument
			updatedAt int64
		)
		if err := rows.Scan(&inst.Symbol, &inst.Name, &inst.Sector, &inst.Industry, &inst.MarketCap, &inst.Active, &updatedAt); err != nil {
			return nil, helpers.NewDatabaseError("scan instrument", err)
		}
		inst.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, helpers.NewDatabaseError("iterate instruments", err)
	}
	return out, nil
}
