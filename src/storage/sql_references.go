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

// -----------------------------------------------------------------------------

func (d *SQLDB) UpsertDailyReferences(ctx context.Context, refs []models.MDailyReference) error {
	return upsertReferences(ctx, d, "ref_daily", models.DailyReferenceFields, refs,
		func(r *models.MDailyReference) (string, time.Time) { return r.Symbol, r.ComputedAt })
}

func (d *SQLDB) UpsertMinuteReferences(ctx context.Context, refs []models.MMinuteReference) error {
	return upsertReferences(ctx, d, "ref_minute", models.MinuteReferenceFields, refs,
		func(r *models.MMinuteReference) (string, time.Time) { return r.Symbol, r.ComputedAt })
}

// -----------------------------------------------------------------------------

func (d *SQLDB) GetDailyReference(ctx context.Context, symbol string) (*models.MDailyReference, error) {
	return getReference(ctx, d, "ref_daily", models.DailyReferenceFields, symbol,
		func(r *models.MDailyReference) (*string, *time.Time) { return &r.Symbol, &r.ComputedAt })
}

func (d *SQLDB) GetMinuteReference(ctx context.Context, symbol string) (*models.MMinuteReference, error) {
	return getReference(ctx, d, "ref_minute", models.MinuteReferenceFields, symbol,
		func(r *models.MMinuteReference) (*string, *time.Time) { return &r.Symbol, &r.ComputedAt })
}

// -----------------------------------------------------------------------------

// upsertReferences replaces whole reference rows in one transaction.
func upsertReferences[T any](ctx context.Context, d *SQLDB, table string, fields []models.FloatField[T], refs []T, key func(*T) (string, time.Time)) error {
	if len(refs) == 0 {
		return nil
	}

	columns := append([]string{"symbol", "computed_at"}, models.FieldNames(fields)...)
	query := d.upsertQuery(table, []string{"symbol"}, columns)

	return d.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return helpers.NewDatabaseError("prepare "+table+" upsert", err)
		}
		defer stmt.Close()

		for i := range refs {
			ref := &refs[i]
			symbol, computedAt := key(ref)
			args := []any{symbol, computedAt.Unix()}
			for _, f := range fields {
				args = append(args, *f.Ref(ref))
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return helpers.NewDatabaseError("upsert "+table+" "+symbol, err)
			}
		}
		return nil
	})
}

// -----------------------------------------------------------------------------

func getReference[T any](ctx context.Context, d *SQLDB, table string, fields []models.FloatField[T], symbol string, key func(*T) (*string, *time.Time)) (*T, error) {
	columns := append([]string{"symbol", "computed_at"}, models.FieldNames(fields)...)
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE symbol = ?`, strings.Join(columns, ", "), d.table(table))

	var (
		ref        T
		computedAt int64
	)
	sym, at := key(&ref)
	dest := []any{sym, &computedAt}
	for _, f := range fields {
		dest = append(dest, f.Ref(&ref))
	}

	err := d.DB.QueryRowContext(ctx, d.rebind(query), symbol).Scan(dest...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, helpers.NewDatabaseError("get "+table, err)
	}
	*at = time.Unix(computedAt, 0).UTC()
	return &ref, nil
}
