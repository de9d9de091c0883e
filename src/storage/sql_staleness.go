package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"screener-engine/src/helpers"
	"screener-engine/src/models"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------

// MarkDirty creates missing entries as dirty and advances existing ones.
func (d *SQLDB) MarkDirty(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	query := d.rebind(fmt.Sprintf(`
		INSERT INTO %s (symbol, state, last_update) VALUES (?, 'dirty', 0)
		ON CONFLICT (symbol) DO UPDATE SET state = CASE %s.state
			WHEN 'fresh' THEN 'dirty'
			WHEN 'claimed' THEN 'claimed_dirty'
			ELSE %s.state END
	`, d.table("staleness"), d.table("staleness"), d.table("staleness")))

	return d.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return helpers.NewDatabaseError("prepare mark dirty", err)
		}
		defer stmt.Close()

		for _, symbol := range uniqueSorted(symbols) {
			if _, err := stmt.ExecContext(ctx, symbol); err != nil {
				return helpers.NewDatabaseError("mark dirty", err)
			}
		}
		return nil
	})
}

// -----------------------------------------------------------------------------

// Claim atomically moves up to limit claimable entries to claimed under a
// fresh token. On Postgres, rows locked by a concurrent claimer are skipped.
func (d *SQLDB) Claim(ctx context.Context, limit int, now time.Time, claimTimeout time.Duration) (*models.MClaim, error) {
	claim := &models.MClaim{Token: uuid.NewString(), ClaimedAt: now}
	if limit <= 0 {
		return claim, nil
	}

	expiredBefore := int64(-1)
	if claimTimeout > 0 {
		expiredBefore = now.Add(-claimTimeout).Unix()
	}

	t := d.table("staleness")
	query := fmt.Sprintf(`
		UPDATE %s SET
			state = CASE WHEN state = 'claimed_dirty' THEN 'claimed_dirty' ELSE 'claimed' END,
			claim_token = ?,
			claimed_at = ?
		WHERE symbol IN (
			SELECT symbol FROM %s
			WHERE state = 'dirty'
			   OR (state IN ('claimed', 'claimed_dirty') AND claimed_at <= ?)
			ORDER BY last_update ASC, symbol ASC
			LIMIT ?%s
		)
		RETURNING symbol
	`, t, t, d.dialect.skipLocked)

	rows, err := d.DB.QueryContext(ctx, d.rebind(query), claim.Token, now.Unix(), expiredBefore, limit)
	if err != nil {
		return nil, helpers.NewDatabaseError("claim", err)
	}
	defer rows.Close()

	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, helpers.NewDatabaseError("scan claim", err)
		}
		claim.Symbols = append(claim.Symbols, symbol)
	}
	if err := rows.Err(); err != nil {
		return nil, helpers.NewDatabaseError("iterate claim", err)
	}

	sort.Strings(claim.Symbols)
	return claim, nil
}

// -----------------------------------------------------------------------------

// Release returns every entry still held by the claim to dirty.
func (d *SQLDB) Release(ctx context.Context, claim *models.MClaim) error {
	if claim.Empty() {
		return nil
	}
	query := fmt.Sprintf(`UPDATE %s SET state = 'dirty', claim_token = NULL, claimed_at = NULL WHERE claim_token = ?`, d.table("staleness"))
	if _, err := d.DB.ExecContext(ctx, d.rebind(query), claim.Token); err != nil {
		return helpers.NewDatabaseError("release claim", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLDB) Forget(ctx context.Context, claim *models.MClaim, symbols []string) error {
	if claim.Empty() || len(symbols) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE claim_token = ? AND symbol IN (%s)`, d.table("staleness"), placeholders(len(symbols)))
	args := append([]any{claim.Token}, stringArgs(symbols)...)
	if _, err := d.DB.ExecContext(ctx, d.rebind(query), args...); err != nil {
		return helpers.NewDatabaseError("forget claimed entries", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// CommitRows finalizes the staleness entries still held by the claim and
// writes their rows in one transaction.
func (d *SQLDB) CommitRows(ctx context.Context, claim *models.MClaim, rows []models.MScreenerRow, now time.Time) ([]string, error) {
	if claim.Empty() || len(rows) == 0 {
		return nil, nil
	}

	symbols := make([]string, 0, len(rows))
	for _, r := range rows {
		symbols = append(symbols, r.Symbol)
	}

	var committed []string
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		committed = committed[:0]

		query := fmt.Sprintf(`
			UPDATE %s SET
				state = CASE WHEN state = 'claimed_dirty' THEN 'dirty' ELSE 'fresh' END,
				last_update = ?,
				claim_token = NULL,
				claimed_at = NULL
			WHERE claim_token = ? AND symbol IN (%s)
			RETURNING symbol
		`, d.table("staleness"), placeholders(len(symbols)))

		args := append([]any{now.Unix(), claim.Token}, stringArgs(symbols)...)
		held, err := tx.QueryContext(ctx, d.rebind(query), args...)
		if err != nil {
			return helpers.NewDatabaseError("finalize claim", err)
		}
		for held.Next() {
			var symbol string
			if err := held.Scan(&symbol); err != nil {
				held.Close()
				return helpers.NewDatabaseError("scan finalized symbol", err)
			}
			committed = append(committed, symbol)
		}
		held.Close()
		if err := held.Err(); err != nil {
			return helpers.NewDatabaseError("iterate finalized symbols", err)
		}

		keep := make(map[string]bool, len(committed))
		for _, s := range committed {
			keep[s] = true
		}
		var owned []models.MScreenerRow
		for _, r := range rows {
			if keep[r.Symbol] {
				owned = append(owned, r)
			}
		}
		return d.upsertRows(ctx, tx, owned)
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(committed)
	return committed, nil
}

// -----------------------------------------------------------------------------

func (d *SQLDB) GetStaleness(ctx context.Context, symbol string) (*models.MStalenessEntry, error) {
	query := fmt.Sprintf(`SELECT symbol, state, last_update, claim_token, claimed_at FROM %s WHERE symbol = ?`, d.table("staleness"))

	var (
		e          models.MStalenessEntry
		lastUpdate int64
		token      sql.NullString
		claimedAt  sql.NullInt64
	)
	err := d.DB.QueryRowContext(ctx, d.rebind(query), symbol).Scan(&e.Symbol, &e.State, &lastUpdate, &token, &claimedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, helpers.ErrNotFound
	}
	if err != nil {
		return nil, helpers.NewDatabaseError("get staleness", err)
	}

	if lastUpdate > 0 {
		e.LastUpdate = time.Unix(lastUpdate, 0).UTC()
	}
	e.ClaimToken = token.String
	if claimedAt.Valid {
		e.ClaimedAt = time.Unix(claimedAt.Int64, 0).UTC()
	}
	return &e, nil
}

// -----------------------------------------------------------------------------

func (d *SQLDB) StalenessSummary(ctx context.Context) (map[models.StalenessState]int, error) {
	rows, err := d.DB.QueryContext(ctx, fmt.Sprintf(`SELECT state, COUNT(*) FROM %s GROUP BY state`, d.table("staleness")))
	if err != nil {
		return nil, helpers.NewDatabaseError("staleness summary", err)
	}
	defer rows.Close()

	out := make(map[models.StalenessState]int, len(models.AllStalenessStates))
	for _, s := range models.AllStalenessStates {
		out[s] = 0
	}
	for rows.Next() {
		var (
			state models.StalenessState
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, helpers.NewDatabaseError("scan staleness summary", err)
		}
		out[state] = n
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------

func uniqueSorted(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	j := 0
	for i, v := range out {
		if i > 0 && v == out[j-1] {
			continue
		}
		out[j] = v
		j++
	}
	return out[:j]
}
