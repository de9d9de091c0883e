package server

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"screener-engine/src/models"

	"github.com/gin-gonic/gin"
)

const maxLimit = 5000

type rowField = models.FloatField[models.MScreenerRow]

// rowQuery is a parsed /api/screener request.
type rowQuery struct {
	fields  []rowField // nil means every field
	symbols map[string]bool
	sortBy  *rowField
	desc    bool
	limit   int
}

// -----------------------------------------------------------------------------

func parseQuery(c *gin.Context) (rowQuery, error) {
	var q rowQuery

	for _, name := range splitList(c.Query("fields")) {
		f, ok := models.LookupField(models.ScreenerFields, name)
		if !ok {
			return q, fmt.Errorf("unknown field %q", name)
		}
		q.fields = append(q.fields, f)
	}

	if symbols := splitList(c.Query("symbols")); len(symbols) > 0 {
		q.symbols = make(map[string]bool, len(symbols))
		for _, s := range symbols {
			q.symbols[strings.ToUpper(s)] = true
		}
	}

	if name := c.Query("sort"); name != "" {
		name, q.desc = strings.CutPrefix(name, "-")
		f, ok := models.LookupField(models.ScreenerFields, name)
		if !ok {
			return q, fmt.Errorf("unknown sort field %q", name)
		}
		q.sortBy = &f
	}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxLimit {
			return q, fmt.Errorf("limit must be between 1 and %d", maxLimit)
		}
		q.limit = n
	}
	return q, nil
}

// -----------------------------------------------------------------------------

// apply filters, sorts (nulls last) and truncates rows.
func (q rowQuery) apply(rows []models.MScreenerRow) []models.MScreenerRow {
	if q.symbols != nil {
		kept := rows[:0]
		for _, r := range rows {
			if q.symbols[r.Symbol] {
				kept = append(kept, r)
			}
		}
		rows = kept
	}

	if q.sortBy != nil {
		ref := q.sortBy.Ref
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := ref(&rows[i]), ref(&rows[j])
			if !a.Valid || !b.Valid {
				return a.Valid && !b.Valid
			}
			if q.desc {
				return a.Float64 > b.Float64
			}
			return a.Float64 < b.Float64
		})
	}

	if q.limit > 0 && len(rows) > q.limit {
		rows = rows[:q.limit]
	}
	return rows
}

// -----------------------------------------------------------------------------

// project renders the identity columns plus the requested fields.
func (q rowQuery) project(r *models.MScreenerRow) gin.H {
	fields := q.fields
	if fields == nil {
		fields = models.ScreenerFields
	}

	out := gin.H{
		"symbol":      r.Symbol,
		"name":        r.Name,
		"sector":      r.Sector,
		"industry":    r.Industry,
		"snapshot_at": r.SnapshotAt,
	}
	for _, f := range fields {
		out[f.Name] = *f.Ref(r)
	}
	return out
}

// -----------------------------------------------------------------------------

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// coarsestWithin names resampled bars by the widest resolution that fits in
// window.
func coarsestWithin(window time.Duration) models.Resolution {
	out := models.AllResolutions[0]
	for _, r := range models.AllResolutions {
		if r.Duration() <= window {
			out = r
		}
	}
	return out
}
