package consolidate

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/gtel-dmp/geopipe/internal/db"
)

// CheckResult is one data-quality check outcome.
type CheckResult struct {
	Name       string `json:"name"`
	Passed     bool   `json:"passed"`
	Violations int64  `json:"violations"`
	Detail     string `json:"detail,omitempty"`
}

// RunChecks executes all warehouse data-quality checks against the target
// table and returns their results. It does not stop at the first failure.
func (c *Consolidator) RunChecks(ctx context.Context) ([]CheckResult, error) {
	checks := []struct {
		name string
		fn   func(context.Context, db.Pool, string) (int64, error)
	}{
		{"unique_place_id", checkUniquePlaceID},
		{"coordinate_range", checkCoordinateRange},
		{"nonempty_address", checkNonEmptyAddress},
	}

	results := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		violations, err := check.fn(ctx, c.pool, c.table)
		if err != nil {
			return nil, eris.Wrapf(err, "consolidate: run check %s", check.name)
		}
		result := CheckResult{Name: check.name, Passed: violations == 0, Violations: violations}
		if violations > 0 {
			result.Detail = fmt.Sprintf("%d rows violate %s", violations, check.name)
		}
		results = append(results, result)
	}
	return results, nil
}

// checkUniquePlaceID counts place_id values appearing more than once. The
// primary key makes this structurally impossible; the check exists so a
// schema change that relaxes the key gets caught by the pipeline, not by
// downstream consumers.
func checkUniquePlaceID(ctx context.Context, pool db.Pool, table string) (int64, error) {
	var n int64
	err := pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT count(*) FROM (
		   SELECT place_id FROM %s GROUP BY place_id HAVING count(*) > 1
		 ) dup`, table,
	)).Scan(&n)
	return n, err
}

// checkCoordinateRange counts rows with coordinates outside valid bounds.
func checkCoordinateRange(ctx context.Context, pool db.Pool, table string) (int64, error) {
	var n int64
	err := pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT count(*) FROM %s
		 WHERE latitude  NOT BETWEEN -90 AND 90
		    OR longitude NOT BETWEEN -180 AND 180`, table,
	)).Scan(&n)
	return n, err
}

// checkNonEmptyAddress counts rows missing a formatted address.
func checkNonEmptyAddress(ctx context.Context, pool db.Pool, table string) (int64, error) {
	var n int64
	err := pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT count(*) FROM %s
		 WHERE formatted_address IS NULL OR formatted_address = ''`, table,
	)).Scan(&n)
	return n, err
}
