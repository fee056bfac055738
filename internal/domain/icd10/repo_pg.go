package icd10

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/codingassist/internal/platform/cmsfile"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// tsQueries maps each search mode to the tsquery expression built from $1.
// The free-text form OR-joins the normalized lexemes of plainto_tsquery.
var tsQueries = map[SearchMode]string{
	ModePhrase:   `phraseto_tsquery('english', $1)`,
	ModeFreeText: `replace(plainto_tsquery('english', $1)::text, ' & ', ' | ')::tsquery`,
}

type codeRepoPG struct {
	db      queryable
	timeout time.Duration
}

// NewCodeRepoPG returns a CodeRepository backed by the icd10cm_codes table.
// timeout bounds each statement; zero disables the bound.
func NewCodeRepoPG(pool *pgxpool.Pool, timeout time.Duration) CodeRepository {
	return &codeRepoPG{db: pool, timeout: timeout}
}

func tsQuery(mode SearchMode) (string, error) {
	q, ok := tsQueries[mode]
	if !ok {
		return "", fmt.Errorf("unsupported search mode %d", mode)
	}
	return q, nil
}

func (r *codeRepoPG) FullTextSearch(ctx context.Context, query string, mode SearchMode, limit int) ([]DbResult, error) {
	tsq, err := tsQuery(mode)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(
		`SELECT code, short_desc, long_desc, rank
		 FROM (
		     SELECT c.code, c.short_desc, c.long_desc,
		            (ts_rank_cd(c.long_desc_tsv, q.query) * 1000)::int AS rank
		     FROM icd10cm_codes AS c, (SELECT %s AS query) AS q
		     WHERE c.long_desc_tsv @@ q.query
		 ) AS ranked
		 ORDER BY rank DESC, code ASC
		 LIMIT $2`, tsq)

	var results []DbResult
	err = r.withRetry(ctx, func(ctx context.Context) error {
		results = results[:0]
		rows, err := r.db.Query(ctx, sql, query, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var res DbResult
			if err := rows.Scan(&res.Code, &res.ShortDescription, &res.LongDescription, &res.Rank); err != nil {
				return err
			}
			results = append(results, res)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("icd10 %s search: %w", mode, err)
	}
	return results, nil
}

func (r *codeRepoPG) CountMatches(ctx context.Context, query string, mode SearchMode) (int, error) {
	tsq, err := tsQuery(mode)
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf(`SELECT COUNT(*) FROM icd10cm_codes WHERE long_desc_tsv @@ %s`, tsq)

	var count int
	err = r.withRetry(ctx, func(ctx context.Context) error {
		return r.db.QueryRow(ctx, sql, query).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("icd10 %s count: %w", mode, err)
	}
	return count, nil
}

func (r *codeRepoPG) ExistingCodes(ctx context.Context, codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	upper := make([]string, len(codes))
	for i, c := range codes {
		upper[i] = strings.ToUpper(c)
	}

	var found []string
	err := r.withRetry(ctx, func(ctx context.Context) error {
		found = found[:0]
		rows, err := r.db.Query(ctx,
			`SELECT upper(code) FROM icd10cm_codes WHERE upper(code) = ANY($1)`, upper)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var code string
			if err := rows.Scan(&code); err != nil {
				return err
			}
			found = append(found, code)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("icd10 validate codes: %w", err)
	}
	return found, nil
}

// withRetry runs op once more when the first failure happened before the
// statement reached the server.
func (r *codeRepoPG) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	err := r.run(ctx, op)
	if err != nil && ctx.Err() == nil && pgconn.SafeToRetry(err) {
		err = r.run(ctx, op)
	}
	return err
}

func (r *codeRepoPG) run(ctx context.Context, op func(ctx context.Context) error) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return op(ctx)
}

// ReplaceCodesPG replaces the contents of icd10cm_codes with records in a
// single transaction and returns the number of rows copied.
func ReplaceCodesPG(ctx context.Context, pool *pgxpool.Pool, records []cmsfile.Record) (int64, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM icd10cm_codes`); err != nil {
		return 0, fmt.Errorf("clear icd10cm_codes: %w", err)
	}

	rows := make([][]interface{}, len(records))
	for i, rec := range records {
		rows[i] = []interface{}{rec.Order, ToCMSFormat(rec.Code), rec.ShortDescription, rec.LongDescription, rec.Billable}
	}
	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"icd10cm_codes"},
		[]string{"order_number", "code", "short_desc", "long_desc", "billable"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy icd10cm_codes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}
