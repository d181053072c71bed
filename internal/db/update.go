package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpdateConfig describes a keyed bulk update.
type UpdateConfig struct {
	Table   string
	KeyCols []string
	SetCols []string
	// Where is an extra predicate on the target row, aliased "t"
	// (for example "t.is_procedure IS NULL").
	Where string
}

// BulkUpdate stages rows (KeyCols then SetCols) in a temp table and applies
// them with a single UPDATE ... FROM. It returns the number of target rows
// changed, which can be lower than len(rows) when Where filters some out.
func BulkUpdate(ctx context.Context, pool Pool, cfg UpdateConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.KeyCols) == 0 || len(cfg.SetCols) == 0 {
		return 0, eris.New("db: update: key and set columns are required")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: update: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	cols := append(append([]string{}, cfg.KeyCols...), cfg.SetCols...)
	temp, err := stage(ctx, tx, cfg.Table, cols, rows)
	if err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, updateSQL(cfg, temp))
	if err != nil {
		return 0, eris.Wrapf(err, "db: update: apply to %s", cfg.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: update: commit tx")
	}
	return tag.RowsAffected(), nil
}

func updateSQL(cfg UpdateConfig, temp string) string {
	set := make([]string, len(cfg.SetCols))
	for i, c := range cfg.SetCols {
		id := pgx.Identifier{c}.Sanitize()
		set[i] = fmt.Sprintf("%s = s.%s", id, id)
	}
	conds := make([]string, 0, len(cfg.KeyCols)+1)
	for _, k := range cfg.KeyCols {
		id := pgx.Identifier{k}.Sanitize()
		conds = append(conds, fmt.Sprintf("t.%s = s.%s", id, id))
	}
	if cfg.Where != "" {
		conds = append(conds, cfg.Where)
	}
	return fmt.Sprintf(
		"UPDATE %s AS t SET %s FROM %s AS s WHERE %s",
		sanitizeTable(cfg.Table),
		strings.Join(set, ", "),
		pgx.Identifier{temp}.Sanitize(),
		strings.Join(conds, " AND "),
	)
}
