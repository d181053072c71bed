package store

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crec-cli/internal/db"
	"github.com/sells-group/crec-cli/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationLockID = 8675309

// PostgresStore implements Store on a pgx pool. Batch writes go through
// db.BulkUpsert and db.BulkUpdate.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres wraps an existing pool. The caller keeps ownership of it.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// Migrate applies pending files from migrations/ in name order under an
// advisory lock, recording each in schema_migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("postgres: release migration lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "postgres: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", name)
		}
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", name)
		}
		if _, err := s.pool.Exec(ctx,
			"INSERT INTO schema_migrations (filename) VALUES ($1)", name,
		); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", name)
		}
		log.Info("migration applied", zap.String("file", name))
	}
	return nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "postgres: iterate migrations")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertSpeeches bulk-loads the batch. is_procedure is not among the
// written columns, so stored labels survive re-ingestion.
func (s *PostgresStore) UpsertSpeeches(ctx context.Context, speeches []model.Speech) (int64, error) {
	rows := make([][]any, len(speeches))
	for i, sp := range speeches {
		rows[i] = []any{
			sp.SpeechID, sp.Text, int32(sp.Date), int32(sp.SpeakerID), sp.SpeakerName, sp.Party,
			sp.State, sp.LastName, sp.FirstName, sp.IsMapped, sp.CongressSession,
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "speeches",
		Columns:      writeColumns,
		ConflictKeys: []string{"speech_id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert speeches")
}

func (s *PostgresStore) GetSpeech(ctx context.Context, speechID string) (*model.Speech, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+selectList()+" FROM speeches WHERE speech_id = $1", speechID)
	sp, err := scanSpeech(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "speech %s", speechID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get speech")
	}
	return sp, nil
}

func (s *PostgresStore) SpeechesBySession(ctx context.Context, session string, limit int, filterProc bool) ([]model.Speech, error) {
	query := "SELECT " + selectList() + " FROM speeches WHERE congress_session = $1"
	if filterProc {
		query += " AND is_procedure = 0"
	}
	query += " ORDER BY date, speech_id LIMIT $2"

	rows, err := s.pool.Query(ctx, query, session, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: speeches by session")
	}
	defer rows.Close()

	var out []model.Speech
	for rows.Next() {
		sp, err := scanSpeech(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan speech")
		}
		out = append(out, *sp)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate speeches")
}

func (s *PostgresStore) IsPackageDone(ctx context.Context, packageID string) (bool, error) {
	var done bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM processed_packages WHERE package_id = $1)", packageID,
	).Scan(&done)
	return done, eris.Wrap(err, "postgres: check package")
}

func (s *PostgresStore) MarkPackageDone(ctx context.Context, packageID string) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO processed_packages (package_id) VALUES ($1) ON CONFLICT (package_id) DO NOTHING",
		packageID)
	return eris.Wrap(err, "postgres: mark package done")
}

func (s *PostgresStore) DonePackages(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT package_id FROM processed_packages")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list processed packages")
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan package id")
		}
		done[id] = true
	}
	return done, eris.Wrap(rows.Err(), "postgres: iterate packages")
}

func (s *PostgresStore) ListUnclassified(ctx context.Context, maxLen, limit int) ([]model.Candidate, error) {
	query := "SELECT speech_id, COALESCE(text, '') FROM speeches WHERE is_procedure IS NULL"
	var args []any
	if maxLen > 0 {
		args = append(args, maxLen)
		query += " AND length(text) < $1"
	}
	if limit > 0 {
		args = append(args, limit)
		if len(args) == 1 {
			query += " LIMIT $1"
		} else {
			query += " LIMIT $2"
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unclassified")
	}
	defer rows.Close()

	var out []model.Candidate
	for rows.Next() {
		var c model.Candidate
		if err := rows.Scan(&c.SpeechID, &c.Text); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate candidates")
}

// SetProcedure applies labels in one UPDATE ... FROM, restricted to rows
// whose label is still NULL.
func (s *PostgresStore) SetProcedure(ctx context.Context, updates []model.ProcedureUpdate) (int64, error) {
	rows := make([][]any, len(updates))
	for i, u := range updates {
		rows[i] = []any{u.SpeechID, int16(u.IsProcedure)}
	}
	n, err := db.BulkUpdate(ctx, s.pool, db.UpdateConfig{
		Table:   "speeches",
		KeyCols: []string{"speech_id"},
		SetCols: []string{"is_procedure"},
		Where:   "t.is_procedure IS NULL",
	}, rows)
	return n, eris.Wrap(err, "postgres: set procedure")
}

func (s *PostgresStore) CountProgress(ctx context.Context) (*model.Progress, error) {
	var p model.Progress
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(is_procedure),
		       COUNT(*) FILTER (WHERE is_procedure = 1),
		       COUNT(*) FILTER (WHERE is_mapped),
		       (SELECT COUNT(*) FROM processed_packages)
		FROM speeches`,
	).Scan(&p.Total, &p.Classified, &p.Procedural, &p.Mapped, &p.ProcessedPackages)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count progress")
	}
	p.Remaining = p.Total - p.Classified
	return &p, nil
}

// PhraseMentions returns D and R speeches containing phrase that are not
// labeled procedural, in session order.
func (s *PostgresStore) PhraseMentions(ctx context.Context, phrase string) ([]model.Mention, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT congress_session, party, COALESCE(text, ''), is_procedure
		FROM speeches
		WHERE text ILIKE $1 AND party IN ('D', 'R')
		  AND (is_procedure IS NULL OR is_procedure = 0)
		ORDER BY length(congress_session), congress_session, speech_id`, likePattern(phrase))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: phrase mentions")
	}
	defer rows.Close()

	var out []model.Mention
	for rows.Next() {
		var m model.Mention
		var proc *int64
		if err := rows.Scan(&m.CongressSession, &m.Party, &m.Text, &proc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mention")
		}
		m.IsProcedure = intPtr(proc)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate mentions")
}

// PhraseTrend uses ILIKE to match SQLite's case-insensitive LIKE.
func (s *PostgresStore) PhraseTrend(ctx context.Context, phrase string, filterProc bool) ([]model.TrendRow, error) {
	query := `SELECT date / 10000 AS year, party, COUNT(*)
		FROM speeches
		WHERE text ILIKE $1 AND party IN ('D', 'R')`
	if filterProc {
		query += " AND is_procedure = 0"
	}
	query += " GROUP BY year, party ORDER BY year ASC, party ASC"

	rows, err := s.pool.Query(ctx, query, likePattern(phrase))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: phrase trend")
	}
	defer rows.Close()

	var out []model.TrendRow
	for rows.Next() {
		var r model.TrendRow
		if err := rows.Scan(&r.Year, &r.Party, &r.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan trend")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate trend")
}

func (s *PostgresStore) PartisanShare(ctx context.Context, phrase string) ([]model.ShareRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT congress_session,
		       COUNT(*) FILTER (WHERE party = 'D'),
		       COUNT(*) FILTER (WHERE party = 'R'),
		       COUNT(*)
		FROM speeches
		WHERE text ILIKE $1 AND is_procedure = 0 AND party IN ('D', 'R')
		GROUP BY congress_session
		ORDER BY length(congress_session), congress_session`, likePattern(phrase))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: partisan share")
	}
	defer rows.Close()

	var out []model.ShareRow
	for rows.Next() {
		var r model.ShareRow
		if err := rows.Scan(&r.CongressSession, &r.DCount, &r.RCount, &r.Total); err != nil {
			return nil, eris.Wrap(err, "postgres: scan share")
		}
		r.RepShare = model.RepShareOf(r.DCount, r.RCount)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate share")
}
