package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/crec-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// NewSQLite opens a SQLite database at the given path. WAL mode, a busy
// timeout and NORMAL sync are applied to every pooled connection.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	params := make([]string, len(sqlitePragmas))
	for i, p := range sqlitePragmas {
		params[i] = "_pragma=" + p
	}
	return path + sep + strings.Join(params, "&")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS speeches (
	speech_id        TEXT PRIMARY KEY,
	text             TEXT,
	date             INTEGER,
	speaker_id       INTEGER,
	speaker_name     TEXT,
	party            TEXT,
	state            TEXT,
	last_name        TEXT,
	first_name       TEXT,
	is_mapped        INTEGER NOT NULL DEFAULT 0,
	congress_session TEXT,
	is_procedure     INTEGER
);

CREATE INDEX IF NOT EXISTS idx_speeches_is_procedure ON speeches(is_procedure);
CREATE INDEX IF NOT EXISTS idx_speeches_congress_session ON speeches(congress_session);

CREATE TABLE IF NOT EXISTS processed_packages (
	package_id   TEXT PRIMARY KEY,
	processed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertSpeeches writes the batch in one transaction. Existing rows are
// overwritten except for is_procedure, which keeps its stored label.
func (s *SQLiteStore) UpsertSpeeches(ctx context.Context, speeches []model.Speech) (int64, error) {
	if len(speeches) == 0 {
		return 0, nil
	}

	set := make([]string, 0, len(writeColumns)-1)
	for _, c := range writeColumns[1:] {
		set = append(set, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	query := fmt.Sprintf(
		"INSERT INTO speeches (%s) VALUES (%s) ON CONFLICT(speech_id) DO UPDATE SET %s",
		strings.Join(writeColumns, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(writeColumns)), ", "),
		strings.Join(set, ", "),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, sp := range speeches {
		if _, err := stmt.ExecContext(ctx,
			sp.SpeechID, sp.Text, sp.Date, sp.SpeakerID, sp.SpeakerName, sp.Party,
			sp.State, sp.LastName, sp.FirstName, sp.IsMapped, sp.CongressSession,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert speech %s", sp.SpeechID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert")
	}
	return n, nil
}

func (s *SQLiteStore) GetSpeech(ctx context.Context, speechID string) (*model.Speech, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectList()+" FROM speeches WHERE speech_id = ?", speechID)
	sp, err := scanSpeech(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "speech %s", speechID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get speech")
	}
	return sp, nil
}

func (s *SQLiteStore) SpeechesBySession(ctx context.Context, session string, limit int, filterProc bool) ([]model.Speech, error) {
	query := "SELECT " + selectList() + " FROM speeches WHERE congress_session = ?"
	if filterProc {
		query += " AND is_procedure = 0"
	}
	query += " ORDER BY date, speech_id LIMIT ?"

	rows, err := s.db.QueryContext(ctx, query, session, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: speeches by session")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Speech
	for rows.Next() {
		sp, err := scanSpeech(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan speech")
		}
		out = append(out, *sp)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate speeches")
}

func (s *SQLiteStore) IsPackageDone(ctx context.Context, packageID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM processed_packages WHERE package_id = ?", packageID,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: check package")
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkPackageDone(ctx context.Context, packageID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO processed_packages (package_id) VALUES (?)", packageID)
	return eris.Wrap(err, "sqlite: mark package done")
}

func (s *SQLiteStore) DonePackages(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT package_id FROM processed_packages")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list processed packages")
	}
	defer rows.Close() //nolint:errcheck

	done := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan package id")
		}
		done[id] = true
	}
	return done, eris.Wrap(rows.Err(), "sqlite: iterate packages")
}

// ListUnclassified returns speeches with no label. maxLen > 0 restricts to
// texts shorter than maxLen characters; limit <= 0 means no limit.
func (s *SQLiteStore) ListUnclassified(ctx context.Context, maxLen, limit int) ([]model.Candidate, error) {
	query := "SELECT speech_id, COALESCE(text, '') FROM speeches WHERE is_procedure IS NULL"
	var args []any
	if maxLen > 0 {
		query += " AND length(text) < ?"
		args = append(args, maxLen)
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unclassified")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Candidate
	for rows.Next() {
		var c model.Candidate
		if err := rows.Scan(&c.SpeechID, &c.Text); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate candidates")
}

// SetProcedure labels speeches that are still unlabelled. Rows that already
// carry a label are left alone.
func (s *SQLiteStore) SetProcedure(ctx context.Context, updates []model.ProcedureUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin set procedure")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		"UPDATE speeches SET is_procedure = ? WHERE speech_id = ? AND is_procedure IS NULL")
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare set procedure")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, u := range updates {
		res, err := stmt.ExecContext(ctx, u.IsProcedure, u.SpeechID)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: set procedure %s", u.SpeechID)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit set procedure")
	}
	return n, nil
}

func (s *SQLiteStore) CountProgress(ctx context.Context) (*model.Progress, error) {
	var p model.Progress
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(is_procedure),
		       COALESCE(SUM(CASE WHEN is_procedure = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN is_mapped = 1 THEN 1 ELSE 0 END), 0)
		FROM speeches`,
	).Scan(&p.Total, &p.Classified, &p.Procedural, &p.Mapped)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count speeches")
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM processed_packages",
	).Scan(&p.ProcessedPackages); err != nil {
		return nil, eris.Wrap(err, "sqlite: count packages")
	}
	p.Remaining = p.Total - p.Classified
	return &p, nil
}

// PhraseTrend counts speeches containing phrase per (year, party) for the
// two major parties. SQLite LIKE is case-insensitive for ASCII.
func (s *SQLiteStore) PhraseTrend(ctx context.Context, phrase string, filterProc bool) ([]model.TrendRow, error) {
	query := `SELECT CAST(date / 10000 AS INTEGER) AS year, party, COUNT(*)
		FROM speeches
		WHERE text LIKE ? ESCAPE '\' AND party IN ('D', 'R')`
	if filterProc {
		query += " AND is_procedure = 0"
	}
	query += " GROUP BY year, party ORDER BY year ASC, party ASC"

	rows, err := s.db.QueryContext(ctx, query, likePattern(phrase))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: phrase trend")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.TrendRow
	for rows.Next() {
		var r model.TrendRow
		if err := rows.Scan(&r.Year, &r.Party, &r.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trend")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate trend")
}

// PhraseMentions returns D and R speeches containing phrase that are not
// labeled procedural, in session order.
func (s *SQLiteStore) PhraseMentions(ctx context.Context, phrase string) ([]model.Mention, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT congress_session, party, COALESCE(text, ''), is_procedure
		FROM speeches
		WHERE text LIKE ? ESCAPE '\' AND party IN ('D', 'R')
		  AND (is_procedure IS NULL OR is_procedure = 0)
		ORDER BY length(congress_session), congress_session, speech_id`, likePattern(phrase))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: phrase mentions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Mention
	for rows.Next() {
		var m model.Mention
		var proc *int64
		if err := rows.Scan(&m.CongressSession, &m.Party, &m.Text, &proc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mention")
		}
		m.IsProcedure = intPtr(proc)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate mentions")
}

// PartisanShare splits substantive mentions of phrase by party per session.
func (s *SQLiteStore) PartisanShare(ctx context.Context, phrase string) ([]model.ShareRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT congress_session,
		       SUM(CASE WHEN party = 'D' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN party = 'R' THEN 1 ELSE 0 END),
		       COUNT(*)
		FROM speeches
		WHERE text LIKE ? ESCAPE '\' AND is_procedure = 0 AND party IN ('D', 'R')
		GROUP BY congress_session
		ORDER BY length(congress_session), congress_session`, likePattern(phrase))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: partisan share")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ShareRow
	for rows.Next() {
		var r model.ShareRow
		if err := rows.Scan(&r.CongressSession, &r.DCount, &r.RCount, &r.Total); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan share")
		}
		r.RepShare = model.RepShareOf(r.DCount, r.RCount)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate share")
}
