// Package legacy imports the historical per-session bulk files (sessions
// 43 through 114) into the canonical store.
package legacy

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crec-cli/internal/textclean"
)

// maxLine bounds a single record; some speeches run to hundreds of KB.
const maxLine = 16 << 20

// Table is a parsed pipe-delimited file keyed by column name.
type Table struct {
	Columns []string
	Rows    []map[string]string
	Skipped int
}

// SessionFiles names the three files of one session.
type SessionFiles struct {
	Speeches   string
	Descr      string
	SpeakerMap string
}

// FilesFor returns the file paths of session n under dir.
func FilesFor(dir string, n int) SessionFiles {
	num := fmt.Sprintf("%03d", n)
	return SessionFiles{
		Speeches:   filepath.Join(dir, "speeches_"+num+".txt"),
		Descr:      filepath.Join(dir, "descr_"+num+".txt"),
		SpeakerMap: filepath.Join(dir, num+"_SpeakerMap.txt"),
	}
}

// Exist reports whether all three files are present.
func (f SessionFiles) Exist() bool {
	for _, p := range []string{f.Speeches, f.Descr, f.SpeakerMap} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// ReadTableFile opens path and parses it with ReadTable.
func ReadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "legacy: open %s", filepath.Base(path))
	}
	defer f.Close() //nolint:errcheck

	t, err := ReadTable(f)
	if err != nil {
		return nil, eris.Wrapf(err, "legacy: read %s", filepath.Base(path))
	}
	return t, nil
}

// ReadTable parses ISO-8859-1, pipe-delimited text with a header row. There
// is no quoting: a line with more fields than the header is skipped, and a
// short line leaves its trailing columns empty.
func ReadTable(r io.Reader) (*Table, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, eris.Wrap(err, "legacy: read header")
		}
		return nil, eris.New("legacy: empty file")
	}
	header := strings.Split(strings.TrimRight(textclean.DecodeLatin1(sc.Bytes()), "\r"), "|")
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}
	if len(header) < 2 || header[0] == "" {
		return nil, eris.Errorf("legacy: malformed header %q", strings.Join(header, "|"))
	}

	t := &Table{Columns: header}
	for sc.Scan() {
		line := strings.TrimRight(textclean.DecodeLatin1(sc.Bytes()), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) > len(header) {
			t.Skipped++
			continue
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(fields) {
				row[col] = strings.TrimSpace(fields[i])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "legacy: scan")
	}
	return t, nil
}

// Index maps the first row for each value of key.
func (t *Table) Index(key string) map[string]map[string]string {
	idx := make(map[string]map[string]string, len(t.Rows))
	for _, row := range t.Rows {
		k := row[key]
		if k == "" {
			continue
		}
		if _, dup := idx[k]; !dup {
			idx[k] = row
		}
	}
	return idx
}
