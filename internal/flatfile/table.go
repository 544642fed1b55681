package flatfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	separator     = "|"
	nullField     = "-"
	commentPrefix = "#"
)

// codec maps one pipe-delimited table file to typed rows
type codec[T any] struct {
	file   string
	header []string
	parse  func(fields []string) (T, error)
	format func(row T) []string
}

// entry is one physical line. Lines read from disk keep their original text
// and are written back unchanged until the row is modified.
type entry[T any] struct {
	raw    string
	opaque bool // comment, blank or unparseable line
	row    T
}

type table[T any] struct {
	codec           codec[T]
	entries         []entry[T]
	trailingNewline bool
	skipped         int
	dirty           bool
}

func newTable[T any](c codec[T]) *table[T] {
	return &table[T]{
		codec:           c,
		entries:         []entry[T]{{raw: commentPrefix + " " + strings.Join(c.header, separator), opaque: true}},
		trailingNewline: true,
	}
}

// readTable loads a table file. A missing file yields an empty table with a
// header line that is only written once a row is added.
func readTable[T any](dir string, c codec[T]) (*table[T], error) {
	data, err := os.ReadFile(filepath.Join(dir, c.file))
	if errors.Is(err, fs.ErrNotExist) {
		return newTable(c), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", c.file, err)
	}

	text := string(data)
	if text == "" {
		return newTable(c), nil
	}
	t := &table[T]{codec: c, trailingNewline: strings.HasSuffix(text, "\n")}
	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		t.entries = append(t.entries, t.decode(line))
	}
	return t, nil
}

func (t *table[T]) decode(line string) entry[T] {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, commentPrefix) {
		return entry[T]{raw: line, opaque: true}
	}
	fields := strings.Split(trimmed, separator)
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	row, err := t.codec.parse(fields)
	if err != nil {
		t.skipped++
		return entry[T]{raw: line, opaque: true}
	}
	return entry[T]{raw: line, row: row}
}

func (t *table[T]) line(row T) string {
	return strings.Join(t.codec.format(row), separator)
}

// render produces the file contents
func (t *table[T]) render() []byte {
	var b strings.Builder
	for i, e := range t.entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		if e.opaque || e.raw != "" {
			b.WriteString(e.raw)
		} else {
			b.WriteString(t.line(e.row))
		}
	}
	if len(t.entries) > 0 && t.trailingNewline {
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// rows returns the parsed rows in file order
func (t *table[T]) rows() []T {
	rows := make([]T, 0, len(t.entries))
	for _, e := range t.entries {
		if !e.opaque {
			rows = append(rows, e.row)
		}
	}
	return rows
}

// index returns the entry position of the first row matching fn
func (t *table[T]) index(fn func(T) bool) int {
	for i, e := range t.entries {
		if !e.opaque && fn(e.row) {
			return i
		}
	}
	return -1
}

// set replaces the row at entry position i. A row that formats identically
// keeps its original line.
func (t *table[T]) set(i int, row T) {
	old := t.entries[i]
	if !old.opaque && t.line(old.row) == t.line(row) {
		t.entries[i].row = row
		return
	}
	t.entries[i] = entry[T]{row: row}
	t.dirty = true
}

func (t *table[T]) add(row T) {
	t.entries = append(t.entries, entry[T]{row: row})
	t.dirty = true
}

// replace swaps every row for rows, keeping the leading comment block. A new
// row that formats exactly like an existing one reuses its original line.
func (t *table[T]) replace(rows []T) {
	previous := make(map[string]string)
	head := 0
	for i, e := range t.entries {
		if !e.opaque {
			previous[t.line(e.row)] = e.raw
			continue
		}
		if i == head {
			head++
		}
	}

	entries := slices.Clone(t.entries[:head])
	for _, row := range rows {
		entries = append(entries, entry[T]{raw: previous[t.line(row)], row: row})
	}

	if !t.dirty {
		t.dirty = len(entries) != len(t.entries)
		for i := 0; !t.dirty && i < len(entries); i++ {
			t.dirty = entries[i].raw == "" || entries[i].raw != t.entries[i].raw
		}
	}
	t.entries = entries
}

// snapshot and restore let a failed write roll back in-memory changes
func (t *table[T]) snapshot() table[T] {
	cp := *t
	cp.entries = slices.Clone(t.entries)
	return cp
}

func (t *table[T]) restore(saved table[T]) {
	*t = saved
}

// flush writes the table if it changed since the last flush
func (t *table[T]) flush(dir string) error {
	if !t.dirty {
		return nil
	}
	if err := writeFileAtomic(filepath.Join(dir, t.codec.file), t.render()); err != nil {
		return fmt.Errorf("writing %s: %w", t.codec.file, err)
	}
	t.dirty = false
	return nil
}

// writeFileAtomic writes data to a temporary file in the same directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
