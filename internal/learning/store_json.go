package learning

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/labstack/gommon/log"
)

// JSONStore keeps all notes in a single JSON array file. Every append
// rewrites the whole file through a temporary file and a rename, so readers
// never observe a partially written document. Records already in the file
// are written back as they were read, so appends never alter earlier notes.
//
// A decoded snapshot is cached in memory. It is dropped whenever the file
// changes on disk, and never trusted when the file's size or modification
// time differ from the ones it was read at, so hand edits are picked up by
// the next read or append.
type JSONStore struct {
	path string

	mu       sync.RWMutex
	snapshot []Note
	records  []json.RawMessage
	stamp    fileStamp
	cached   bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

type fileStamp struct {
	exists  bool
	size    int64
	modTime time.Time
}

func (f fileStamp) same(o fileStamp) bool {
	return f.exists == o.exists && f.size == o.size && f.modTime.Equal(o.modTime)
}

func OpenJSONStore(path string) (*JSONStore, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	s := &JSONStore{
		path: filepath.Clean(path),
		done: make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warnf("learning: file watch unavailable, caching disabled: %v", err)
		close(s.done)
		return s, nil
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		log.Warnf("learning: failed to watch %s, caching disabled: %v", filepath.Dir(s.path), err)
		watcher.Close()
		close(s.done)
		return s, nil
	}

	s.watcher = watcher
	go s.watch()
	return s, nil
}

func (s *JSONStore) watch() {
	defer close(s.done)
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == s.path {
				s.invalidate()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("learning: file watch error: %v", err)
			s.invalidate()
		}
	}
}

func (s *JSONStore) invalidate() {
	s.mu.Lock()
	s.snapshot = nil
	s.records = nil
	s.cached = false
	s.mu.Unlock()
}

func (s *JSONStore) Load(ctx context.Context) ([]Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if s.fresh() {
		notes := append([]Note(nil), s.snapshot...)
		s.mu.RUnlock()
		return notes, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	notes, records, stamp, err := s.read()
	if err != nil {
		return nil, err
	}
	s.remember(notes, records, stamp)
	return append([]Note(nil), notes...), nil
}

func (s *JSONStore) Append(ctx context.Context, note Note) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	notes, records := s.snapshot, s.records
	if !s.fresh() {
		var err error
		if notes, records, _, err = s.read(); err != nil {
			return err
		}
	}

	note = normalize(note)
	record, err := encodeRecord(note)
	if err != nil {
		return err
	}

	nextRecords := make([]json.RawMessage, 0, len(records)+1)
	nextRecords = append(nextRecords, records...)
	nextRecords = append(nextRecords, record)

	nextNotes := make([]Note, 0, len(notes)+1)
	nextNotes = append(nextNotes, notes...)
	nextNotes = append(nextNotes, note)

	if err := s.write(nextRecords); err != nil {
		return err
	}
	s.remember(nextNotes, nextRecords, s.statFile())
	return nil
}

func (s *JSONStore) Close() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	<-s.done
	return err
}

// fresh reports whether the cached snapshot still matches the file.
// Callers hold s.mu.
func (s *JSONStore) fresh() bool {
	return s.cached && s.statFile().same(s.stamp)
}

func (s *JSONStore) statFile() fileStamp {
	fi, err := os.Stat(s.path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{exists: true, size: fi.Size(), modTime: fi.ModTime()}
}

func (s *JSONStore) remember(notes []Note, records []json.RawMessage, stamp fileStamp) {
	if s.watcher == nil {
		return
	}
	s.snapshot = notes
	s.records = records
	s.stamp = stamp
	s.cached = true
}

func (s *JSONStore) read() ([]Note, []json.RawMessage, fileStamp, error) {
	stamp := s.statFile()
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return []Note{}, []json.RawMessage{}, fileStamp{}, nil
	}
	if err != nil {
		return nil, nil, fileStamp{}, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return []Note{}, []json.RawMessage{}, stamp, nil
	}

	records := []json.RawMessage{}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, nil, fileStamp{}, fmt.Errorf("%w: %s: %v", ErrCorruptStore, s.path, err)
	}
	notes := make([]Note, len(records))
	for i, record := range records {
		if err := json.Unmarshal(record, &notes[i]); err != nil {
			return nil, nil, fileStamp{}, fmt.Errorf("%w: %s: record %d: %v", ErrCorruptStore, s.path, i, err)
		}
		notes[i] = normalize(notes[i])
	}
	return notes, records, stamp, nil
}

func encodeRecord(note Note) (json.RawMessage, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(note); err != nil {
		return nil, fmt.Errorf("failed to marshal note: %w", err)
	}
	return json.RawMessage(bytes.TrimSpace(buf.Bytes())), nil
}

// render lays records out as an indented array, two spaces per level.
func render(records []json.RawMessage) ([]byte, error) {
	if len(records) == 0 {
		return []byte("[]\n"), nil
	}

	buf := &bytes.Buffer{}
	compact := &bytes.Buffer{}
	buf.WriteString("[\n")
	for i, record := range records {
		compact.Reset()
		if err := json.Compact(compact, record); err != nil {
			return nil, fmt.Errorf("failed to compact record %d: %w", i, err)
		}
		buf.WriteString("  ")
		if err := json.Indent(buf, compact.Bytes(), "  ", "  "); err != nil {
			return nil, fmt.Errorf("failed to indent record %d: %w", i, err)
		}
		if i < len(records)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("]\n")
	return buf.Bytes(), nil
}

func (s *JSONStore) write(records []json.RawMessage) error {
	data, err := render(records)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write notes: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync notes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to chmod notes: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}
