package layerpack

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"sync"

	"github.com/MeKo-Tech/layerstudio/internal/layer"
	"github.com/MeKo-Tech/layerstudio/internal/raster"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	// DefaultBatchSize is the number of layers to buffer before flushing to the database.
	DefaultBatchSize = 16
)

// Writer writes layers to a pack.
type Writer struct {
	db        *sql.DB
	path      string
	batch     []Entry
	metadata  Metadata
	batchSize int
	mu        sync.Mutex
}

// New creates a pack writer. The database is created if it doesn't exist;
// any layers from a previous export are discarded.
func New(path string, metadata Metadata) (*Writer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pack %s: %w", path, err)
	}

	if err := prepare(db, metadata); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Writer{
		db:        db,
		path:      path,
		batch:     make([]Entry, 0, DefaultBatchSize),
		batchSize: DefaultBatchSize,
		metadata:  metadata,
	}, nil
}

// writePragmas tune the connection for bulk inserts.
var writePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA temp_store = MEMORY",
}

// prepare brings a freshly opened database into an empty, current-schema pack.
func prepare(db *sql.DB, metadata Metadata) error {
	for _, pragma := range writePragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set %q: %w", pragma, err)
		}
	}

	steps := []struct {
		what string
		run  func() error
	}{
		{"create schema", func() error { return createSchema(db) }},
		{"clear layers", func() error { _, err := db.Exec("DELETE FROM layers"); return err }},
		{"write metadata", func() error { return insertMetadata(db, metadata) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("failed to %s: %w", step.what, err)
		}
	}
	return nil
}

// createSchema creates the pack schema.
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS metadata (
			name TEXT NOT NULL,
			value TEXT
		);

		CREATE TABLE IF NOT EXISTS layers (
			position INTEGER NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			visible INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			mask_ref BLOB,
			bbox_x REAL,
			bbox_y REAL,
			bbox_width REAL,
			bbox_height REAL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			raster BLOB
		);

		CREATE UNIQUE INDEX IF NOT EXISTS layer_id ON layers (id);
	`

	_, err := db.Exec(schema)
	return err
}

// insertMetadata replaces the metadata table contents.
func insertMetadata(db *sql.DB, meta Metadata) error {
	if _, err := db.Exec("DELETE FROM metadata"); err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}

	stmt, err := db.Prepare("INSERT INTO metadata (name, value) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare metadata insert: %w", err)
	}
	defer stmt.Close()

	for key, value := range meta.ToMap() {
		if _, err := stmt.Exec(key, value); err != nil {
			return fmt.Errorf("failed to insert metadata %q: %w", key, err)
		}
	}

	return nil
}

// EntryFromLayer encodes l at stack position pos.
func EntryFromLayer(pos int, l layer.Layer, level png.CompressionLevel) (Entry, error) {
	e := Entry{
		Position:  pos,
		ID:        l.ID,
		Name:      l.Name,
		Kind:      string(l.Kind),
		Visible:   l.Visible,
		CreatedAt: l.CreatedAt,
	}

	if l.Raster != nil {
		var buf bytes.Buffer
		if err := raster.EncodePNG(&buf, l.Raster, level); err != nil {
			return Entry{}, fmt.Errorf("failed to encode layer %s: %w", l.ID, err)
		}
		e.PNG = buf.Bytes()
		size := l.Size()
		e.Width, e.Height = size.X, size.Y
	}

	if l.Segment != nil {
		ref := l.Segment.MaskRef
		e.MaskRef = &ref
		e.BoundingBox = l.Segment.BoundingBox
	}

	return e, nil
}

// WriteLayer adds an entry to the batch. When the batch is full, it is automatically flushed.
func (w *Writer) WriteLayer(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.batch = append(w.batch, e)

	if len(w.batch) >= w.batchSize {
		return w.flushLocked()
	}

	return nil
}

// Flush writes any buffered layers to the database.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// flushLocked writes buffered layers to the database. Must be called with lock held.
func (w *Writer) flushLocked() error {
	if len(w.batch) == 0 {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO layers
		(position, id, name, kind, visible, created_at, mask_ref, bbox_x, bbox_y, bbox_width, bbox_height, width, height, raster)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range w.batch {
		var maskRef []byte
		if e.MaskRef != nil {
			raw, err := json.Marshal(e.MaskRef)
			if err != nil {
				return fmt.Errorf("failed to encode mask reference of %s: %w", e.ID, err)
			}
			// Inline data URLs make these large; they compress well.
			if maskRef, err = gzipCompress(raw); err != nil {
				return fmt.Errorf("failed to compress mask reference of %s: %w", e.ID, err)
			}
		}

		var bx, by, bw, bh sql.NullFloat64
		if b := e.BoundingBox; b != nil {
			bx = sql.NullFloat64{Float64: b.X, Valid: true}
			by = sql.NullFloat64{Float64: b.Y, Valid: true}
			bw = sql.NullFloat64{Float64: b.Width, Valid: true}
			bh = sql.NullFloat64{Float64: b.Height, Valid: true}
		}

		if _, err := stmt.Exec(
			e.Position, e.ID, e.Name, e.Kind, e.Visible, formatTime(e.CreatedAt),
			maskRef, bx, by, bw, bh, e.Width, e.Height, e.PNG,
		); err != nil {
			return fmt.Errorf("failed to insert layer %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	w.batch = w.batch[:0]
	return nil
}

// Close flushes any remaining layers and closes the database.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.db.Close()
		return err
	}

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// Export writes the whole stack (most recent first) to path.
func Export(path string, meta Metadata, layers []layer.Layer, level png.CompressionLevel) error {
	w, err := New(path, meta)
	if err != nil {
		return err
	}

	for i, l := range layers {
		e, err := EntryFromLayer(i, l, level)
		if err == nil {
			err = w.WriteLayer(e)
		}
		if err != nil {
			w.Abort()
			return err
		}
	}

	if err := w.Close(); err != nil {
		w.removeFiles()
		return err
	}
	return nil
}

// Abort discards buffered layers, closes the database and deletes the pack,
// so a failed export leaves nothing behind at path.
func (w *Writer) Abort() {
	w.mu.Lock()
	w.batch = w.batch[:0]
	w.mu.Unlock()

	_ = w.db.Close()
	w.removeFiles()
}

func (w *Writer) removeFiles() {
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		_ = os.Remove(w.path + suffix)
	}
}

// gzipCompress compresses data with gzip.
func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)

	if _, err := gw.Write(data); err != nil {
		gw.Close()
		return nil, err
	}

	if err := gw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
