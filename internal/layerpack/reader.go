package layerpack

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/MeKo-Tech/layerstudio/internal/raster"
	"github.com/MeKo-Tech/layerstudio/internal/types"
)

// ErrLayerNotFound is returned when a pack has no layer with the requested id.
var ErrLayerNotFound = errors.New("layer not found in pack")

// Reader reads an exported pack.
type Reader struct {
	db   *sql.DB
	path string
}

// OpenReader opens a pack for reading.
func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='layers'").Scan(&count)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify schema: %w", err)
	}
	if count == 0 {
		db.Close()
		return nil, fmt.Errorf("database does not contain layers table")
	}

	return &Reader{
		db:   db,
		path: path,
	}, nil
}

// Metadata reads the pack metadata.
func (r *Reader) Metadata() (Metadata, error) {
	rows, err := r.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return Metadata{}, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		values[name] = value.String
	}

	if err := rows.Err(); err != nil {
		return Metadata{}, fmt.Errorf("error iterating metadata: %w", err)
	}

	return metadataFromMap(values), nil
}

// Layers lists the stored layers top to bottom. Raster bytes are not loaded.
func (r *Reader) Layers() ([]Entry, error) {
	rows, err := r.db.Query(`SELECT position, id, name, kind, visible, created_at, mask_ref,
		bbox_x, bbox_y, bbox_width, bbox_height, width, height
		FROM layers ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query layers: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e              Entry
			createdAt      string
			maskRef        []byte
			bx, by, bw, bh sql.NullFloat64
		)
		if err := rows.Scan(&e.Position, &e.ID, &e.Name, &e.Kind, &e.Visible, &createdAt, &maskRef,
			&bx, &by, &bw, &bh, &e.Width, &e.Height); err != nil {
			return nil, fmt.Errorf("failed to scan layer row: %w", err)
		}

		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

		if len(maskRef) > 0 {
			raw, err := gzipDecompress(maskRef)
			if err != nil {
				return nil, fmt.Errorf("failed to decompress mask reference of %s: %w", e.ID, err)
			}
			var ref types.Asset
			if err := json.Unmarshal(raw, &ref); err != nil {
				return nil, fmt.Errorf("failed to decode mask reference of %s: %w", e.ID, err)
			}
			e.MaskRef = &ref
		}

		if bx.Valid && by.Valid && bw.Valid && bh.Valid {
			e.BoundingBox = &types.BoundingBox{X: bx.Float64, Y: by.Float64, Width: bw.Float64, Height: bh.Float64}
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating layers: %w", err)
	}

	return entries, nil
}

// RasterPNG returns the stored PNG bytes of layer id, or nil for layers without pixels.
func (r *Reader) RasterPNG(id string) ([]byte, error) {
	var data []byte
	err := r.db.QueryRow("SELECT raster FROM layers WHERE id=?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query layer: %w", err)
	}
	return data, nil
}

// Raster decodes the pixels of layer id. Layers without pixels return nil.
func (r *Reader) Raster(id string) (*image.NRGBA, error) {
	data, err := r.RasterPNG(id)
	if err != nil || data == nil {
		return nil, err
	}

	img, _, err := raster.DecodeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode layer %s: %w", id, err)
	}
	return img, nil
}

// Close closes the database connection.
func (r *Reader) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// gzipDecompress decompresses gzip data.
func gzipDecompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return io.ReadAll(gr)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
