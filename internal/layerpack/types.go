// Package layerpack stores an exported layer stack in a single SQLite file.
package layerpack

import (
	"strconv"
	"time"

	"github.com/MeKo-Tech/layerstudio/internal/types"
)

// FormatVersion is written to every pack.
const FormatVersion = "1"

// Metadata describes a pack as a whole.
type Metadata struct {
	CreatedAt   time.Time
	Name        string // Human-readable project name
	Description string
	SelectedID  string // Layer selected at export time
	Version     string
	Width       int // Canvas size of the flattened stack
	Height      int
}

// ToMap converts Metadata to a map for database insertion.
func (m Metadata) ToMap() map[string]string {
	result := make(map[string]string)

	if m.Name != "" {
		result["name"] = m.Name
	}
	if m.Description != "" {
		result["description"] = m.Description
	}
	if m.SelectedID != "" {
		result["selected"] = m.SelectedID
	}
	if m.Width > 0 {
		result["width"] = strconv.Itoa(m.Width)
	}
	if m.Height > 0 {
		result["height"] = strconv.Itoa(m.Height)
	}
	if !m.CreatedAt.IsZero() {
		result["created_at"] = m.CreatedAt.UTC().Format(time.RFC3339)
	}

	version := m.Version
	if version == "" {
		version = FormatVersion
	}
	result["version"] = version

	return result
}

// metadataFromMap is the inverse of ToMap. Unparseable values are left zero.
func metadataFromMap(values map[string]string) Metadata {
	meta := Metadata{
		Name:        values["name"],
		Description: values["description"],
		SelectedID:  values["selected"],
		Version:     values["version"],
	}
	if v, err := strconv.Atoi(values["width"]); err == nil {
		meta.Width = v
	}
	if v, err := strconv.Atoi(values["height"]); err == nil {
		meta.Height = v
	}
	if v, err := time.Parse(time.RFC3339, values["created_at"]); err == nil {
		meta.CreatedAt = v
	}
	return meta
}

// Entry is one stored layer. Position 0 is the top of the stack.
type Entry struct {
	CreatedAt   time.Time
	MaskRef     *types.Asset
	BoundingBox *types.BoundingBox
	ID          string
	Name        string
	Kind        string
	PNG         []byte // nil for layers without pixels
	Position    int
	Width       int
	Height      int
	Visible     bool
}
