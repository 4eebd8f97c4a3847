package layer

import (
	"errors"
	"fmt"
	"image"
	"time"
)

var (
	// ErrLayerNotFound is returned for ids that are not in the store.
	ErrLayerNotFound = errors.New("layer not found")
	// ErrDuplicateID is returned when inserting a layer whose id is already present.
	ErrDuplicateID = errors.New("duplicate layer id")
	// ErrInvalidLayer is returned for nil layers or layers without an id.
	ErrInvalidLayer = errors.New("invalid layer")
)

// InsertOptions controls a single insertion.
type InsertOptions struct {
	// ReplaceKind removes every layer of this kind before inserting.
	ReplaceKind Kind
	// Select moves the selection to the inserted layer.
	Select bool
}

// Store is the ordered, most-recent-first layer stack and its selection.
// Store is not safe for concurrent use; callers serialise mutations.
type Store struct {
	layers     []*Layer
	selectedID string
	now        func() time.Time
	// inserted records insertion order by id; Move does not change it.
	inserted map[string]uint64
	seq      uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{now: time.Now, inserted: make(map[string]uint64)}
}

// SetClock overrides the time source used for refreshed timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Insert prepends l, optionally removing every layer of opts.ReplaceKind first.
func (s *Store) Insert(l *Layer, opts InsertOptions) error {
	if err := s.validate(l); err != nil {
		return err
	}

	if opts.ReplaceKind != "" {
		s.layers = filter(s.layers, func(e *Layer) bool { return e.Kind != opts.ReplaceKind })
		s.forgetRemoved()
	}

	s.layers = append([]*Layer{l}, s.layers...)
	s.track(l)
	if opts.Select {
		s.selectedID = l.ID
	}
	s.reconcileSelection()
	return nil
}

// InsertBatch prepends batch as one group, keeping the batch order and the
// existing order below it, and selects the first layer of the batch.
// Either every layer is inserted or none is.
func (s *Store) InsertBatch(batch []*Layer) error {
	if len(batch) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(batch))
	for _, l := range batch {
		if err := s.validate(l); err != nil {
			return err
		}
		if _, dup := seen[l.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, l.ID)
		}
		seen[l.ID] = struct{}{}
	}

	merged := make([]*Layer, 0, len(batch)+len(s.layers))
	merged = append(merged, batch...)
	merged = append(merged, s.layers...)
	s.layers = merged
	// The first layer of the batch counts as the newest.
	for i := len(batch) - 1; i >= 0; i-- {
		s.track(batch[i])
	}
	s.selectedID = batch[0].ID
	return nil
}

// RemoveKind removes every layer of kind and returns how many were removed.
func (s *Store) RemoveKind(kind Kind) int {
	before := len(s.layers)
	s.layers = filter(s.layers, func(e *Layer) bool { return e.Kind != kind })
	s.forgetRemoved()
	s.reconcileSelection()
	return before - len(s.layers)
}

// Remove deletes one layer.
func (s *Store) Remove(id string) error {
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	s.layers = append(s.layers[:i:i], s.layers[i+1:]...)
	delete(s.inserted, id)
	s.reconcileSelection()
	return nil
}

// Move places layer id at position index (0 = top). Out-of-range indices are clamped.
func (s *Store) Move(id string, index int) error {
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}

	l := s.layers[i]
	rest := append(s.layers[:i:i], s.layers[i+1:]...)
	index = max(0, min(index, len(rest)))

	out := make([]*Layer, 0, len(s.layers))
	out = append(out, rest[:index]...)
	out = append(out, l)
	out = append(out, rest[index:]...)
	s.layers = out
	return nil
}

// Select makes id the selected layer.
func (s *Store) Select(id string) error {
	if s.index(id) < 0 {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	s.selectedID = id
	return nil
}

// ToggleVisibility flips the visible flag of id and returns the new value.
func (s *Store) ToggleVisibility(id string) (bool, error) {
	l := s.find(id)
	if l == nil {
		return false, fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	l.Visible = !l.Visible
	return l.Visible, nil
}

// Solo shows the segment layer id and hides every other segment layer.
// Non-segment layers keep their visibility.
func (s *Store) Solo(id string) error {
	if s.index(id) < 0 {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	for _, l := range s.layers {
		if l.Kind == KindSegment {
			l.Visible = l.ID == id
		}
	}
	return nil
}

// ReplaceRaster swaps the pixels of id in place and refreshes its timestamp.
func (s *Store) ReplaceRaster(id string, raster *image.NRGBA) error {
	l := s.find(id)
	if l == nil {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	l.Raster = raster
	l.CreatedAt = s.now()
	return nil
}

// Layers returns a snapshot of the stack, most recent first.
// Rasters are shared and must be treated as read-only.
func (s *Store) Layers() []Layer {
	out := make([]Layer, len(s.layers))
	for i, l := range s.layers {
		out[i] = *l
	}
	return out
}

// Len returns the number of layers.
func (s *Store) Len() int {
	return len(s.layers)
}

// Get returns a copy of layer id.
func (s *Store) Get(id string) (Layer, bool) {
	l := s.find(id)
	if l == nil {
		return Layer{}, false
	}
	return *l, true
}

// SelectedID returns the selected id, or "" when nothing is selected.
func (s *Store) SelectedID() string {
	return s.selectedID
}

// Selected returns a copy of the selected layer.
func (s *Store) Selected() (Layer, bool) {
	if s.selectedID == "" {
		return Layer{}, false
	}
	return s.Get(s.selectedID)
}

// Latest returns the most recently inserted layer of kind, wherever Move has
// since placed it in the stack.
func (s *Store) Latest(kind Kind) (Layer, bool) {
	var (
		latest *Layer
		best   uint64
	)
	for _, l := range s.layers {
		if l.Kind != kind {
			continue
		}
		if seq := s.inserted[l.ID]; latest == nil || seq > best {
			latest, best = l, seq
		}
	}
	if latest == nil {
		return Layer{}, false
	}
	return *latest, true
}

func (s *Store) track(l *Layer) {
	if s.inserted == nil {
		s.inserted = make(map[string]uint64)
	}
	s.seq++
	s.inserted[l.ID] = s.seq
}

// forgetRemoved drops insertion records of layers no longer in the stack.
func (s *Store) forgetRemoved() {
	if len(s.inserted) == len(s.layers) {
		return
	}
	live := make(map[string]struct{}, len(s.layers))
	for _, l := range s.layers {
		live[l.ID] = struct{}{}
	}
	for id := range s.inserted {
		if _, ok := live[id]; !ok {
			delete(s.inserted, id)
		}
	}
}

// Count returns how many layers of kind exist.
func (s *Store) Count(kind Kind) int {
	n := 0
	for _, l := range s.layers {
		if l.Kind == kind {
			n++
		}
	}
	return n
}

func (s *Store) validate(l *Layer) error {
	if l == nil || l.ID == "" {
		return ErrInvalidLayer
	}
	if s.index(l.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, l.ID)
	}
	return nil
}

// reconcileSelection keeps the selection pointing at an existing layer,
// falling back to the top of the stack, or none when the stack is empty.
func (s *Store) reconcileSelection() {
	if s.selectedID != "" && s.index(s.selectedID) >= 0 {
		return
	}
	if len(s.layers) == 0 {
		s.selectedID = ""
		return
	}
	s.selectedID = s.layers[0].ID
}

func (s *Store) index(id string) int {
	for i, l := range s.layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) find(id string) *Layer {
	if i := s.index(id); i >= 0 {
		return s.layers[i]
	}
	return nil
}

func filter(layers []*Layer, keep func(*Layer) bool) []*Layer {
	out := make([]*Layer, 0, len(layers))
	for _, l := range layers {
		if keep(l) {
			out = append(out, l)
		}
	}
	return out
}
