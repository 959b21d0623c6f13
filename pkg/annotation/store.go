package annotation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/skalden/annobox/pkg/classes"
	"github.com/skalden/annobox/pkg/detector"
	"github.com/skalden/annobox/pkg/types"
)

// Errors reported for caller-contract violations on the store.
var (
	ErrUnknownImage   = errors.New("unknown image identity")
	ErrDuplicateImage = errors.New("duplicate image identity")
	ErrNoChange       = errors.New("neither box nor label given")
)

// Store owns the ordered collection of images and the active cursor.
//
// Images are addressed by their stable identity rather than by position, so
// inserts and deletes never invalidate references held by callers. The active
// identity is uuid.Nil exactly when the store is empty; every mutation that
// could violate this re-derives the cursor.
type Store struct {
	classes *classes.Store
	model   detector.Model
	images  []*Image
	active  uuid.UUID
}

// NewStore creates a store over the given image files. The first image, if
// any, becomes active and is eagerly initialized from the model.
func NewStore(ctx context.Context, classStore *classes.Store, model detector.Model, paths ...string) (*Store, error) {
	s := &Store{classes: classStore, model: model}
	if _, err := s.AddFiles(ctx, paths...); err != nil {
		return nil, err
	}
	return s, nil
}

// AddFiles constructs annotation state for each image file and appends it to
// the store. The identities of the new images are returned in order. If the
// store was empty, the first added image becomes active and is initialized
// right away.
func (s *Store) AddFiles(ctx context.Context, paths ...string) ([]uuid.UUID, error) {
	imgs := make([]*Image, 0, len(paths))
	for _, path := range paths {
		img, err := NewImage(path, filepath.Base(path), s.classes)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", path, err)
		}
		imgs = append(imgs, img)
	}
	return s.AddImages(ctx, imgs...), nil
}

// AddImages appends pre-built images to the store and returns their
// identities. If the store was empty, the first added image becomes active
// and is initialized right away.
func (s *Store) AddImages(ctx context.Context, imgs ...*Image) []uuid.UUID {
	wasEmpty := len(s.images) == 0
	ids := make([]uuid.UUID, len(imgs))
	for i, img := range imgs {
		s.images = append(s.images, img)
		ids[i] = img.ID()
	}
	if wasEmpty && len(s.images) > 0 {
		s.active = s.images[0].ID()
		s.images[0].Init(ctx, s.model)
	}
	return ids
}

// DeleteImages removes the given images from the store. The whole batch is
// validated first: an unknown or duplicated identity fails the call before
// anything is removed.
//
// When the active image is among the deleted ones, the cursor moves to the
// image immediately after it in store order, or to the previous one if it was
// last. The re-pointing happens per deletion step, so the new pick is valid
// even if later identities in the batch hit it again. Deleting every image
// leaves the cursor at uuid.Nil.
func (s *Store) DeleteImages(ids ...uuid.UUID) error {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateImage, id)
		}
		seen[id] = struct{}{}
		if s.indexOf(id) == -1 {
			return fmt.Errorf("%w: %s", ErrUnknownImage, id)
		}
	}

	for _, id := range ids {
		idx := s.indexOf(id)
		if id == s.active {
			switch {
			case idx < len(s.images)-1:
				s.active = s.images[idx+1].ID()
			case idx > 0:
				s.active = s.images[idx-1].ID()
			default:
				s.active = uuid.Nil
			}
		}
		s.images = append(s.images[:idx], s.images[idx+1:]...)
	}
	return nil
}

// ActivateImage sets the active image without triggering initialization.
func (s *Store) ActivateImage(id uuid.UUID) error {
	if s.indexOf(id) == -1 {
		return fmt.Errorf("%w: %s", ErrUnknownImage, id)
	}
	s.active = id
	return nil
}

// Next advances the cursor to the image following the active one and
// initializes it if it has not been seen yet. At the end of the store the
// call is a no-op. With no active image but a non-empty store, the cursor
// jumps to the first image.
func (s *Store) Next(ctx context.Context) {
	if s.active == uuid.Nil {
		if len(s.images) > 0 {
			_ = s.JumpTo(ctx, s.images[0].ID())
		}
		return
	}
	idx := s.indexOf(s.active)
	if idx >= 0 && idx < len(s.images)-1 {
		_ = s.JumpTo(ctx, s.images[idx+1].ID())
	}
}

// JumpTo makes the given image active and initializes it if it has not been
// seen yet.
func (s *Store) JumpTo(ctx context.Context, id uuid.UUID) error {
	idx := s.indexOf(id)
	if idx == -1 {
		return fmt.Errorf("%w: %s", ErrUnknownImage, id)
	}
	s.active = id
	s.images[idx].Init(ctx, s.model)
	return nil
}

// RemoveLabel deletes every box carrying the given class UID from all images.
func (s *Store) RemoveLabel(labelUID int) {
	for _, img := range s.images {
		img.DeleteAllWithLabel(labelUID)
	}
}

// ReassignLabel rewrites every occurrence of oldUID to newUID across all
// images, keeping the boxes.
func (s *Store) ReassignLabel(oldUID, newUID int) {
	for _, img := range s.images {
		img.ChangeAllLabels(oldUID, newUID)
	}
}

// ChangeImageAnnotation updates the box coordinates and/or the label of the
// annotation at idx on the given image. At least one of box and labelUID must
// be set; calling with neither is a caller error, not a no-op.
func (s *Store) ChangeImageAnnotation(id uuid.UUID, idx int, box *types.Box, labelUID *int) error {
	img, err := s.Get(id)
	if err != nil {
		return err
	}
	if box == nil && labelUID == nil {
		return ErrNoChange
	}
	if box != nil {
		if err := img.ChangeBox(idx, *box); err != nil {
			return err
		}
	}
	if labelUID != nil {
		if err := img.ChangeLabel(idx, *labelUID); err != nil {
			return err
		}
	}
	return nil
}

// ActiveID returns the identity of the active image, or uuid.Nil when the
// store is empty.
func (s *Store) ActiveID() uuid.UUID { return s.active }

// ActiveImage returns the active image, or nil when the store is empty.
func (s *Store) ActiveImage() *Image {
	if s.active == uuid.Nil {
		return nil
	}
	idx := s.indexOf(s.active)
	if idx == -1 {
		return nil
	}
	return s.images[idx]
}

// ImageNames returns the file names of all images in store order.
func (s *Store) ImageNames() []string {
	names := make([]string, len(s.images))
	for i, img := range s.images {
		names[i] = img.Name()
	}
	return names
}

// Records resolves every image into its export snapshot, in store order.
func (s *Store) Records() ([]Record, error) {
	records := make([]Record, len(s.images))
	for i, img := range s.images {
		rec, err := img.Record()
		if err != nil {
			return nil, err
		}
		records[i] = rec
	}
	return records, nil
}

// Get resolves an identity to its image.
func (s *Store) Get(id uuid.UUID) (*Image, error) {
	idx := s.indexOf(id)
	if idx == -1 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownImage, id)
	}
	return s.images[idx], nil
}

// Images returns the images in store order. The returned slice is a copy;
// the images themselves are shared.
func (s *Store) Images() []*Image {
	out := make([]*Image, len(s.images))
	copy(out, s.images)
	return out
}

// Len returns the number of images in the store.
func (s *Store) Len() int { return len(s.images) }

func (s *Store) indexOf(id uuid.UUID) int {
	for i, img := range s.images {
		if img.ID() == id {
			return i
		}
	}
	return -1
}
