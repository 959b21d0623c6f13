// Package annotation implements the annotation state of the dataset: the
// per-image box/label lists and the identity-addressed image collection with
// its navigation cursor.
package annotation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skalden/annobox/internal/imgio"
	"github.com/skalden/annobox/internal/logging"
	"github.com/skalden/annobox/pkg/classes"
	"github.com/skalden/annobox/pkg/detector"
	"github.com/skalden/annobox/pkg/types"
)

// ErrIndexOutOfRange is returned for box indices outside the annotation list.
var ErrIndexOutOfRange = errors.New("box index out of range")

// Image holds the annotation state of one dataset image: a list of bounding
// boxes with a parallel list of class UIDs, the review flags and the one-way
// auto-initialization state. The two lists always have equal length.
//
// Each image carries an opaque identity that stays stable for its lifetime,
// so the store can address it independent of its position.
type Image struct {
	id      uuid.UUID
	path    string
	name    string
	classes *classes.Store

	boxes     []types.Box
	labelUIDs []int

	ready           bool
	skip            bool
	autoInitialized bool

	width  int
	height int
}

// NewImage creates the annotation state for the image file at path. The image
// header is read once to capture the original pixel dimensions.
func NewImage(path, name string, classStore *classes.Store) (*Image, error) {
	w, h, err := imgio.Size(path)
	if err != nil {
		return nil, err
	}
	return &Image{
		id:      uuid.New(),
		path:    path,
		name:    name,
		classes: classStore,
		width:   w,
		height:  h,
	}, nil
}

// ID returns the stable identity of the image.
func (img *Image) ID() uuid.UUID { return img.id }

// Path returns the image file path.
func (img *Image) Path() string { return img.path }

// Name returns the image file name.
func (img *Image) Name() string { return img.name }

// Width returns the original image width in pixels.
func (img *Image) Width() int { return img.width }

// Height returns the original image height in pixels.
func (img *Image) Height() int { return img.height }

// Ready reports whether the image has been marked as ready for export.
func (img *Image) Ready() bool { return img.ready }

// Skip reports whether the image should be skipped during annotation.
func (img *Image) Skip() bool { return img.skip }

// SetSkip sets the skip flag.
func (img *Image) SetSkip(skip bool) { img.skip = skip }

// AutoInitialized reports whether the image has been populated from the
// detection model.
func (img *Image) AutoInitialized() bool { return img.autoInitialized }

// Boxes returns a copy of the bounding boxes.
func (img *Image) Boxes() []types.Box {
	out := make([]types.Box, len(img.boxes))
	copy(out, img.boxes)
	return out
}

// LabelUIDs returns a copy of the class UIDs parallel to Boxes.
func (img *Image) LabelUIDs() []int {
	out := make([]int, len(img.labelUIDs))
	copy(out, img.labelUIDs)
	return out
}

// Len returns the number of annotated boxes.
func (img *Image) Len() int { return len(img.boxes) }

// Init populates the image with detections from the model. The call is
// idempotent: once initialized it is a no-op, and a nil model disables
// auto-annotation entirely. Failures never surface to the caller; the image
// is left uninitialized with zero boxes, ready for manual annotation.
func (img *Image) Init(ctx context.Context, model detector.Model) {
	if img.autoInitialized || model == nil {
		return
	}
	decoded, err := imgio.Open(img.path)
	if err != nil {
		logging.Log().Warn("failed to initialize image",
			zap.String("path", img.path), zap.Error(err))
		return
	}
	detections, err := model.Detect(ctx, decoded)
	if err != nil {
		logging.Log().Warn("failed to initialize image",
			zap.String("path", img.path), zap.Error(err))
		return
	}
	labels := make([]string, len(detections))
	boxes := make([]types.Box, len(detections))
	for i, det := range detections {
		boxes[i] = det.BoxN
		labels[i] = det.Label
	}
	img.boxes = boxes
	img.labelUIDs = img.LabelsToUIDs(labels)
	img.autoInitialized = true
}

// MarkReady flags the image as reviewed and eligible for ready-only export.
func (img *Image) MarkReady() { img.ready = true }

// AddBox appends a bounding box with its class UID.
func (img *Image) AddBox(box types.Box, labelUID int) {
	img.boxes = append(img.boxes, box)
	img.labelUIDs = append(img.labelUIDs, labelUID)
}

// Delete removes the box and its label at idx.
func (img *Image) Delete(idx int) error {
	if idx < 0 || idx >= len(img.boxes) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, idx)
	}
	img.boxes = append(img.boxes[:idx], img.boxes[idx+1:]...)
	img.labelUIDs = append(img.labelUIDs[:idx], img.labelUIDs[idx+1:]...)
	return nil
}

// ChangeLabel assigns a new class UID to the box at idx.
func (img *Image) ChangeLabel(idx, labelUID int) error {
	if idx < 0 || idx >= len(img.labelUIDs) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, idx)
	}
	img.labelUIDs[idx] = labelUID
	return nil
}

// ChangeBox replaces the coordinates of the box at idx.
func (img *Image) ChangeBox(idx int, box types.Box) error {
	if idx < 0 || idx >= len(img.boxes) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, idx)
	}
	img.boxes[idx] = box
	return nil
}

// DeleteAllWithLabel removes every box carrying the given class UID.
func (img *Image) DeleteAllWithLabel(labelUID int) {
	boxes := img.boxes[:0]
	uids := img.labelUIDs[:0]
	for i, uid := range img.labelUIDs {
		if uid != labelUID {
			boxes = append(boxes, img.boxes[i])
			uids = append(uids, uid)
		}
	}
	img.boxes = boxes
	img.labelUIDs = uids
}

// ChangeAllLabels rewrites every occurrence of oldUID to newUID.
func (img *Image) ChangeAllLabels(oldUID, newUID int) {
	for i, uid := range img.labelUIDs {
		if uid == oldUID {
			img.labelUIDs[i] = newUID
		}
	}
}

// LabelsToUIDs translates class labels to UIDs. Labels unknown to the class
// store fall back to the default class.
func (img *Image) LabelsToUIDs(labels []string) []int {
	uids := make([]int, len(labels))
	for i, label := range labels {
		uid, err := img.classes.UID(label)
		if err != nil {
			uid, _ = img.classes.DefaultUID()
		}
		uids[i] = uid
	}
	return uids
}

// Record is the export-ready snapshot of an image with labels resolved to
// class names.
type Record struct {
	FilePath string      `json:"file_path"`
	FileName string      `json:"file_name"`
	Boxes    []types.Box `json:"boxes"`
	Labels   []string    `json:"labels"`
	Ready    bool        `json:"ready"`
	Skip     bool        `json:"skip"`
}

// Record resolves the image state into an export snapshot. It fails if a box
// references a class UID that no longer exists.
func (img *Image) Record() (Record, error) {
	labels := make([]string, len(img.labelUIDs))
	for i, uid := range img.labelUIDs {
		name, err := img.classes.Name(uid)
		if err != nil {
			return Record{}, fmt.Errorf("image %s: %w", img.name, err)
		}
		labels[i] = name
	}
	return Record{
		FilePath: img.path,
		FileName: img.name,
		Boxes:    img.Boxes(),
		Labels:   labels,
		Ready:    img.ready,
		Skip:     img.skip,
	}, nil
}
