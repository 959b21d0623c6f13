// Package annobox provides the application core of a semi-automated
// bounding-box annotation tool: a class taxonomy store, an identity-addressed
// image collection with model-assisted pre-labeling, and dataset export to
// CSV, JSON and YOLO formats.
//
// The package composes the stores behind a single Annotator facade that a UI
// layer drives through narrow calls. The UI itself is decoupled through the
// View interface; the core never depends on a concrete UI and runs headless
// with a nil view, which is also how the test suite exercises it.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		"github.com/skalden/annobox"
//		"github.com/skalden/annobox/pkg/export"
//	)
//
//	func main() {
//		ctx := context.Background()
//
//		// No detection model: boxes are drawn manually.
//		ann, err := annobox.New(ctx, []string{"car", "truck"}, nil, "img/001.jpg", "img/002.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		ann.MarkReady()
//		ann.Next(ctx)
//
//		if err := ann.Export("dataset.json", export.FormatJSON, false, 0.2, export.DefaultSeed); err != nil {
//			log.Fatal(err)
//		}
//	}
package annobox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/skalden/annobox/pkg/annotation"
	"github.com/skalden/annobox/pkg/classes"
	"github.com/skalden/annobox/pkg/detector"
	"github.com/skalden/annobox/pkg/export"
	"github.com/skalden/annobox/pkg/types"
)

// Version of the annobox library
const Version = "1.0.0"

// ErrNoActiveImage is returned by operations that target the active image
// while the store is empty.
var ErrNoActiveImage = errors.New("no active image")

// View is the observer a UI registers to be told when core state changed and
// the screen needs updating. All notifications fire synchronously after the
// mutation completed; a nil view is valid and turns them off.
type View interface {
	// RedrawContent repaints the canvas. With onlyBoxes set, the image
	// itself is unchanged and only the box overlay needs redrawing.
	RedrawContent(onlyBoxes bool)
	// RefreshImageList updates the image navigation sidebar.
	RefreshImageList()
	// RefreshClassList updates the class sidebar.
	RefreshClassList()
	// RefreshAll rebuilds the complete view state.
	RefreshAll()
}

// Annotator is the application facade composing the class taxonomy, the
// image collection and the exporters.
type Annotator struct {
	classes *classes.Store
	images  *annotation.Store
	view    View
}

// New creates an Annotator over the given class names and image files. The
// model may be nil to disable auto-annotation.
func New(ctx context.Context, classNames []string, model detector.Model, imagePaths ...string) (*Annotator, error) {
	classStore, err := classes.NewFromNames(classNames...)
	if err != nil {
		return nil, err
	}
	imageStore, err := annotation.NewStore(ctx, classStore, model, imagePaths...)
	if err != nil {
		return nil, err
	}
	return &Annotator{classes: classStore, images: imageStore}, nil
}

// NewWithStores creates an Annotator over pre-built stores.
func NewWithStores(classStore *classes.Store, imageStore *annotation.Store) *Annotator {
	return &Annotator{classes: classStore, images: imageStore}
}

// SetView registers the UI observer. Passing nil detaches it.
func (a *Annotator) SetView(v View) { a.view = v }

// Classes exposes the class taxonomy store.
func (a *Annotator) Classes() *classes.Store { return a.classes }

// Images exposes the image collection store.
func (a *Annotator) Images() *annotation.Store { return a.images }

// ActiveImage returns the image mutations without an explicit identity apply
// to, or nil when the collection is empty.
func (a *Annotator) ActiveImage() *annotation.Image { return a.images.ActiveImage() }

// AddBox adds a bounding box with the given class to the active image.
func (a *Annotator) AddBox(box types.Box, labelUID int) error {
	img := a.images.ActiveImage()
	if img == nil {
		return ErrNoActiveImage
	}
	img.AddBox(box, labelUID)
	a.notify(func(v View) {
		v.RedrawContent(false)
		v.RefreshClassList()
	})
	return nil
}

// DeleteBox removes the box at idx from the active image.
func (a *Annotator) DeleteBox(idx int) error {
	img := a.images.ActiveImage()
	if img == nil {
		return ErrNoActiveImage
	}
	if err := img.Delete(idx); err != nil {
		return err
	}
	a.notify(func(v View) { v.RedrawContent(true) })
	return nil
}

// ChangeLabel assigns a new class to the box at idx on the active image.
func (a *Annotator) ChangeLabel(idx, labelUID int) error {
	img := a.images.ActiveImage()
	if img == nil {
		return ErrNoActiveImage
	}
	if err := img.ChangeLabel(idx, labelUID); err != nil {
		return err
	}
	a.notify(func(v View) { v.RedrawContent(true) })
	return nil
}

// ChangeBox replaces the coordinates of the box at idx on the active image.
func (a *Annotator) ChangeBox(idx int, box types.Box) error {
	img := a.images.ActiveImage()
	if img == nil {
		return ErrNoActiveImage
	}
	if err := img.ChangeBox(idx, box); err != nil {
		return err
	}
	a.notify(func(v View) { v.RedrawContent(true) })
	return nil
}

// MarkReady flags the active image as reviewed.
func (a *Annotator) MarkReady() error {
	img := a.images.ActiveImage()
	if img == nil {
		return ErrNoActiveImage
	}
	img.MarkReady()
	a.notify(func(v View) { v.RefreshImageList() })
	return nil
}

// Next moves to the next image, initializing it on first visit.
func (a *Annotator) Next(ctx context.Context) {
	a.images.Next(ctx)
	a.notify(func(v View) { v.RefreshAll() })
}

// JumpTo moves to the given image, initializing it on first visit.
func (a *Annotator) JumpTo(ctx context.Context, id uuid.UUID) error {
	if err := a.images.JumpTo(ctx, id); err != nil {
		return err
	}
	a.notify(func(v View) { v.RefreshAll() })
	return nil
}

// AddImages appends image files to the collection and returns their
// identities.
func (a *Annotator) AddImages(ctx context.Context, paths ...string) ([]uuid.UUID, error) {
	ids, err := a.images.AddFiles(ctx, paths...)
	if err != nil {
		return nil, err
	}
	a.notify(func(v View) { v.RefreshImageList() })
	return ids, nil
}

// DeleteImages removes images from the collection.
func (a *Annotator) DeleteImages(ids ...uuid.UUID) error {
	if err := a.images.DeleteImages(ids...); err != nil {
		return err
	}
	a.notify(func(v View) { v.RefreshAll() })
	return nil
}

// AddClass creates a new class with a derived UID, name and palette color
// and returns it.
func (a *Annotator) AddClass() (classes.Class, error) {
	cls, err := a.classes.AddClass(
		a.classes.NextUID(),
		a.classes.NextClassName(),
		a.classes.NextColor(),
		false,
	)
	if err != nil {
		return classes.Class{}, err
	}
	a.notify(func(v View) { v.RefreshClassList() })
	return cls, nil
}

// DeleteClass removes a class from the taxonomy. Boxes carrying it are
// reassigned to reassignTo when given, otherwise deleted. The caller must
// ensure at least one class remains; the taxonomy store is mechanical about
// this and will not refuse.
func (a *Annotator) DeleteClass(uid int, reassignTo *int) error {
	if _, err := a.classes.Name(uid); err != nil {
		return err
	}
	if reassignTo != nil {
		a.images.ReassignLabel(uid, *reassignTo)
	} else {
		a.images.RemoveLabel(uid)
	}
	a.classes.DeleteClass(uid)
	a.notify(func(v View) {
		v.RedrawContent(true)
		v.RefreshClassList()
	})
	return nil
}

// SetDefaultClass marks the class with the given UID as the default.
func (a *Annotator) SetDefaultClass(uid int) error {
	return a.classes.SetDefaultUID(uid)
}

// ChangeClassName renames classes in bulk.
func (a *Annotator) ChangeClassName(uids []int, names []string) error {
	if err := a.classes.ChangeName(uids, names); err != nil {
		return err
	}
	a.notify(func(v View) {
		v.RedrawContent(true)
		v.RefreshClassList()
	})
	return nil
}

// ChangeClassColor updates a class color.
func (a *Annotator) ChangeClassColor(uid int, color string) error {
	if err := a.classes.ChangeColor(uid, color); err != nil {
		return err
	}
	a.notify(func(v View) { v.RedrawContent(true) })
	return nil
}

// Export writes the dataset to path in the given format.
func (a *Annotator) Export(path string, format export.Format, onlyReady bool, testSplit float64, seed int64) error {
	return export.Export(path, format, a.images, a.classes, onlyReady, testSplit, seed)
}

// Save writes the complete annotation state to a JSON file: no filtering,
// no split.
func (a *Annotator) Save(path string) error {
	return a.Export(path, export.FormatJSON, false, 0.0, export.DefaultSeed)
}

// importDocument is the subset of the JSON export read back on import.
type importDocument struct {
	Train []annotation.Record `json:"train"`
	Test  []annotation.Record `json:"test"`
}

// ImportJSON loads a previously exported JSON file and appends placeholder
// images for every entry. Only file path and name are restored; boxes,
// labels and the ready flag are discarded so imported images go through
// detection and review again.
func (a *Annotator) ImportJSON(ctx context.Context, path string) ([]uuid.UUID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotation file: %w", err)
	}
	var doc importDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse annotation file: %w", err)
	}

	paths := make([]string, 0, len(doc.Train)+len(doc.Test))
	for _, rec := range doc.Train {
		paths = append(paths, rec.FilePath)
	}
	for _, rec := range doc.Test {
		paths = append(paths, rec.FilePath)
	}

	ids, err := a.images.AddFiles(ctx, paths...)
	if err != nil {
		return nil, err
	}
	a.notify(func(v View) { v.RefreshAll() })
	return ids, nil
}

func (a *Annotator) notify(fn func(View)) {
	if a.view != nil {
		fn(a.view)
	}
}
