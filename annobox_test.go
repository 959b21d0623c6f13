package annobox

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalden/annobox/pkg/annotation"
	"github.com/skalden/annobox/pkg/classes"
	"github.com/skalden/annobox/pkg/detector"
	"github.com/skalden/annobox/pkg/export"
	"github.com/skalden/annobox/pkg/types"
)

// recordingView counts notifications so tests can assert which screen updates
// a mutation triggers.
type recordingView struct {
	redraws          int
	lastOnlyBoxes    bool
	imageListRefresh int
	classListRefresh int
	allRefresh       int
}

func (v *recordingView) RedrawContent(onlyBoxes bool) {
	v.redraws++
	v.lastOnlyBoxes = onlyBoxes
}
func (v *recordingView) RefreshImageList() { v.imageListRefresh++ }
func (v *recordingView) RefreshClassList() { v.classListRefresh++ }
func (v *recordingView) RefreshAll()       { v.allRefresh++ }

func writeFacadeImage(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 640, 640))
	for y := 0; y < 640; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.NRGBA{R: 40, G: 40, B: 200, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

// newTestAnnotator builds a facade over n images with a mock detector that
// finds one centered class2 box per image.
func newTestAnnotator(t *testing.T, n int) (*Annotator, *recordingView) {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = writeFacadeImage(t, dir, fmt.Sprintf("test_img_%d.jpg", i+1))
	}
	model := detector.NewMock(
		[][4]float64{{160, 160, 480, 480}},
		[]string{"class2"},
		nil, 640, 640,
	)
	ann, err := New(context.Background(), []string{"class1", "class2", "class3"}, model, paths...)
	require.NoError(t, err)

	view := &recordingView{}
	ann.SetView(view)
	return ann, view
}

func TestNewAnnotator(t *testing.T) {
	ann, _ := newTestAnnotator(t, 2)

	assert.Equal(t, 2, ann.Images().Len())
	assert.Equal(t, 3, ann.Classes().Len())
	require.NotNil(t, ann.ActiveImage())

	// The first image was auto-annotated on add
	boxes := ann.ActiveImage().Boxes()
	require.Len(t, boxes, 1)
	assert.Equal(t, types.Box{Cx: 0.5, Cy: 0.5, W: 0.5, H: 0.5}, boxes[0])
	assert.Equal(t, []int{1}, ann.ActiveImage().LabelUIDs())
}

func TestAddBox(t *testing.T) {
	ann, view := newTestAnnotator(t, 1)

	box := types.Box{Cx: 0.25, Cy: 0.25, W: 0.1, H: 0.1}
	require.NoError(t, ann.AddBox(box, 0))

	assert.Len(t, ann.ActiveImage().Boxes(), 2)
	assert.Equal(t, 1, view.redraws)
	assert.False(t, view.lastOnlyBoxes)
	assert.Equal(t, 1, view.classListRefresh)
}

func TestDeleteBox(t *testing.T) {
	ann, view := newTestAnnotator(t, 1)

	require.NoError(t, ann.DeleteBox(0))
	assert.Empty(t, ann.ActiveImage().Boxes())
	assert.Equal(t, 1, view.redraws)
	assert.True(t, view.lastOnlyBoxes)

	err := ann.DeleteBox(5)
	assert.ErrorIs(t, err, annotation.ErrIndexOutOfRange)
	assert.Equal(t, 1, view.redraws)
}

func TestChangeLabelAndBox(t *testing.T) {
	ann, view := newTestAnnotator(t, 1)

	require.NoError(t, ann.ChangeLabel(0, 2))
	assert.Equal(t, []int{2}, ann.ActiveImage().LabelUIDs())

	box := types.Box{Cx: 0.6, Cy: 0.6, W: 0.2, H: 0.2}
	require.NoError(t, ann.ChangeBox(0, box))
	assert.Equal(t, box, ann.ActiveImage().Boxes()[0])

	assert.Equal(t, 2, view.redraws)
	assert.True(t, view.lastOnlyBoxes)
}

func TestOperationsOnEmptyCollection(t *testing.T) {
	ann, view := newTestAnnotator(t, 0)

	box := types.Box{Cx: 0.5, Cy: 0.5, W: 0.1, H: 0.1}
	assert.ErrorIs(t, ann.AddBox(box, 0), ErrNoActiveImage)
	assert.ErrorIs(t, ann.DeleteBox(0), ErrNoActiveImage)
	assert.ErrorIs(t, ann.ChangeLabel(0, 1), ErrNoActiveImage)
	assert.ErrorIs(t, ann.ChangeBox(0, box), ErrNoActiveImage)
	assert.ErrorIs(t, ann.MarkReady(), ErrNoActiveImage)

	assert.Zero(t, view.redraws)
	assert.Zero(t, view.imageListRefresh)
}

func TestMarkReady(t *testing.T) {
	ann, view := newTestAnnotator(t, 1)

	require.NoError(t, ann.MarkReady())
	assert.True(t, ann.ActiveImage().Ready())
	assert.Equal(t, 1, view.imageListRefresh)
}

func TestNextAndJumpTo(t *testing.T) {
	ann, view := newTestAnnotator(t, 3)
	ctx := context.Background()
	imgs := ann.Images().Images()

	ann.Next(ctx)
	assert.Equal(t, imgs[1].ID(), ann.Images().ActiveID())
	assert.Len(t, imgs[1].Boxes(), 1)
	assert.Equal(t, 1, view.allRefresh)

	require.NoError(t, ann.JumpTo(ctx, imgs[0].ID()))
	assert.Equal(t, imgs[0].ID(), ann.Images().ActiveID())
	assert.Equal(t, 2, view.allRefresh)

	assert.ErrorIs(t, ann.JumpTo(ctx, uuid.New()), annotation.ErrUnknownImage)
	assert.Equal(t, 2, view.allRefresh)
}

func TestAddAndDeleteImages(t *testing.T) {
	ann, view := newTestAnnotator(t, 1)
	ctx := context.Background()

	path := writeFacadeImage(t, t.TempDir(), "extra.jpg")
	ids, err := ann.AddImages(ctx, path)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, 2, ann.Images().Len())
	assert.Equal(t, 1, view.imageListRefresh)

	require.NoError(t, ann.DeleteImages(ids[0]))
	assert.Equal(t, 1, ann.Images().Len())
	assert.Equal(t, 1, view.allRefresh)

	err = ann.DeleteImages(uuid.New())
	assert.ErrorIs(t, err, annotation.ErrUnknownImage)
	assert.Equal(t, 1, view.allRefresh)
}

func TestAddClass(t *testing.T) {
	ann, view := newTestAnnotator(t, 0)

	cls, err := ann.AddClass()
	require.NoError(t, err)
	assert.Equal(t, 3, cls.UID)
	assert.Equal(t, "Class 4", cls.Name)
	assert.Equal(t, classes.DefaultColors[3], cls.Color)
	assert.False(t, cls.Default)
	assert.Equal(t, 4, ann.Classes().Len())
	assert.Equal(t, 1, view.classListRefresh)
}

func TestDeleteClassReassign(t *testing.T) {
	ann, view := newTestAnnotator(t, 2)
	ctx := context.Background()
	ann.Next(ctx)
	view.allRefresh = 0

	// Both images carry one class2 (uid 1) box; move them to class1
	target := 0
	require.NoError(t, ann.DeleteClass(1, &target))

	assert.Equal(t, 2, ann.Classes().Len())
	_, err := ann.Classes().Name(1)
	assert.ErrorIs(t, err, classes.ErrUnknownUID)
	for _, img := range ann.Images().Images() {
		assert.Equal(t, []int{0}, img.LabelUIDs())
	}
	assert.Equal(t, 1, view.redraws)
	assert.Equal(t, 1, view.classListRefresh)
}

func TestDeleteClassRemoveBoxes(t *testing.T) {
	ann, _ := newTestAnnotator(t, 2)
	ann.Next(context.Background())

	require.NoError(t, ann.DeleteClass(1, nil))

	assert.Equal(t, 2, ann.Classes().Len())
	for _, img := range ann.Images().Images() {
		assert.Empty(t, img.Boxes())
		assert.Empty(t, img.LabelUIDs())
	}
}

func TestDeleteClassUnknown(t *testing.T) {
	ann, view := newTestAnnotator(t, 1)

	err := ann.DeleteClass(99, nil)
	assert.ErrorIs(t, err, classes.ErrUnknownUID)
	assert.Equal(t, 3, ann.Classes().Len())
	assert.Len(t, ann.ActiveImage().Boxes(), 1)
	assert.Zero(t, view.redraws)
}

func TestSetDefaultClass(t *testing.T) {
	ann, _ := newTestAnnotator(t, 0)

	require.NoError(t, ann.SetDefaultClass(2))
	uid, err := ann.Classes().DefaultUID()
	require.NoError(t, err)
	assert.Equal(t, 2, uid)

	assert.ErrorIs(t, ann.SetDefaultClass(99), classes.ErrUnknownUID)
}

func TestChangeClassNameAndColor(t *testing.T) {
	ann, view := newTestAnnotator(t, 0)

	require.NoError(t, ann.ChangeClassName([]int{0, 2}, []string{"car", "truck"}))
	name, err := ann.Classes().Name(0)
	require.NoError(t, err)
	assert.Equal(t, "car", name)
	assert.Equal(t, 1, view.classListRefresh)

	err = ann.ChangeClassName([]int{0}, []string{"class2"})
	assert.ErrorIs(t, err, classes.ErrDuplicateName)
	assert.Equal(t, 1, view.classListRefresh)

	require.NoError(t, ann.ChangeClassColor(0, "#ABCDEF"))
	col, err := ann.Classes().Color(0)
	require.NoError(t, err)
	assert.Equal(t, "#ABCDEF", col)

	assert.ErrorIs(t, ann.ChangeClassColor(99, "#000000"), classes.ErrUnknownUID)
}

func TestSaveAndImportJSON(t *testing.T) {
	ann, _ := newTestAnnotator(t, 2)
	ctx := context.Background()
	ann.Next(ctx)
	require.NoError(t, ann.MarkReady())

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, ann.Save(path))

	// Import into a fresh annotator without a detector: only the image
	// references come back, annotations and review state do not.
	fresh, err := New(ctx, []string{"class1", "class2", "class3"}, nil)
	require.NoError(t, err)
	ids, err := fresh.ImportJSON(ctx, path)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	assert.ElementsMatch(t, ann.Images().ImageNames(), fresh.Images().ImageNames())
	for _, img := range fresh.Images().Images() {
		assert.Empty(t, img.Boxes())
		assert.False(t, img.Ready())
	}
}

func TestImportJSONMissingFile(t *testing.T) {
	ann, _ := newTestAnnotator(t, 0)

	_, err := ann.ImportJSON(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestExportThroughFacade(t *testing.T) {
	ann, _ := newTestAnnotator(t, 2)

	path := filepath.Join(t.TempDir(), "dataset.json")
	require.NoError(t, ann.Export(path, export.FormatJSON, false, 0.0, export.DefaultSeed))
	assert.FileExists(t, path)
}

func TestNilViewIsSafe(t *testing.T) {
	ann, _ := newTestAnnotator(t, 1)
	ann.SetView(nil)

	require.NoError(t, ann.AddBox(types.Box{Cx: 0.5, Cy: 0.5, W: 0.1, H: 0.1}, 0))
	require.NoError(t, ann.MarkReady())
	ann.Next(context.Background())
}
