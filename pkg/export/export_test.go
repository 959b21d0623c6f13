package export

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/skalden/annobox/pkg/annotation"
	"github.com/skalden/annobox/pkg/classes"
	"github.com/skalden/annobox/pkg/types"
)

func writeExportImage(t *testing.T, dir, name string, width, height int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: 120, G: 180, B: 60, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

func newExportClasses(t *testing.T) *classes.Store {
	t.Helper()
	cs, err := classes.NewFromNames("class1", "class2", "class3")
	require.NoError(t, err)
	return cs
}

// newExportStore builds a store of n images without a detector; annotations
// are added by the tests themselves.
func newExportStore(t *testing.T, cs *classes.Store, n int) *annotation.Store {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = writeExportImage(t, dir, fmt.Sprintf("test_img_%d.jpg", i+1), 320, 240)
	}
	s, err := annotation.NewStore(context.Background(), cs, nil, paths...)
	require.NoError(t, err)
	return s
}

func TestExportCSV(t *testing.T) {
	cs := newExportClasses(t)
	s := newExportStore(t, cs, 3)

	imgs := s.Images()
	imgs[0].AddBox(types.Box{Cx: 0.5, Cy: 0.5, W: 0.25, H: 0.25}, 0)
	imgs[0].AddBox(types.Box{Cx: 0.2, Cy: 0.3, W: 0.1, H: 0.1}, 1)
	// imgs[1] stays empty
	imgs[2].AddBox(types.Box{Cx: 0.75, Cy: 0.75, W: 0.5, H: 0.5}, 2)

	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, Export(path, FormatCSV, s, cs, false, 0.0, DefaultSeed))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")

	assert.Equal(t, "path;file_name;center_x;center_y;width;height;label;split", lines[0])
	// One row per box, so the empty image contributes nothing
	require.Len(t, lines, 4)
	for _, line := range lines[1:] {
		fields := strings.Split(line, CSVDelimiter)
		require.Len(t, fields, 8)
		assert.Equal(t, "train", fields[7])
	}
}

func TestExportCSVOnlyReady(t *testing.T) {
	cs := newExportClasses(t)
	s := newExportStore(t, cs, 3)

	imgs := s.Images()
	for _, img := range imgs {
		img.AddBox(types.Box{Cx: 0.5, Cy: 0.5, W: 0.25, H: 0.25}, 0)
	}
	imgs[0].MarkReady()

	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, Export(path, FormatCSV, s, cs, true, 0.0, DefaultSeed))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], imgs[0].Name())
}

func TestExportCSVDeterministic(t *testing.T) {
	cs := newExportClasses(t)
	s := newExportStore(t, cs, 5)
	for i, img := range s.Images() {
		img.AddBox(types.Box{Cx: 0.5, Cy: 0.5, W: 0.1 * float64(i+1), H: 0.1}, i%3)
	}

	dir := t.TempDir()
	first := filepath.Join(dir, "first.csv")
	second := filepath.Join(dir, "second.csv")
	require.NoError(t, Export(first, FormatCSV, s, cs, false, 0.4, 7))
	require.NoError(t, Export(second, FormatCSV, s, cs, false, 0.4, 7))

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestExportCSVBadPath(t *testing.T) {
	cs := newExportClasses(t)
	s := newExportStore(t, cs, 1)

	err := Export(filepath.Join(t.TempDir(), "export.txt"), FormatCSV, s, cs, false, 0.0, DefaultSeed)
	assert.Error(t, err)
}

func TestExportUnsupportedFormat(t *testing.T) {
	cs := newExportClasses(t)
	s := newExportStore(t, cs, 1)

	err := Export(filepath.Join(t.TempDir(), "export.xml"), Format("xml"), s, cs, false, 0.0, DefaultSeed)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExportJSON(t *testing.T) {
	cs := newExportClasses(t)
	s := newExportStore(t, cs, 3)

	imgs := s.Images()
	imgs[0].AddBox(types.Box{Cx: 0.5, Cy: 0.5, W: 0.25, H: 0.25}, 2)
	imgs[1].AddBox(types.Box{Cx: 0.1, Cy: 0.2, W: 0.05, H: 0.05}, 0)

	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, Export(path, FormatJSON, s, cs, false, 0.0, DefaultSeed))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		ClassMapping []classes.Class     `json:"class_mapping"`
		Train        []annotation.Record `json:"train"`
		Test         []annotation.Record `json:"test"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	require.Len(t, doc.ClassMapping, 3)
	assert.Equal(t, "class1", doc.ClassMapping[0].Name)
	assert.True(t, doc.ClassMapping[0].Default)

	// testSplit 0 puts every image into train, empty ones included
	assert.Len(t, doc.Train, 3)
	assert.Empty(t, doc.Test)

	byName := make(map[string]annotation.Record, len(doc.Train))
	for _, rec := range doc.Train {
		byName[rec.FileName] = rec
	}
	rec := byName[imgs[0].Name()]
	require.Len(t, rec.Boxes, 1)
	assert.Equal(t, types.Box{Cx: 0.5, Cy: 0.5, W: 0.25, H: 0.25}, rec.Boxes[0])
	assert.Equal(t, []string{"class3"}, rec.Labels)
	assert.Empty(t, byName[imgs[2].Name()].Boxes)
}

func TestExportJSONAllTest(t *testing.T) {
	cs := newExportClasses(t)
	s := newExportStore(t, cs, 2)

	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, Export(path, FormatJSON, s, cs, false, 1.0, DefaultSeed))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Train []annotation.Record `json:"train"`
		Test  []annotation.Record `json:"test"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Empty(t, doc.Train)
	assert.Len(t, doc.Test, 2)
}

func TestExportYOLO(t *testing.T) {
	cs := newExportClasses(t)
	s := newExportStore(t, cs, 2)

	// Identical annotations on both images so the split assignment does not
	// matter for the label file contents.
	for _, img := range s.Images() {
		img.AddBox(types.Box{Cx: 0.5, Cy: 0.5, W: 0.25, H: 0.25}, 1)
	}

	path := t.TempDir()
	require.NoError(t, Export(path, FormatYOLO, s, cs, false, 0.5, DefaultSeed))

	for _, split := range []string{"train", "test"} {
		imgPath := filepath.Join(path, split, "images", "0.jpg")
		resaved, err := imaging.Open(imgPath)
		require.NoError(t, err)
		bounds := resaved.Bounds()
		assert.Equal(t, YOLOImageSize, bounds.Dx())
		assert.Equal(t, YOLOImageSize, bounds.Dy())

		label, err := os.ReadFile(filepath.Join(path, split, "labels", "0.txt"))
		require.NoError(t, err)
		assert.Equal(t, "1 0.5 0.5 0.25 0.25\n", string(label))
	}

	data, err := os.ReadFile(filepath.Join(path, "data.yaml"))
	require.NoError(t, err)
	var cfg struct {
		Train string         `yaml:"train"`
		Test  string         `yaml:"test"`
		NC    int            `yaml:"nc"`
		Names map[int]string `yaml:"names"`
	}
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, "../train/images", cfg.Train)
	assert.Equal(t, "../test/images", cfg.Test)
	assert.Equal(t, 3, cfg.NC)
	assert.Equal(t, map[int]string{0: "class1", 1: "class2", 2: "class3"}, cfg.Names)
}
