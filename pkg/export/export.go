// Package export turns an annotation snapshot into on-disk dataset formats.
//
// Three formats are supported: CSV (one row per bounding box), JSON (one
// object per image under class_mapping/train/test) and the YOLO directory
// layout with resized image copies and data.yaml. All formats share the same
// deterministic pipeline: filter to ready images if requested, shuffle with a
// seeded PRNG and split so that train receives floor(n*(1-testSplit)) images.
package export

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/skalden/annobox/internal/imgio"
	"github.com/skalden/annobox/internal/logging"
	"github.com/skalden/annobox/pkg/annotation"
	"github.com/skalden/annobox/pkg/classes"
)

// Format selects the on-disk dataset format.
type Format string

// Supported export formats.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYOLO Format = "yolo"
)

// DefaultSeed is the shuffle seed used when callers have no preference.
const DefaultSeed int64 = 42

// CSVDelimiter separates the fields of a CSV export row.
const CSVDelimiter = ";"

// YOLOImageSize is the square edge length images are resized to for the YOLO
// format.
const YOLOImageSize = 640

// ErrUnsupportedFormat is returned for format strings outside csv/json/yolo.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Export writes the annotations of the image store to path in the given
// format. With onlyReady set, images not marked ready are left out. The
// shuffle driven by seed is deterministic: identical inputs and seed produce
// identical output.
func Export(path string, format Format, images *annotation.Store, classStore *classes.Store, onlyReady bool, testSplit float64, seed int64) error {
	data := make([]*annotation.Image, 0, images.Len())
	for _, img := range images.Images() {
		if !onlyReady || img.Ready() {
			data = append(data, img)
		}
	}

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(data), func(i, j int) {
		data[i], data[j] = data[j], data[i]
	})

	trainCount := int(float64(len(data)) * (1 - testSplit))
	train := data[:trainCount]
	test := data[trainCount:]

	switch Format(strings.ToLower(string(format))) {
	case FormatCSV:
		return exportCSV(path, train, test, classStore)
	case FormatJSON:
		return exportJSON(path, train, test, classStore)
	case FormatYOLO:
		return exportYOLO(path, train, test, classStore)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// exportCSV writes one row per bounding box. Images without boxes contribute
// no rows; that is documented behavior, not an omission.
func exportCSV(path string, train, test []*annotation.Image, classStore *classes.Store) error {
	if !strings.HasSuffix(path, ".csv") {
		return fmt.Errorf("export path must be a CSV file: %s", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	header := strings.Join([]string{"path", "file_name", "center_x", "center_y", "width", "height", "label", "split"}, CSVDelimiter)
	fmt.Fprintln(w, header)

	writeRows := func(imgs []*annotation.Image, split string) error {
		for _, img := range imgs {
			uids := img.LabelUIDs()
			for i, box := range img.Boxes() {
				label, err := classStore.Name(uids[i])
				if err != nil {
					return fmt.Errorf("image %s: %w", img.Name(), err)
				}
				fields := []string{
					img.Path(),
					img.Name(),
					formatFloat(box.Cx),
					formatFloat(box.Cy),
					formatFloat(box.W),
					formatFloat(box.H),
					label,
					split,
				}
				fmt.Fprintln(w, strings.Join(fields, CSVDelimiter))
			}
		}
		return nil
	}

	if err := writeRows(train, "train"); err != nil {
		return err
	}
	if err := writeRows(test, "test"); err != nil {
		return err
	}
	return w.Flush()
}

// jsonDocument is the JSON export layout. Field order fixes the key order in
// the output file.
type jsonDocument struct {
	ClassMapping []classes.Class     `json:"class_mapping"`
	Train        []annotation.Record `json:"train"`
	Test         []annotation.Record `json:"test"`
}

// exportJSON writes one object per image, including images without boxes.
func exportJSON(path string, train, test []*annotation.Image, classStore *classes.Store) error {
	if !strings.HasSuffix(path, ".json") {
		return fmt.Errorf("export path must be a JSON file: %s", path)
	}

	doc := jsonDocument{
		ClassMapping: classStore.Classes(),
		Train:        make([]annotation.Record, 0, len(train)),
		Test:         make([]annotation.Record, 0, len(test)),
	}
	for _, img := range train {
		rec, err := img.Record()
		if err != nil {
			return err
		}
		doc.Train = append(doc.Train, rec)
	}
	for _, img := range test {
		rec, err := img.Record()
		if err != nil {
			return err
		}
		doc.Test = append(doc.Test, rec)
	}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal annotations: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}
	return nil
}

// yoloConfig is the data.yaml layout read by YOLO training pipelines.
type yoloConfig struct {
	Train string         `yaml:"train"`
	Test  string         `yaml:"test"`
	NC    int            `yaml:"nc"`
	Names map[int]string `yaml:"names"`
}

// exportYOLO writes the YOLO directory layout under path: train/ and test/
// with images/ (resized copies, sequentially numbered) and labels/ (one line
// per box), plus a data.yaml describing the dataset.
func exportYOLO(path string, train, test []*annotation.Image, classStore *classes.Store) error {
	for _, split := range []string{"train", "test"} {
		for _, sub := range []string{"images", "labels"} {
			if err := imgio.EnsureDir(filepath.Join(path, split, sub)); err != nil {
				return fmt.Errorf("failed to create export directory: %w", err)
			}
		}
	}

	if err := writeYOLOSplit(path, train, classStore, "train"); err != nil {
		return err
	}
	if err := writeYOLOSplit(path, test, classStore, "test"); err != nil {
		return err
	}

	names := classStore.ClassNames()
	cfg := yoloConfig{
		Train: "../train/images",
		Test:  "../test/images",
		NC:    len(names),
		Names: make(map[int]string, len(names)),
	}
	for i, name := range names {
		cfg.Names[i] = name
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal data.yaml: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "data.yaml"), data, 0644); err != nil {
		return fmt.Errorf("failed to write data.yaml: %w", err)
	}
	return nil
}

// writeYOLOSplit resaves each image of a split at YOLOImageSize square as
// {i}.jpg and writes the matching {i}.txt label file. Each image is an
// independent write, so a failure cannot corrupt earlier files.
func writeYOLOSplit(path string, imgs []*annotation.Image, classStore *classes.Store, split string) error {
	names := classStore.ClassNames()
	indexOf := make(map[string]int, len(names))
	for i, name := range names {
		indexOf[name] = i
	}

	for i, img := range imgs {
		src, err := imgio.Open(img.Path())
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", img.Path(), err)
		}
		resized := imaging.Resize(src, YOLOImageSize, YOLOImageSize, imaging.Lanczos)
		dst := filepath.Join(path, split, "images", fmt.Sprintf("%d.jpg", i))
		if err := imaging.Save(resized, dst); err != nil {
			return fmt.Errorf("failed to save %s: %w", dst, err)
		}

		var lines strings.Builder
		uids := img.LabelUIDs()
		for j, box := range img.Boxes() {
			label, err := classStore.Name(uids[j])
			if err != nil {
				return fmt.Errorf("image %s: %w", img.Name(), err)
			}
			fmt.Fprintf(&lines, "%d %s %s %s %s\n",
				indexOf[label],
				formatFloat(box.Cx), formatFloat(box.Cy),
				formatFloat(box.W), formatFloat(box.H))
		}
		labelPath := filepath.Join(path, split, "labels", fmt.Sprintf("%d.txt", i))
		if err := os.WriteFile(labelPath, []byte(lines.String()), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", labelPath, err)
		}
		logging.Log().Debug("exported image",
			zap.String("split", split), zap.String("source", img.Path()), zap.String("target", dst))
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
