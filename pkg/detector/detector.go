// Package detector defines the object-detection capability consumed by the
// annotation store, plus a mock implementation for tests and dry runs.
//
// A backend restricted to a fixed label set must report out-of-set labels as
// "none"; the store maps any label it does not know to the default class.
package detector

import (
	"context"
	"image"

	"github.com/skalden/annobox/pkg/types"
)

// NoneLabel is the sentinel label reported for detections whose class is not
// part of the configured label set.
const NoneLabel = "none"

// Detection is a single detected object.
type Detection struct {
	// Box holds the pixel corner coordinates [x1, y1, x2, y2].
	Box [4]float64 `json:"box"`
	// BoxN is the same box in normalized center coordinates.
	BoxN types.Box `json:"boxn"`
	// Label is the detected class label.
	Label string `json:"label"`
	// Confidence is the detection confidence in [0,1].
	Confidence float64 `json:"confidence"`
}

// Model detects objects in an image. Implementations block for the duration
// of the call; cancellation happens through the context.
type Model interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}
