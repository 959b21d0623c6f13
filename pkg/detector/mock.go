package detector

import (
	"context"
	"image"

	"github.com/skalden/annobox/pkg/types"
)

// MockModel returns the same fixed set of detections for every image. It
// stands in for a real model in tests and dry runs.
type MockModel struct {
	boxes       [][4]float64
	labels      []string
	confidences []float64
	width       int
	height      int
}

// NewMock creates a mock model. Boxes are pixel corner coordinates
// [x1, y1, x2, y2] relative to a width x height input; confidences may be nil,
// in which case every detection reports 1.
func NewMock(boxes [][4]float64, labels []string, confidences []float64, width, height int) *MockModel {
	if confidences == nil {
		confidences = make([]float64, len(boxes))
		for i := range confidences {
			confidences[i] = 1
		}
	}
	return &MockModel{
		boxes:       boxes,
		labels:      labels,
		confidences: confidences,
		width:       width,
		height:      height,
	}
}

// Detect returns the configured detections regardless of the input image.
func (m *MockModel) Detect(_ context.Context, _ image.Image) ([]Detection, error) {
	res := make([]Detection, len(m.boxes))
	for i, box := range m.boxes {
		res[i] = Detection{
			Box:        box,
			BoxN:       types.FromCorners(box[0], box[1], box[2], box[3], m.width, m.height),
			Label:      m.labels[i],
			Confidence: m.confidences[i],
		}
	}
	return res, nil
}
