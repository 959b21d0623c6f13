// Package types holds the geometry types shared by the annotation stores,
// the detector backends and the exporters.
package types

import (
	"encoding/json"
	"fmt"
)

// Box represents a bounding box in normalized center coordinates. Cx and Cy
// locate the box center, W and H are its extent. All values are in the [0,1]
// range relative to the original image dimensions.
//
// Boxes marshal to and from a plain JSON 4-tuple [cx, cy, w, h] so exported
// files stay interchangeable with downstream training pipelines.
type Box struct {
	Cx float64
	Cy float64
	W  float64
	H  float64
}

// MarshalJSON encodes the box as [cx, cy, w, h].
func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.Cx, b.Cy, b.W, b.H})
}

// UnmarshalJSON decodes a [cx, cy, w, h] tuple.
func (b *Box) UnmarshalJSON(data []byte) error {
	var tuple [4]float64
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("failed to decode box tuple: %w", err)
	}
	b.Cx, b.Cy, b.W, b.H = tuple[0], tuple[1], tuple[2], tuple[3]
	return nil
}

// FromCorners converts pixel corner coordinates [x1, y1, x2, y2] to a
// normalized center box relative to the given image dimensions.
func FromCorners(x1, y1, x2, y2 float64, imgWidth, imgHeight int) Box {
	w := float64(imgWidth)
	h := float64(imgHeight)
	return Box{
		Cx: (x1 + x2) / 2 / w,
		Cy: (y1 + y2) / 2 / h,
		W:  (x2 - x1) / w,
		H:  (y2 - y1) / h,
	}
}

// Clamp limits all box values to the [0,1] range.
func (b Box) Clamp() Box {
	return Box{
		Cx: clamp01(b.Cx),
		Cy: clamp01(b.Cy),
		W:  clamp01(b.W),
		H:  clamp01(b.H),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
