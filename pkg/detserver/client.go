// Package detserver implements the detection model capability against a
// remote detection HTTP server. The image is posted base64-encoded and the
// server answers with pixel-space detections, which are normalized here
// against the original image dimensions.
package detserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/skalden/annobox/pkg/detector"
	"github.com/skalden/annobox/pkg/types"
)

// DefaultTimeout bounds a single detection request.
const DefaultTimeout = 30 * time.Second

// detectRequest is the JSON body posted to the /api/detect endpoint.
type detectRequest struct {
	Image string `json:"image"`
}

// detectResponse mirrors the server's answer.
type detectResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		Label      string     `json:"label"`
		Confidence float64    `json:"confidence"`
		Box        [4]float64 `json:"box"`
	} `json:"data"`
}

// Model calls out to a detection server for every image.
type Model struct {
	client *resty.Client
	url    string
	labels []string
}

// New creates a client for the detection server at baseURL, restricted to
// the given labels.
func New(baseURL string, labels []string) *Model {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(DefaultTimeout).
		SetHeader("Content-Type", "application/json")
	return &Model{client: client, url: baseURL, labels: labels}
}

// Detect posts the image to the server and converts its pixel-space answer
// into detections with normalized boxes. Labels outside the configured set
// come back as "none".
func (m *Model) Detect(ctx context.Context, img image.Image) ([]detector.Detection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	var body detectResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(detectRequest{Image: base64.StdEncoding.EncodeToString(buf.Bytes())}).
		SetResult(&body).
		Post("/api/detect")
	if err != nil {
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("detection server returned %s: %s", resp.Status(), resp.String())
	}
	if !body.Success {
		return nil, fmt.Errorf("detection server reported failure")
	}

	known := make(map[string]struct{}, len(m.labels))
	for _, label := range m.labels {
		known[label] = struct{}{}
	}

	bounds := img.Bounds()
	detections := make([]detector.Detection, len(body.Data))
	for i, d := range body.Data {
		label := d.Label
		if _, ok := known[label]; !ok {
			label = detector.NoneLabel
		}
		detections[i] = detector.Detection{
			Box:        d.Box,
			BoxN:       types.FromCorners(d.Box[0], d.Box[1], d.Box[2], d.Box[3], bounds.Dx(), bounds.Dy()).Clamp(),
			Label:      label,
			Confidence: d.Confidence,
		}
	}
	return detections, nil
}
