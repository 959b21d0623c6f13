// Package ollama implements the detection model capability on top of an
// Ollama-served vision model. The model is prompted to emit detections as
// strict JSON; responses are sanitized before parsing because vision models
// like to wrap their output in code fences.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/skalden/annobox/pkg/detector"
	"github.com/skalden/annobox/pkg/types"
)

// DefaultTimeout bounds a single detection call when the caller's context
// carries no deadline. Vision models on CPU are slow.
const DefaultTimeout = 300 * time.Second

const promptTemplate = `You are an object detector for image annotation.

Detect every instance of the following classes in the image: %s.

Return JSON only: a list of detections
[
  {
    "box": [x1, y1, x2, y2],
    "boxn": [center_x, center_y, width, height],
    "label": "string",
    "confidence": 0.0
  }
]

HARD RULES
- "box" is in pixel coordinates of the original image.
- "boxn" is normalized to [0,1] relative to the original image dimensions.
- "label" must be one of the listed classes; use "none" for anything else.
- One entry per detected object. Return [] if nothing is found.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Model detects objects through the Ollama chat API.
type Model struct {
	client  *api.Client
	model   string
	labels  []string
	quality int
}

// New creates an Ollama-backed detection model. The vision model is
// restricted to the given labels; anything else it reports comes back as
// "none".
func New(serverURL, model string, labels []string) (*Model, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	// Base URL only, dropping any path like /api/chat
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}

	return &Model{
		client:  api.NewClient(base, http.DefaultClient),
		model:   model,
		labels:  labels,
		quality: 85,
	}, nil
}

// Detect runs the vision model on the image and returns its detections.
// Labels outside the configured set are reported as "none"; normalized boxes
// are clamped to [0,1].
func (m *Model) Detect(ctx context.Context, img image.Image) ([]detector.Detection, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: m.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	prompt := fmt.Sprintf(promptTemplate, strings.Join(m.labels, ", "))
	streamFalse := false
	req := &api.ChatRequest{
		Model: m.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(buf.Bytes())},
			},
		},
		Stream: &streamFalse,
	}

	var responseContent string
	err := m.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent = resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}
	if responseContent == "" {
		return nil, fmt.Errorf("empty response from ollama")
	}

	detections, err := parseDetections(responseContent)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(m.labels))
	for _, label := range m.labels {
		known[label] = struct{}{}
	}
	for i := range detections {
		if _, ok := known[detections[i].Label]; !ok {
			detections[i].Label = detector.NoneLabel
		}
		detections[i].BoxN = detections[i].BoxN.Clamp()
	}
	return detections, nil
}

// wireDetection matches the JSON shape the prompt demands.
type wireDetection struct {
	Box        [4]float64 `json:"box"`
	BoxN       types.Box  `json:"boxn"`
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
}

// parseDetections parses the sanitized model response into detections.
func parseDetections(raw string) ([]detector.Detection, error) {
	raw = sanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "[") {
		return nil, fmt.Errorf("model response is not a JSON list")
	}

	var wire []wireDetection
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}

	detections := make([]detector.Detection, len(wire))
	for i, w := range wire {
		detections[i] = detector.Detection{
			Box:        w.Box,
			BoxN:       w.BoxN,
			Label:      w.Label,
			Confidence: w.Confidence,
		}
	}
	return detections, nil
}

// sanitizeModelJSON removes code fences, comments, and trailing commas from
// a model response and slices it down to the outermost JSON list.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	// Remove /* ... */ block comments
	reBlock := regexp.MustCompile(`(?s)/\*.*?\*/`)
	raw = reBlock.ReplaceAllString(raw, "")

	// Remove // line comments
	reLine := regexp.MustCompile(`(?m)^\s*//.*$`)
	raw = reLine.ReplaceAllString(raw, "")

	// Remove trailing commas before } or ]
	reTrailing := regexp.MustCompile(`,(\s*[}\]])`)
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost [...]
	if start := strings.Index(raw, "["); start >= 0 {
		if end := strings.LastIndex(raw, "]"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
