// Package emotion estimates facial emotions with Google Cloud Vision face
// detection.
package emotion

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"

	"github.com/teslashibe/go-robbie/internal/log"
	"github.com/teslashibe/go-robbie/pkg/identity"
)

// ErrNoImage is returned for an empty image.
var ErrNoImage = errors.New("emotion: empty image")

// Config configures the Vision client.
type Config struct {
	// APIKey authenticates with an API key. When empty, application default
	// credentials are used.
	APIKey string

	// Endpoint overrides the service base URL.
	Endpoint string

	// MaxFaces limits the faces annotated per image.
	MaxFaces int64
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{MaxFaces: 10}
}

// VisionClient implements face.EmotionDetector on Cloud Vision.
type VisionClient struct {
	svc      *vision.Service
	maxFaces int64
	logger   *slog.Logger
}

// NewVisionClient creates a client. Extra options are appended after the
// ones derived from cfg.
func NewVisionClient(ctx context.Context, cfg Config, extra ...option.ClientOption) (*VisionClient, error) {
	var opts []option.ClientOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		ts, err := google.DefaultTokenSource(ctx, vision.CloudVisionScope)
		if err != nil {
			return nil, fmt.Errorf("emotion: credentials: %w", err)
		}
		opts = append(opts, option.WithTokenSource(ts))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	opts = append(opts, extra...)

	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("emotion: create service: %w", err)
	}
	if cfg.MaxFaces <= 0 {
		cfg.MaxFaces = DefaultConfig().MaxFaces
	}
	return &VisionClient{svc: svc, maxFaces: cfg.MaxFaces, logger: log.Component("emotion")}, nil
}

// DetectEmotions annotates the faces in jpeg.
func (c *VisionClient) DetectEmotions(ctx context.Context, jpeg []byte) ([]identity.EmotionResult, error) {
	if len(jpeg) == 0 {
		return nil, ErrNoImage
	}

	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image:    &vision.Image{Content: base64.StdEncoding.EncodeToString(jpeg)},
			Features: []*vision.Feature{{Type: "FACE_DETECTION", MaxResults: c.maxFaces}},
		}},
	}
	resp, err := c.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("emotion: annotate: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, nil
	}
	r := resp.Responses[0]
	if r.Error != nil {
		return nil, fmt.Errorf("emotion: annotate: %s (code %d)", r.Error.Message, r.Error.Code)
	}

	results := make([]identity.EmotionResult, 0, len(r.FaceAnnotations))
	for _, f := range r.FaceAnnotations {
		poly := f.FdBoundingPoly
		if poly == nil {
			poly = f.BoundingPoly
		}
		box, ok := polyBox(poly)
		if !ok {
			continue
		}
		results = append(results, identity.EmotionResult{Box: box, Scores: scores(f)})
	}
	c.logger.Debug("emotions detected", "faces", len(results))
	return results, nil
}

// likelihood maps Vision's likelihood buckets onto a score.
var likelihood = map[string]float64{
	"VERY_UNLIKELY": 0.02,
	"UNLIKELY":      0.15,
	"POSSIBLE":      0.5,
	"LIKELY":        0.75,
	"VERY_LIKELY":   0.95,
}

func scores(f *vision.FaceAnnotation) identity.EmotionScores {
	s := identity.EmotionScores{
		Anger:     likelihood[f.AngerLikelihood],
		Happiness: likelihood[f.JoyLikelihood],
		Sadness:   likelihood[f.SorrowLikelihood],
		Surprise:  likelihood[f.SurpriseLikelihood],
	}
	strongest := max(s.Anger, s.Happiness, s.Sadness, s.Surprise)
	s.Neutral = 1 - strongest
	return s
}

// polyBox returns the bounding rectangle of poly. Vision omits zero
// coordinates, so missing values read as 0.
func polyBox(poly *vision.BoundingPoly) (identity.Box, bool) {
	if poly == nil {
		return identity.Box{}, false
	}
	var minX, minY, maxX, maxY int64
	first := true
	for _, v := range poly.Vertices {
		if v == nil {
			continue
		}
		if first {
			minX, minY, maxX, maxY = v.X, v.Y, v.X, v.Y
			first = false
			continue
		}
		minX, maxX = min(minX, v.X), max(maxX, v.X)
		minY, maxY = min(minY, v.Y), max(maxY, v.Y)
	}
	if first || maxX <= minX || maxY <= minY {
		return identity.Box{}, false
	}
	return identity.Box{
		X:      int(minX),
		Y:      int(minY),
		Width:  int(maxX - minX),
		Height: int(maxY - minY),
	}, true
}
