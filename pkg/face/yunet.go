package face

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-robbie/pkg/identity"
	"github.com/teslashibe/go-robbie/pkg/perception"
)

// YuNetConfig configures the local face tracker.
type YuNetConfig struct {
	// ModelPath is the face_detection_yunet ONNX model.
	ModelPath string

	InputWidth  int
	InputHeight int

	ScoreThreshold float64
	NMSThreshold   float64
	TopK           int
}

// DefaultYuNetConfig returns the default tracker settings.
func DefaultYuNetConfig() YuNetConfig {
	return YuNetConfig{
		ModelPath:      "models/face_detection_yunet_2023mar.onnx",
		InputWidth:     640,
		InputHeight:    480,
		ScoreThreshold: 0.6,
		NMSThreshold:   0.3,
		TopK:           5000,
	}
}

// YuNetTracker finds faces with OpenCV's FaceDetectorYN.
type YuNetTracker struct {
	detector gocv.FaceDetectorYN
	mu       sync.Mutex // Protects inference
}

// NewYuNetTracker loads the model.
func NewYuNetTracker(cfg YuNetConfig) (*YuNetTracker, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("face: model file: %w", err)
	}

	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"",
		image.Pt(cfg.InputWidth, cfg.InputHeight),
		float32(cfg.ScoreThreshold),
		float32(cfg.NMSThreshold),
		cfg.TopK,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)
	return &YuNetTracker{detector: detector}, nil
}

// Track implements perception.FaceTracker. Boxes are in frame pixels and
// the handle is the detection's row in the model output.
func (t *YuNetTracker) Track(ctx context.Context, frame *perception.Frame) ([]identity.TrackedFace, error) {
	if frame.Empty() {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	img, err := gocv.IMDecode(frame.JPEG, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("face: decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("face: empty frame")
	}

	t.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))

	out := gocv.NewMat()
	defer out.Close()
	t.detector.Detect(img, &out)

	// Rows are x, y, w, h, five landmark pairs and the score.
	faces := make([]identity.TrackedFace, 0, out.Rows())
	for r := 0; r < out.Rows(); r++ {
		faces = append(faces, identity.TrackedFace{
			Box: identity.Box{
				X:      int(out.GetFloatAt(r, 0)),
				Y:      int(out.GetFloatAt(r, 1)),
				Width:  int(out.GetFloatAt(r, 2)),
				Height: int(out.GetFloatAt(r, 3)),
			},
			Handle: r,
		})
	}
	return faces, nil
}

// Close releases the detector.
func (t *YuNetTracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.detector.Close()
	return nil
}

var _ perception.FaceTracker = (*YuNetTracker)(nil)
