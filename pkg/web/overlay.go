package web

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-robbie/pkg/hub"
	"github.com/teslashibe/go-robbie/pkg/identity"
	"github.com/teslashibe/go-robbie/pkg/perception"
)

var (
	knownColor   = color.RGBA{R: 0, G: 200, B: 0, A: 0}
	unknownColor = color.RGBA{R: 230, G: 160, B: 0, A: 0}
)

// Overlay draws the tracked identities on each processed frame and streams
// the result to /ws/vision. It implements perception.Visualizer.
type Overlay struct {
	hub *hub.Hub
}

// NewOverlay creates an overlay publishing to h.
func NewOverlay(h *hub.Hub) *Overlay {
	return &Overlay{hub: h}
}

// Visualize implements perception.Visualizer. Frames are only rendered
// while a client is watching.
func (o *Overlay) Visualize(frame *perception.Frame, ids []identity.TrackedIdentity) {
	if o.hub.ClientCount() == 0 || frame.Empty() {
		return
	}
	data, err := Render(frame.JPEG, ids)
	if err != nil {
		return
	}
	o.hub.BroadcastBinary(data)
}

// Render draws a box and label per identity onto the JPEG image.
func Render(jpeg []byte, ids []identity.TrackedIdentity) ([]byte, error) {
	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("web: decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("web: empty frame")
	}

	for _, id := range ids {
		c := unknownColor
		if id.Known() {
			c = knownColor
		}
		rect := image.Rect(id.Box.X, id.Box.Y, id.Box.X+id.Box.Width, id.Box.Y+id.Box.Height)
		gocv.Rectangle(&img, rect, c, 2)

		label := fmt.Sprintf("#%d", id.Seq)
		if id.Known() {
			label = identity.DisplayName(id.Name)
		}
		if id.Emotion != nil {
			name, _ := id.Emotion.Dominant()
			label += " " + name
		}
		gocv.PutText(&img, label, image.Pt(rect.Min.X, max(rect.Min.Y-6, 12)), gocv.FontHersheySimplex, 0.5, c, 1)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("web: encode frame: %w", err)
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

var _ perception.Visualizer = (*Overlay)(nil)
