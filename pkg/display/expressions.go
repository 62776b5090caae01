// Package display drives Robbie's LED-matrix eyes.
package display

import "strings"

// Expression names an eye bitmap.
type Expression string

const (
	Anger     Expression = "Anger"
	Contempt  Expression = "Contempt"
	Disgust   Expression = "Disgust"
	Fear      Expression = "Fear"
	Happiness Expression = "Happiness"
	Neutral   Expression = "Neutral"
	Sadness   Expression = "Sadness"
	Surprise  Expression = "Surprise"
	Sleep     Expression = "Sleep"
	Blink     Expression = "Blink"
)

// Bitmap is one expression: rows 0-7 for the left eye, 8-15 for the right.
type Bitmap [16]byte

// Left returns the left eye rows.
func (b Bitmap) Left() (rows [8]byte) {
	copy(rows[:], b[:8])
	return rows
}

// Right returns the right eye rows.
func (b Bitmap) Right() (rows [8]byte) {
	copy(rows[:], b[8:])
	return rows
}

var bitmaps = map[Expression]Bitmap{
	Anger:     {0x00, 0x07, 0x8F, 0x99, 0xB1, 0xB1, 0x1F, 0x00, 0x00, 0x38, 0x7C, 0x66, 0x63, 0x63, 0x3E, 0x00},
	Contempt:  {0x00, 0x00, 0xBF, 0xA3, 0xA3, 0xBF, 0x1F, 0x00, 0x00, 0x00, 0x7F, 0x47, 0x47, 0x7F, 0x3E, 0x00},
	Disgust:   {0x00, 0x1F, 0xBF, 0xA3, 0xA3, 0xBF, 0x1F, 0x00, 0x00, 0x00, 0x7F, 0x7F, 0x71, 0x3E, 0x00, 0x00},
	Fear:      {0x00, 0x1F, 0xBF, 0xB1, 0xB1, 0xB1, 0x1F, 0x00, 0x00, 0x3E, 0x7F, 0x63, 0x63, 0x63, 0x3E, 0x00},
	Happiness: {0x0E, 0x1F, 0xBF, 0xB1, 0xB1, 0xBF, 0x1F, 0x00, 0x1C, 0x3E, 0x7F, 0x63, 0x63, 0x7F, 0x3E, 0x00},
	Neutral:   {0x00, 0x1F, 0xBF, 0xB1, 0xB1, 0xBF, 0x1F, 0x00, 0x00, 0x3E, 0x7F, 0x63, 0x63, 0x7F, 0x3E, 0x00},
	Sadness:   {0x00, 0x00, 0xBF, 0xBF, 0xB1, 0x1F, 0x00, 0x00, 0x00, 0x00, 0x7F, 0x7F, 0x63, 0x3E, 0x00, 0x00},
	Surprise:  {0x0E, 0x1F, 0xB1, 0xB1, 0xB1, 0xB1, 0x1F, 0x0E, 0x1C, 0x3E, 0x63, 0x63, 0x63, 0x63, 0x3E, 0x1C},
	Sleep:     {0x00, 0x00, 0x00, 0x00, 0xA1, 0xBF, 0x1E, 0x00, 0x00, 0x00, 0x00, 0x00, 0x61, 0x7F, 0x1E, 0x00},
	Blink:     {0x00, 0x00, 0x00, 0xBF, 0xBF, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x7F, 0x7F, 0x00, 0x00, 0x00},
}

// BitmapFor returns the bitmap of e.
func BitmapFor(e Expression) (Bitmap, bool) {
	b, ok := bitmaps[e]
	return b, ok
}

// Parse resolves a case-insensitive expression name. Unknown names are
// Neutral.
func Parse(name string) (Expression, bool) {
	for e := range bitmaps {
		if strings.EqualFold(string(e), strings.TrimSpace(name)) {
			return e, true
		}
	}
	return Neutral, false
}

// reverts reports whether e falls back to Neutral after a while.
func (e Expression) reverts() bool {
	return e != Neutral && e != Sleep && e != Blink
}
