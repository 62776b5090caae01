package display

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type matrixWrite struct {
	address byte
	rows    [8]byte
}

type mockMatrix struct {
	mu     sync.Mutex
	writes []matrixWrite
	err    error
}

func (m *mockMatrix) WriteMatrix(address byte, rows [8]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, matrixWrite{address, rows})
	return m.err
}

// shown returns the expression currently on the matrices, decoded from the
// last left and right frames.
func (m *mockMatrix) shown() (Expression, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var left, right *[8]byte
	for i := len(m.writes) - 1; i >= 0 && (left == nil || right == nil); i-- {
		w := m.writes[i]
		switch {
		case w.address == LeftAddress && left == nil:
			left = &w.rows
		case w.address == RightAddress && right == nil:
			right = &w.rows
		}
	}
	if left == nil || right == nil {
		return "", false
	}
	for e, bm := range bitmaps {
		if bm.Left() == *left && bm.Right() == *right {
			return e, true
		}
	}
	return "", false
}

func (m *mockMatrix) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}

func waitShown(t *testing.T, m *mockMatrix, want Expression) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := m.shown(); got == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	got, _ := m.shown()
	t.Fatalf("shown: got %q, want %q", got, want)
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Expression
		ok   bool
	}{
		{"Happiness", Happiness, true},
		{"happiness", Happiness, true},
		{" Sleep ", Sleep, true},
		{"Joy", Neutral, false},
		{"", Neutral, false},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Parse(%q): got %q %v, want %q %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBitmaps(t *testing.T) {
	for _, e := range []Expression{Anger, Contempt, Disgust, Fear, Happiness, Neutral, Sadness, Surprise, Sleep, Blink} {
		if _, ok := BitmapFor(e); !ok {
			t.Errorf("missing bitmap for %s", e)
		}
	}
	n, _ := BitmapFor(Neutral)
	if n.Left() != [8]byte{0x00, 0x1F, 0xBF, 0xB1, 0xB1, 0xBF, 0x1F, 0x00} {
		t.Errorf("neutral left: got % X", n.Left())
	}
	if n.Right() != [8]byte{0x00, 0x3E, 0x7F, 0x63, 0x63, 0x7F, 0x3E, 0x00} {
		t.Errorf("neutral right: got % X", n.Right())
	}
}

func TestShow_WritesBothEyes(t *testing.T) {
	m := &mockMatrix{}
	e := New(DefaultConfig(), m)

	e.Show("Surprise")
	if m.count() != 2 {
		t.Fatalf("writes: got %d, want 2", m.count())
	}
	if got, _ := m.shown(); got != Surprise {
		t.Errorf("shown: got %q, want Surprise", got)
	}
	if e.Current() != Surprise {
		t.Errorf("Current: got %q", e.Current())
	}
}

func TestShow_UnknownIsNeutral(t *testing.T) {
	m := &mockMatrix{}
	e := New(DefaultConfig(), m)

	e.Show("Bewildered")
	if got, _ := m.shown(); got != Neutral {
		t.Errorf("shown: got %q, want Neutral", got)
	}
}

func TestShow_EmotionRevertsToNeutral(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RevertAfter = 20 * time.Millisecond
	m := &mockMatrix{}
	e := New(cfg, m)

	e.Show("Happiness")
	waitShown(t, m, Neutral)
	if e.Current() != Neutral {
		t.Errorf("Current: got %q, want Neutral", e.Current())
	}
}

func TestShow_SleepDoesNotRevert(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RevertAfter = 10 * time.Millisecond
	m := &mockMatrix{}
	e := New(cfg, m)

	e.Show("Sleep")
	time.Sleep(40 * time.Millisecond)
	if got, _ := m.shown(); got != Sleep {
		t.Errorf("shown: got %q, want Sleep", got)
	}
}

func TestShow_NewExpressionCancelsRevert(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RevertAfter = 30 * time.Millisecond
	m := &mockMatrix{}
	e := New(cfg, m)

	e.Show("Anger")
	e.Show("Sleep")
	time.Sleep(60 * time.Millisecond)
	if got, _ := m.shown(); got != Sleep {
		t.Errorf("shown: got %q, want Sleep", got)
	}
}

func TestBlink_RestoresPrevious(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlinkDuration = 5 * time.Millisecond
	m := &mockMatrix{}
	e := New(cfg, m)
	e.Show("Neutral")

	e.Blink(context.Background())

	m.mu.Lock()
	n := len(m.writes)
	blink := m.writes[n-4].rows
	m.mu.Unlock()
	if bm, _ := BitmapFor(Blink); blink != bm.Left() {
		t.Errorf("blink frame: got % X", blink)
	}
	if got, _ := m.shown(); got != Neutral {
		t.Errorf("shown after blink: got %q, want Neutral", got)
	}
}

func TestBlink_SkippedWhileSleeping(t *testing.T) {
	m := &mockMatrix{}
	e := New(DefaultConfig(), m)
	e.Show("Sleep")
	before := m.count()

	e.Blink(context.Background())
	if m.count() != before {
		t.Errorf("sleeping eyes blinked: %d writes", m.count()-before)
	}
}

func TestBlink_DoesNotOverrideNewExpression(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlinkDuration = 30 * time.Millisecond
	m := &mockMatrix{}
	e := New(cfg, m)
	e.Show("Neutral")

	done := make(chan struct{})
	go func() {
		e.Blink(context.Background())
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	e.Show("Sleep")
	<-done

	if got, _ := m.shown(); got != Sleep {
		t.Errorf("shown: got %q, want Sleep", got)
	}
}

func TestWrite_SupersededFrameIsSkipped(t *testing.T) {
	m := &mockMatrix{}
	e := New(DefaultConfig(), m)

	e.Show("Happiness")
	e.mu.Lock()
	stale := e.gen
	e.mu.Unlock()
	e.Show("Sleep")
	before := m.count()

	// A revert decided for Happiness that reaches the matrix late.
	e.write(stale, Neutral)
	if m.count() != before {
		t.Errorf("stale frame written: %d writes", m.count()-before)
	}
	if got, _ := m.shown(); got != Sleep {
		t.Errorf("shown: got %q, want Sleep", got)
	}
	if e.Current() != Sleep {
		t.Errorf("Current: got %q, want Sleep", e.Current())
	}
}

func TestOnChange(t *testing.T) {
	m := &mockMatrix{}
	e := New(DefaultConfig(), m)
	var got []Expression
	e.OnChange(func(x Expression) { got = append(got, x) })

	e.Show("Neutral")
	e.Show("Sleep")
	if len(got) != 2 || got[0] != Neutral || got[1] != Sleep {
		t.Errorf("OnChange: got %v", got)
	}
}

func TestWriteErrorsAreAbsorbed(t *testing.T) {
	m := &mockMatrix{err: errors.New("i2c nack")}
	e := New(DefaultConfig(), m)

	e.Show("Fear")
	if e.Current() != Fear {
		t.Errorf("Current: got %q, want Fear", e.Current())
	}
	// The right eye is not written once the left eye fails.
	if m.count() != 1 {
		t.Errorf("writes: got %d, want 1", m.count())
	}
}

func TestRun_Blinks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlinkInterval = 10 * time.Millisecond
	cfg.BlinkDuration = time.Millisecond
	m := &mockMatrix{}
	e := New(cfg, m)
	e.Show("Neutral")

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	if err := e.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run: got %v", err)
	}
	// Each blink writes two frames on two matrices.
	if m.count() < 2+4 {
		t.Errorf("writes: got %d, want at least one blink", m.count())
	}
}
