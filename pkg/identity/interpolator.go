package identity

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/teslashibe/go-robbie/internal/log"
)

// LargestFaceChangedFunc is called when the dominant identity changes.
// ok is false when no identity is tracked anymore.
type LargestFaceChangedFunc func(largest TrackedIdentity, ok bool)

// Interpolator maintains the tracked identities across frames.
// Update is called from the perception loop; IdentifiedFace and
// DetectedEmotion may be called concurrently from recognition callbacks.
type Interpolator struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu         sync.RWMutex
	identities []*TrackedIdentity // ordered by Seq
	nextSeq    uint64
	largestSeq uint64 // 0 when nothing is tracked
	onChanged  LargestFaceChangedFunc
}

// Option configures an Interpolator.
type Option func(*Interpolator)

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(ip *Interpolator) {
		ip.now = now
	}
}

// New creates an Interpolator.
func New(cfg Config, opts ...Option) *Interpolator {
	ip := &Interpolator{
		cfg:    cfg,
		now:    time.Now,
		logger: log.Component("identity"),
	}
	for _, opt := range opts {
		opt(ip)
	}
	return ip
}

// OnLargestFaceChanged registers the dominant-identity change callback.
// The callback runs on the goroutine calling Update, after locks are released.
func (ip *Interpolator) OnLargestFaceChanged(fn LargestFaceChangedFunc) {
	ip.mu.Lock()
	ip.onChanged = fn
	ip.mu.Unlock()
}

type candidate struct {
	score float64
	face  int
	ident *TrackedIdentity
}

// Update fuses one frame of detections into the tracked identities.
func (ip *Interpolator) Update(faces []TrackedFace) {
	now := ip.now()

	ip.mu.Lock()

	var pairs []candidate
	for fi, f := range faces {
		for _, id := range ip.identities {
			if s, ok := ip.cfg.score(id.Box, f.Box); ok {
				pairs = append(pairs, candidate{score: s, face: fi, ident: id})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score > pairs[j].score
		}
		if pairs[i].ident.Seq != pairs[j].ident.Seq {
			return pairs[i].ident.Seq < pairs[j].ident.Seq
		}
		return pairs[i].face < pairs[j].face
	})

	faceUsed := make([]bool, len(faces))
	identUsed := make(map[*TrackedIdentity]bool, len(ip.identities))
	for _, p := range pairs {
		if faceUsed[p.face] || identUsed[p.ident] {
			continue
		}
		faceUsed[p.face] = true
		identUsed[p.ident] = true
		p.ident.observe(faces[p.face], now)
	}

	kept := ip.identities[:0]
	for _, id := range ip.identities {
		if identUsed[id] {
			kept = append(kept, id)
			continue
		}
		id.Missed++
		if ip.cfg.RetentionWindow > 0 && now.Sub(id.LastSeen) <= ip.cfg.RetentionWindow {
			kept = append(kept, id)
			continue
		}
		ip.logger.Debug("identity lost", "seq", id.Seq, "person", id.PersonID, "missed", id.Missed)
	}
	ip.identities = kept

	for fi, f := range faces {
		if faceUsed[fi] {
			continue
		}
		ip.nextSeq++
		id := &TrackedIdentity{
			Seq:       ip.nextSeq,
			PersonID:  UnknownPersonID,
			FirstSeen: now,
		}
		id.observe(f, now)
		ip.identities = append(ip.identities, id)
		ip.logger.Debug("identity created", "seq", id.Seq, "box", f.Box)
	}

	largest := ip.largestLocked()
	var (
		changed  bool
		snapshot TrackedIdentity
		ok       bool
	)
	var seq uint64
	if largest != nil {
		seq = largest.Seq
		snapshot, ok = largest.clone(), true
	}
	if seq != ip.largestSeq {
		ip.largestSeq = seq
		changed = true
	}
	fn := ip.onChanged
	ip.mu.Unlock()

	if changed {
		ip.logger.Debug("largest face changed", "seq", seq, "ok", ok)
		if fn != nil {
			fn(snapshot, ok)
		}
	}
}

func (id *TrackedIdentity) observe(f TrackedFace, now time.Time) {
	id.Box = f.Box
	id.Handle = f.Handle
	id.LastSeen = now
	id.Missed = 0
	if f.Attributes != nil {
		a := *f.Attributes
		id.Attributes = &a
	}
	if f.Emotion != nil {
		e := *f.Emotion
		id.Emotion = &e
	}
}

// score ranks how well next continues the track ending at prev.
// Overlap matches always outrank center-distance matches.
func (c Config) score(prev, next Box) (float64, bool) {
	if iou := prev.IoU(next); iou >= c.MinOverlap {
		return 1 + iou, true
	}
	if c.MaxCenterShift <= 0 {
		return 0, false
	}
	diag := prev.Diagonal()
	if diag <= 0 {
		return 0, false
	}
	shift := prev.CenterDistance(next) / diag
	if shift > c.MaxCenterShift {
		return 0, false
	}
	return 1 - shift/c.MaxCenterShift, true
}

// bestMatchLocked returns the identity that best matches box, or nil.
func (ip *Interpolator) bestMatchLocked(box Box) *TrackedIdentity {
	var (
		best      *TrackedIdentity
		bestScore float64
	)
	for _, id := range ip.identities {
		s, ok := ip.cfg.score(id.Box, box)
		if !ok {
			continue
		}
		if best == nil || s > bestScore {
			best, bestScore = id, s
		}
	}
	return best
}

// largestLocked returns the identity with the largest box.
// Equal areas resolve to the lowest Seq.
func (ip *Interpolator) largestLocked() *TrackedIdentity {
	var best *TrackedIdentity
	for _, id := range ip.identities {
		if best == nil || id.Box.Area() > best.Box.Area() {
			best = id
		}
	}
	return best
}

// IdentifiedFace attaches a recognition result to the identity currently
// matching box. Results for unknown persons or without a current match are
// discarded and false is returned.
func (ip *Interpolator) IdentifiedFace(box Box, person Person) bool {
	if !IsKnownPerson(person.ID) {
		return false
	}
	ip.mu.Lock()
	defer ip.mu.Unlock()

	id := ip.bestMatchLocked(box)
	if id == nil {
		ip.logger.Debug("stale identification discarded", "person", person.ID)
		return false
	}
	id.PersonID = person.ID
	id.Name = person.Name
	return true
}

// DetectedEmotion attaches emotion scores to the identity currently matching
// the result's box. Results without a current match are discarded.
func (ip *Interpolator) DetectedEmotion(result EmotionResult) bool {
	ip.mu.Lock()
	defer ip.mu.Unlock()

	id := ip.bestMatchLocked(result.Box)
	if id == nil {
		ip.logger.Debug("stale emotion discarded", "box", result.Box)
		return false
	}
	scores := result.Scores
	id.Emotion = &scores
	return true
}

// DetectedAttributes attaches appearance attributes to the identity currently
// matching box. Results without a current match are discarded.
func (ip *Interpolator) DetectedAttributes(box Box, attrs Attributes) bool {
	ip.mu.Lock()
	defer ip.mu.Unlock()

	id := ip.bestMatchLocked(box)
	if id == nil {
		return false
	}
	id.Attributes = &attrs
	return true
}

// LabelLargest assigns person to the dominant identity.
// Returns false when nothing is tracked.
func (ip *Interpolator) LabelLargest(person Person) bool {
	ip.mu.Lock()
	defer ip.mu.Unlock()

	id := ip.largestLocked()
	if id == nil {
		return false
	}
	id.PersonID = person.ID
	id.Name = person.Name
	return true
}

// LargestFace returns the dominant identity.
func (ip *Interpolator) LargestFace() (TrackedIdentity, bool) {
	ip.mu.RLock()
	defer ip.mu.RUnlock()

	if id := ip.largestLocked(); id != nil {
		return id.clone(), true
	}
	return TrackedIdentity{}, false
}

// FocalPoint returns the center of the dominant face, or NoTarget.
func (ip *Interpolator) FocalPoint() Point {
	ip.mu.RLock()
	defer ip.mu.RUnlock()

	if id := ip.largestLocked(); id != nil {
		return id.Box.Center()
	}
	return NoTarget
}

// Identities returns a snapshot of all tracked identities ordered by Seq.
func (ip *Interpolator) Identities() []TrackedIdentity {
	ip.mu.RLock()
	defer ip.mu.RUnlock()

	out := make([]TrackedIdentity, len(ip.identities))
	for i, id := range ip.identities {
		out[i] = id.clone()
	}
	return out
}

// Len returns the number of tracked identities.
func (ip *Interpolator) Len() int {
	ip.mu.RLock()
	defer ip.mu.RUnlock()
	return len(ip.identities)
}
