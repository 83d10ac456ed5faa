// Package overlay holds the latest detection result, its text projection and
// the drawable surface the annotations are painted on.
package overlay

import (
	"math"
	"strconv"
	"sync"

	"github.com/ayusman/humanoverlay/internal/engine"
)

// NotAvailable is shown for a field the detection result does not carry.
const NotAvailable = "N/A"

// subscriberBuffer is the number of pending updates kept per subscriber.
// Older updates are dropped for slow subscribers.
const subscriberBuffer = 4

// Annotations is the text block shown over the video.
type Annotations struct {
	// Visible is false until the first result arrives.
	Visible bool   `json:"visible"`
	Age     string `json:"age"`
	Gender  string `json:"gender"`
	Emotion string `json:"emotion"`
}

// Lines returns the text block as display lines.
func (a Annotations) Lines() []string {
	if !a.Visible {
		return nil
	}
	return []string{
		"Age: " + a.Age,
		"Gender: " + a.Gender,
		"Emotion: " + a.Emotion,
	}
}

// Project derives the text block from a detection result.
// Fields come from the first detected face; a missing face, or a missing field
// on it, yields NotAvailable. Age is rounded to the nearest whole year.
func Project(r *engine.Result) Annotations {
	if r == nil {
		return Annotations{}
	}
	a := Annotations{
		Visible: true,
		Age:     NotAvailable,
		Gender:  NotAvailable,
		Emotion: NotAvailable,
	}

	face := r.PrimaryFace()
	if face == nil {
		return a
	}
	if face.Age != nil && *face.Age != 0 && !math.IsNaN(*face.Age) {
		a.Age = strconv.FormatFloat(math.Round(*face.Age), 'f', 0, 64)
	}
	if face.Gender != "" {
		a.Gender = face.Gender
	}
	if e := face.DominantEmotion(); e != "" {
		a.Emotion = e
	}
	return a
}

// State holds the most recent detection result. Each Set replaces the
// previous result wholesale; no history is kept.
type State struct {
	mu          sync.RWMutex
	result      *engine.Result
	annotations Annotations
	subs        map[chan Annotations]struct{}
}

// NewState creates an empty State.
func NewState() *State {
	return &State{
		subs: make(map[chan Annotations]struct{}),
	}
}

// Set stores r and notifies subscribers of the new text block.
func (s *State) Set(r *engine.Result) {
	a := Project(r)

	s.mu.Lock()
	s.result = r
	s.annotations = a
	for ch := range s.subs {
		select {
		case ch <- a:
		default:
			// Drop the oldest update to make room for the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- a:
			default:
			}
		}
	}
	s.mu.Unlock()
}

// Result returns the most recent result, or nil.
func (s *State) Result() *engine.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// Annotations returns the text block for the most recent result.
func (s *State) Annotations() Annotations {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.annotations
}

// Subscribe returns a channel receiving the text block after every Set, and
// a function that cancels the subscription.
func (s *State) Subscribe() (<-chan Annotations, func()) {
	ch := make(chan Annotations, subscriberBuffer)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}
