package engine

import (
	"image"
	"time"
)

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// HandConnections lists the landmark pairs joined when drawing a hand skeleton.
var HandConnections = [][2]int{
	{Wrist, ThumbCMC}, {ThumbCMC, ThumbMCP}, {ThumbMCP, ThumbIP}, {ThumbIP, ThumbTip},
	{Wrist, IndexMCP}, {IndexMCP, IndexPIP}, {IndexPIP, IndexDIP}, {IndexDIP, IndexTip},
	{IndexMCP, MiddleMCP}, {MiddleMCP, MiddlePIP}, {MiddlePIP, MiddleDIP}, {MiddleDIP, MiddleTip},
	{MiddleMCP, RingMCP}, {RingMCP, RingPIP}, {RingPIP, RingDIP}, {RingDIP, RingTip},
	{RingMCP, PinkyMCP}, {Wrist, PinkyMCP}, {PinkyMCP, PinkyPIP}, {PinkyPIP, PinkyDIP}, {PinkyDIP, PinkyTip},
}

// BodyConnections lists the keypoint part names joined when drawing a body skeleton.
var BodyConnections = [][2]string{
	{"leftShoulder", "rightShoulder"},
	{"leftShoulder", "leftElbow"}, {"leftElbow", "leftWrist"},
	{"rightShoulder", "rightElbow"}, {"rightElbow", "rightWrist"},
	{"leftShoulder", "leftHip"}, {"rightShoulder", "rightHip"}, {"leftHip", "rightHip"},
	{"leftHip", "leftKnee"}, {"leftKnee", "leftAnkle"},
	{"rightHip", "rightKnee"}, {"rightKnee", "rightAnkle"},
}

// Point3D represents a 3D point in space with x, y, z coordinates.
// X and Y are in frame pixels.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Box is an axis-aligned bounding box in frame pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect converts the box to an integer rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X), int(b.Y), int(b.X+b.Width), int(b.Y+b.Height))
}

// EmotionScore is one entry of a face's emotion distribution.
type EmotionScore struct {
	Emotion string  `json:"emotion"`
	Score   float64 `json:"score"`
}

// Face is a single detected face. Optional fields are nil or empty when the
// corresponding feature is disabled or produced nothing for this face.
type Face struct {
	Box         Box            `json:"box"`
	Score       float64        `json:"score"`
	Mesh        []Point3D      `json:"mesh,omitempty"`
	Iris        *float64       `json:"iris,omitempty"`
	Age         *float64       `json:"age,omitempty"`
	Gender      string         `json:"gender,omitempty"`
	GenderScore float64        `json:"genderScore,omitempty"`
	Emotion     []EmotionScore `json:"emotion,omitempty"`
	Embedding   []float32      `json:"embedding,omitempty"`
}

// DominantEmotion returns the label of the highest scoring emotion, or "" if
// the face carries no emotion data.
func (f *Face) DominantEmotion() string {
	if f == nil {
		return ""
	}
	best := ""
	bestScore := -1.0
	for _, e := range f.Emotion {
		if e.Emotion != "" && e.Score > bestScore {
			best = e.Emotion
			bestScore = e.Score
		}
	}
	return best
}

// Keypoint is a named body part position.
type Keypoint struct {
	Part     string  `json:"part"`
	Position Point3D `json:"position"`
	Score    float64 `json:"score"`
}

// Body is a single detected body pose.
type Body struct {
	Box       Box        `json:"box"`
	Score     float64    `json:"score"`
	Keypoints []Keypoint `json:"keypoints,omitempty"`
}

// Keypoint returns the keypoint with the given part name.
func (b *Body) Keypoint(part string) (Keypoint, bool) {
	for _, k := range b.Keypoints {
		if k.Part == part {
			return k, true
		}
	}
	return Keypoint{}, false
}

// Hand is a single detected hand with the 21 MediaPipe landmarks.
type Hand struct {
	Box        Box                   `json:"box"`
	Score      float64               `json:"score"`
	Handedness string                `json:"handedness"` // "left" or "right"
	Landmarks  [NumLandmarks]Point3D `json:"landmarks"`
}

// Gesture is a gesture reported by the engine for one detected subject.
type Gesture struct {
	Family  string `json:"family"` // "face", "iris", "body" or "hand"
	Index   int    `json:"index"`
	Gesture string `json:"gesture"`
}

// Result is the structured output of one Detect call.
type Result struct {
	Face      []Face    `json:"face,omitempty"`
	Body      []Body    `json:"body,omitempty"`
	Hand      []Hand    `json:"hand,omitempty"`
	Gesture   []Gesture `json:"gesture,omitempty"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Timestamp time.Time `json:"timestamp"`
}

// PrimaryFace returns the first detected face, or nil.
func (r *Result) PrimaryFace() *Face {
	if r == nil || len(r.Face) == 0 {
		return nil
	}
	return &r.Face[0]
}
