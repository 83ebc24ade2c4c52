package model

// JobStatus represents the lifecycle state of a render job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// IsTerminal reports whether the status can no longer change.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// SegmentType selects how a segment's media is turned into a clip
type SegmentType string

const (
	SegmentTypeImage SegmentType = "image"
	SegmentTypeVideo SegmentType = "video"
)

// TextPosition anchors a text overlay on the frame
type TextPosition string

const (
	TextPositionCenter TextPosition = "center"
	TextPositionTop    TextPosition = "top"
	TextPositionBottom TextPosition = "bottom"
)

// Transition is the fade applied to a clip
type Transition string

const (
	TransitionNone        Transition = "none"
	TransitionFadeIn      Transition = "fadein"
	TransitionFadeOut     Transition = "fadeout"
	TransitionCrossFadeIn Transition = "crossfadein"
	TransitionFade        Transition = "fade"
)

// ErrorKind classifies why a job ended in the error state
type ErrorKind string

const (
	ErrorKindSegmentRender ErrorKind = "segment_render"
	ErrorKindConcatenation ErrorKind = "concatenation"
	ErrorKindStorage       ErrorKind = "storage"
	ErrorKindInternal      ErrorKind = "internal"
)

// Render defaults and limits
const (
	DefaultResize      = "1080x1080"
	DefaultFPS         = 30
	DefaultFontSize    = 48
	DefaultFontColor   = "#ffffff"
	MaxDurationSeconds = 90
	MaxDimension       = 4096
)

// SupportedFPS lists the accepted output frame rates
var SupportedFPS = []int{24, 25, 30, 50, 60}
