package render

import "fmt"

// SegmentRenderError reports which segment failed to turn into a clip.
type SegmentRenderError struct {
	Index int
	Cause error
}

func (e *SegmentRenderError) Error() string {
	return fmt.Sprintf("segment %d: %v", e.Index, e.Cause)
}

func (e *SegmentRenderError) Unwrap() error { return e.Cause }

// ConcatenationError reports a failure while joining clips.
type ConcatenationError struct {
	Cause error
}

func (e *ConcatenationError) Error() string {
	return fmt.Sprintf("concatenation: %v", e.Cause)
}

func (e *ConcatenationError) Unwrap() error { return e.Cause }
