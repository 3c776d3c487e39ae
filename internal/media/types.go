// Package media splits a video into time-bounded segments with representative
// keyframe images. Analysis shells out to ffmpeg/ffprobe the same way the rest
// of the system calls external tooling: bounded subprocesses with captured
// stderr tails.
package media

// Keyframe is a representative frame extracted from the video.
type Keyframe struct {
	Timestamp float64 `json:"timestamp"`
	Path      string  `json:"path"`
}

// Segment is a contiguous time slice of the video, the unit of parallel
// processing. Segments are non-overlapping and ordered by start time.
type Segment struct {
	Index     int        `json:"index"`
	Start     float64    `json:"start"`
	End       float64    `json:"end"`
	Keyframes []Keyframe `json:"keyframes"`
}

func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Analysis is the full segmentation result for one video.
type Analysis struct {
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
}

// StructuralError marks media that cannot be processed at all (corrupt file,
// missing stream). The pipeline fails the job immediately without retrying.
type StructuralError struct {
	Reason string
	Err    error
}

func (e *StructuralError) Error() string {
	if e.Err != nil {
		return "structural: " + e.Reason + ": " + e.Err.Error()
	}
	return "structural: " + e.Reason
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}
