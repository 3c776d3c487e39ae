package media

import (
	"math"
	"sort"
)

// planSegments turns a set of candidate boundaries (keyframe timestamps,
// silence marks) into ordered, non-overlapping segments covering the full
// duration. Segments longer than maxSec are split; boundaries closer together
// than minSec are merged into the following segment, except at the tail.
func planSegments(duration float64, boundaries []float64, minSec, maxSec float64) []Segment {
	set := map[float64]struct{}{0: {}}
	if duration > 0 {
		set[duration] = struct{}{}
	}
	for _, b := range boundaries {
		if b > 0 && (duration == 0 || b < duration) {
			set[b] = struct{}{}
		}
	}

	sorted := make([]float64, 0, len(set))
	for b := range set {
		sorted = append(sorted, b)
	}
	sort.Float64s(sorted)

	var segments []Segment
	if len(sorted) < 2 {
		if duration > 0 {
			segments = append(segments, Segment{Start: 0, End: duration})
		}
		return indexed(segments)
	}

	start := sorted[0]
	last := sorted[len(sorted)-1]
	for _, boundary := range sorted[1:] {
		end := boundary
		if duration > 0 {
			end = math.Min(boundary, duration)
		}
		if end <= start {
			continue
		}

		for maxSec > 0 && end-start > maxSec {
			segments = append(segments, Segment{Start: start, End: start + maxSec})
			start += maxSec
		}

		if end-start >= minSec || boundary == last {
			segments = append(segments, Segment{Start: start, End: end})
			start = end
		}
	}

	if len(segments) == 0 && duration > 0 {
		segments = append(segments, Segment{Start: 0, End: duration})
	}
	return indexed(segments)
}

// assignKeyframes attaches each keyframe to the segment containing its
// timestamp. A keyframe past the final segment end lands in the last segment.
func assignKeyframes(segments []Segment, keyframes []Keyframe) []Segment {
	if len(segments) == 0 {
		return segments
	}
	for _, kf := range keyframes {
		placed := false
		for i := range segments {
			if kf.Timestamp >= segments[i].Start && kf.Timestamp < segments[i].End {
				segments[i].Keyframes = append(segments[i].Keyframes, kf)
				placed = true
				break
			}
		}
		if !placed {
			lastIdx := len(segments) - 1
			segments[lastIdx].Keyframes = append(segments[lastIdx].Keyframes, kf)
		}
	}
	return segments
}

func indexed(segments []Segment) []Segment {
	for i := range segments {
		segments[i].Index = i
	}
	return segments
}
