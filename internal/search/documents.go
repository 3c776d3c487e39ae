// Package search writes parent and child documents into OpenSearch with a
// join field so per-segment content can be queried against video metadata.
package search

import "fmt"

const (
	RelationVideo = "video"
	RelationChunk = "content_chunk"

	ChunkTypeText     = "text_segment"
	ChunkTypeKeyframe = "keyframe"
)

// ParentDocument carries video-level metadata. Its document id is the video
// id, so re-indexing the same video overwrites instead of duplicating.
type ParentDocument struct {
	VideoID         string   `json:"video_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Keywords        []string `json:"keywords"`
	SourceURL       string   `json:"source_url"`
	CategoryName    string   `json:"category_name"`
	UploadTimestamp string   `json:"upload_timestamp"`
	DurationSeconds float64  `json:"duration_seconds"`
	VideoRelation   string   `json:"video_relation"`
}

// ChildDocument carries one unit of enriched segment content: either a
// transcript chunk or a keyframe.
type ChildDocument struct {
	VideoID        string        `json:"video_id"`
	ChunkType      string        `json:"chunk_type"`
	StartSeconds   float64       `json:"start_seconds"`
	EndSeconds     float64       `json:"end_seconds"`
	TextContent    string        `json:"text_content"`
	Keywords       []string      `json:"keywords,omitempty"`
	OCRText        string        `json:"ocr_text,omitempty"`
	TextEmbedding  []float32     `json:"text_embedding,omitempty"`
	KeyframePath   string        `json:"keyframe_path,omitempty"`
	ImageEmbedding []float32     `json:"image_embedding,omitempty"`
	VideoRelation  ChildRelation `json:"video_relation"`
}

// ChildRelation is the join-field value linking a child to its parent.
type ChildRelation struct {
	Name   string `json:"name"`
	Parent string `json:"parent"`
}

// ParentID returns the deterministic document id for a video's parent doc.
func ParentID(videoID string) string {
	return videoID
}

// SegmentID returns the deterministic id for a segment's primary text chunk.
func SegmentID(videoID string, segmentIndex int) string {
	return fmt.Sprintf("%s-segment-%d", videoID, segmentIndex)
}

// ChunkID returns the deterministic id for an overflow transcript chunk.
func ChunkID(videoID string, segmentIndex, chunkIndex int) string {
	if chunkIndex == 0 {
		return SegmentID(videoID, segmentIndex)
	}
	return fmt.Sprintf("%s-segment-%d-%d", videoID, segmentIndex, chunkIndex)
}

// KeyframeID returns the deterministic id for a keyframe document.
func KeyframeID(videoID string, timestampSec float64) string {
	return fmt.Sprintf("%s-keyframe-%d", videoID, int(timestampSec*1000))
}
