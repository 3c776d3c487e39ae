package video

import (
	"time"

	"github.com/google/uuid"
)

// Status values for a video. PENDING and PROCESSING are transient;
// COMPLETED and FAILED are terminal and never change again.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

const (
	SourceUpload  = "UPLOAD"
	SourceYouTube = "YOUTUBE"
)

type Video struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Keywords       []string  `json:"keywords"`
	CategoryID     string    `json:"category_id,omitempty"`
	UploaderID     string    `json:"uploader_id,omitempty"`
	SourceType     string    `json:"source_type"`
	FilePath       string    `json:"file_path,omitempty"`
	SourceURL      string    `json:"source_url,omitempty"`
	Status         string    `json:"status"`
	FailureCause   string    `json:"failure_cause,omitempty"`
	SearchParentID string    `json:"search_parent_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Category names a group of videos and selects the embedding model used for
// their keyframe images. An empty EmbedModel falls back to the global model.
type Category struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	EmbedModel string    `json:"embed_model,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Interval is a manually supplied segment boundary. When a video has
// intervals, they override automatic segmentation.
type Interval struct {
	Order int     `json:"order"`
	Start float64 `json:"start_second"`
	End   float64 `json:"end_second"`
}

// Prompt purposes understood by the pipeline.
const (
	PromptTranscriptCleanup   = "transcript_cleanup"
	PromptKeyframeDescription = "keyframe_description"
	PromptKeywords            = "keywords"
)

// ConfigSnapshot is the immutable model and prompt configuration captured once
// at job start. A config change mid-run is never observed by that run.
// EmbedModel embeds text; ImageEmbedModel embeds keyframe images and is the
// only model a category override replaces. Queries embed against EmbedModel,
// so every text embedding in an index must come from the same model.
type ConfigSnapshot struct {
	TextModel       string
	VisionModel     string
	EmbedModel      string
	ImageEmbedModel string
	Temperature     float64
	MaxTokens       int
	Prompts         map[string]string
	Category        string
}

// Prompt returns the template for a purpose, falling back to a built-in
// default so a missing row never stalls a job.
func (s *ConfigSnapshot) Prompt(purpose string) string {
	if s.Prompts != nil {
		if p, ok := s.Prompts[purpose]; ok && p != "" {
			return p
		}
	}
	return defaultPrompt(purpose, s.Category)
}

func defaultPrompt(purpose, category string) string {
	if category == "" {
		category = "general"
	}
	switch purpose {
	case PromptKeyframeDescription:
		return "You are an assistant that explains what is happening in a video frame. " +
			"Provide a concise, vivid description tailored to the category '" + category + "'. " +
			"If the frame contains readable text, transcribe it verbatim on a final line prefixed with 'OCR:'."
	case PromptTranscriptCleanup:
		return "Clean up the transcription for clarity while preserving meaning. " +
			"Fix punctuation, casing, and remove filler words where obvious."
	case PromptKeywords:
		return "Extract up to eight short keywords from the following text. " +
			"Return one keyword per line with no numbering."
	}
	return ""
}

func NewID() string {
	return uuid.NewString()
}
