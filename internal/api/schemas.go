package api

import (
	"time"

	"github.com/veeky/veeky-indexer/internal/video"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type CreateVideoRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Keywords    []string          `json:"keywords,omitempty"`
	Category    string            `json:"category,omitempty"`
	UploaderID  string            `json:"uploader_id,omitempty"`
	SourceType  string            `json:"source_type,omitempty"`
	FilePath    string            `json:"file_path,omitempty"`
	SourceURL   string            `json:"source_url,omitempty"`
	Intervals   []IntervalRequest `json:"intervals,omitempty"`
}

// IntervalRequest is a manually supplied segment boundary. Videos registered
// with intervals skip automatic segmentation.
type IntervalRequest struct {
	Start float64 `json:"start_second"`
	End   float64 `json:"end_second"`
}

type CreateVideoResponse struct {
	VideoID string `json:"video_id"`
	Status  string `json:"status"`
}

type IndexVideoResponse struct {
	VideoID string `json:"video_id"`
	Status  string `json:"status"`
}

type ServiceStatusResponse struct {
	State      string `json:"state"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	LastError  string `json:"last_error,omitempty"`
}

type StatusResponse struct {
	VideoID string `json:"video_id"`
	Status  string `json:"status"`
	Cause   string `json:"cause,omitempty"`
}

type VideoResponse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
	CategoryID     string   `json:"category_id,omitempty"`
	UploaderID     string   `json:"uploader_id,omitempty"`
	SourceType     string   `json:"source_type"`
	SourceURL      string   `json:"source_url,omitempty"`
	Status         string   `json:"status"`
	FailureCause   string   `json:"failure_cause,omitempty"`
	SearchParentID string   `json:"search_parent_id,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func VideoToResponse(v *video.Video) VideoResponse {
	return VideoResponse{
		ID:             v.ID,
		Name:           v.Name,
		Description:    v.Description,
		Keywords:       v.Keywords,
		CategoryID:     v.CategoryID,
		UploaderID:     v.UploaderID,
		SourceType:     v.SourceType,
		SourceURL:      v.SourceURL,
		Status:         v.Status,
		FailureCause:   v.FailureCause,
		SearchParentID: v.SearchParentID,
		CreatedAt:      v.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      v.UpdatedAt.Format(time.RFC3339),
	}
}
