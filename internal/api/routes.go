package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/veeky/veeky-indexer/internal/video"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", serviceStatusHandler(cfg))
		r.Post("/pause", pauseHandler(cfg))
		r.Post("/resume", resumeHandler(cfg))
		r.Get("/videos", listVideosHandler(cfg))
		r.Post("/videos", createVideoHandler(cfg))
		r.Get("/videos/{id}", getVideoHandler(cfg))
		r.Get("/videos/{id}/status", statusHandler(cfg))
		r.Post("/videos/{id}/index", indexVideoHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func serviceStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := "idle"
		if cfg.Dispatcher != nil && cfg.Dispatcher.IsPaused() {
			state = "paused"
		}

		videos, err := cfg.Repository.ListVideos(r.Context(), 100)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list videos", "INTERNAL_ERROR")
			return
		}

		resp := ServiceStatusResponse{State: state}
		for _, v := range videos {
			switch v.Status {
			case video.StatusPending:
				resp.Pending++
			case video.StatusProcessing:
				resp.Processing++
				if state == "idle" {
					resp.State = "indexing"
				}
			case video.StatusCompleted:
				resp.Completed++
			case video.StatusFailed:
				resp.Failed++
				if resp.LastError == "" {
					resp.LastError = v.FailureCause
				}
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Dispatcher == nil {
			WriteError(w, http.StatusServiceUnavailable, "dispatcher not running", "UNAVAILABLE")
			return
		}
		cfg.Dispatcher.Pause()
		w.WriteHeader(http.StatusNoContent)
	}
}

func resumeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Dispatcher == nil {
			WriteError(w, http.StatusServiceUnavailable, "dispatcher not running", "UNAVAILABLE")
			return
		}
		cfg.Dispatcher.Resume()
		w.WriteHeader(http.StatusNoContent)
	}
}

func createVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateVideoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Name == "" {
			WriteError(w, http.StatusBadRequest, "name is required", "BAD_REQUEST")
			return
		}
		if req.FilePath == "" && req.SourceURL == "" {
			WriteError(w, http.StatusBadRequest, "file_path or source_url is required", "BAD_REQUEST")
			return
		}

		sourceType := req.SourceType
		if sourceType == "" {
			sourceType = video.SourceUpload
		}

		ctx := r.Context()

		categoryID := ""
		if req.Category != "" {
			cat, err := cfg.Repository.GetCategoryByName(ctx, req.Category)
			if err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
				return
			}
			if cat == nil {
				cat = &video.Category{ID: video.NewID(), Name: req.Category}
				if err := cfg.Repository.CreateCategory(ctx, cat); err != nil {
					WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
					return
				}
			}
			categoryID = cat.ID
		}

		v := &video.Video{
			ID:          video.NewID(),
			Name:        req.Name,
			Description: req.Description,
			Keywords:    req.Keywords,
			CategoryID:  categoryID,
			UploaderID:  req.UploaderID,
			SourceType:  sourceType,
			FilePath:    req.FilePath,
			SourceURL:   req.SourceURL,
			Status:      video.StatusPending,
		}
		if err := cfg.Repository.CreateVideo(ctx, v); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		if len(req.Intervals) > 0 {
			intervals := make([]video.Interval, len(req.Intervals))
			for i, iv := range req.Intervals {
				intervals[i] = video.Interval{Order: i, Start: iv.Start, End: iv.End}
			}
			if err := cfg.Repository.SetIntervals(ctx, v.ID, intervals); err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
				return
			}
		}

		WriteJSON(w, http.StatusCreated, CreateVideoResponse{VideoID: v.ID, Status: v.Status})
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videos, err := cfg.Repository.ListVideos(r.Context(), 100)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list videos", "INTERNAL_ERROR")
			return
		}

		resp := VideosResponse{Videos: make([]VideoResponse, len(videos))}
		for i, v := range videos {
			resp.Videos[i] = VideoToResponse(v)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := loadVideo(w, r, cfg)
		if v == nil || err != nil {
			return
		}
		WriteJSON(w, http.StatusOK, VideoToResponse(v))
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := loadVideo(w, r, cfg)
		if v == nil || err != nil {
			return
		}
		WriteJSON(w, http.StatusOK, StatusResponse{
			VideoID: v.ID,
			Status:  v.Status,
			Cause:   v.FailureCause,
		})
	}
}

// indexVideoHandler enqueues a video for processing. A terminal video is
// reset to PENDING first, so a failed run can be retried manually; document
// keys are deterministic, so a re-run overwrites rather than duplicates.
func indexVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := loadVideo(w, r, cfg)
		if v == nil || err != nil {
			return
		}

		ctx := r.Context()
		switch v.Status {
		case video.StatusProcessing:
			WriteError(w, http.StatusConflict, "video is already processing", "ALREADY_RUNNING")
			return
		case video.StatusFailed, video.StatusCompleted:
			ok, err := cfg.Repository.TransitionStatus(ctx, v.ID, v.Status, video.StatusPending, "")
			if err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
				return
			}
			if !ok {
				WriteError(w, http.StatusConflict, "video status changed concurrently", "CONFLICT")
				return
			}
		}

		if err := cfg.Repository.Enqueue(ctx, v.ID); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusAccepted, IndexVideoResponse{VideoID: v.ID, Status: video.StatusPending})
	}
}

func loadVideo(w http.ResponseWriter, r *http.Request, cfg ServerConfig) (*video.Video, error) {
	id := chi.URLParam(r, "id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "video id required", "BAD_REQUEST")
		return nil, nil
	}

	v, err := cfg.Repository.GetVideo(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, err
	}
	if v == nil {
		WriteError(w, http.StatusNotFound, "video not found", "NOT_FOUND")
		return nil, nil
	}
	return v, nil
}
