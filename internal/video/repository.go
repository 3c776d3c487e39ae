package video

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

type Repository interface {
	CreateVideo(ctx context.Context, v *Video) error
	GetVideo(ctx context.Context, id string) (*Video, error)
	ListVideos(ctx context.Context, limit int) ([]*Video, error)
	// TransitionStatus moves a video from one status to another with
	// compare-and-set semantics. It reports false when the video was not in
	// the expected status, without touching the row.
	TransitionStatus(ctx context.Context, id, from, to, cause string) (bool, error)
	SetSearchParentID(ctx context.Context, id, parentID string) error

	CreateCategory(ctx context.Context, c *Category) error
	GetCategory(ctx context.Context, id string) (*Category, error)
	GetCategoryByName(ctx context.Context, name string) (*Category, error)

	SetIntervals(ctx context.Context, videoID string, intervals []Interval) error
	GetIntervals(ctx context.Context, videoID string) ([]Interval, error)

	// Job intake queue, at-least-once.
	Enqueue(ctx context.Context, videoID string) error
	Dequeue(ctx context.Context) (string, bool, error)
	Ack(ctx context.Context, videoID string) error
	// RequeueStale recovers work lost to crashed workers: videos stuck in
	// PROCESSING with no live lease go back to PENDING and onto the queue,
	// and queue rows claimed longer ago than claimAge go back to pending.
	// Returns how many it recovered.
	RequeueStale(ctx context.Context, claimAge time.Duration) (int, error)

	// Per-video lease lock. Acquire succeeds when no lease exists or the
	// existing one has expired.
	AcquireLease(ctx context.Context, videoID, owner string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, videoID, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, videoID, owner string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
	SetPrompt(ctx context.Context, purpose, category, template string) error
	SetLLMSetting(ctx context.Context, name, model string, temperature float64, maxTokens int) error
	// Snapshot captures the prompt and model configuration for one job run.
	Snapshot(ctx context.Context, categoryID string, defaults SnapshotDefaults) (*ConfigSnapshot, error)
}

// SnapshotDefaults are the globally configured models applied when no
// llm_settings row or category override exists.
type SnapshotDefaults struct {
	TextModel   string
	VisionModel string
	EmbedModel  string
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const videoColumns = `id, name, description, keywords, category_id, uploader_id, source_type,
		file_path, source_url, status, failure_cause, search_parent_id, created_at, updated_at`

func (r *SQLiteRepository) CreateVideo(ctx context.Context, v *Video) error {
	keywords, err := json.Marshal(v.Keywords)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO videos (`+videoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.Name, v.Description, string(keywords), nullString(v.CategoryID), v.UploaderID,
		v.SourceType, v.FilePath, v.SourceURL, v.Status, v.FailureCause, v.SearchParentID,
		v.CreatedAt.Format(time.RFC3339), v.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetVideo(ctx context.Context, id string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	return scanVideo(row)
}

func (r *SQLiteRepository) ListVideos(ctx context.Context, limit int) ([]*Video, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+videoColumns+` FROM videos ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		v, err := scanVideoRow(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (r *SQLiteRepository) TransitionStatus(ctx context.Context, id, from, to, cause string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, failure_cause = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, to, cause, time.Now().UTC().Format(time.RFC3339), id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLiteRepository) SetSearchParentID(ctx context.Context, id, parentID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE videos SET search_parent_id = ?, updated_at = ? WHERE id = ?
	`, parentID, time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) CreateCategory(ctx context.Context, c *Category) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, embed_model, created_at) VALUES (?, ?, ?, ?)
	`, c.ID, c.Name, c.EmbedModel, c.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, id string) (*Category, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, embed_model, created_at FROM categories WHERE id = ?", id)
	return scanCategory(row)
}

func (r *SQLiteRepository) GetCategoryByName(ctx context.Context, name string) (*Category, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, embed_model, created_at FROM categories WHERE name = ?", name)
	return scanCategory(row)
}

func (r *SQLiteRepository) SetIntervals(ctx context.Context, videoID string, intervals []Interval) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM intervals WHERE video_id = ?", videoID); err != nil {
		return err
	}
	for _, iv := range intervals {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO intervals (video_id, ord, start_second, end_second) VALUES (?, ?, ?, ?)
		`, videoID, iv.Order, iv.Start, iv.End); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) GetIntervals(ctx context.Context, videoID string) ([]Interval, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ord, start_second, end_second FROM intervals
		WHERE video_id = ? ORDER BY ord, start_second
	`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intervals []Interval
	for rows.Next() {
		var iv Interval
		if err := rows.Scan(&iv.Order, &iv.Start, &iv.End); err != nil {
			return nil, err
		}
		intervals = append(intervals, iv)
	}
	return intervals, rows.Err()
}

func (r *SQLiteRepository) Enqueue(ctx context.Context, videoID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO queue (video_id, state, enqueued_at) VALUES (?, 'pending', ?)
		ON CONFLICT(video_id) DO UPDATE SET state = 'pending', enqueued_at = excluded.enqueued_at
	`, videoID, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) Dequeue(ctx context.Context) (string, bool, error) {
	var videoID string
	err := r.db.QueryRowContext(ctx,
		"SELECT video_id FROM queue WHERE state = 'pending' ORDER BY enqueued_at LIMIT 1",
	).Scan(&videoID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE queue SET state = 'claimed', claimed_at = ?
		WHERE video_id = ? AND state = 'pending'
	`, time.Now().UTC().Format(time.RFC3339), videoID)
	if err != nil {
		return "", false, err
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		// Another worker claimed it between the select and the update.
		return "", false, err
	}
	return videoID, true, nil
}

func (r *SQLiteRepository) Ack(ctx context.Context, videoID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM queue WHERE video_id = ?", videoID)
	return err
}

func (r *SQLiteRepository) RequeueStale(ctx context.Context, claimAge time.Duration) (int, error) {
	if claimAge <= 0 {
		claimAge = time.Minute
	}
	now := time.Now()

	// A claimed queue row whose worker crashed before transitioning the video
	// out of PENDING never gets a lease, so the lease scan below cannot see
	// it. Old claims go back to pending.
	res, err := r.db.ExecContext(ctx, `
		UPDATE queue SET state = 'pending', claimed_at = NULL
		WHERE state = 'claimed' AND claimed_at <= ?
	`, now.Add(-claimAge).UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	reclaimed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	recovered := int(reclaimed)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM videos WHERE status = ?
		AND id NOT IN (SELECT video_id FROM leases WHERE expires_at > ?)
	`, StatusProcessing, now.Unix())
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		ok, err := r.TransitionStatus(ctx, id, StatusProcessing, StatusPending, "")
		if err != nil {
			return recovered, err
		}
		if !ok {
			continue
		}
		if err := r.Enqueue(ctx, id); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

func (r *SQLiteRepository) AcquireLease(ctx context.Context, videoID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO leases (video_id, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE leases.expires_at <= ?
	`, videoID, owner, now.Add(ttl).Unix(), now.Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLiteRepository) RenewLease(ctx context.Context, videoID, owner string, ttl time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE leases SET expires_at = ? WHERE video_id = ? AND owner = ?
	`, time.Now().Add(ttl).Unix(), videoID, owner)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLiteRepository) ReleaseLease(ctx context.Context, videoID, owner string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM leases WHERE video_id = ? AND owner = ?", videoID, owner)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM configs WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO configs (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (r *SQLiteRepository) SetPrompt(ctx context.Context, purpose, category, template string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO prompts (purpose, category, template, active, updated_at) VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(purpose, category) DO UPDATE SET template = excluded.template,
			active = 1, updated_at = excluded.updated_at
	`, purpose, category, template, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) SetLLMSetting(ctx context.Context, name, model string, temperature float64, maxTokens int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO llm_settings (name, model, temperature, max_tokens) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET model = excluded.model,
			temperature = excluded.temperature, max_tokens = excluded.max_tokens
	`, name, model, temperature, maxTokens)
	return err
}

func (r *SQLiteRepository) Snapshot(ctx context.Context, categoryID string, defaults SnapshotDefaults) (*ConfigSnapshot, error) {
	snap := &ConfigSnapshot{
		TextModel:       defaults.TextModel,
		VisionModel:     defaults.VisionModel,
		EmbedModel:      defaults.EmbedModel,
		ImageEmbedModel: defaults.EmbedModel,
		Temperature:     0.2,
		MaxTokens:       512,
		Prompts:         map[string]string{},
	}

	categoryName := ""
	categoryEmbed := false
	if categoryID != "" {
		cat, err := r.GetCategory(ctx, categoryID)
		if err != nil {
			return nil, err
		}
		if cat != nil {
			categoryName = cat.Name
			if cat.EmbedModel != "" {
				snap.ImageEmbedModel = cat.EmbedModel
				categoryEmbed = true
			}
		}
	}
	snap.Category = categoryName

	rows, err := r.db.QueryContext(ctx, "SELECT name, model, temperature, max_tokens FROM llm_settings")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var name, model string
		var temperature float64
		var maxTokens int
		if err := rows.Scan(&name, &model, &temperature, &maxTokens); err != nil {
			rows.Close()
			return nil, err
		}
		switch name {
		case "text":
			snap.TextModel = model
			snap.Temperature = temperature
			snap.MaxTokens = maxTokens
		case "vision":
			snap.VisionModel = model
		case "embedding":
			// Text embeddings always follow the global setting. The image
			// model follows it too unless the category pinned its own.
			snap.EmbedModel = model
			if !categoryEmbed {
				snap.ImageEmbedModel = model
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Category-specific prompts win over the generic ones.
	prows, err := r.db.QueryContext(ctx, `
		SELECT purpose, category, template FROM prompts
		WHERE active = 1 AND category IN ('', ?) ORDER BY category
	`, categoryName)
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var purpose, category, template string
		if err := prows.Scan(&purpose, &category, &template); err != nil {
			return nil, err
		}
		name := categoryName
		if name == "" {
			name = "general"
		}
		snap.Prompts[purpose] = strings.ReplaceAll(template, "{category}", name)
	}
	return snap, prows.Err()
}

func scanVideo(row *sql.Row) (*Video, error) {
	var v Video
	var keywords, createdAt, updatedAt string
	var categoryID sql.NullString

	err := row.Scan(&v.ID, &v.Name, &v.Description, &keywords, &categoryID, &v.UploaderID,
		&v.SourceType, &v.FilePath, &v.SourceURL, &v.Status, &v.FailureCause,
		&v.SearchParentID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	finishVideo(&v, keywords, categoryID, createdAt, updatedAt)
	return &v, nil
}

func scanVideoRow(rows *sql.Rows) (*Video, error) {
	var v Video
	var keywords, createdAt, updatedAt string
	var categoryID sql.NullString

	err := rows.Scan(&v.ID, &v.Name, &v.Description, &keywords, &categoryID, &v.UploaderID,
		&v.SourceType, &v.FilePath, &v.SourceURL, &v.Status, &v.FailureCause,
		&v.SearchParentID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	finishVideo(&v, keywords, categoryID, createdAt, updatedAt)
	return &v, nil
}

func finishVideo(v *Video, keywords string, categoryID sql.NullString, createdAt, updatedAt string) {
	v.CategoryID = categoryID.String
	if err := json.Unmarshal([]byte(keywords), &v.Keywords); err != nil {
		v.Keywords = nil
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	v.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
}

func scanCategory(row *sql.Row) (*Category, error) {
	var c Category
	var createdAt string
	err := row.Scan(&c.ID, &c.Name, &c.EmbedModel, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
