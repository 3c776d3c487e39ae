package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// IndexError represents a failed write to the search engine.
type IndexError struct {
	StatusCode int
	Body       string
}

func (e *IndexError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("search engine unreachable: %s", e.Body)
	}
	return fmt.Sprintf("search engine error: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and network errors.
func (e *IndexError) IsRetryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// Indexer writes parent and child documents. All writes use deterministic
// document ids and index (overwrite) semantics, so retries never duplicate.
type Indexer interface {
	EnsureIndex(ctx context.Context) error
	CreateParent(ctx context.Context, doc ParentDocument) (string, error)
	IndexChild(ctx context.Context, id string, doc ChildDocument) error
}

// Config holds OpenSearch connection settings.
type Config struct {
	Address  string
	Username string
	Password string
	Index    string
	Timeout  time.Duration
}

// OpenSearchIndexer is the production Indexer.
type OpenSearchIndexer struct {
	client *opensearch.Client
	index  string
	logger *slog.Logger
}

func NewIndexer(cfg Config, logger *slog.Logger) (*OpenSearchIndexer, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.Address},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			ResponseHeaderTimeout: cfg.Timeout,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}
	return &OpenSearchIndexer{client: client, index: cfg.Index, logger: logger}, nil
}

// EnsureIndex creates the index with its mapping when it does not exist yet.
func (i *OpenSearchIndexer) EnsureIndex(ctx context.Context) error {
	existsReq := opensearchapi.IndicesExistsRequest{Index: []string{i.index}}
	res, err := existsReq.Do(ctx, i.client)
	if err != nil {
		return &IndexError{StatusCode: 0, Body: err.Error()}
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return &IndexError{StatusCode: res.StatusCode, Body: "unexpected exists response"}
	}

	createReq := opensearchapi.IndicesCreateRequest{
		Index: i.index,
		Body:  bytes.NewReader([]byte(indexMapping)),
	}
	cres, err := createReq.Do(ctx, i.client)
	if err != nil {
		return &IndexError{StatusCode: 0, Body: err.Error()}
	}
	defer cres.Body.Close()
	if cres.IsError() {
		return readError(cres)
	}

	if i.logger != nil {
		i.logger.Info("created search index", "index", i.index)
	}
	return nil
}

func (i *OpenSearchIndexer) CreateParent(ctx context.Context, doc ParentDocument) (string, error) {
	doc.VideoRelation = RelationVideo
	id := ParentID(doc.VideoID)
	if err := i.indexDoc(ctx, id, doc.VideoID, doc); err != nil {
		return "", err
	}
	return id, nil
}

func (i *OpenSearchIndexer) IndexChild(ctx context.Context, id string, doc ChildDocument) error {
	// Parent/child joins require the child to live on the parent's shard.
	return i.indexDoc(ctx, id, doc.VideoRelation.Parent, doc)
}

func (i *OpenSearchIndexer) indexDoc(ctx context.Context, id, routing string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      i.index,
		DocumentID: id,
		Routing:    routing,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return &IndexError{StatusCode: 0, Body: err.Error()}
	}
	defer res.Body.Close()
	if res.IsError() {
		return readError(res)
	}

	if i.logger != nil {
		i.logger.Debug("indexed document", "id", id, "bytes", len(body))
	}
	return nil
}

func readError(res *opensearchapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return &IndexError{StatusCode: res.StatusCode, Body: string(body)}
}
