package enrich

import (
	"context"
	"log/slog"
	"strings"

	"github.com/veeky/veeky-indexer/internal/video"
)

// TextEnrichment is the result of enriching a transcript.
type TextEnrichment struct {
	Clean     string
	Keywords  []string
	Embedding []float32
}

// ImageEnrichment is the result of enriching a keyframe image.
type ImageEnrichment struct {
	Description          string
	OCRText              string
	Embedding            []float32
	DescriptionEmbedding []float32
}

// Enricher annotates text and images. Model and prompt selection comes from
// the per-job config snapshot only.
type Enricher interface {
	EnrichText(ctx context.Context, snap *video.ConfigSnapshot, text string) (*TextEnrichment, error)
	EnrichImage(ctx context.Context, snap *video.ConfigSnapshot, imagePath string) (*ImageEnrichment, error)
	EmbedText(ctx context.Context, snap *video.ConfigSnapshot, text string) ([]float32, error)
}

// OllamaEnricher is the production Enricher backed by the Ollama client.
type OllamaEnricher struct {
	client *Client
	logger *slog.Logger
}

func NewEnricher(client *Client, logger *slog.Logger) *OllamaEnricher {
	return &OllamaEnricher{client: client, logger: logger}
}

func (e *OllamaEnricher) EnrichText(ctx context.Context, snap *video.ConfigSnapshot, text string) (*TextEnrichment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return &TextEnrichment{}, nil
	}

	clean, err := e.client.Generate(ctx, snap.TextModel,
		snap.Prompt(video.PromptTranscriptCleanup)+"\n\n"+text+"\n",
		nil, snap.Temperature, snap.MaxTokens)
	if err != nil {
		return nil, err
	}
	clean = strings.TrimSpace(clean)
	if clean == "" {
		clean = text
	}

	keywordsRaw, err := e.client.Generate(ctx, snap.TextModel,
		snap.Prompt(video.PromptKeywords)+"\n\n"+clean+"\n",
		nil, snap.Temperature, snap.MaxTokens)
	if err != nil {
		return nil, err
	}

	embedding, err := e.client.EmbedText(ctx, snap.EmbedModel, clean)
	if err != nil {
		return nil, err
	}

	return &TextEnrichment{
		Clean:     clean,
		Keywords:  parseKeywords(keywordsRaw),
		Embedding: embedding,
	}, nil
}

// EmbedText embeds a standalone piece of already-cleaned text, such as an
// overflow chunk of a long transcript. Empty input yields no vector.
func (e *OllamaEnricher) EmbedText(ctx context.Context, snap *video.ConfigSnapshot, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	return e.client.EmbedText(ctx, snap.EmbedModel, text)
}

func (e *OllamaEnricher) EnrichImage(ctx context.Context, snap *video.ConfigSnapshot, imagePath string) (*ImageEnrichment, error) {
	data, err := encodeImage(imagePath)
	if err != nil {
		return nil, err
	}

	raw, err := e.client.Generate(ctx, snap.VisionModel,
		snap.Prompt(video.PromptKeyframeDescription),
		[]string{data}, snap.Temperature, snap.MaxTokens)
	if err != nil {
		return nil, err
	}
	description, ocrText := splitDescription(raw)

	embedding, err := e.client.EmbedImage(ctx, snap.ImageEmbedModel, imagePath)
	if err != nil {
		return nil, err
	}

	result := &ImageEnrichment{
		Description: description,
		OCRText:     ocrText,
		Embedding:   embedding,
	}

	// The description embedding rides along for text search over keyframes;
	// losing it is not worth failing the keyframe.
	if description != "" {
		descEmbedding, err := e.client.EmbedText(ctx, snap.EmbedModel, description)
		if err != nil {
			if e.logger != nil {
				e.logger.Warn("description embedding failed", "error", err)
			}
		} else {
			result.DescriptionEmbedding = descEmbedding
		}
	}

	return result, nil
}

// parseKeywords extracts one keyword per line, stripping list markers.
func parseKeywords(raw string) []string {
	var keywords []string
	for _, line := range strings.Split(raw, "\n") {
		kw := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*• \t"))
		kw = strings.Trim(kw, `"`)
		if kw == "" {
			continue
		}
		keywords = append(keywords, kw)
		if len(keywords) == 8 {
			break
		}
	}
	return keywords
}

// splitDescription separates the model's description from a trailing
// "OCR:" line carrying text read from the frame.
func splitDescription(raw string) (description, ocrText string) {
	raw = strings.TrimSpace(raw)
	idx := strings.LastIndex(raw, "OCR:")
	if idx < 0 {
		return raw, ""
	}
	description = strings.TrimSpace(raw[:idx])
	ocrText = strings.TrimSpace(raw[idx+len("OCR:"):])
	if strings.EqualFold(ocrText, "none") || strings.EqualFold(ocrText, "n/a") {
		ocrText = ""
	}
	return description, ocrText
}
