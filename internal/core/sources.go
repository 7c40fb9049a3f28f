package core

import (
	"encoding/json"
	"math"
)

const (
	maxTextSources     = 3
	textSourcePreview  = 300
	textSourceEllipsis = "..."
)

// Source is one entry of an answer's attribution list: a TextSource,
// ImageSource or TableSource. Each marshals with a "type" discriminator.
type Source interface {
	SourceType() string
}

type TextSource struct {
	Content string  `json:"content"`
	Page    int     `json:"page"`
	Score   float64 `json:"score"`
}

type ImageSource struct {
	URL     string `json:"url"`
	Caption string `json:"caption"`
	Page    int    `json:"page"`
}

type TableSource struct {
	URL     string          `json:"url"`
	Caption string          `json:"caption"`
	Page    int             `json:"page"`
	Data    json.RawMessage `json:"data"`
}

func (TextSource) SourceType() string  { return "text" }
func (ImageSource) SourceType() string { return "image" }
func (TableSource) SourceType() string { return "table" }

func (s TextSource) MarshalJSON() ([]byte, error) {
	type plain TextSource
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{s.SourceType(), plain(s)})
}

func (s ImageSource) MarshalJSON() ([]byte, error) {
	type plain ImageSource
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{s.SourceType(), plain(s)})
}

func (s TableSource) MarshalJSON() ([]byte, error) {
	type plain TableSource
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{s.SourceType(), plain(s)})
}

// FormatSources lists up to three text excerpts, then every selected image,
// then every selected table.
func FormatSources(items []ContextItem, media Media) []Source {
	sources := make([]Source, 0, maxTextSources+len(media.Images)+len(media.Tables))

	for i, item := range items {
		if i == maxTextSources {
			break
		}
		sources = append(sources, TextSource{
			Content: truncate(item.Chunk.Content, textSourcePreview) + textSourceEllipsis,
			Page:    item.Chunk.PageNumber,
			Score:   round2(item.Score),
		})
	}
	for _, img := range media.Images {
		sources = append(sources, ImageSource{URL: img.URL(), Caption: img.Caption, Page: img.PageNumber})
	}
	for _, tbl := range media.Tables {
		sources = append(sources, TableSource{URL: tbl.URL(), Caption: tbl.Caption, Page: tbl.PageNumber, Data: tbl.Data})
	}
	return sources
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
