package core

import (
	"context"
	"fmt"
	"strings"

	"gwi.com/docqa/internal/store"
)

var (
	imageIntentWords = []string{
		"image", "figure", "diagram", "picture", "show", "visual",
		"architecture", "illustration", "graph", "chart", "plot",
	}
	tableIntentWords = []string{
		"table", "results", "data", "numbers", "comparison",
		"statistics", "metrics", "performance", "benchmark",
	}
)

const (
	imageBackfillLimit = 5
	tableBackfillLimit = 3
)

// Media is the set of images and tables shown alongside an answer.
type Media struct {
	Images []store.Image
	Tables []store.Table
}

type MediaLinker struct {
	media MediaStore
}

func NewMediaLinker(media MediaStore) *MediaLinker {
	return &MediaLinker{media: media}
}

// Link selects the media for a reply. Cross-referenced media come first in
// first-seen order; a bound document backfills when the query asks for a
// media kind or nothing of that kind was found. Caps grow with intent.
func (l *MediaLinker) Link(ctx context.Context, items []ContextItem, documentID *int64, query string) (Media, error) {
	var images []store.Image
	var tables []store.Table
	seenImages := make(map[int64]struct{})
	seenTables := make(map[int64]struct{})

	for _, item := range items {
		for _, img := range item.RelatedImages {
			if _, ok := seenImages[img.ID]; !ok {
				seenImages[img.ID] = struct{}{}
				images = append(images, img)
			}
		}
		for _, tbl := range item.RelatedTables {
			if _, ok := seenTables[tbl.ID]; !ok {
				seenTables[tbl.ID] = struct{}{}
				tables = append(tables, tbl)
			}
		}
	}

	wantsImage := hasIntent(query, imageIntentWords)
	wantsTable := hasIntent(query, tableIntentWords)

	if documentID != nil && (wantsImage || len(images) == 0) {
		extra, err := l.media.ListImagesByDocument(ctx, *documentID, imageBackfillLimit)
		if err != nil {
			return Media{}, fmt.Errorf("failed to backfill images: %w", err)
		}
		for _, img := range extra {
			if _, ok := seenImages[img.ID]; !ok {
				seenImages[img.ID] = struct{}{}
				images = append(images, img)
			}
		}
	}

	if documentID != nil && (wantsTable || len(tables) == 0) {
		extra, err := l.media.ListTablesByDocument(ctx, *documentID, tableBackfillLimit)
		if err != nil {
			return Media{}, fmt.Errorf("failed to backfill tables: %w", err)
		}
		for _, tbl := range extra {
			if _, ok := seenTables[tbl.ID]; !ok {
				seenTables[tbl.ID] = struct{}{}
				tables = append(tables, tbl)
			}
		}
	}

	imageCap, tableCap := 2, 1
	if wantsImage {
		imageCap = 3
	}
	if wantsTable {
		tableCap = 2
	}
	if len(images) > imageCap {
		images = images[:imageCap]
	}
	if len(tables) > tableCap {
		tables = tables[:tableCap]
	}

	return Media{Images: images, Tables: tables}, nil
}

func hasIntent(query string, words []string) bool {
	q := strings.ToLower(query)
	for _, w := range words {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}
