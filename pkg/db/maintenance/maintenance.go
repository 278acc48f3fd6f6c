package maintenance

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"vocabvoice/pkg/model"
	"vocabvoice/pkg/store"
	"vocabvoice/pkg/textutil"
)

const vocabularyStateKey = "vocabulary_csv_mtime"

// Catalog is the store subset maintenance works on.
type Catalog interface {
	store.ItemStore
	store.AssetStore
	store.StateStore
}

// Run imports the vocabulary CSV when it changed and drops asset records
// whose files are gone. exists reports whether a stored path is still servable.
// It blocks until completion.
func Run(ctx context.Context, s Catalog, csvPath string, exists func(path string) bool) error {
	slog.Info("Starting database maintenance...")

	if err := importVocabulary(ctx, s, csvPath); err != nil {
		// Startup continues with the previous catalog
		slog.Error("Vocabulary import failed", "error", err)
	} else {
		slog.Info("Vocabulary import check completed")
	}

	if exists != nil {
		n, err := pruneAssets(ctx, s, exists)
		if err != nil {
			slog.Error("Asset pruning failed", "error", err)
		} else {
			slog.Info("Asset pruning completed", "removed", n)
		}
	}

	return nil
}

// importVocabulary replaces the item table from a CSV when its mtime changed.
func importVocabulary(ctx context.Context, s Catalog, csvPath string) error {
	if csvPath == "" {
		return nil
	}
	info, err := os.Stat(csvPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat csv: %w", err)
	}

	fileMTime := info.ModTime().UTC().Format(time.RFC3339)
	if stored, found := s.GetState(ctx, vocabularyStateKey); found && stored == fileMTime {
		return nil
	}

	slog.Info("Importing vocabulary from CSV...", "path", csvPath)

	f, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	// Headers: id,word,example,language
	headers, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if len(headers) > 0 && len(headers[0]) >= 3 && headers[0][:3] == "\xef\xbb\xbf" {
		headers[0] = headers[0][3:]
	}
	idxMap := make(map[string]int)
	for i, h := range headers {
		idxMap[h] = i
	}
	if _, ok := idxMap["id"]; !ok {
		return errors.New("csv has no id column")
	}

	// The table is fully derived from the CSV
	if err := s.ClearItems(ctx); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}

	count, err := processRows(ctx, s, reader, idxMap)
	if err != nil {
		return err
	}
	slog.Info("Imported vocabulary", "count", count)

	if err := s.SetState(ctx, vocabularyStateKey, fileMTime); err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	return nil
}

func processRows(ctx context.Context, s Catalog, reader *csv.Reader, idxMap map[string]int) (int, error) {
	get := func(row []string, col string) string {
		if i, ok := idxMap[col]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	count := 0
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("csv read error: %w", err)
		}

		id, err := model.ParseContentID(get(record, "id"))
		if err != nil {
			slog.Warn("Skipping vocabulary row", "line", line, "error", err)
			continue
		}
		item := &model.ContentItem{
			ContentID: id,
			Word:      textutil.PlainText(get(record, "word")),
			Example:   textutil.PlainText(get(record, "example")),
			Language:  get(record, "language"),
		}
		if item.Word == "" {
			slog.Warn("Skipping vocabulary row without word", "line", line, "content_id", id)
			continue
		}
		if err := s.SaveItem(ctx, item); err != nil {
			return count, fmt.Errorf("failed to save row %d: %w", line, err)
		}
		count++
	}
	return count, nil
}

// pruneAssets deletes records whose file is missing or below the size threshold.
func pruneAssets(ctx context.Context, s Catalog, exists func(string) bool) (int, error) {
	recs, err := s.ListAssets(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, rec := range recs {
		if exists(rec.StoragePath) {
			continue
		}
		if err := s.DeleteAsset(ctx, rec.ContentID, rec.Kind); err != nil {
			return removed, fmt.Errorf("failed to delete asset %d/%s: %w", rec.ContentID, rec.Kind, err)
		}
		removed++
	}
	return removed, nil
}
