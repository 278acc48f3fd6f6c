package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vocabvoice/pkg/db"
	"vocabvoice/pkg/model"
	"vocabvoice/pkg/store"
)

func TestMaintenance(t *testing.T) {
	tempDir := t.TempDir()
	d, err := db.Init(filepath.Join(tempDir, "maint_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	s := store.NewSQLiteStore(d)
	ctx := context.Background()

	csvPath := filepath.Join(tempDir, "vocabulary.csv")
	csvContent := "\ufeffid,word,example,language\n" +
		"42,สวัสดี,<i>สวัสดี</i>ครับ,th-TH\n" +
		"x,broken,,en\n" +
		"7,,no word,en\n" +
		"8,hello,hello world,en\n"
	if err := os.WriteFile(csvPath, []byte(csvContent), 0o644); err != nil {
		t.Fatal(err)
	}

	// One servable and one vanished asset
	for _, rec := range []model.AssetRecord{
		{ContentID: 42, Kind: model.KindWord, StoragePath: "audio/word_42_1.mp3", SizeBytes: 5000},
		{ContentID: 8, Kind: model.KindWord, StoragePath: "audio/word_8_1.mp3", SizeBytes: 5000},
	} {
		if err := s.RecordAsset(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	exists := func(p string) bool { return p == "audio/word_42_1.mp3" }

	if err := Run(ctx, s, csvPath, exists); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	item, err := s.GetItem(ctx, 42)
	if err != nil || item == nil {
		t.Fatalf("item 42 not imported: %v", err)
	}
	if item.Example != "สวัสดีครับ" {
		t.Errorf("example markup not stripped: %q", item.Example)
	}
	if item, _ := s.GetItem(ctx, 7); item != nil {
		t.Error("row without word should be skipped")
	}
	if item, _ := s.GetItem(ctx, 8); item == nil {
		t.Error("item 8 not imported")
	}
	if _, found := s.GetState(ctx, vocabularyStateKey); !found {
		t.Error("State not updated after import")
	}

	if _, found, _ := s.AssetFor(ctx, 42, model.KindWord); !found {
		t.Error("servable asset pruned")
	}
	if _, found, _ := s.AssetFor(ctx, 8, model.KindWord); found {
		t.Error("vanished asset not pruned")
	}
}

func TestMaintenance_SkipsUnchangedCSV(t *testing.T) {
	tempDir := t.TempDir()
	d, err := db.Init(filepath.Join(tempDir, "maint_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	s := store.NewSQLiteStore(d)
	ctx := context.Background()

	csvPath := filepath.Join(tempDir, "vocabulary.csv")
	if err := os.WriteFile(csvPath, []byte("id,word\n1,one\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Now().Add(-time.Hour)
	if err := os.Chtimes(csvPath, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	if err := Run(ctx, s, csvPath, nil); err != nil {
		t.Fatal(err)
	}

	// Manual edit to the table survives a second run with the same file
	if err := s.SaveItem(ctx, &model.ContentItem{ContentID: 2, Word: "two"}); err != nil {
		t.Fatal(err)
	}
	if err := Run(ctx, s, csvPath, nil); err != nil {
		t.Fatal(err)
	}
	if item, _ := s.GetItem(ctx, 2); item == nil {
		t.Error("unchanged CSV should not be re-imported")
	}
}

func TestMaintenance_MissingCSV(t *testing.T) {
	d, err := db.Init(filepath.Join(t.TempDir(), "maint_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if err := Run(context.Background(), store.NewSQLiteStore(d), "/nonexistent/vocab.csv", nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}
