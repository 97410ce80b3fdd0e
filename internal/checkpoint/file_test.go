package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "tracker_state.json")
	store := NewFileStore(path)

	want := State{
		"alice": {LastItemID: "1790000000000000001"},
		"bob":   {LastItemID: "42"},
	}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %+v, want %+v", k, got[k], v)
		}
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestFileStoreMissingIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "none.json"))

	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty state, got %v", got)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"alice": `), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := NewFileStore(path).Load(context.Background())
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}

func TestFileStoreReadsLegacyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")
	doc := `{"alice": {"last_tweet_id": "5", "last_item_id": "7"}, "carol": {"last_item_id": "9"}, "dave": {"last_tweet_id": "11"}}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := NewFileStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Get("alice") != "7" || got.Get("carol") != "9" || got.Get("dave") != "11" {
		t.Errorf("got %v", got)
	}
}

func TestFileStoreReadsBareValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bare.json")
	doc := `{"alice": "100", "bob": 1790000000000000001, "carol": {"last_item_id": "9"}}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := NewFileStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Get("alice") != "100" || got.Get("bob") != "1790000000000000001" || got.Get("carol") != "9" {
		t.Errorf("got %v", got)
	}
}
