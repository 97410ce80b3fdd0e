package ingestion

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/STRATINT/feedwatch/internal/models"
)

var (
	idPaths = []string{"rest_id", "legacy.id_str", "id_str", "id"}

	textPaths = []string{
		"note_tweet.note_tweet_results.result.text",
		"legacy.full_text",
		"legacy.text",
		"full_text",
		"text",
	}

	createdAtPaths = []string{"legacy.created_at", "created_at"}
)

// Extract turns a raw timeline payload into the entity's items, deduplicated
// by id and sorted ascending. Posts without a usable numeric id are dropped.
func Extract(raw []byte, entity models.TrackedEntity, source models.SourceAccount) ([]models.Item, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformedPayload
	}

	posts, ok := collectPosts(gjson.ParseBytes(raw))
	if !ok {
		return nil, ErrUnrecognizedShape
	}

	seen := make(map[uint64]struct{}, len(posts))
	items := make([]models.Item, 0, len(posts))
	for _, post := range posts {
		item, ok := toItem(post, entity, source)
		if !ok {
			continue
		}
		if _, dup := seen[item.NumericID]; dup {
			continue
		}
		seen[item.NumericID] = struct{}{}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].NumericID < items[j].NumericID
	})
	return items, nil
}

// NewSince keeps the items strictly newer than lastID. An empty or
// non-numeric lastID keeps everything. items must be sorted ascending.
func NewSince(items []models.Item, lastID string) []models.Item {
	last, err := strconv.ParseUint(lastID, 10, 64)
	if err != nil {
		return items
	}

	i := sort.Search(len(items), func(i int) bool {
		return items[i].NumericID > last
	})
	return items[i:]
}

// Normalize is Extract followed by NewSince.
func Normalize(raw []byte, entity models.TrackedEntity, lastID string, source models.SourceAccount) ([]models.Item, error) {
	items, err := Extract(raw, entity, source)
	if err != nil {
		return nil, err
	}
	return NewSince(items, lastID), nil
}

func toItem(post gjson.Result, entity models.TrackedEntity, source models.SourceAccount) (models.Item, bool) {
	id, numeric, ok := postID(post)
	if !ok {
		return models.Item{}, false
	}

	return models.Item{
		ID:        id,
		NumericID: numeric,
		Text:      firstString(post, textPaths),
		CreatedAt: firstString(post, createdAtPaths),
		Metrics: models.ItemMetrics{
			Like:    counter(post, "favorite_count"),
			Retweet: counter(post, "retweet_count"),
			Reply:   counter(post, "reply_count"),
			Quote:   counter(post, "quote_count"),
		},
		Author: models.Author{
			ID:     entity.ResolvedID,
			Handle: entity.Handle,
			Name:   entity.DisplayName,
		},
		SourceAccount: source,
	}, true
}

func postID(post gjson.Result) (string, uint64, bool) {
	for _, path := range idPaths {
		v := post.Get(path)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		s := v.String()
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			continue
		}
		return strconv.FormatUint(n, 10), n, true
	}
	return "", 0, false
}

func firstString(post gjson.Result, paths []string) string {
	for _, path := range paths {
		if v := post.Get(path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func counter(post gjson.Result, field string) *int64 {
	for _, path := range []string{"legacy." + field, field} {
		v := post.Get(path)
		if v.Type != gjson.Number {
			continue
		}
		n := v.Int()
		return &n
	}
	return nil
}

func describe(items []models.Item) string {
	if len(items) == 0 {
		return "none"
	}
	return fmt.Sprintf("%s..%s", items[0].ID, items[len(items)-1].ID)
}
