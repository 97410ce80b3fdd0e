package ingestion

import (
	"errors"
	"testing"

	"github.com/STRATINT/feedwatch/internal/models"
)

var alice = models.TrackedEntity{Handle: "alice", ResolvedID: "44196397", DisplayName: "Alice"}

var source = models.SourceAccount{ID: "acc1", Name: "primary"}

func ids(items []models.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func assertIDs(t *testing.T, items []models.Item, want ...string) {
	t.Helper()
	got := ids(items)
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
}

// Three levels of wrappers around five leaves, two of which carry no id.
const nestedFixture = `{
  "data": {"user": {"result": {"__typename": "User", "timeline_v2": {"timeline": {"instructions": [
    {"type": "TimelineClearCache"},
    {"type": "TimelineAddEntries", "entries": [
      {"entryId": "tweet-300", "content": {"entryType": "TimelineTimelineItem", "itemContent": {"itemType": "TimelineTweet",
        "tweet_results": {"result": {"__typename": "Tweet", "rest_id": "300", "legacy": {"full_text": "third", "favorite_count": 7}}}}}},
      {"entryId": "tweet-x", "content": {"itemContent": {"tweet_results": {"result": {"__typename": "Tweet", "legacy": {"full_text": "no id"}}}}}},
      {"entryId": "tweet-100", "content": {"itemContent": {"tweet_results": {"result": {"__typename": "Tweet", "legacy": {"id_str": "100", "text": "first"}}}}}},
      {"entryId": "tweet-y", "content": {"itemContent": {"tweet_results": {"result": {"__typename": "Tweet", "legacy": {"id_str": "", "full_text": "empty id"}}}}}},
      {"entryId": "tweet-200", "content": {"itemContent": {"tweet_results": {"result": {"__typename": "TweetWithVisibilityResults",
        "tweet": {"rest_id": "200", "legacy": {"full_text": "second"}}}}}}},
      {"entryId": "cursor-top", "content": {"entryType": "TimelineTimelineCursor", "value": "abc", "cursorType": "Top"}}
    ]}
  ]}}}}}
}`

func TestExtractNestedTimeline(t *testing.T) {
	items, err := Extract([]byte(nestedFixture), alice, source)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	assertIDs(t, items, "100", "200", "300")

	if items[0].Text != "first" || items[2].Text != "third" {
		t.Errorf("text extraction: %q, %q", items[0].Text, items[2].Text)
	}
	if items[2].Metrics.Like == nil || *items[2].Metrics.Like != 7 {
		t.Errorf("like metric = %v", items[2].Metrics.Like)
	}
	if items[0].Metrics.Like != nil {
		t.Error("missing metric should stay nil")
	}
	if items[1].Author.Handle != "alice" || items[1].SourceAccount.ID != "acc1" {
		t.Errorf("provenance = %+v / %+v", items[1].Author, items[1].SourceAccount)
	}
	if items[1].URL() != "https://x.com/alice/status/200" {
		t.Errorf("url = %s", items[1].URL())
	}
}

func TestNormalizeAgainstCheckpoint(t *testing.T) {
	raw := `[{"id": 105}, {"id": 95}, {"id_str": "100"}, {"rest_id": "101"}]`

	items, err := Normalize([]byte(raw), alice, "100", source)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	assertIDs(t, items, "101", "105")
}

func TestNormalizeWithoutCheckpointKeepsAll(t *testing.T) {
	items, err := Normalize([]byte(`[{"id": 2}, {"id": 1}]`), alice, "", source)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	assertIDs(t, items, "1", "2")
}

func TestExtractDeduplicatesByID(t *testing.T) {
	raw := `[{"rest_id": "5", "legacy": {"full_text": "a"}}, {"id_str": "5", "text": "b"}, {"id": 6}]`

	items, err := Extract([]byte(raw), alice, source)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	assertIDs(t, items, "5", "6")
	if items[0].Text != "a" {
		t.Errorf("first occurrence should win, got %q", items[0].Text)
	}
}

func TestExtractIDPriority(t *testing.T) {
	raw := `[{"rest_id": "10", "legacy": {"id_str": "20"}, "id": 30}, {"legacy": {"id_str": "40"}, "id": 50}, {"rest_id": "abc", "id": 60}]`

	items, err := Extract([]byte(raw), alice, source)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	assertIDs(t, items, "10", "40", "60")
}

func TestExtractTextPriority(t *testing.T) {
	raw := `[{"rest_id": "1",
		"note_tweet": {"note_tweet_results": {"result": {"text": "long form"}}},
		"legacy": {"full_text": "truncated", "created_at": "Wed Oct 10 20:19:24 +0000 2018"}}]`

	items, err := Extract([]byte(raw), alice, source)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if items[0].Text != "long form" {
		t.Errorf("text = %q", items[0].Text)
	}
	if items[0].CreatedAt != "Wed Oct 10 20:19:24 +0000 2018" {
		t.Errorf("created_at = %q", items[0].CreatedAt)
	}
}

func TestExtractLegacyUserMap(t *testing.T) {
	raw := `{"44196397": [{"id": 3, "text": "c"}, {"id": 1, "text": "a"}]}`

	items, err := Extract([]byte(raw), alice, source)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	assertIDs(t, items, "1", "3")
}

func TestExtractLargeIDsKeepPrecision(t *testing.T) {
	raw := `[{"id": 1790000000000000001}, {"id": 1790000000000000003}]`

	items, err := Extract([]byte(raw), alice, source)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	assertIDs(t, items, "1790000000000000001", "1790000000000000003")
}

func TestExtractSkipsPromotedAndUserObjects(t *testing.T) {
	raw := `{"data": {"user": {"result": {"timeline_v2": {"timeline": {"instructions": [{"entries": [
		{"content": {"itemContent": {"promotedMetadata": {"advertiser": "x"}, "tweet_results": {"result": {"rest_id": "999"}}}}},
		{"content": {"itemContent": {"tweet_results": {"result": {"rest_id": "7"}}}}}
	]}]}}}}}}`

	items, err := Extract([]byte(raw), alice, source)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	assertIDs(t, items, "7")

	// A bare user object under "user" is not a post.
	items, err = Extract([]byte(`{"data": {"user": {"id": 12, "name": "x"}}}`), alice, source)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("user object treated as post: %v", ids(items))
	}
}

func TestExtractPostsWithEmbeddedAuthor(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "flat list",
			raw: `[{"id_str": "102", "text": "b", "user": {"id_str": "42", "screen_name": "alice"}},
				{"id_str": "101", "text": "a", "user": {"id_str": "42", "screen_name": "alice"}}]`,
			want: []string{"101", "102"},
		},
		{
			name: "user map",
			raw:  `{"42": [{"id_str": "101", "text": "a", "user": {"id_str": "42"}}, {"id": 100, "user": {"id": 42}}]}`,
			want: []string{"100", "101"},
		},
		{
			name: "graphql record",
			raw:  `[{"rest_id": "103", "legacy": {"full_text": "c"}, "user": {"rest_id": "42"}}]`,
			want: []string{"103"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := Extract([]byte(tt.raw), alice, source)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			assertIDs(t, items, tt.want...)
		})
	}
}

func TestExtractShapeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"invalid json", `{"data": [`, ErrMalformedPayload},
		{"unknown object", `{"errors": [{"message": "nope"}]}`, ErrUnrecognizedShape},
		{"scalar", `"hello"`, ErrUnrecognizedShape},
		{"empty object", `{}`, ErrUnrecognizedShape},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract([]byte(tt.raw), alice, source)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExtractEmptyShapes(t *testing.T) {
	for _, raw := range []string{`[]`, `{"data": {"user": {"result": {"timeline_v2": {"timeline": {"instructions": []}}}}}}`} {
		items, err := Extract([]byte(raw), alice, source)
		if err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if len(items) != 0 {
			t.Errorf("%s: got %v", raw, ids(items))
		}
	}
}
