package ingestion

import (
	"github.com/tidwall/gjson"
)

// maxWalkDepth bounds recursion into hostile or degenerate payloads.
const maxWalkDepth = 48

type nodeKind int

const (
	nodeUnknown nodeKind = iota
	nodeList
	nodePost
	nodeEnvelope
	nodeUserMap
)

// envelopeKey is a wrapper field the walker descends into. Children of a
// containerOnly key are never treated as posts themselves.
type envelopeKey struct {
	name          string
	containerOnly bool
}

var envelopeKeys = []envelopeKey{
	{name: "data"},
	{name: "user", containerOnly: true},
	{name: "result"},
	{name: "timeline_v2"},
	{name: "timeline"},
	{name: "instructions"},
	{name: "entries"},
	{name: "entry"},
	{name: "content"},
	{name: "itemContent"},
	{name: "tweet_results"},
	{name: "items"},
	{name: "item"},
	{name: "tweet"},
}

// timelineKeys hold the containers of a timeline. A node carrying one is a
// wrapper even when it also has an id, as user results do.
var timelineKeys = []string{"timeline_v2", "timeline", "instructions", "entries", "items"}

var postKeys = []string{"rest_id", "legacy", "id_str", "id"}

func classify(n gjson.Result) nodeKind {
	if n.IsArray() {
		return nodeList
	}
	if !n.IsObject() {
		return nodeUnknown
	}

	switch n.Get("__typename").String() {
	case "Tweet":
		return nodePost
	case "TweetWithVisibilityResults", "User":
		return nodeEnvelope
	case "TweetTombstone", "TweetUnavailable":
		return nodeUnknown
	}

	for _, k := range timelineKeys {
		if n.Get(k).Exists() {
			return nodeEnvelope
		}
	}
	// An id-bearing record is a post even when it embeds wrapper-named
	// fields such as its author under "user".
	for _, k := range postKeys {
		if n.Get(k).Exists() {
			return nodePost
		}
	}
	if hasEnvelopeKey(n) {
		return nodeEnvelope
	}
	if isUserMap(n) {
		return nodeUserMap
	}
	return nodeUnknown
}

func hasEnvelopeKey(n gjson.Result) bool {
	for _, k := range envelopeKeys {
		if n.Get(k.name).Exists() {
			return true
		}
	}
	return false
}

// isUserMap matches the legacy {"<user id>": [posts]} shape.
func isUserMap(n gjson.Result) bool {
	keys := 0
	digits := true
	n.ForEach(func(k, _ gjson.Result) bool {
		keys++
		s := k.String()
		if s == "" {
			digits = false
			return false
		}
		for _, c := range s {
			if c < '0' || c > '9' {
				digits = false
				return false
			}
		}
		return true
	})
	return keys > 0 && digits
}

// collectPosts flattens a timeline payload into its post records in
// document order. It reports false when the root matches no known shape.
func collectPosts(root gjson.Result) ([]gjson.Result, bool) {
	if classify(root) == nodeUnknown {
		return nil, false
	}

	var posts []gjson.Result
	walk(root, 0, false, &posts)
	return posts, true
}

func walk(n gjson.Result, depth int, containerOnly bool, posts *[]gjson.Result) {
	if depth > maxWalkDepth {
		return
	}

	switch classify(n) {
	case nodeList:
		n.ForEach(func(_, child gjson.Result) bool {
			walk(child, depth+1, false, posts)
			return true
		})
	case nodePost:
		if !containerOnly {
			*posts = append(*posts, n)
		}
	case nodeEnvelope:
		// Promoted entries carry other accounts' posts.
		if n.Get("promotedMetadata").Exists() {
			return
		}
		for _, k := range envelopeKeys {
			if child := n.Get(k.name); child.Exists() {
				walk(child, depth+1, k.containerOnly, posts)
			}
		}
	case nodeUserMap:
		n.ForEach(func(_, child gjson.Result) bool {
			walk(child, depth+1, false, posts)
			return true
		})
	}
}
