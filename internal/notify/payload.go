// Package notify delivers newly observed items to a webhook.
package notify

import "github.com/STRATINT/feedwatch/internal/models"

// EventItemNew is the payload type of a new item notification.
const EventItemNew = "item.new"

// Payload is the JSON body posted for every new item.
type Payload struct {
	Type   string      `json:"type"`
	Source string      `json:"source"`
	Item   ItemPayload `json:"item"`
}

// ItemPayload is the item as seen by webhook consumers.
type ItemPayload struct {
	ID            string               `json:"id"`
	URL           string               `json:"url"`
	Text          string               `json:"text"`
	CreatedAt     string               `json:"created_at"`
	Metrics       models.ItemMetrics   `json:"metrics"`
	Author        models.Author        `json:"author"`
	SourceAccount models.SourceAccount `json:"source_account"`
}

// NewPayload builds the notification for item.
func NewPayload(source string, item models.Item) Payload {
	return Payload{
		Type:   EventItemNew,
		Source: source,
		Item: ItemPayload{
			ID:            item.ID,
			URL:           item.URL(),
			Text:          item.Text,
			CreatedAt:     item.CreatedAt,
			Metrics:       item.Metrics,
			Author:        item.Author,
			SourceAccount: item.SourceAccount,
		},
	}
}
