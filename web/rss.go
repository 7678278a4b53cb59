package web

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/loxodon/activitypub"
	"github.com/gorilla/feeds"
)

// GetOutboxRSS renders the first outbox page as an RSS feed so the site's
// published activity is consumable outside the fediverse.
func (s *Server) GetOutboxRSS(ctx context.Context, host string) (string, error) {
	page, err := s.Dispatcher.Outbox(ctx, host, activitypub.FirstCursor())
	if err != nil {
		return "", err
	}

	link := fmt.Sprintf("%s://%s/ap/outbox/%s", s.Conf.Conf.Protocol, host, DefaultHandle)

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("Outbox - %s", host),
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("published activities of %s", host),
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, raw := range page.Items {
		item, ok := rssItem(raw)
		if !ok {
			continue
		}
		feedItems = append(feedItems, item)
	}

	feed.Items = feedItems
	return feed.ToRss()
}

// rssItem maps a stored activity onto a feed entry. Activities without a
// usable object are skipped.
func rssItem(raw json.RawMessage) (*feeds.Item, bool) {
	var activity struct {
		Id     string `json:"id"`
		Object struct {
			Id        string `json:"id"`
			Name      string `json:"name"`
			Content   string `json:"content"`
			Url       string `json:"url"`
			Published string `json:"published"`
		} `json:"object"`
	}

	if err := json.Unmarshal(raw, &activity); err != nil {
		return nil, false
	}
	if activity.Object.Id == "" {
		return nil, false
	}

	title := activity.Object.Name
	if title == "" {
		title = activity.Object.Id
	}

	link := activity.Object.Url
	if link == "" {
		link = activity.Object.Id
	}

	created := time.Now()
	if t, err := time.Parse(time.RFC3339, activity.Object.Published); err == nil {
		created = t
	}

	return &feeds.Item{
		Id:      activity.Object.Id,
		Title:   title,
		Link:    &feeds.Link{Href: link},
		Content: activity.Object.Content,
		Created: created,
	}, true
}
