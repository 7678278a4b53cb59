package web

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestGetOutboxRSS(t *testing.T) {
	server, site, _ := newTestServer(t)
	ctx := context.Background()

	activityId := "https://example.com/ap/create/1"
	payload := `{
		"id": "https://example.com/ap/create/1",
		"type": "Create",
		"object": {
			"id": "https://example.com/ap/note/1",
			"name": "Hello World",
			"content": "<p>first post</p>",
			"url": "https://example.com/posts/1",
			"published": "2026-01-15T10:00:00Z"
		}
	}`

	if err := server.DB.AppendToList(ctx, site, "outbox", activityId); err != nil {
		t.Fatalf("AppendToList failed: %v", err)
	}
	if err := server.DB.SetObject(ctx, activityId, json.RawMessage(payload)); err != nil {
		t.Fatalf("SetObject failed: %v", err)
	}

	rss, err := server.GetOutboxRSS(ctx, "example.com")
	if err != nil {
		t.Fatalf("GetOutboxRSS failed: %v", err)
	}

	if !strings.Contains(rss, "<rss") {
		t.Error("Expected RSS XML output")
	}
	if !strings.Contains(rss, "Hello World") {
		t.Errorf("Expected item title in feed, got: %s", rss)
	}
	if !strings.Contains(rss, "https://example.com/posts/1") {
		t.Error("Expected item link in feed")
	}
}

func TestGetOutboxRSSUnknownHost(t *testing.T) {
	server, _, _ := newTestServer(t)

	if _, err := server.GetOutboxRSS(context.Background(), "other.example"); err == nil {
		t.Error("Expected error for unknown host")
	}
}

func TestRssItemSkipsMissingObject(t *testing.T) {
	if _, ok := rssItem(json.RawMessage(`{"id":"https://example.com/ap/create/1"}`)); ok {
		t.Error("Activity without an object must be skipped")
	}
	if _, ok := rssItem(json.RawMessage(`not json`)); ok {
		t.Error("Malformed payload must be skipped")
	}
}

func TestRssItemDefaults(t *testing.T) {
	item, ok := rssItem(json.RawMessage(`{
		"id": "https://example.com/ap/create/1",
		"object": {"id": "https://example.com/ap/note/1"}
	}`))
	if !ok {
		t.Fatal("Expected a feed item")
	}

	// Both title and link fall back to the object id
	if item.Title != "https://example.com/ap/note/1" {
		t.Errorf("Unexpected title: %s", item.Title)
	}
	if item.Link.Href != "https://example.com/ap/note/1" {
		t.Errorf("Unexpected link: %s", item.Link.Href)
	}
}
