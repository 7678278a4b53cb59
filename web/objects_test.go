package web

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/deemkeen/loxodon/util"
)

func TestGetStoredObject(t *testing.T) {
	server, _, _ := newTestServer(t)
	ctx := context.Background()

	key := "https://example.com/ap/accept/123e4567-e89b-12d3-a456-426614174000"
	accept := json.RawMessage(`{"id":"` + key + `","type":"Accept"}`)
	if err := server.DB.SetObject(ctx, key, accept); err != nil {
		t.Fatalf("SetObject failed: %v", err)
	}

	raw, err := server.GetStoredObject(ctx, "example.com", "accept", "123e4567-e89b-12d3-a456-426614174000")
	if err != nil {
		t.Fatalf("GetStoredObject failed: %v", err)
	}
	if string(raw) != string(accept) {
		t.Errorf("Unexpected object: %s", raw)
	}
}

func TestGetStoredObjectUnknownKind(t *testing.T) {
	server, _, _ := newTestServer(t)

	if _, err := server.GetStoredObject(context.Background(), "example.com", "inbox", "abc"); err == nil {
		t.Error("Expected error for unknown object kind")
	}
}

func TestGetStoredObjectMissing(t *testing.T) {
	server, _, _ := newTestServer(t)

	if _, err := server.GetStoredObject(context.Background(), "example.com", "note", "does-not-exist"); err == nil {
		t.Error("Expected error for missing object")
	}
}

func TestNodeInfo(t *testing.T) {
	server, _, _ := newTestServer(t)

	doc := server.NodeInfo()
	if doc["version"] != "2.0" {
		t.Errorf("Unexpected version: %v", doc["version"])
	}

	software, ok := doc["software"].(map[string]any)
	if !ok {
		t.Fatal("software section missing")
	}
	if software["name"] != util.Name {
		t.Errorf("Unexpected software name: %v", software["name"])
	}

	protocols, ok := doc["protocols"].([]string)
	if !ok || len(protocols) != 1 || protocols[0] != "activitypub" {
		t.Errorf("Unexpected protocols: %v", doc["protocols"])
	}
}
