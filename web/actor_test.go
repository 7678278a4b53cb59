package web

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deemkeen/loxodon/activitypub"
	"github.com/deemkeen/loxodon/db"
	"github.com/deemkeen/loxodon/domain"
	"github.com/deemkeen/loxodon/util"
)

func newTestServer(t *testing.T) (*Server, *domain.Site, *domain.Account) {
	t.Helper()
	ctx := context.Background()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), "https")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	site, err := database.CreateSite(ctx, "example.com")
	if err != nil {
		t.Fatalf("CreateSite failed: %v", err)
	}

	acc, err := database.CreateInternalAccount(ctx, site, DefaultHandle, "Example Site", "a test site", util.GeneratePemKeypair())
	if err != nil {
		t.Fatalf("CreateInternalAccount failed: %v", err)
	}

	dispatcher, err := activitypub.NewDispatcher(database, database, database, database, nil, nil, 20)
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}

	conf := &util.AppConfig{}
	conf.Conf.Protocol = "https"
	conf.Conf.Domain = "example.com"

	return &Server{Conf: conf, DB: database, Dispatcher: dispatcher}, site, acc
}

func TestGetActor(t *testing.T) {
	server, _, acc := newTestServer(t)

	doc, err := server.GetActor(context.Background(), "example.com", DefaultHandle)
	if err != nil {
		t.Fatalf("GetActor failed: %v", err)
	}

	if doc.Id != acc.ApId {
		t.Errorf("Expected id '%s', got '%s'", acc.ApId, doc.Id)
	}
	if doc.Type != "Person" {
		t.Errorf("Expected type 'Person', got '%s'", doc.Type)
	}
	if doc.PreferredUsername != DefaultHandle {
		t.Errorf("Expected preferredUsername '%s', got '%s'", DefaultHandle, doc.PreferredUsername)
	}
	if doc.Inbox != "https://example.com/ap/inbox/index" {
		t.Errorf("Unexpected inbox: %s", doc.Inbox)
	}
	if doc.Outbox != "https://example.com/ap/outbox/index" {
		t.Errorf("Unexpected outbox: %s", doc.Outbox)
	}
	if doc.Followers != acc.ApFollowers {
		t.Errorf("Unexpected followers: %s", doc.Followers)
	}
	if doc.PublicKey.Id != acc.ApId+"#main-key" {
		t.Errorf("Unexpected publicKey id: %s", doc.PublicKey.Id)
	}
	if doc.PublicKey.PublicKeyPem == "" {
		t.Error("Public key PEM should be set")
	}
}

func TestGetActorUnknownHandle(t *testing.T) {
	server, _, _ := newTestServer(t)

	if _, err := server.GetActor(context.Background(), "example.com", "nobody"); err == nil {
		t.Error("Expected error for unknown handle")
	}
}

func TestGetActorUnknownHost(t *testing.T) {
	server, _, _ := newTestServer(t)

	if _, err := server.GetActor(context.Background(), "other.example", DefaultHandle); err == nil {
		t.Error("Expected error for unknown host")
	}
}

func TestGetWebfinger(t *testing.T) {
	server, _, acc := newTestServer(t)

	doc, err := server.GetWebfinger(context.Background(), "example.com", DefaultHandle)
	if err != nil {
		t.Fatalf("GetWebfinger failed: %v", err)
	}

	if doc.Subject != "acct:index@example.com" {
		t.Errorf("Unexpected subject: %s", doc.Subject)
	}
	if len(doc.Links) != 1 {
		t.Fatalf("Expected 1 link, got %d", len(doc.Links))
	}
	if doc.Links[0].Rel != "self" {
		t.Errorf("Unexpected rel: %s", doc.Links[0].Rel)
	}
	if doc.Links[0].Href != acc.ApId {
		t.Errorf("Unexpected href: %s", doc.Links[0].Href)
	}
}

func TestGetWebfingerUnknownUser(t *testing.T) {
	server, _, _ := newTestServer(t)

	if _, err := server.GetWebfinger(context.Background(), "example.com", "nobody"); err == nil {
		t.Error("Expected error for unknown user")
	}
}

func TestGetWebFingerNotFound(t *testing.T) {
	body := GetWebFingerNotFound()
	if !strings.Contains(body, "Not Found") {
		t.Errorf("Unexpected not-found body: %s", body)
	}
}

func TestCollectionUrl(t *testing.T) {
	acc, err := domain.NewAccount(domain.AccountData{
		Username: "index",
		Site:     &domain.Site{Id: 1, Host: "example.com"},
		Protocol: "https",
	})
	if err != nil {
		t.Fatalf("NewAccount failed: %v", err)
	}

	if got := collectionUrl(acc, "outbox"); got != "https://example.com/ap/outbox/index" {
		t.Errorf("Unexpected collection url: %s", got)
	}
	if got := collectionUrl(acc, "liked"); got != "https://example.com/ap/liked/index" {
		t.Errorf("Unexpected collection url: %s", got)
	}
}
