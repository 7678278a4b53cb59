package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// maxObjectBytes caps how much of a remote response is read. Misbehaving
// servers can send arbitrarily large documents.
const maxObjectBytes = 1 << 20

// Lookup resolves remote actors and objects. Resolved objects are cached
// in the object store under their canonical identifier, and cached entries
// short-circuit the network fetch.
type Lookup struct {
	Objects   ObjectStore
	Client    *http.Client
	UserAgent string
	Metrics   *Metrics
}

// NewLookup builds a Lookup with an SSRF-hardened client: private,
// loopback, link-local and metadata addresses are blocked at dial time.
func NewLookup(objects ObjectStore, userAgent string, metrics *Metrics) *Lookup {
	config := safeurl.GetConfigBuilder().
		SetTimeout(10 * time.Second).
		SetAllowedSchemes("http", "https").
		Build()

	return &Lookup{
		Objects:   objects,
		Client:    safeurl.Client(config).Client,
		UserAgent: userAgent,
		Metrics:   metrics,
	}
}

// ResolveActor fetches and parses an actor document.
func (l *Lookup) ResolveActor(ctx context.Context, uri string) (*RemoteActor, error) {
	raw, err := l.ResolveObject(ctx, uri)
	if err != nil {
		return nil, err
	}

	var actor RemoteActor
	if err := json.Unmarshal(raw, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	if actor.Id == "" || actor.Inbox == "" {
		return nil, fmt.Errorf("actor %s missing required fields", uri)
	}

	actor.Raw = raw
	return &actor, nil
}

// ResolveObject returns the representation stored under the identifier, or
// fetches it from its origin on a cache miss.
func (l *Lookup) ResolveObject(ctx context.Context, uri string) (json.RawMessage, error) {
	if uri == "" {
		return nil, fmt.Errorf("empty object identifier")
	}

	cached, err := l.Objects.GetObject(ctx, uri)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		l.Metrics.RecordLookup("cached")
		return cached, nil
	}

	raw, err := l.fetch(ctx, uri)
	if err != nil {
		l.Metrics.RecordLookup("error")
		return nil, err
	}
	l.Metrics.RecordLookup("fetched")

	if err := l.Objects.SetObject(ctx, uri, raw); err != nil {
		return nil, err
	}

	return raw, nil
}

func (l *Lookup) fetch(ctx context.Context, uri string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", l.UserAgent)

	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("object fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxObjectBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("object %s is not valid JSON", uri)
	}

	return body, nil
}
