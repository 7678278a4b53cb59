package activitypub

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/deemkeen/loxodon/domain"
)

// ObjectStore is the keyed store of protocol object representations.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) (json.RawMessage, error)
	SetObject(ctx context.Context, key string, value json.RawMessage) error
}

// ListStore holds per-site append-only identifier lists (inbox, outbox,
// liked).
type ListStore interface {
	GetList(ctx context.Context, site *domain.Site, name string) ([]string, error)
	AppendToList(ctx context.Context, site *domain.Site, name string, value string) error
}

// AccountRepository persists accounts and the follow graph. Lookups return
// (nil, nil) when nothing matches.
type AccountRepository interface {
	AccountByApId(ctx context.Context, apId string) (*domain.Account, error)
	DefaultAccountForSite(ctx context.Context, site *domain.Site) (*domain.Account, error)
	CreateExternalAccount(ctx context.Context, acc *domain.Account) (*domain.Account, error)
	RecordFollow(ctx context.Context, followee, follower *domain.Account) error
	RecordUnfollow(ctx context.Context, followee, follower *domain.Account) error
	IsFollowing(ctx context.Context, follower, followee *domain.Account) (bool, error)
	FollowingApIds(ctx context.Context, acc *domain.Account, limit, offset int) ([]string, error)
	FollowersApIds(ctx context.Context, acc *domain.Account, limit, offset int) ([]string, error)
	CountFollowing(ctx context.Context, acc *domain.Account) (int, error)
	CountFollowers(ctx context.Context, acc *domain.Account) (int, error)
}

// PostRepository persists post aggregates.
type PostRepository interface {
	PostByApId(ctx context.Context, apId string) (*domain.Post, error)
	SavePost(ctx context.Context, post *domain.Post) error
}

// SiteResolver maps a request host to its site, (nil, nil) when unknown.
type SiteResolver interface {
	SiteByHost(ctx context.Context, host string) (*domain.Site, error)
}

// Resolver fetches remote actors and objects, consulting the local object
// store before going to the network.
type Resolver interface {
	ResolveActor(ctx context.Context, uri string) (*RemoteActor, error)
	ResolveObject(ctx context.Context, uri string) (json.RawMessage, error)
}

// Sender delivers an activity to a remote inbox, signed with the sending
// account's key.
type Sender interface {
	SendActivity(ctx context.Context, from *domain.Account, toInbox string, activity any) error
}

// ProofVerifier checks an activity's attached integrity proof without
// network access.
type ProofVerifier interface {
	VerifyProof(ctx context.Context, activity *domain.Activity) bool
}

// Reporter receives errors that are tolerated but worth surfacing.
type Reporter interface {
	Capture(err error)
}

// LogReporter writes captured errors to the standard logger.
type LogReporter struct{}

func (LogReporter) Capture(err error) {
	log.Printf("Captured: %v", err)
}

// RemoteActor is the parsed representation of a fetched actor document.
type RemoteActor struct {
	Id                string `json:"id"`
	Type              string `json:"type"`
	PreferredUsername string `json:"preferredUsername"`
	Name              string `json:"name"`
	Summary           string `json:"summary"`
	Inbox             string `json:"inbox"`
	Outbox            string `json:"outbox"`
	Followers         string `json:"followers"`
	Url               string `json:"url"`
	Icon              struct {
		Url string `json:"url"`
	} `json:"icon"`
	Image struct {
		Url string `json:"url"`
	} `json:"image"`
	PublicKey struct {
		Id           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`

	Raw json.RawMessage `json:"-"`
}

// accountFromActor maps a fetched actor document onto an external account.
// A missing preferredUsername falls back to the last path segment of the
// actor URI.
func accountFromActor(actor *RemoteActor) (*domain.Account, error) {
	username := actor.PreferredUsername
	if username == "" {
		parts := strings.Split(strings.TrimSuffix(actor.Id, "/"), "/")
		username = strings.TrimPrefix(parts[len(parts)-1], "@")
	}

	return domain.NewAccount(domain.AccountData{
		Username:     username,
		Name:         actor.Name,
		Bio:          actor.Summary,
		AvatarURL:    actor.Icon.Url,
		BannerURL:    actor.Image.Url,
		ApId:         actor.Id,
		Url:          actor.Url,
		ApFollowers:  actor.Followers,
		PublicKeyPem: actor.PublicKey.PublicKeyPem,
	})
}
