package web

import (
	"context"
	"fmt"
	"strings"

	"github.com/deemkeen/loxodon/domain"
)

// The single actor every site exposes. Multi-actor sites are not a thing
// yet, the handle is fixed.
const DefaultHandle = "index"

type actorDoc struct {
	Context           []string       `json:"@context"`
	Id                string         `json:"id"`
	Type              string         `json:"type"`
	PreferredUsername string         `json:"preferredUsername"`
	Name              string         `json:"name,omitempty"`
	Summary           string         `json:"summary,omitempty"`
	Icon              *imageDoc      `json:"icon,omitempty"`
	Image             *imageDoc      `json:"image,omitempty"`
	Inbox             string         `json:"inbox"`
	Outbox            string         `json:"outbox"`
	Following         string         `json:"following"`
	Followers         string         `json:"followers"`
	Liked             string         `json:"liked"`
	Url               string         `json:"url"`
	PublicKey         publicKeyDoc   `json:"publicKey"`
}

type imageDoc struct {
	Type string `json:"type"`
	Url  string `json:"url"`
}

type publicKeyDoc struct {
	Id           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// collectionUrl derives a sibling collection address from the account's
// canonical identifier, e.g. /ap/users/alice -> /ap/outbox/alice.
func collectionUrl(acc *domain.Account, name string) string {
	return strings.Replace(acc.ApId, "/ap/users/", "/ap/"+name+"/", 1)
}

// GetActor renders the site actor document for the given handle.
func (s *Server) GetActor(ctx context.Context, host, handle string) (*actorDoc, error) {
	if handle != DefaultHandle {
		return nil, fmt.Errorf("unknown actor: %s", handle)
	}

	site, err := s.DB.SiteByHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, fmt.Errorf("site not found for host: %s", host)
	}

	acc, err := s.DB.DefaultAccountForSite(ctx, site)
	if err != nil {
		return nil, err
	}

	doc := &actorDoc{
		Context: []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		Id:                acc.ApId,
		Type:              "Person",
		PreferredUsername: acc.Username,
		Name:              acc.Name,
		Summary:           acc.Bio,
		Inbox:             collectionUrl(acc, "inbox"),
		Outbox:            collectionUrl(acc, "outbox"),
		Following:         collectionUrl(acc, "following"),
		Followers:         acc.ApFollowers,
		Liked:             collectionUrl(acc, "liked"),
		Url:               acc.Url,
		PublicKey: publicKeyDoc{
			Id:           acc.ApId + "#main-key",
			Owner:        acc.ApId,
			PublicKeyPem: acc.PublicKeyPem,
		},
	}

	if acc.AvatarURL != "" {
		doc.Icon = &imageDoc{Type: "Image", Url: acc.AvatarURL}
	}
	if acc.BannerURL != "" {
		doc.Image = &imageDoc{Type: "Image", Url: acc.BannerURL}
	}

	return doc, nil
}

type webfingerDoc struct {
	Subject string          `json:"subject"`
	Links   []webfingerLink `json:"links"`
}

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

// GetWebfinger resolves an acct: resource to the site actor.
func (s *Server) GetWebfinger(ctx context.Context, host, user string) (*webfingerDoc, error) {
	if user != DefaultHandle {
		return nil, fmt.Errorf("unknown actor: %s", user)
	}

	site, err := s.DB.SiteByHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, fmt.Errorf("site not found for host: %s", host)
	}

	acc, err := s.DB.DefaultAccountForSite(ctx, site)
	if err != nil {
		return nil, err
	}

	return &webfingerDoc{
		Subject: fmt.Sprintf("acct:%s@%s", acc.Username, site.Host),
		Links: []webfingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: acc.ApId,
			},
		},
	}, nil
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
