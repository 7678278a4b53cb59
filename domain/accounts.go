package domain

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// Site is a tenant of the server, identified by its request host.
type Site struct {
	Id   int64
	Host string
}

type PostType int

const (
	PostTypeArticle PostType = iota
	PostTypeNote
)

// Account is a federated identity. Internal accounts belong to a Site and
// derive their protocol identifiers deterministically from it; external
// accounts carry whatever identifiers their origin server published.
type Account struct {
	Id            int64 // 0 until persisted
	Uuid          uuid.UUID
	Username      string
	Name          string
	Bio           string
	AvatarURL     string
	BannerURL     string
	Site          *Site
	ApId          string
	Url           string
	ApFollowers   string
	PublicKeyPem  string
	PrivateKeyPem string

	protocol string
}

// AccountData carries the raw attributes an Account is built from, either
// fresh input or a row rehydrated from storage.
type AccountData struct {
	Id            int64
	Uuid          uuid.UUID
	Username      string
	Name          string
	Bio           string
	AvatarURL     string
	BannerURL     string
	Site          *Site
	ApId          string
	Url           string
	ApFollowers   string
	PublicKeyPem  string
	PrivateKeyPem string
	Protocol      string
}

// NewAccount builds an Account. A missing uuid is minted; missing protocol
// identifiers are derived for internal accounts and are an error for
// external ones.
func NewAccount(data AccountData) (*Account, error) {
	acc := &Account{
		Id:            data.Id,
		Uuid:          data.Uuid,
		Username:      data.Username,
		Name:          data.Name,
		Bio:           data.Bio,
		AvatarURL:     data.AvatarURL,
		BannerURL:     data.BannerURL,
		Site:          data.Site,
		ApId:          data.ApId,
		Url:           data.Url,
		ApFollowers:   data.ApFollowers,
		PublicKeyPem:  data.PublicKeyPem,
		PrivateKeyPem: data.PrivateKeyPem,
		protocol:      data.Protocol,
	}

	if acc.protocol == "" {
		acc.protocol = "https"
	}

	if acc.Uuid == uuid.Nil {
		acc.Uuid = uuid.New()
	}

	if acc.ApId == "" {
		apId, err := acc.deriveApId()
		if err != nil {
			return nil, err
		}
		acc.ApId = apId
	}

	// External accounts carry whatever their origin published; a missing
	// followers collection stays empty.
	if acc.ApFollowers == "" && acc.IsInternal() {
		apFollowers, err := acc.deriveApFollowers()
		if err != nil {
			return nil, err
		}
		acc.ApFollowers = apFollowers
	}

	if acc.Url == "" {
		acc.Url = acc.ApId
	}

	return acc, nil
}

func (acc *Account) IsInternal() bool {
	return acc.Site != nil
}

func (acc *Account) deriveApId() (string, error) {
	if !acc.IsInternal() {
		return "", fmt.Errorf("cannot derive ap id for external account %q", acc.Username)
	}

	return fmt.Sprintf("%s://%s/ap/users/%s", acc.protocol, acc.Site.Host, url.PathEscape(acc.Username)), nil
}

func (acc *Account) deriveApFollowers() (string, error) {
	if !acc.IsInternal() {
		return "", fmt.Errorf("cannot derive ap followers for external account %q", acc.Username)
	}

	return fmt.Sprintf("%s://%s/ap/followers/%s", acc.protocol, acc.Site.Host, url.PathEscape(acc.Username)), nil
}

// ApIdForPost derives the canonical identifier for a post published by this
// account, keyed by post subtype and the post's stable uuid.
func (acc *Account) ApIdForPost(postType PostType, postUuid uuid.UUID) (string, error) {
	if !acc.IsInternal() {
		return "", fmt.Errorf("cannot derive post ap id for external account %q", acc.Username)
	}

	var kind string
	switch postType {
	case PostTypeArticle:
		kind = "article"
	case PostTypeNote:
		kind = "note"
	default:
		return "", fmt.Errorf("unhandled post type: %d", postType)
	}

	return fmt.Sprintf("%s://%s/ap/%s/%s", acc.protocol, acc.Site.Host, kind, postUuid), nil
}

// ApIdForActivity derives the canonical identifier for an activity minted
// locally on behalf of this account (e.g. the auto-Accept for a Follow).
func (acc *Account) ApIdForActivity(activityType ActivityType, activityUuid uuid.UUID) (string, error) {
	if !acc.IsInternal() {
		return "", fmt.Errorf("cannot derive activity ap id for external account %q", acc.Username)
	}

	var kind string
	switch activityType {
	case ActivityFollow:
		kind = "follow"
	case ActivityAccept:
		kind = "accept"
	case ActivityUndo:
		kind = "undo"
	case ActivityAnnounce:
		kind = "announce"
	case ActivityLike:
		kind = "like"
	case ActivityCreate:
		kind = "create"
	default:
		return "", fmt.Errorf("unhandled activity type: %d", activityType)
	}

	return fmt.Sprintf("%s://%s/ap/%s/%s", acc.protocol, acc.Site.Host, kind, activityUuid), nil
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %d \n\tUsername: %s \n\tApId: %s", acc.Id, acc.Username, acc.ApId)
}
