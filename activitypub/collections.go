package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strconv"

	"github.com/deemkeen/loxodon/domain"
)

// outboxActivityPattern keeps only Create and Announce identifiers in the
// outbox, which encode their kind in the URI path.
var outboxActivityPattern = regexp.MustCompile(`(create|announce)`)

// Page is one cursor-paginated slice of a collection. NextCursor is nil on
// the last page.
type Page struct {
	Items      []json.RawMessage
	NextCursor *string
}

// ActorPage is a slice of actor identifiers for the follower collections.
type ActorPage struct {
	Items      []string
	NextCursor *string
}

// Dispatcher serves the five activity collections. List identifiers are
// hydrated from the object store newest-first; follower collections come
// straight from the follow-edge records.
type Dispatcher struct {
	Objects  ObjectStore
	Lists    ListStore
	Accounts AccountRepository
	Sites    SiteResolver
	Resolver Resolver
	Reporter Reporter

	pageSize int
}

func NewDispatcher(objects ObjectStore, lists ListStore, accounts AccountRepository, sites SiteResolver, resolver Resolver, reporter Reporter, pageSize int) (*Dispatcher, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size: %d is not valid", pageSize)
	}
	if reporter == nil {
		reporter = LogReporter{}
	}
	return &Dispatcher{
		Objects:  objects,
		Lists:    lists,
		Accounts: accounts,
		Sites:    sites,
		Resolver: resolver,
		Reporter: reporter,
		pageSize: pageSize,
	}, nil
}

// FirstCursor is the cursor of a collection's first page.
func FirstCursor() string {
	return "0"
}

// parseCursor maps a cursor back to an offset. Anything malformed means
// the first page.
func parseCursor(cursor string) int {
	offset, err := strconv.Atoi(cursor)
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}

func (d *Dispatcher) site(ctx context.Context, host string) (*domain.Site, error) {
	site, err := d.Sites.SiteByHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, fmt.Errorf("site not found for host: %s", host)
	}
	return site, nil
}

func (d *Dispatcher) defaultAccount(ctx context.Context, host string) (*domain.Site, *domain.Account, error) {
	site, err := d.site(ctx, host)
	if err != nil {
		return nil, nil, err
	}
	acc, err := d.Accounts.DefaultAccountForSite(ctx, site)
	if err != nil {
		return nil, nil, err
	}
	return site, acc, nil
}

// page slices a reversed identifier list and computes the follow-up
// cursor.
func (d *Dispatcher) page(ids []string, cursor string) ([]string, *string) {
	offset := parseCursor(cursor)

	var nextCursor *string
	if len(ids) > offset+d.pageSize {
		next := strconv.Itoa(offset + d.pageSize)
		nextCursor = &next
	}

	if offset >= len(ids) {
		return nil, nil
	}
	end := offset + d.pageSize
	if end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end], nextCursor
}

func reversed(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}

// hydrate loads the stored representation for each identifier. A missing
// or broken entry is reported and dropped, never fatal for the page.
func (d *Dispatcher) hydrate(ctx context.Context, ids []string) []json.RawMessage {
	items := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		raw, err := d.Objects.GetObject(ctx, id)
		if err != nil {
			log.Printf("Collections: error loading %s: %v", id, err)
			d.Reporter.Capture(err)
			continue
		}
		if raw == nil {
			log.Printf("Collections: %s is not stored, dropping", id)
			continue
		}
		items = append(items, raw)
	}
	return items
}

// Inbox lists the inbox newest-first.
func (d *Dispatcher) Inbox(ctx context.Context, host string, cursor string) (*Page, error) {
	site, err := d.site(ctx, host)
	if err != nil {
		return nil, err
	}

	ids, err := d.Lists.GetList(ctx, site, listInbox)
	if err != nil {
		return nil, err
	}

	pageIds, nextCursor := d.page(reversed(ids), cursor)
	return &Page{Items: d.hydrate(ctx, pageIds), NextCursor: nextCursor}, nil
}

func (d *Dispatcher) CountInbox(ctx context.Context, host string) (int, error) {
	site, err := d.site(ctx, host)
	if err != nil {
		return 0, err
	}
	ids, err := d.Lists.GetList(ctx, site, listInbox)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Outbox lists published Create and Announce activities newest-first.
// Identifiers of any other shape are excluded from listing and counting.
func (d *Dispatcher) Outbox(ctx context.Context, host string, cursor string) (*Page, error) {
	site, err := d.site(ctx, host)
	if err != nil {
		return nil, err
	}

	ids, err := d.Lists.GetList(ctx, site, listOutbox)
	if err != nil {
		return nil, err
	}

	pageIds, nextCursor := d.page(reversed(filterOutboxIds(ids)), cursor)
	return &Page{Items: d.hydrate(ctx, pageIds), NextCursor: nextCursor}, nil
}

func (d *Dispatcher) CountOutbox(ctx context.Context, host string) (int, error) {
	site, err := d.site(ctx, host)
	if err != nil {
		return 0, err
	}
	ids, err := d.Lists.GetList(ctx, site, listOutbox)
	if err != nil {
		return 0, err
	}
	return len(filterOutboxIds(ids)), nil
}

func filterOutboxIds(ids []string) []string {
	var out []string
	for _, id := range ids {
		if outboxActivityPattern.MatchString(id) {
			out = append(out, id)
		}
	}
	return out
}

// Liked lists Like activities newest-first. A liked object attributing its
// author only by reference gets the full actor representation inlined.
func (d *Dispatcher) Liked(ctx context.Context, host string, cursor string) (*Page, error) {
	site, err := d.site(ctx, host)
	if err != nil {
		return nil, err
	}

	ids, err := d.Lists.GetList(ctx, site, listLiked)
	if err != nil {
		return nil, err
	}

	pageIds, nextCursor := d.page(reversed(ids), cursor)

	items := make([]json.RawMessage, 0, len(pageIds))
	for _, raw := range d.hydrate(ctx, pageIds) {
		items = append(items, d.enrichLike(ctx, raw))
	}

	return &Page{Items: items, NextCursor: nextCursor}, nil
}

func (d *Dispatcher) CountLiked(ctx context.Context, host string) (int, error) {
	site, err := d.site(ctx, host)
	if err != nil {
		return 0, err
	}
	ids, err := d.Lists.GetList(ctx, site, listLiked)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// enrichLike inlines the liked object's author when attributedTo is a bare
// reference. Failures leave the activity untouched.
func (d *Dispatcher) enrichLike(ctx context.Context, raw json.RawMessage) json.RawMessage {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(doc["object"], &object); err != nil {
		return raw
	}

	var attributedTo string
	if err := json.Unmarshal(object["attributedTo"], &attributedTo); err != nil {
		return raw
	}

	actor, err := d.Resolver.ResolveActor(ctx, attributedTo)
	if err != nil {
		log.Printf("Collections: liked author %s unresolvable: %v", attributedTo, err)
		d.Reporter.Capture(err)
		return raw
	}

	object["attributedTo"] = actor.Raw
	objectJson, err := json.Marshal(object)
	if err != nil {
		return raw
	}
	doc["object"] = objectJson

	out, err := json.Marshal(doc)
	if err != nil {
		return raw
	}
	return out
}

// Following lists the identifiers the default account follows, straight
// from the follow-edge records.
func (d *Dispatcher) Following(ctx context.Context, host string, cursor string) (*ActorPage, error) {
	_, acc, err := d.defaultAccount(ctx, host)
	if err != nil {
		return nil, err
	}

	offset := parseCursor(cursor)
	ids, err := d.Accounts.FollowingApIds(ctx, acc, d.pageSize, offset)
	if err != nil {
		return nil, err
	}

	total, err := d.Accounts.CountFollowing(ctx, acc)
	if err != nil {
		return nil, err
	}

	var nextCursor *string
	if total > offset+d.pageSize {
		next := strconv.Itoa(offset + d.pageSize)
		nextCursor = &next
	}

	return &ActorPage{Items: ids, NextCursor: nextCursor}, nil
}

func (d *Dispatcher) CountFollowing(ctx context.Context, host string) (int, error) {
	_, acc, err := d.defaultAccount(ctx, host)
	if err != nil {
		return 0, err
	}
	return d.Accounts.CountFollowing(ctx, acc)
}

// Followers lists the identifiers following the default account.
func (d *Dispatcher) Followers(ctx context.Context, host string, cursor string) (*ActorPage, error) {
	_, acc, err := d.defaultAccount(ctx, host)
	if err != nil {
		return nil, err
	}

	offset := parseCursor(cursor)
	ids, err := d.Accounts.FollowersApIds(ctx, acc, d.pageSize, offset)
	if err != nil {
		return nil, err
	}

	total, err := d.Accounts.CountFollowers(ctx, acc)
	if err != nil {
		return nil, err
	}

	var nextCursor *string
	if total > offset+d.pageSize {
		next := strconv.Itoa(offset + d.pageSize)
		nextCursor = &next
	}

	return &ActorPage{Items: ids, NextCursor: nextCursor}, nil
}

func (d *Dispatcher) CountFollowers(ctx context.Context, host string) (int, error) {
	_, acc, err := d.defaultAccount(ctx, host)
	if err != nil {
		return 0, err
	}
	return d.Accounts.CountFollowers(ctx, acc)
}
