package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/deemkeen/loxodon/domain"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

const (
	listInbox  = "inbox"
	listOutbox = "outbox"
	listLiked  = "liked"
)

// Processor applies inbound activities to the tenant's state: object and
// list writes, follow-graph mutations and outbound reactions. Remote
// misbehavior (unresolvable actors, malformed payloads) is logged and
// swallowed; local integrity problems (unknown site, storage failures)
// surface as errors.
type Processor struct {
	Objects  ObjectStore
	Lists    ListStore
	Accounts AccountRepository
	Posts    PostRepository
	Sites    SiteResolver
	Resolver Resolver
	Sender   Sender
	Proofs   ProofVerifier
	Reporter Reporter
	Metrics  *Metrics

	sanitizer *bluemonday.Policy
}

func NewProcessor(p Processor) *Processor {
	if p.Reporter == nil {
		p.Reporter = LogReporter{}
	}
	p.sanitizer = bluemonday.UGCPolicy()
	return &p
}

// Process routes an inbound activity to its handler. The request host
// selects the tenant; an unknown host is an integrity error.
func (p *Processor) Process(ctx context.Context, host string, activity *domain.Activity) error {
	site, err := p.Sites.SiteByHost(ctx, host)
	if err != nil {
		return err
	}
	if site == nil {
		return fmt.Errorf("site not found for host: %s", host)
	}

	err = p.dispatch(ctx, site, activity)
	if err != nil {
		p.Metrics.RecordActivity(activity.Type.String(), "error")
		return err
	}
	p.Metrics.RecordActivity(activity.Type.String(), "ok")
	return nil
}

func (p *Processor) dispatch(ctx context.Context, site *domain.Site, activity *domain.Activity) error {
	switch activity.Type {
	case domain.ActivityFollow:
		return p.HandleFollow(ctx, site, activity)
	case domain.ActivityAccept:
		return p.HandleAccept(ctx, site, activity)
	case domain.ActivityUndo:
		return p.HandleUndo(ctx, site, activity)
	case domain.ActivityAnnounce:
		return p.HandleAnnounce(ctx, site, activity)
	case domain.ActivityLike:
		return p.HandleLike(ctx, site, activity)
	case domain.ActivityCreate:
		return p.HandleCreate(ctx, site, activity)
	}
	return fmt.Errorf("unhandled activity type: %s", activity.Type)
}

// HandleFollow records the new follower and reacts with a signed Accept
// delivered to the sender's inbox.
func (p *Processor) HandleFollow(ctx context.Context, site *domain.Site, activity *domain.Activity) error {
	log.Println("Inbox: handling Follow")

	if activity.Id == "" {
		log.Println("Inbox: Follow missing id, ignoring")
		return nil
	}

	defaultAcc, err := p.Accounts.DefaultAccountForSite(ctx, site)
	if err != nil {
		return err
	}

	if activity.Object.Id != defaultAcc.ApId {
		log.Printf("Inbox: Follow object %s is not the site actor, ignoring", activity.Object.Id)
		return nil
	}

	sender, err := p.Resolver.ResolveActor(ctx, activity.Actor.Id)
	if err != nil {
		log.Printf("Inbox: Follow sender unresolvable: %v", err)
		return nil
	}

	if err := p.Objects.SetObject(ctx, activity.Id, activity.Raw); err != nil {
		return err
	}
	if err := p.Lists.AppendToList(ctx, site, listInbox, activity.Id); err != nil {
		return err
	}
	if err := p.Objects.SetObject(ctx, sender.Id, sender.Raw); err != nil {
		return err
	}

	follower, err := p.ensureExternalAccount(ctx, sender)
	if err != nil {
		return err
	}
	if err := p.Accounts.RecordFollow(ctx, defaultAcc, follower); err != nil {
		return err
	}

	acceptApId, err := defaultAcc.ApIdForActivity(domain.ActivityAccept, uuid.New())
	if err != nil {
		return err
	}

	accept := map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       acceptApId,
		"type":     "Accept",
		"actor":    defaultAcc.ApId,
		"object":   activity.Raw,
	}

	acceptJson, err := json.Marshal(accept)
	if err != nil {
		return err
	}
	if err := p.Objects.SetObject(ctx, acceptApId, acceptJson); err != nil {
		return err
	}

	if err := p.Sender.SendActivity(ctx, defaultAcc, sender.Inbox, accept); err != nil {
		log.Printf("Inbox: failed to deliver Accept to %s: %v", sender.Inbox, err)
		p.Reporter.Capture(err)
	}

	return nil
}

// HandleAccept records that a remote account accepted our follow request:
// the edge runs from the original Follow's actor to the Accept's sender.
func (p *Processor) HandleAccept(ctx context.Context, site *domain.Site, activity *domain.Activity) error {
	log.Println("Inbox: handling Accept")

	if activity.Id == "" {
		log.Println("Inbox: Accept missing id, ignoring")
		return nil
	}

	sender, err := p.Resolver.ResolveActor(ctx, activity.Actor.Id)
	if err != nil {
		log.Printf("Inbox: Accept sender unresolvable: %v", err)
		return nil
	}

	inner, ok := p.innerActivity(ctx, activity)
	if !ok || inner.Type != domain.ActivityFollow {
		log.Println("Inbox: Accept object is not a Follow, ignoring")
		return nil
	}

	if err := p.Objects.SetObject(ctx, activity.Id, activity.Raw); err != nil {
		return err
	}
	if err := p.Objects.SetObject(ctx, sender.Id, sender.Raw); err != nil {
		return err
	}
	if err := p.Lists.AppendToList(ctx, site, listInbox, activity.Id); err != nil {
		return err
	}

	follower, err := p.Accounts.AccountByApId(ctx, inner.Actor.Id)
	if err != nil {
		return err
	}
	if follower == nil {
		log.Printf("Inbox: Accept for unknown follower %s, ignoring", inner.Actor.Id)
		return nil
	}

	followee, err := p.ensureExternalAccount(ctx, sender)
	if err != nil {
		return err
	}

	return p.Accounts.RecordFollow(ctx, followee, follower)
}

// HandleUndo reverses a previously processed Follow or Announce.
func (p *Processor) HandleUndo(ctx context.Context, site *domain.Site, activity *domain.Activity) error {
	log.Println("Inbox: handling Undo")

	if activity.Id == "" {
		log.Println("Inbox: Undo missing id, ignoring")
		return nil
	}

	inner, ok := p.innerActivity(ctx, activity)
	if !ok {
		log.Println("Inbox: Undo object unresolvable, ignoring")
		return nil
	}

	switch inner.Type {
	case domain.ActivityFollow:
		if inner.Actor.Id == "" || inner.Object.Id == "" {
			log.Println("Inbox: Undo contains invalid Follow, ignoring")
			return nil
		}

		unfollower, err := p.Accounts.AccountByApId(ctx, inner.Actor.Id)
		if err != nil {
			return err
		}
		if unfollower == nil {
			log.Printf("Inbox: unfollower %s not found, ignoring", inner.Actor.Id)
			return nil
		}

		unfollowing, err := p.Accounts.AccountByApId(ctx, inner.Object.Id)
		if err != nil {
			return err
		}
		if unfollowing == nil {
			log.Printf("Inbox: unfollowed account %s not found, ignoring", inner.Object.Id)
			return nil
		}

		if err := p.Objects.SetObject(ctx, activity.Id, activity.Raw); err != nil {
			return err
		}
		if err := p.Accounts.RecordUnfollow(ctx, unfollowing, unfollower); err != nil {
			return err
		}
		return p.Lists.AppendToList(ctx, site, listInbox, activity.Id)

	case domain.ActivityAnnounce:
		if inner.Actor.Id == "" {
			log.Println("Inbox: Undo Announce sender missing, ignoring")
			return nil
		}
		if inner.Object.Id == "" {
			log.Println("Inbox: Undo Announce object id missing, ignoring")
			return nil
		}

		// Plain lookup: an Undo from an account we never recorded has
		// nothing to reverse.
		sender, err := p.Accounts.AccountByApId(ctx, inner.Actor.Id)
		if err != nil {
			return err
		}
		if sender == nil {
			return nil
		}

		post, err := p.Posts.PostByApId(ctx, inner.Object.Id)
		if err != nil {
			return err
		}

		post.RemoveRepost(sender)
		return p.Posts.SavePost(ctx, post)
	}

	return nil
}

// HandleAnnounce persists the repost, counts it on the post aggregate and
// surfaces it in the inbox when the sender is followed. An Announce
// wrapping a Create is Group forwarding and takes the Create path instead.
func (p *Processor) HandleAnnounce(ctx context.Context, site *domain.Site, activity *domain.Activity) error {
	log.Println("Inbox: handling Announce")

	if activity.Id == "" {
		log.Println("Inbox: Announce missing id, ignoring")
		return nil
	}
	if activity.Object.Id == "" {
		log.Println("Inbox: Announce missing object id, ignoring")
		return nil
	}

	// The stored representation is checked before any network lookup: the
	// resolver caches whatever it fetches, so fetching first would make
	// every announced object look already-stored and skip enrichment.
	existing, err := p.Objects.GetObject(ctx, activity.Object.Id)
	if err != nil {
		return err
	}

	announced := existing
	switch {
	case activity.Object.IsEmbedded():
		announced = activity.Object.Raw
	case announced == nil:
		log.Println("Inbox: Announce object not stored, performing network lookup")
		announced, err = p.Resolver.ResolveObject(ctx, activity.Object.Id)
		if err != nil {
			log.Printf("Inbox: Announce object unresolvable: %v", err)
			return nil
		}
	}

	// A wrapped Create is Group forwarding on behalf of a member.
	if create, err := domain.ParseActivity(announced); err == nil && create.Type == domain.ActivityCreate {
		return p.handleAnnouncedCreate(ctx, site, activity, create)
	}

	sender, err := p.Resolver.ResolveActor(ctx, activity.Actor.Id)
	if err != nil {
		log.Printf("Inbox: Announce sender unresolvable: %v", err)
		return nil
	}

	object := existing
	if object == nil {
		if objectId(announced) == "" {
			log.Println("Inbox: Announce object has no id, ignoring")
			return nil
		}

		announced, err = p.inlineAttributedTo(ctx, announced)
		if err != nil {
			return err
		}
		announced = p.sanitizeContent(announced)

		if err := p.Objects.SetObject(ctx, activity.Object.Id, announced); err != nil {
			return err
		}
		object = announced
	}

	// Store the announce with the full object inlined
	announceJson, err := withInlinedObject(activity.Raw, object)
	if err != nil {
		return err
	}
	if err := p.Objects.SetObject(ctx, activity.Id, announceJson); err != nil {
		return err
	}

	senderAcc, err := p.ensureExternalAccount(ctx, sender)
	if err != nil {
		return err
	}

	post, err := p.Posts.PostByApId(ctx, activity.Object.Id)
	if err != nil {
		return err
	}
	post.AddRepost(senderAcc)
	if err := p.Posts.SavePost(ctx, post); err != nil {
		return err
	}

	defaultAcc, err := p.Accounts.DefaultAccountForSite(ctx, site)
	if err != nil {
		return err
	}

	followed, err := p.Accounts.IsFollowing(ctx, defaultAcc, senderAcc)
	if err != nil {
		return err
	}
	if followed {
		return p.Lists.AppendToList(ctx, site, listInbox, activity.Id)
	}

	return nil
}

// handleAnnouncedCreate gates Group forwarding: the wrapped Create is only
// trusted when the announcer is a followed Group actor.
func (p *Processor) handleAnnouncedCreate(ctx context.Context, site *domain.Site, announce *domain.Activity, create *domain.Activity) error {
	log.Println("Inbox: handling announced Create")

	announcer, err := p.Resolver.ResolveActor(ctx, announce.Actor.Id)
	if err != nil {
		log.Printf("Inbox: announced Create sender unresolvable: %v", err)
		return nil
	}

	if announcer.Type != "Group" {
		log.Println("Inbox: announced Create is not from a Group, ignoring")
		return nil
	}

	defaultAcc, err := p.Accounts.DefaultAccountForSite(ctx, site)
	if err != nil {
		return err
	}

	announcerAcc, err := p.Accounts.AccountByApId(ctx, announcer.Id)
	if err != nil {
		return err
	}
	if announcerAcc == nil {
		log.Println("Inbox: announcing Group is not followed, ignoring")
		return nil
	}

	followed, err := p.Accounts.IsFollowing(ctx, defaultAcc, announcerAcc)
	if err != nil {
		return err
	}
	if !followed {
		log.Println("Inbox: announcing Group is not followed, ignoring")
		return nil
	}

	return p.HandleCreate(ctx, site, create)
}

// HandleCreate verifies the activity, persists it together with its
// sanitized content object and appends it to the inbox. Replies targeting
// the site actor's own posts take the same path as everything else.
func (p *Processor) HandleCreate(ctx context.Context, site *domain.Site, activity *domain.Activity) error {
	log.Println("Inbox: handling Create")

	if activity.Id == "" {
		log.Println("Inbox: Create missing id, ignoring")
		return nil
	}

	create, ok := p.VerifyActivity(ctx, activity)
	if !ok {
		log.Printf("Inbox: Create %s cannot be verified, ignoring", activity.Id)
		return nil
	}
	if create.Id == "" {
		log.Println("Inbox: verified Create missing id, ignoring")
		return nil
	}

	if err := p.Objects.SetObject(ctx, create.Id, create.Raw); err != nil {
		return err
	}

	if create.Object.Id == "" {
		log.Println("Inbox: Create object id missing, ignoring")
		return nil
	}

	if _, err := p.Posts.PostByApId(ctx, create.Object.Id); err != nil {
		return err
	}

	if create.Object.IsEmbedded() {
		sanitized := p.sanitizeContent(create.Object.Raw)
		if err := p.Objects.SetObject(ctx, create.Object.Id, sanitized); err != nil {
			return err
		}
	}

	if replyTarget := replyTargetId(create.Object.Raw); replyTarget != "" {
		stored, err := p.Objects.GetObject(ctx, replyTarget)
		if err != nil {
			return err
		}

		defaultAcc, err := p.Accounts.DefaultAccountForSite(ctx, site)
		if err != nil {
			return err
		}

		// Reply to one of the site actor's own posts. Behaviorally the
		// same as the fallthrough today, kept separate pending product
		// direction on reply notifications.
		if stored != nil && attributedToId(stored) == defaultAcc.ApId {
			return p.Lists.AppendToList(ctx, site, listInbox, create.Id)
		}
	}

	return p.Lists.AppendToList(ctx, site, listInbox, create.Id)
}

// HandleLike counts the like on the post aggregate and surfaces the
// activity in the inbox. The like is kept even when the liked object
// cannot be resolved anymore; only the object persistence is skipped.
func (p *Processor) HandleLike(ctx context.Context, site *domain.Site, activity *domain.Activity) error {
	log.Println("Inbox: handling Like")

	if activity.Id == "" {
		log.Println("Inbox: Like missing id, ignoring")
		return nil
	}
	if activity.Object.Id == "" {
		log.Println("Inbox: Like missing object id, ignoring")
		return nil
	}
	if activity.Actor.Id == "" {
		log.Println("Inbox: Like missing actor, ignoring")
		return nil
	}

	account, err := p.Accounts.AccountByApId(ctx, activity.Actor.Id)
	if err != nil {
		return err
	}
	if account != nil {
		post, err := p.Posts.PostByApId(ctx, activity.Object.Id)
		if err != nil {
			return err
		}
		post.AddLike(account)
		if err := p.Posts.SavePost(ctx, post); err != nil {
			return err
		}
	}

	existing, err := p.Objects.GetObject(ctx, activity.Object.Id)
	if err != nil {
		return err
	}

	var fetched json.RawMessage
	if existing == nil {
		log.Println("Inbox: Like object not stored, performing network lookup")
		fetched, err = p.Resolver.ResolveObject(ctx, activity.Object.Id)
		if err != nil {
			log.Printf("Inbox: Like object unresolvable: %v", err)
			fetched = nil
		}
	}

	if err := p.Objects.SetObject(ctx, activity.Id, activity.Raw); err != nil {
		return err
	}

	if existing == nil && fetched != nil && objectId(fetched) != "" {
		sanitized := p.sanitizeContent(fetched)
		if err := p.Objects.SetObject(ctx, activity.Object.Id, sanitized); err != nil {
			return err
		}
	}

	return p.Lists.AppendToList(ctx, site, listInbox, activity.Id)
}

// ensureExternalAccount returns the stored account for a remote actor,
// creating it on first sight.
func (p *Processor) ensureExternalAccount(ctx context.Context, actor *RemoteActor) (*domain.Account, error) {
	acc, err := p.Accounts.AccountByApId(ctx, actor.Id)
	if err != nil {
		return nil, err
	}
	if acc != nil {
		return acc, nil
	}

	log.Printf("Inbox: account %s not found, creating", actor.Id)

	acc, err = accountFromActor(actor)
	if err != nil {
		return nil, err
	}
	return p.Accounts.CreateExternalAccount(ctx, acc)
}

// innerActivity resolves the wrapped activity of an Undo or Accept: the
// embedded form is preferred, a bare reference is dereferenced.
func (p *Processor) innerActivity(ctx context.Context, activity *domain.Activity) (*domain.Activity, bool) {
	if inner, ok := activity.InnerActivity(); ok {
		return inner, true
	}

	if activity.Object.Id == "" {
		return nil, false
	}

	raw, err := p.Resolver.ResolveObject(ctx, activity.Object.Id)
	if err != nil {
		return nil, false
	}

	inner, err := domain.ParseActivity(raw)
	if err != nil {
		return nil, false
	}
	return inner, true
}

// sanitizeContent strips dangerous markup from an object's content field.
func (p *Processor) sanitizeContent(raw json.RawMessage) json.RawMessage {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw
	}

	var content string
	if err := json.Unmarshal(doc["content"], &content); err != nil {
		return raw
	}

	clean, err := json.Marshal(p.sanitizer.Sanitize(content))
	if err != nil {
		return raw
	}
	doc["content"] = clean

	out, err := json.Marshal(doc)
	if err != nil {
		return raw
	}
	return out
}

// inlineAttributedTo replaces a bare attributedTo reference with the full
// actor representation.
func (p *Processor) inlineAttributedTo(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw, nil
	}

	var attributedTo string
	if err := json.Unmarshal(doc["attributedTo"], &attributedTo); err != nil {
		return raw, nil
	}

	actor, err := p.Resolver.ResolveActor(ctx, attributedTo)
	if err != nil {
		log.Printf("Inbox: attributedTo actor %s unresolvable: %v", attributedTo, err)
		return raw, nil
	}

	doc["attributedTo"] = actor.Raw
	return json.Marshal(doc)
}

// withInlinedObject rewrites an activity's object field to the full
// representation.
func withInlinedObject(activityRaw json.RawMessage, object json.RawMessage) (json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(activityRaw, &doc); err != nil {
		return nil, err
	}
	doc["object"] = object
	return json.Marshal(doc)
}

func objectId(raw json.RawMessage) string {
	var doc struct {
		Id string `json:"id"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	return doc.Id
}

func replyTargetId(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var doc struct {
		InReplyTo domain.ObjectRef `json:"inReplyTo"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	return doc.InReplyTo.Id
}

// attributedToId handles both the bare reference and the inlined actor
// form.
func attributedToId(raw json.RawMessage) string {
	var doc struct {
		AttributedTo domain.ObjectRef `json:"attributedTo"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	return doc.AttributedTo.Id
}
