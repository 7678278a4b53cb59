package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"

	"github.com/deemkeen/loxodon/domain"
)

// In-memory collaborators for handler and dispatcher tests.

type memObjects struct {
	data map[string]json.RawMessage
}

func newMemObjects() *memObjects {
	return &memObjects{data: make(map[string]json.RawMessage)}
}

func (m *memObjects) GetObject(_ context.Context, key string) (json.RawMessage, error) {
	return m.data[key], nil
}

func (m *memObjects) SetObject(_ context.Context, key string, value json.RawMessage) error {
	m.data[key] = value
	return nil
}

type memLists struct {
	data map[string][]string
}

func newMemLists() *memLists {
	return &memLists{data: make(map[string][]string)}
}

func listKey(site *domain.Site, name string) string {
	return strconv.FormatInt(site.Id, 10) + "/" + name
}

func (m *memLists) GetList(_ context.Context, site *domain.Site, name string) ([]string, error) {
	return m.data[listKey(site, name)], nil
}

func (m *memLists) AppendToList(_ context.Context, site *domain.Site, name string, value string) error {
	key := listKey(site, name)
	m.data[key] = append(m.data[key], value)
	return nil
}

type memAccounts struct {
	accounts   map[string]*domain.Account
	defaultAcc *domain.Account
	follows    map[string]bool // "followerApId>followeeApId"
	nextId     int64
}

func newMemAccounts(defaultAcc *domain.Account) *memAccounts {
	accounts := map[string]*domain.Account{defaultAcc.ApId: defaultAcc}
	return &memAccounts{
		accounts:   accounts,
		defaultAcc: defaultAcc,
		follows:    make(map[string]bool),
		nextId:     defaultAcc.Id + 1,
	}
}

func edge(follower, followee *domain.Account) string {
	return follower.ApId + ">" + followee.ApId
}

func (m *memAccounts) AccountByApId(_ context.Context, apId string) (*domain.Account, error) {
	return m.accounts[apId], nil
}

func (m *memAccounts) DefaultAccountForSite(_ context.Context, _ *domain.Site) (*domain.Account, error) {
	return m.defaultAcc, nil
}

func (m *memAccounts) CreateExternalAccount(_ context.Context, acc *domain.Account) (*domain.Account, error) {
	if existing, ok := m.accounts[acc.ApId]; ok {
		return existing, nil
	}
	acc.Id = m.nextId
	m.nextId++
	m.accounts[acc.ApId] = acc
	return acc, nil
}

func (m *memAccounts) RecordFollow(_ context.Context, followee, follower *domain.Account) error {
	m.follows[edge(follower, followee)] = true
	return nil
}

func (m *memAccounts) RecordUnfollow(_ context.Context, followee, follower *domain.Account) error {
	delete(m.follows, edge(follower, followee))
	return nil
}

func (m *memAccounts) IsFollowing(_ context.Context, follower, followee *domain.Account) (bool, error) {
	return m.follows[edge(follower, followee)], nil
}

func (m *memAccounts) followingOf(acc *domain.Account) []string {
	var out []string
	for _, other := range m.accounts {
		if m.follows[edge(acc, other)] {
			out = append(out, other.ApId)
		}
	}
	return out
}

func (m *memAccounts) followersOf(acc *domain.Account) []string {
	var out []string
	for _, other := range m.accounts {
		if m.follows[edge(other, acc)] {
			out = append(out, other.ApId)
		}
	}
	return out
}

func sliceWindow(ids []string, limit, offset int) []string {
	if offset >= len(ids) {
		return nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end]
}

func (m *memAccounts) FollowingApIds(_ context.Context, acc *domain.Account, limit, offset int) ([]string, error) {
	return sliceWindow(m.followingOf(acc), limit, offset), nil
}

func (m *memAccounts) FollowersApIds(_ context.Context, acc *domain.Account, limit, offset int) ([]string, error) {
	return sliceWindow(m.followersOf(acc), limit, offset), nil
}

func (m *memAccounts) CountFollowing(_ context.Context, acc *domain.Account) (int, error) {
	return len(m.followingOf(acc)), nil
}

func (m *memAccounts) CountFollowers(_ context.Context, acc *domain.Account) (int, error) {
	return len(m.followersOf(acc)), nil
}

type memPosts struct {
	posts  map[string]*domain.Post
	saves  int
	nextId int64
}

func newMemPosts() *memPosts {
	return &memPosts{posts: make(map[string]*domain.Post), nextId: 1}
}

func (m *memPosts) PostByApId(_ context.Context, apId string) (*domain.Post, error) {
	if post, ok := m.posts[apId]; ok {
		return post, nil
	}
	post := domain.NewPost(m.nextId, apId, nil, nil)
	m.nextId++
	m.posts[apId] = post
	return post, nil
}

func (m *memPosts) SavePost(_ context.Context, post *domain.Post) error {
	m.saves++
	post.ResetChanges()
	return nil
}

type memSites struct {
	site *domain.Site
}

func (m *memSites) SiteByHost(_ context.Context, host string) (*domain.Site, error) {
	if m.site != nil && m.site.Host == host {
		return m.site, nil
	}
	return nil, nil
}

// fakeResolver serves canned actors and objects and records lookups.
type fakeResolver struct {
	actors  map[string]*RemoteActor
	objects map[string]json.RawMessage
	lookups []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		actors:  make(map[string]*RemoteActor),
		objects: make(map[string]json.RawMessage),
	}
}

func (f *fakeResolver) ResolveActor(_ context.Context, uri string) (*RemoteActor, error) {
	f.lookups = append(f.lookups, uri)
	actor, ok := f.actors[uri]
	if !ok {
		return nil, fmt.Errorf("actor not found: %s", uri)
	}
	return actor, nil
}

func (f *fakeResolver) ResolveObject(_ context.Context, uri string) (json.RawMessage, error) {
	f.lookups = append(f.lookups, uri)
	raw, ok := f.objects[uri]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", uri)
	}
	return raw, nil
}

func (f *fakeResolver) addActor(uri, actorType string) *RemoteActor {
	raw := json.RawMessage(fmt.Sprintf(
		`{"id":%q,"type":%q,"preferredUsername":"bob","inbox":"%s/inbox"}`,
		uri, actorType, uri))
	actor := &RemoteActor{
		Id:                uri,
		Type:              actorType,
		PreferredUsername: "bob",
		Inbox:             uri + "/inbox",
		Raw:               raw,
	}
	f.actors[uri] = actor
	return actor
}

// cachingResolver mirrors the production lookup, which stores every
// fetched object under its identifier before returning it.
type cachingResolver struct {
	*fakeResolver
	store *memObjects
}

func (c *cachingResolver) ResolveObject(ctx context.Context, uri string) (json.RawMessage, error) {
	raw, err := c.fakeResolver.ResolveObject(ctx, uri)
	if err != nil {
		return nil, err
	}
	if err := c.store.SetObject(ctx, uri, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

type fakeSender struct {
	sent []sentActivity
	err  error
}

type sentActivity struct {
	from     *domain.Account
	toInbox  string
	activity any
}

func (f *fakeSender) SendActivity(_ context.Context, from *domain.Account, toInbox string, activity any) error {
	f.sent = append(f.sent, sentActivity{from: from, toInbox: toInbox, activity: activity})
	return f.err
}

type fakeProofs struct {
	valid bool
}

func (f *fakeProofs) VerifyProof(_ context.Context, _ *domain.Activity) bool {
	return f.valid
}

// testEnv wires a processor over in-memory collaborators.
type testEnv struct {
	site       *domain.Site
	defaultAcc *domain.Account
	objects    *memObjects
	lists      *memLists
	accounts   *memAccounts
	posts      *memPosts
	resolver   *fakeResolver
	sender     *fakeSender
	proofs     *fakeProofs
	processor  *Processor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	site := &domain.Site{Id: 1, Host: "example.com"}
	defaultAcc, err := domain.NewAccount(domain.AccountData{
		Id:       1,
		Username: "index",
		Site:     site,
		Protocol: "https",
	})
	if err != nil {
		t.Fatalf("NewAccount failed: %v", err)
	}

	env := &testEnv{
		site:       site,
		defaultAcc: defaultAcc,
		objects:    newMemObjects(),
		lists:      newMemLists(),
		accounts:   newMemAccounts(defaultAcc),
		posts:      newMemPosts(),
		resolver:   newFakeResolver(),
		sender:     &fakeSender{},
		proofs:     &fakeProofs{},
	}

	env.processor = NewProcessor(Processor{
		Objects:  env.objects,
		Lists:    env.lists,
		Accounts: env.accounts,
		Posts:    env.posts,
		Sites:    &memSites{site: site},
		Resolver: env.resolver,
		Sender:   env.sender,
		Proofs:   env.proofs,
	})

	return env
}

func (env *testEnv) inbox(t *testing.T) []string {
	t.Helper()
	list, err := env.lists.GetList(context.Background(), env.site, listInbox)
	if err != nil {
		t.Fatalf("GetList failed: %v", err)
	}
	return list
}

func parseTestActivity(t *testing.T, raw string) *domain.Activity {
	t.Helper()
	activity, err := domain.ParseActivity([]byte(raw))
	if err != nil {
		t.Fatalf("ParseActivity failed: %v", err)
	}
	return activity
}
