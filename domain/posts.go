package domain

// Post is the aggregate for a piece of content the server has seen, local or
// remote. Likes and reposts are existence-only sets keyed by account id, so
// applying the same mutation twice is a no-op.
type Post struct {
	Id   int64
	ApId string

	likes   map[int64]struct{}
	reposts map[int64]struct{}

	addedLikes     []int64
	addedReposts   []int64
	removedReposts []int64
}

// PostChanges are the pending mutations a repository save applies.
type PostChanges struct {
	AddedLikes     []int64
	AddedReposts   []int64
	RemovedReposts []int64
}

func NewPost(id int64, apId string, likedBy []int64, repostedBy []int64) *Post {
	post := &Post{
		Id:      id,
		ApId:    apId,
		likes:   make(map[int64]struct{}, len(likedBy)),
		reposts: make(map[int64]struct{}, len(repostedBy)),
	}
	for _, accountId := range likedBy {
		post.likes[accountId] = struct{}{}
	}
	for _, accountId := range repostedBy {
		post.reposts[accountId] = struct{}{}
	}
	return post
}

func (p *Post) AddLike(acc *Account) {
	if _, ok := p.likes[acc.Id]; ok {
		return
	}
	p.likes[acc.Id] = struct{}{}
	p.addedLikes = append(p.addedLikes, acc.Id)
}

func (p *Post) AddRepost(acc *Account) {
	if _, ok := p.reposts[acc.Id]; ok {
		return
	}
	p.reposts[acc.Id] = struct{}{}
	p.addedReposts = append(p.addedReposts, acc.Id)
}

func (p *Post) RemoveRepost(acc *Account) {
	if _, ok := p.reposts[acc.Id]; !ok {
		return
	}
	delete(p.reposts, acc.Id)
	p.removedReposts = append(p.removedReposts, acc.Id)
}

func (p *Post) LikeCount() int {
	return len(p.likes)
}

func (p *Post) RepostCount() int {
	return len(p.reposts)
}

func (p *Post) LikedBy(acc *Account) bool {
	_, ok := p.likes[acc.Id]
	return ok
}

func (p *Post) RepostedBy(acc *Account) bool {
	_, ok := p.reposts[acc.Id]
	return ok
}

func (p *Post) Changes() PostChanges {
	return PostChanges{
		AddedLikes:     p.addedLikes,
		AddedReposts:   p.addedReposts,
		RemovedReposts: p.removedReposts,
	}
}

// ResetChanges is called by the repository once pending mutations have been
// persisted.
func (p *Post) ResetChanges() {
	p.addedLikes = nil
	p.addedReposts = nil
	p.removedReposts = nil
}
