package interaction

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/snapboard/internal/model"
	"github.com/hitoshi/snapboard/internal/repository"
)

type relKey struct {
	postID   string
	memberID string
}

// fakeStore はテスト用のインメモリUnitOfWork。
// WithinTxはトランザクションを直列化し、エラー時はスナップショットに巻き戻す。
type fakeStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	members  map[string]*model.Member
	posts    map[string]model.Post
	comments map[string]model.Comment
	likes    map[relKey]time.Time
	saves    map[relKey]time.Time
	clock    time.Time

	// 障害注入
	postDeleteErr    error
	postCreateErr    error
	beforeLikeCreate func(s *fakeStore, postID, memberID string)
	beforeLikeDelete func(s *fakeStore, postID, memberID string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		members:  map[string]*model.Member{},
		posts:    map[string]model.Post{},
		comments: map[string]model.Comment{},
		likes:    map[relKey]time.Time{},
		saves:    map[relKey]time.Time{},
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick は関連の作成日時を単調増加させる。呼び出し側でmuを保持していること。
func (s *fakeStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

type fakeSnapshot struct {
	posts    map[string]model.Post
	comments map[string]model.Comment
	likes    map[relKey]time.Time
	saves    map[relKey]time.Time
}

func (s *fakeStore) WithinTx(_ context.Context, fn func(tx repository.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := fakeSnapshot{
		posts:    maps.Clone(s.posts),
		comments: maps.Clone(s.comments),
		likes:    maps.Clone(s.likes),
		saves:    maps.Clone(s.saves),
	}
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.posts, s.comments, s.likes, s.saves = snap.posts, snap.comments, snap.likes, snap.saves
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *fakeStore) Members() repository.MemberRepository   { return fakeMembers{s} }
func (s *fakeStore) Posts() repository.PostRepository       { return fakePosts{s} }
func (s *fakeStore) Comments() repository.CommentRepository { return fakeComments{s} }
func (s *fakeStore) Likes() repository.RelationRepository {
	return fakeRelations{
		s:            s,
		rows:         func() map[relKey]time.Time { return s.likes },
		before:       s.beforeLikeCreate,
		beforeDelete: s.beforeLikeDelete,
	}
}
func (s *fakeStore) Saves() repository.RelationRepository {
	return fakeRelations{s: s, rows: func() map[relKey]time.Time { return s.saves }}
}

var _ repository.UnitOfWork = (*fakeStore)(nil)

// --- members ---

type fakeMembers struct{ s *fakeStore }

func (r fakeMembers) FindByID(_ context.Context, id string) (*model.Member, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.members[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r fakeMembers) ExistsByID(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.members[id]
	return ok, nil
}

func (r fakeMembers) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.members {
		if m.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r fakeMembers) Create(_ context.Context, m *model.Member) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.members[m.ID]; ok {
		return repository.ErrDuplicate
	}
	cp := *m
	r.s.members[m.ID] = &cp
	return nil
}

func (r fakeMembers) Update(_ context.Context, m *model.Member) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *m
	r.s.members[m.ID] = &cp
	return nil
}

// --- posts ---

type fakePosts struct{ s *fakeStore }

func (r fakePosts) Create(_ context.Context, p *model.Post) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.postCreateErr != nil {
		return r.s.postCreateErr
	}
	if _, ok := r.s.members[p.OwnerID]; !ok {
		return repository.ErrMissingReference
	}
	r.s.posts[p.ID] = *p
	return nil
}

func (r fakePosts) FindByID(_ context.Context, id string) (*model.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r fakePosts) FindByIDForUpdate(ctx context.Context, id string) (*model.Post, error) {
	return r.FindByID(ctx, id)
}

func (r fakePosts) UpdateCaption(_ context.Context, id, caption string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[id]
	if !ok {
		return fmt.Errorf("post not found: %s", id)
	}
	p.Caption = caption
	r.s.posts[id] = p
	return nil
}

func (r fakePosts) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.postDeleteErr != nil {
		return r.s.postDeleteErr
	}
	if _, ok := r.s.posts[id]; !ok {
		return fmt.Errorf("post not found: %s", id)
	}
	delete(r.s.posts, id)
	for k := range r.s.likes {
		if k.postID == id {
			delete(r.s.likes, k)
		}
	}
	for k := range r.s.saves {
		if k.postID == id {
			delete(r.s.saves, k)
		}
	}
	for cid, c := range r.s.comments {
		if c.PostID == id {
			delete(r.s.comments, cid)
		}
	}
	return nil
}

func (r fakePosts) summarize(p model.Post, viewerID string) model.PostSummary {
	summary := model.PostSummary{Post: p}
	for k := range r.s.likes {
		if k.postID == p.ID {
			summary.LikeCount++
			if k.memberID == viewerID {
				summary.IsLiked = true
			}
		}
	}
	for k := range r.s.saves {
		if k.postID == p.ID && k.memberID == viewerID {
			summary.IsSaved = true
		}
	}
	for _, c := range r.s.comments {
		if c.PostID == p.ID {
			summary.CommentCount++
		}
	}
	return summary
}

// 返却順は意図的に並べ替えず、並び順の保証はサービス側で検証する
func (r fakePosts) ListSummaries(_ context.Context, viewerID string) ([]model.PostSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.PostSummary
	for _, id := range slices.Sorted(maps.Keys(r.s.posts)) {
		out = append(out, r.summarize(r.s.posts[id], viewerID))
	}
	return out, nil
}

func (r fakePosts) ListSummariesByOwner(_ context.Context, ownerID, viewerID string) ([]model.PostSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.PostSummary
	for _, id := range slices.Sorted(maps.Keys(r.s.posts)) {
		if p := r.s.posts[id]; p.OwnerID == ownerID {
			out = append(out, r.summarize(p, viewerID))
		}
	}
	return out, nil
}

func (r fakePosts) ListSavedSummaries(_ context.Context, memberID string) ([]model.PostSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.PostSummary
	for k, at := range r.s.saves {
		if k.memberID != memberID {
			continue
		}
		summary := r.summarize(r.s.posts[k.postID], memberID)
		t := at
		summary.SavedAt = &t
		out = append(out, summary)
	}
	slices.SortFunc(out, func(a, b model.PostSummary) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// --- comments ---

type fakeComments struct{ s *fakeStore }

func (r fakeComments) Create(_ context.Context, c *model.Comment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.posts[c.PostID]; !ok {
		return repository.ErrMissingReference
	}
	r.s.comments[c.ID] = *c
	return nil
}

func (r fakeComments) FindByID(_ context.Context, id string) (*model.Comment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.comments[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r fakeComments) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.deleteLocked(id)
	return nil
}

func (r fakeComments) deleteLocked(id string) {
	delete(r.s.comments, id)
	for cid, c := range r.s.comments {
		if c.ParentID != nil && *c.ParentID == id {
			r.deleteLocked(cid)
		}
	}
}

func (r fakeComments) ListByPost(_ context.Context, postID string) ([]model.Comment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Comment
	for _, c := range r.s.comments {
		if c.PostID == postID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b model.Comment) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (r fakeComments) CountByPost(_ context.Context, postID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, c := range r.s.comments {
		if c.PostID == postID {
			n++
		}
	}
	return n, nil
}

// --- likes / saves ---

type fakeRelations struct {
	s            *fakeStore
	rows         func() map[relKey]time.Time
	before       func(s *fakeStore, postID, memberID string)
	beforeDelete func(s *fakeStore, postID, memberID string)
}

func (r fakeRelations) Exists(_ context.Context, postID, memberID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.rows()[relKey{postID, memberID}]
	return ok, nil
}

func (r fakeRelations) Create(_ context.Context, postID, memberID string) (bool, error) {
	if r.before != nil {
		r.before(r.s, postID, memberID)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.posts[postID]; !ok {
		return false, repository.ErrMissingReference
	}
	rows := r.rows()
	key := relKey{postID, memberID}
	if _, ok := rows[key]; ok {
		return false, nil
	}
	rows[key] = r.s.tick()
	return true, nil
}

func (r fakeRelations) Delete(_ context.Context, postID, memberID string) (bool, error) {
	if r.beforeDelete != nil {
		r.beforeDelete(r.s, postID, memberID)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rows := r.rows()
	key := relKey{postID, memberID}
	if _, ok := rows[key]; !ok {
		return false, nil
	}
	delete(rows, key)
	return true, nil
}

func (r fakeRelations) CountByPost(_ context.Context, postID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for k := range r.rows() {
		if k.postID == postID {
			n++
		}
	}
	return n, nil
}

// --- helpers ---

func (s *fakeStore) addMember(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[id] = &model.Member{ID: id, Enabled: true, Email: id + "@example.com", Roles: []string{model.RoleUser}}
}

func (s *fakeStore) addPost(id, owner string, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[id] = model.Post{ID: id, OwnerID: owner, Caption: "caption", ImageKey: owner + "/profile-posts/" + id, CreatedAt: createdAt}
}

func (s *fakeStore) addComment(c model.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[c.ID] = c
}

func (s *fakeStore) likeCount(postID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.likes {
		if k.postID == postID {
			n++
		}
	}
	return n
}

func (s *fakeStore) hasPost(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.posts[id]
	return ok
}
