package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/snapboard/internal/member"
	"github.com/hitoshi/snapboard/internal/middleware"
	"github.com/hitoshi/snapboard/internal/model"
	"github.com/hitoshi/snapboard/internal/storage"
	"github.com/hitoshi/snapboard/internal/token"
)

// --- モック定義 ---

type mockAuthService struct {
	authenticateFn func(ctx context.Context, username, password string) (*model.Principal, error)
	issueTokenFn   func(p *model.Principal) (string, time.Time, error)
	refreshTokenFn func(p *model.Principal) (string, time.Time, error)
}

func (m *mockAuthService) Authenticate(ctx context.Context, username, password string) (*model.Principal, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, username, password)
	}
	return nil, model.NewInvalidCredentialsError()
}

func (m *mockAuthService) IssueToken(p *model.Principal) (string, time.Time, error) {
	if m.issueTokenFn != nil {
		return m.issueTokenFn(p)
	}
	return "token-" + p.ID, time.Time{}, nil
}

func (m *mockAuthService) RefreshToken(p *model.Principal) (string, time.Time, error) {
	if m.refreshTokenFn != nil {
		return m.refreshTokenFn(p)
	}
	return "refreshed-" + p.ID, time.Time{}, nil
}

func (m *mockAuthService) TokenTTL() time.Duration { return 7 * time.Hour }

type mockMemberService struct {
	registerFn   func(ctx context.Context, in member.RegisterInput) (*model.Member, error)
	getProfileFn func(ctx context.Context, username string) (*model.Profile, error)
	setStatusFn  func(ctx context.Context, admin *model.Principal, username string, enabled *bool, roles []string) (*model.Member, error)
}

func (m *mockMemberService) Register(ctx context.Context, in member.RegisterInput) (*model.Member, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in)
	}
	return &model.Member{ID: in.Username, Email: in.Email}, nil
}

func (m *mockMemberService) GetProfile(ctx context.Context, username string) (*model.Profile, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, username)
	}
	return &model.Profile{Username: username}, nil
}

func (m *mockMemberService) SetStatus(ctx context.Context, admin *model.Principal, username string, enabled *bool, roles []string) (*model.Member, error) {
	if m.setStatusFn != nil {
		return m.setStatusFn(ctx, admin, username, enabled, roles)
	}
	return &model.Member{ID: username}, nil
}

type mockInteractionService struct {
	createPostFn       func(ctx context.Context, p *model.Principal, image storage.Object, caption string) (*model.PostView, error)
	toggleLikeFn       func(ctx context.Context, postID string, p *model.Principal) (*model.LikeResult, error)
	toggleSaveFn       func(ctx context.Context, postID string, p *model.Principal) (bool, error)
	deletePostFn       func(ctx context.Context, postID string, p *model.Principal) error
	updateCaptionFn    func(ctx context.Context, postID, caption string, p *model.Principal) error
	addCommentFn       func(ctx context.Context, content, postID string, parentID *string, p *model.Principal) (*model.CommentNode, error)
	deleteCommentFn    func(ctx context.Context, commentID string, p *model.Principal) error
	listCommentsFn     func(ctx context.Context, postID string) (*model.CommentThread, error)
	listFeedFn         func(ctx context.Context, p *model.Principal) ([]model.PostView, error)
	listPostsByOwnerFn func(ctx context.Context, owner string, p *model.Principal) ([]model.PostView, error)
	listSavedPostsFn   func(ctx context.Context, p *model.Principal) ([]model.PostView, error)
}

func (m *mockInteractionService) CreatePost(ctx context.Context, p *model.Principal, image storage.Object, caption string) (*model.PostView, error) {
	if m.createPostFn != nil {
		return m.createPostFn(ctx, p, image, caption)
	}
	return &model.PostView{}, nil
}

func (m *mockInteractionService) ToggleLike(ctx context.Context, postID string, p *model.Principal) (*model.LikeResult, error) {
	if m.toggleLikeFn != nil {
		return m.toggleLikeFn(ctx, postID, p)
	}
	return &model.LikeResult{}, nil
}

func (m *mockInteractionService) ToggleSave(ctx context.Context, postID string, p *model.Principal) (bool, error) {
	if m.toggleSaveFn != nil {
		return m.toggleSaveFn(ctx, postID, p)
	}
	return false, nil
}

func (m *mockInteractionService) DeletePost(ctx context.Context, postID string, p *model.Principal) error {
	if m.deletePostFn != nil {
		return m.deletePostFn(ctx, postID, p)
	}
	return nil
}

func (m *mockInteractionService) UpdateCaption(ctx context.Context, postID, caption string, p *model.Principal) error {
	if m.updateCaptionFn != nil {
		return m.updateCaptionFn(ctx, postID, caption, p)
	}
	return nil
}

func (m *mockInteractionService) AddComment(ctx context.Context, content, postID string, parentID *string, p *model.Principal) (*model.CommentNode, error) {
	if m.addCommentFn != nil {
		return m.addCommentFn(ctx, content, postID, parentID, p)
	}
	return &model.CommentNode{}, nil
}

func (m *mockInteractionService) DeleteComment(ctx context.Context, commentID string, p *model.Principal) error {
	if m.deleteCommentFn != nil {
		return m.deleteCommentFn(ctx, commentID, p)
	}
	return nil
}

func (m *mockInteractionService) ListComments(ctx context.Context, postID string) (*model.CommentThread, error) {
	if m.listCommentsFn != nil {
		return m.listCommentsFn(ctx, postID)
	}
	return &model.CommentThread{Comments: []model.CommentNode{}}, nil
}

func (m *mockInteractionService) ListFeed(ctx context.Context, p *model.Principal) ([]model.PostView, error) {
	if m.listFeedFn != nil {
		return m.listFeedFn(ctx, p)
	}
	return []model.PostView{}, nil
}

func (m *mockInteractionService) ListPostsByOwner(ctx context.Context, owner string, p *model.Principal) ([]model.PostView, error) {
	if m.listPostsByOwnerFn != nil {
		return m.listPostsByOwnerFn(ctx, owner, p)
	}
	return []model.PostView{}, nil
}

func (m *mockInteractionService) ListSavedPosts(ctx context.Context, p *model.Principal) ([]model.PostView, error) {
	if m.listSavedPostsFn != nil {
		return m.listSavedPostsFn(ctx, p)
	}
	return []model.PostView{}, nil
}

// stubResolver はCookieの値をそのままユーザーIDとして解決する。
// "admin"で始まるIDにはADMINロールを付与する。
type stubResolver struct{}

func (stubResolver) Decode(tok string) (*token.Claims, error) {
	if tok == "expired" {
		return nil, token.ErrExpired
	}
	return &token.Claims{Subject: tok}, nil
}

func (stubResolver) LoadPrincipal(_ context.Context, id string) (*model.Principal, error) {
	roles := []string{model.RoleUser}
	if len(id) >= 5 && id[:5] == "admin" {
		roles = append(roles, model.RoleAdmin)
	}
	return model.NewPrincipal(&model.Member{ID: id, Enabled: true, Roles: roles}), nil
}

func (stubResolver) Validate(string, string) bool { return true }

// --- compile-time interface checks ---
var (
	_ AuthServiceInterface        = (*mockAuthService)(nil)
	_ MemberServiceInterface      = (*mockMemberService)(nil)
	_ InteractionServiceInterface = (*mockInteractionService)(nil)
	_ middleware.IdentityResolver = stubResolver{}
)

type testDeps struct {
	auth         *mockAuthService
	members      *mockMemberService
	interactions *mockInteractionService
}

func newTestRouter(d *testDeps) http.Handler {
	if d.auth == nil {
		d.auth = &mockAuthService{}
	}
	if d.members == nil {
		d.members = &mockMemberService{}
	}
	if d.interactions == nil {
		d.interactions = &mockInteractionService{}
	}
	return NewRouter(&RouterDeps{
		IdentityResolver:   stubResolver{},
		CORSAllowedOrigin:  "http://localhost:3000",
		AuthService:        d.auth,
		MemberService:      d.members,
		AuthConfig:         AuthHandlerConfig{MaxUploadSize: 1 << 20},
		InteractionService: d.interactions,
	})
}

// asMember はリクエストにトークンCookieを付与する。
func asMember(r *http.Request, id string) *http.Request {
	r.AddCookie(&http.Cookie{Name: middleware.TokenCookieName, Value: id})
	return r
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
