// Package model はドメインモデルを定義する。
package model

import (
	"slices"
	"time"
)

// 定義済みロール
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Member はサービスに登録されたメンバーを表す。
// IDはユーザー名であり、登録後は変更できない。
type Member struct {
	ID           string
	PasswordHash string
	Enabled      bool
	Email        string
	FirstName    string
	LastName     string
	ImageKey     string // プロフィール画像のオブジェクトキー。未設定の場合は空文字列
	Roles        []string
	CreatedAt    time.Time
}

// FullName は姓名を連結した表示名を返す。
func (m *Member) FullName() string {
	return m.FirstName + " " + m.LastName
}

// Principal は1リクエストの間だけ有効な認証済みメンバーのスナップショット。
// リクエスト識別時に一度だけ解決され、以降は変更されない。
type Principal struct {
	ID      string
	Enabled bool
	roles   []string
}

// NewPrincipal はメンバーの現在の状態からPrincipalを生成する。
// ロールはコピーされるため、元のMemberを変更してもPrincipalには影響しない。
func NewPrincipal(m *Member) *Principal {
	return &Principal{
		ID:      m.ID,
		Enabled: m.Enabled,
		roles:   slices.Clone(m.Roles),
	}
}

// Roles はロールのコピーを返す。
func (p *Principal) Roles() []string {
	return slices.Clone(p.roles)
}

// HasRole は指定ロールを保持しているかを返す。
func (p *Principal) HasRole(role string) bool {
	return slices.Contains(p.roles, role)
}

// Profile はAPIに返却するメンバーの公開プロフィール。
type Profile struct {
	Username   string `json:"username"`
	FullName   string `json:"fullName"`
	ProfilePic string `json:"profilePic"`
}
