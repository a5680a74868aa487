// Package model はドメインモデルを定義する。
package model

import "time"

// Post はメンバーが投稿した画像付きの投稿を表す。
// OwnerIDは作成後に変更されない。
type Post struct {
	ID        string
	OwnerID   string
	Caption   string
	ImageKey  string
	CreatedAt time.Time
}

// PostSummary は投稿と集計値、閲覧者ごとの状態（いいね/保存）を結合したモデル。
// likes・saves・commentsテーブルの集計と閲覧者IDによるEXISTS判定で取得される。
type PostSummary struct {
	Post
	LikeCount    int
	CommentCount int
	IsLiked      bool
	IsSaved      bool
	SavedAt      *time.Time // 保存一覧の取得時のみ設定される
}

// PostView はAPIに返却する投稿の表示用モデル。
type PostView struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Caption      string    `json:"caption"`
	Img          string    `json:"img"`
	LikeCount    int       `json:"likeCount"`
	CommentCount int       `json:"commentCount"`
	IsLiked      bool      `json:"isLiked"`
	IsSaved      bool      `json:"isSaved"`
	Date         string    `json:"date"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Comment は投稿へのコメントを表す。
// ParentIDが設定されている場合は返信であり、親コメントと同じ投稿に属する。
type Comment struct {
	ID        string
	PostID    string
	AuthorID  string
	ParentID  *string
	Content   string
	CreatedAt time.Time
}

// CommentNode はスレッド表示用に組み立てたコメントツリーのノード。
type CommentNode struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Username  string        `json:"username"`
	Date      string        `json:"date"`
	CreatedAt time.Time     `json:"createdAt"`
	Replies   []CommentNode `json:"replies"`
}

// CommentThread は投稿のコメントツリーと総コメント数を表す。
// TotalCountはツリー走査とは独立に集計した、返信を含む全コメント数。
type CommentThread struct {
	Comments   []CommentNode `json:"comments"`
	TotalCount int           `json:"totalCount"`
}

// LikeResult はいいねトグル後の状態を表す。
type LikeResult struct {
	IsNowLiked bool `json:"isNowLiked"`
	LikeCount  int  `json:"likeCount"`
}
