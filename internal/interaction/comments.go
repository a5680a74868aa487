package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/hitoshi/snapboard/internal/model"
	"github.com/hitoshi/snapboard/internal/repository"
)

// AddComment は投稿にコメントを追加する。parentIDが指定された場合は返信となる。
// 返信先のコメントは同じ投稿に属している必要がある。
func (s *Service) AddComment(ctx context.Context, content, postID string, parentID *string, principal *model.Principal) (*model.CommentNode, error) {
	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}

	content = s.sanitizer.SanitizeText(content)
	if content == "" {
		return nil, model.NewInvalidArgumentError("コメントを入力してください")
	}
	if parentID != nil && *parentID == "" {
		parentID = nil
	}

	comment := &model.Comment{
		ID:        uuid.New().String(),
		PostID:    postID,
		AuthorID:  principal.ID,
		ParentID:  parentID,
		Content:   content,
		CreatedAt: s.now(),
	}

	err := s.uow.WithinTx(ctx, func(tx repository.Store) error {
		// 1. 投稿の存在を検証
		if err := requirePost(ctx, tx, postID); err != nil {
			return err
		}

		// 2. 返信先を検証
		if parentID != nil {
			if !isUUID(*parentID) {
				return model.NewCommentNotFoundError(*parentID)
			}
			parent, err := tx.Comments().FindByID(ctx, *parentID)
			if err != nil {
				return fmt.Errorf("failed to find parent comment: %w", err)
			}
			if parent == nil {
				return model.NewCommentNotFoundError(*parentID)
			}
			if parent.PostID != postID {
				return model.NewInvalidArgumentError("返信先のコメントは同じ投稿に属している必要があります")
			}
		}

		// 3. コメントを作成
		if err := tx.Comments().Create(ctx, comment); err != nil {
			if errors.Is(err, repository.ErrMissingReference) {
				return model.NewPostNotFoundError(postID)
			}
			return fmt.Errorf("failed to create comment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("comment added",
		slog.String("comment_id", comment.ID),
		slog.String("post_id", postID),
		slog.String("user_id", principal.ID),
	)

	node := s.toNode(*comment)
	return &node, nil
}

// DeleteComment は作成者によるコメントの削除を行う。返信も合わせて削除される。
func (s *Service) DeleteComment(ctx context.Context, commentID string, principal *model.Principal) error {
	if err := requirePrincipal(principal); err != nil {
		return err
	}
	if !isUUID(commentID) {
		return model.NewCommentNotFoundError(commentID)
	}

	return s.uow.WithinTx(ctx, func(tx repository.Store) error {
		comment, err := tx.Comments().FindByID(ctx, commentID)
		if err != nil {
			return fmt.Errorf("failed to find comment: %w", err)
		}
		if comment == nil {
			return model.NewCommentNotFoundError(commentID)
		}
		if comment.AuthorID != principal.ID {
			return model.NewForbiddenError("コメントの作成者ではありません")
		}

		if err := tx.Comments().Delete(ctx, commentID); err != nil {
			return fmt.Errorf("failed to delete comment: %w", err)
		}
		return nil
	})
}

// ListComments は投稿のコメントをツリー形式で返す。
// トップレベルは作成日時の降順、返信は作成日時の昇順に並べる。
// TotalCountはツリーの走査とは別に集計した返信を含む全コメント数。
func (s *Service) ListComments(ctx context.Context, postID string) (*model.CommentThread, error) {
	if err := requirePost(ctx, s.uow, postID); err != nil {
		return nil, err
	}

	comments, err := s.uow.Comments().ListByPost(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}

	total, err := s.uow.Comments().CountByPost(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to count comments: %w", err)
	}

	return &model.CommentThread{
		Comments:   s.buildCommentTree(comments),
		TotalCount: total,
	}, nil
}

// buildCommentTree はフラットなコメント一覧から返信ツリーを組み立てる。
func (s *Service) buildCommentTree(comments []model.Comment) []model.CommentNode {
	var roots []model.Comment
	children := make(map[string][]model.Comment)
	for _, c := range comments {
		if c.ParentID == nil {
			roots = append(roots, c)
			continue
		}
		children[*c.ParentID] = append(children[*c.ParentID], c)
	}

	slices.SortStableFunc(roots, func(a, b model.Comment) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	var build func(c model.Comment) model.CommentNode
	build = func(c model.Comment) model.CommentNode {
		node := s.toNode(c)

		replies := children[c.ID]
		slices.SortStableFunc(replies, func(a, b model.Comment) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})
		for _, r := range replies {
			node.Replies = append(node.Replies, build(r))
		}
		return node
	}

	nodes := make([]model.CommentNode, 0, len(roots))
	for _, root := range roots {
		nodes = append(nodes, build(root))
	}
	return nodes
}

func (s *Service) toNode(c model.Comment) model.CommentNode {
	return model.CommentNode{
		ID:        c.ID,
		Text:      c.Content,
		Username:  c.AuthorID,
		Date:      RelativeTime(c.CreatedAt, s.now()),
		CreatedAt: c.CreatedAt,
		Replies:   []model.CommentNode{},
	}
}
