// Package cleanup は参照されていないオブジェクト（孤立オブジェクト）の自動削除ジョブを提供する。
// 投稿やプロフィール画像のアップロード後に行の作成が失敗した場合や、
// 投稿削除後のオブジェクト削除が失敗した場合に残ったオブジェクトを回収する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/snapboard/internal/metrics"
	"github.com/hitoshi/snapboard/internal/repository"
	"github.com/hitoshi/snapboard/internal/storage"
)

// DefaultGracePeriod は削除対象とするまでの既定の猶予期間。
// アップロード直後で行の作成がまだ完了していないオブジェクトを誤って削除しないために設ける。
const DefaultGracePeriod = 24 * time.Hour

// ObjectLister はバケットの一覧取得と削除を行うインターフェース。storage.ObjectStoreが実装する。
type ObjectLister interface {
	List(ctx context.Context) ([]storage.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// Result は1回の実行結果。
type Result struct {
	Scanned int
	Skipped int
	Deleted int
	Failed  int
}

// OrphanSweeper は孤立オブジェクトの削除ジョブ。
// 定期実行のバッチジョブとして設計されており、何度実行しても結果は変わらない。
type OrphanSweeper struct {
	objects     ObjectLister
	refs        repository.AssetReferenceChecker
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	now         func() time.Time
	GracePeriod time.Duration // 最終更新からの猶予期間（デフォルト: 24時間）
}

// NewOrphanSweeper は新しいOrphanSweeperを生成する。
// デフォルトの猶予期間は24時間。
func NewOrphanSweeper(objects ObjectLister, refs repository.AssetReferenceChecker, collector metrics.MetricsCollector, logger *slog.Logger) *OrphanSweeper {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OrphanSweeper{
		objects:     objects,
		refs:        refs,
		metrics:     collector,
		logger:      logger,
		now:         time.Now,
		GracePeriod: DefaultGracePeriod,
	}
}

// Run はバケットを走査し、管理対象フォルダ内の孤立オブジェクトを削除する。
// 管理対象外のキー、猶予期間内のオブジェクト、行から参照されているオブジェクトは残す。
// 個々の削除失敗はログに記録して続行し、一覧取得と参照確認の失敗のみエラーを返す。
func (s *OrphanSweeper) Run(ctx context.Context) (Result, error) {
	start := s.now()
	var result Result

	objects, err := s.objects.List(ctx)
	if err != nil {
		s.logger.Error("failed to list objects for orphan sweep", slog.String("error", err.Error()))
		return result, fmt.Errorf("failed to list objects: %w", err)
	}

	cutoff := start.Add(-s.GracePeriod)
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++

		// 1. 管理対象フォルダ（<owner>/<kind>/<name>）以外は触らない
		if _, _, ok := storage.ParseObjectKey(obj.Key); !ok {
			result.Skipped++
			continue
		}

		// 2. 猶予期間内のオブジェクトは行の作成途中の可能性がある
		if obj.LastModified.After(cutoff) {
			result.Skipped++
			continue
		}

		// 3. 参照確認
		referenced, err := s.refs.IsAssetReferenced(ctx, obj.Key)
		if err != nil {
			s.logger.Error("failed to check object reference",
				slog.String("key", obj.Key),
				slog.String("error", err.Error()),
			)
			return result, fmt.Errorf("failed to check reference for %s: %w", obj.Key, err)
		}
		if referenced {
			result.Skipped++
			continue
		}

		// 4. 削除
		if err := s.objects.Delete(ctx, obj.Key); err != nil {
			s.logger.Warn("failed to delete orphan object",
				slog.String("key", obj.Key),
				slog.String("error", err.Error()),
			)
			result.Failed++
			continue
		}
		result.Deleted++
	}

	s.metrics.RecordOrphansSwept(result.Deleted)
	s.logger.Info("orphan sweep completed",
		slog.Int("scanned", result.Scanned),
		slog.Int("deleted", result.Deleted),
		slog.Int("failed", result.Failed),
		slog.Duration("grace_period", s.GracePeriod),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)

	return result, nil
}

// initialRetryDelay は失敗後の再実行までの初回遅延。
const initialRetryDelay = time.Minute

// retryDelay は連続失敗回数に基づいて再実行までの遅延を計算する。
// 初回1分、2倍ずつ増加し、通常の実行間隔を上限とする。
func retryDelay(consecutiveFailures int, interval time.Duration) time.Duration {
	delay := initialRetryDelay
	for i := 0; i < consecutiveFailures; i++ {
		delay *= 2
		if delay >= interval {
			return interval
		}
	}
	if delay > interval {
		return interval
	}
	return delay
}

// RunEvery はintervalごとにRunを実行する。起動直後に1回実行し、ctxがキャンセルされるまでブロックする。
// 失敗した場合は指数バックオフで早めに再実行する。
func (s *OrphanSweeper) RunEvery(ctx context.Context, interval time.Duration) {
	failures := 0
	for {
		delay := interval
		if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
			delay = retryDelay(failures, interval)
			failures++
			s.logger.Error("orphan sweep failed",
				slog.String("error", err.Error()),
				slog.Int("consecutive_failures", failures),
				slog.Duration("retry_in", delay),
			)
		} else {
			failures = 0
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("orphan sweeper stopped")
			return
		case <-timer.C:
		}
	}
}
