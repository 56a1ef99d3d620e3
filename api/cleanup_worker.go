package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
)

// startCleanupWorker 消費清理佇列，刪除檔案已移除但資料列仍存在的圖片
func (impl *ServerImpl) startCleanupWorker(ctx context.Context) {
	impl.logger.Info("Start image cleanup worker")
	impl.wg.Add(1)
	go func() {
		logger := impl.logger.With(slog.String("caller", "ImageCleanup"))
		defer impl.wg.Done()
		defer logger.Info("Image cleanup worker stopped")
		ch := impl.groupConsumer.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				logger.Debug("Receive message", slog.String("messageId", msg.ID()))
				handleErr := impl.retry(ctx, func() error {
					return impl.gallery.CompleteCleanup(ctx, msg.Data)
				})
				if handleErr != nil {
					if ctx.Err() != nil {
						// 沒有ack的消息會被其他實例重新認領
						return
					}
					impl.metrics.cleanupJobs.WithLabelValues("failed").Inc()
					logger.Error("Fail to clean orphaned image row", slog.String("imageID", msg.Data.ImageID.String()), slog.Any("error", handleErr))
					if err := msg.Fail(ctx, handleErr); err != nil {
						logger.Error("Fail to fail message", slog.Any("error", err))
					}
					continue
				}
				if err := msg.Done(ctx); err != nil {
					logger.Error("Cleanup success but fail to done message", slog.Any("error", err))
					continue
				}
				impl.metrics.cleanupJobs.WithLabelValues("done").Inc()
			}
		}
	}()
}

// retry 最多執行 cleanupAttempts 次，間隔從 cleanupRetryDelay 開始倍增
func (impl *ServerImpl) retry(ctx context.Context, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = impl.cleanupRetryDelay
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	attempts := max(impl.cleanupAttempts, 1)

	err := backoff.Retry(fn, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx))
	if err != nil {
		return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
	}
	return nil
}
