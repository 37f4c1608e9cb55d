package zookeeper

import (
	"context"
	"time"

	"monat/internal/pkg/logger"
)

const electionRetryInterval = 10 * time.Second

// RunExclusive 用分布式锁做单例选举: 拿到锁的实例运行 task，
// 没拿到的定期重试。发件箱发布器、过期清扫这类全局单例任务
// 多实例部署时靠它保证同时只有一个在跑。
// task 返回或实例退出时释放锁，其他实例接管。
func RunExclusive(ctx context.Context, conn *Conn, resource string, task func(ctx context.Context) error) error {
	for {
		lock, err := NewDistributedLock(conn, resource)
		if err != nil {
			logger.Logger.Error().Err(err).Str("resource", resource).Msg("create election lock failed")
			if err := sleep(ctx, electionRetryInterval); err != nil {
				return err
			}
			continue
		}

		acquired, err := lock.TryLock()
		if err != nil {
			logger.Logger.Error().Err(err).Str("resource", resource).Msg("election attempt failed")
		}
		if !acquired {
			if err := sleep(ctx, electionRetryInterval); err != nil {
				return err
			}
			continue
		}

		logger.Logger.Info().Str("resource", resource).Msg("elected as singleton runner")
		err = task(ctx)
		if unlockErr := lock.Unlock(); unlockErr != nil {
			logger.Logger.Warn().Err(unlockErr).Str("resource", resource).Msg("release election lock failed")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logger.Logger.Error().Err(err).Str("resource", resource).Msg("singleton task exited with error")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
