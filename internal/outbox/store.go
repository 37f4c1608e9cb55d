package outbox

import (
	"context"

	"github.com/pkg/errors"
)

var ErrEventNotFound = errors.New("outbox event not found")

// Store 发件箱的持久化接口。
// Append 参与调用方的业务事务: gorm 实现从 context 取事务句柄
// (database.FromContext)，事件和业务状态一起提交或一起回滚。
type Store interface {
	Append(ctx context.Context, event *Event) error
	// FetchUnprocessed 按 created_at 升序返回未处理的事件，保证按提交顺序发布。
	FetchUnprocessed(ctx context.Context, limit int) ([]*Event, error)
	MarkProcessed(ctx context.Context, id int64) error
	CountUnprocessed(ctx context.Context) (int64, error)
}
