package application

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"monat/internal/pkg/logger"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserBlocked  = errors.New("user is blocked")
)

type UserStatus string

const (
	UserActive  UserStatus = "ACTIVE"
	UserBlocked UserStatus = "BLOCKED"
)

type User struct {
	UserID string
	Name   string
	Status UserStatus
}

// UserApplicationService 用户校验。存量数据在内存里维护，
// 这个服务在演练环境里只负责回答"这个用户能不能下单"。
type UserApplicationService struct {
	mu     sync.RWMutex
	users  map[string]*User
	tracer trace.Tracer
}

func NewUserApplicationService(tracer trace.Tracer) *UserApplicationService {
	return &UserApplicationService{
		users:  make(map[string]*User),
		tracer: tracer,
	}
}

func (s *UserApplicationService) Register(user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := user
	s.users[user.UserID] = &stored
}

func (s *UserApplicationService) ValidateUser(ctx context.Context, userID string) error {
	ctx, span := s.tracer.Start(ctx, "user.ValidateUser")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	s.mu.RLock()
	user, ok := s.users[userID]
	s.mu.RUnlock()

	if !ok {
		logger.Ctx(ctx).Warn().Str("user_id", userID).Msg("unknown user rejected")
		return errors.Wrap(ErrUserNotFound, userID)
	}
	if user.Status != UserActive {
		logger.Ctx(ctx).Warn().Str("user_id", userID).Str("status", string(user.Status)).Msg("blocked user rejected")
		return errors.Wrap(ErrUserBlocked, userID)
	}
	return nil
}
