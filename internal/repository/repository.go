package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/retry"
)

// PostgreSQL 可重试错误码
const (
	pgErrSerializationFailure  = "40001"
	pgErrDeadlockDetected      = "40P01"
	pgErrConnectionException   = "08000"
	pgErrSQLClientCantConnect  = "08001"
	pgErrConnectionFailure     = "08006"
	pgErrInsufficientResources = "53000"
	pgErrTooManyConnections    = "53300"
	pgErrQueryCanceled         = "57014"
	pgErrCannotConnectNow      = "57P03"
)

// Repository 基础仓储
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建基础仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type txKey struct{}

// DB 返回数据库连接, 事务内返回事务连接
func (r *Repository) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Transaction 执行事务
func (r *Repository) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// TransactionWithRetry 对可重试的数据库错误重跑整个事务
func (r *Repository) TransactionWithRetry(ctx context.Context, maxAttempts int, fn func(ctx context.Context) error) error {
	p := retry.Constant(maxAttempts, 100*time.Millisecond).WithRetryable(isRetryableError)
	return retry.Do(ctx, p, func(ctx context.Context) error {
		return r.Transaction(ctx, fn)
	})
}

// isRetryableError 死锁、序列化失败、连接中断等临时错误
func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgErrSerializationFailure, pgErrDeadlockDetected,
		pgErrConnectionException, pgErrSQLClientCantConnect, pgErrConnectionFailure,
		pgErrInsufficientResources, pgErrTooManyConnections,
		pgErrQueryCanceled, pgErrCannotConnectNow:
		return true
	}
	return false
}

// Pagination 分页参数
type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

// Offset 计算偏移量
func (p *Pagination) Offset() int {
	if p.Page <= 0 {
		p.Page = 1
	}
	return (p.Page - 1) * p.Limit()
}

// Limit 返回限制数量
func (p *Pagination) Limit() int {
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	return p.PageSize
}
