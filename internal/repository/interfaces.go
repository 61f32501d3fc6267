package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/aihub/docqa-go/internal/models"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey 唯一约束冲突
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrForeignKey 外键约束失败
	ErrForeignKey = errors.New("foreign key violation")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Repository 基础仓库接口
type Repository interface {
	GetDB() *gorm.DB
}

// DocumentRepository 文档仓库接口
type DocumentRepository interface {
	Repository
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id uint) (*models.Document, error)
	GetByHash(ctx context.Context, contentHash string) (*models.Document, error)
	Count(ctx context.Context) (int64, error)
}

// QASessionRepository 问答记录仓库接口，只追加
type QASessionRepository interface {
	Repository
	Create(ctx context.Context, session *models.QASession) error
	ListByDocument(ctx context.Context, documentID uint, limit int) ([]models.QASession, error)
	Count(ctx context.Context) (int64, error)
}

// translateError 把驱动错误映射为仓库哨兵错误，保留原始错误链
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Join(ErrNotFound, err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Join(ErrDuplicateKey, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return errors.Join(ErrDuplicateKey, err)
		case pgForeignKeyViolation:
			return errors.Join(ErrForeignKey, err)
		}
	}
	return err
}
