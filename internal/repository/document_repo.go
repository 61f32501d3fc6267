package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/aihub/docqa-go/internal/models"
)

// documentRepository 文档仓库实现
type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建文档仓库
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// GetDB 获取数据库连接
func (r *documentRepository) GetDB() *gorm.DB {
	return r.db
}

// Create 插入文档，content_hash冲突时返回ErrDuplicateKey
func (r *documentRepository) Create(ctx context.Context, doc *models.Document) error {
	return translateError(r.db.WithContext(ctx).Create(doc).Error)
}

// GetByID 根据ID获取文档
func (r *documentRepository) GetByID(ctx context.Context, id uint) (*models.Document, error) {
	var doc models.Document
	if err := r.db.WithContext(ctx).Where("document_id = ?", id).First(&doc).Error; err != nil {
		return nil, translateError(err)
	}
	return &doc, nil
}

// GetByHash 根据内容哈希获取文档
func (r *documentRepository) GetByHash(ctx context.Context, contentHash string) (*models.Document, error) {
	var doc models.Document
	if err := r.db.WithContext(ctx).Where("content_hash = ?", contentHash).First(&doc).Error; err != nil {
		return nil, translateError(err)
	}
	return &doc, nil
}

// Count 文档总数
func (r *documentRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.Document{}).Count(&total).Error
	return total, translateError(err)
}
