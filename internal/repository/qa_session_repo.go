package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/aihub/docqa-go/internal/models"
)

type qaSessionRepository struct {
	db *gorm.DB
}

// NewQASessionRepository 创建问答记录仓库
func NewQASessionRepository(db *gorm.DB) QASessionRepository {
	return &qaSessionRepository{db: db}
}

func (r *qaSessionRepository) GetDB() *gorm.DB {
	return r.db
}

// Create 追加一条问答记录
func (r *qaSessionRepository) Create(ctx context.Context, session *models.QASession) error {
	return translateError(r.db.WithContext(ctx).Omit("Document").Create(session).Error)
}

// ListByDocument 最新的记录在前
func (r *qaSessionRepository) ListByDocument(ctx context.Context, documentID uint, limit int) ([]models.QASession, error) {
	var sessions []models.QASession
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC, session_id DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, translateError(err)
	}
	return sessions, nil
}

func (r *qaSessionRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.QASession{}).Count(&total).Error
	return total, translateError(err)
}
