package models

import (
	"time"
)

// Document 文档表，按内容哈希唯一，创建后不再更新
type Document struct {
	DocumentID  uint      `gorm:"primaryKey;column:document_id" json:"document_id"`
	SourceURL   string    `gorm:"column:source_url;size:1000;not null" json:"source_url"`
	ContentHash string    `gorm:"column:content_hash;size:64;uniqueIndex;not null" json:"content_hash"`
	Content     string    `gorm:"type:text;not null" json:"-"`
	ProcessedAt time.Time `gorm:"column:processed_at;not null" json:"processed_at"`
}

func (Document) TableName() string {
	return "documents"
}

// QASession 问答记录表，questions[i] 对应 answers[i]，只追加
type QASession struct {
	SessionID  uint      `gorm:"primaryKey;column:session_id" json:"session_id"`
	DocumentID uint      `gorm:"column:document_id;not null;index" json:"document_id"`
	Questions  []string  `gorm:"column:questions;type:jsonb;serializer:json;not null" json:"questions"`
	Answers    []string  `gorm:"column:answers;type:jsonb;serializer:json;not null" json:"answers"`
	CreatedAt  time.Time `gorm:"column:created_at;not null" json:"created_at"`

	Document *Document `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`
}

func (QASession) TableName() string {
	return "qa_sessions"
}
