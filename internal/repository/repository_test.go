package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aihub/docqa-go/internal/models"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestDocumentRepository_GetByHash(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"document_id", "source_url", "content_hash", "content", "processed_at"}).
		AddRow(7, "https://example.com/policy.pdf", "abc", "text", now)
	mock.ExpectQuery(`SELECT \* FROM "documents" WHERE content_hash = \$1`).WillReturnRows(rows)

	doc, err := repo.GetByHash(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, uint(7), doc.DocumentID)
	assert.Equal(t, "https://example.com/policy.pdf", doc.SourceURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_GetByHash_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "documents" WHERE content_hash = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"document_id"}))

	_, err := repo.GetByHash(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestDocumentRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db)

	mock.ExpectQuery(`INSERT INTO "documents"`).
		WillReturnRows(sqlmock.NewRows([]string{"document_id"}).AddRow(11))

	doc := &models.Document{SourceURL: "a.pdf", ContentHash: "h1", Content: "text", ProcessedAt: time.Now()}
	require.NoError(t, repo.Create(context.Background(), doc))
	assert.Equal(t, uint(11), doc.DocumentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_Create_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db)

	mock.ExpectQuery(`INSERT INTO "documents"`).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, Message: "duplicate key value violates unique constraint"})

	err := repo.Create(context.Background(), &models.Document{ContentHash: "h1", ProcessedAt: time.Now()})
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestDocumentRepository_Count(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM "documents"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	total, err := NewDocumentRepository(db).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestQASessionRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewQASessionRepository(db)

	mock.ExpectQuery(`INSERT INTO "qa_sessions"`).
		WithArgs(uint(7), `["q1","q2"]`, `["a1","a2"]`, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}).AddRow(1))

	session := &models.QASession{
		DocumentID: 7,
		Questions:  []string{"q1", "q2"},
		Answers:    []string{"a1", "a2"},
		CreatedAt:  time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), session))
	assert.Equal(t, uint(1), session.SessionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQASessionRepository_Create_ForeignKey(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`INSERT INTO "qa_sessions"`).
		WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})

	err := NewQASessionRepository(db).Create(context.Background(), &models.QASession{DocumentID: 99, CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrForeignKey)
}

func TestQASessionRepository_ListByDocument(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"session_id", "document_id", "questions", "answers", "created_at"}).
		AddRow(2, 7, `["newer"]`, `["b"]`, now).
		AddRow(1, 7, `["older"]`, `["a"]`, now.Add(-time.Hour))
	mock.ExpectQuery(`SELECT \* FROM "qa_sessions" WHERE document_id = \$1 ORDER BY created_at DESC, session_id DESC`).
		WillReturnRows(rows)

	sessions, err := NewQASessionRepository(db).ListByDocument(context.Background(), 7, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, []string{"newer"}, sessions[0].Questions)
	assert.Equal(t, []string{"a"}, sessions[1].Answers)
}

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))
	assert.ErrorIs(t, translateError(gorm.ErrDuplicatedKey), ErrDuplicateKey)

	plain := errors.New("connection reset")
	assert.Equal(t, plain, translateError(plain))
}
