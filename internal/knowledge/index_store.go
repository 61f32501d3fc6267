package knowledge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrIndexNotFound 持久化的索引文件对不存在
var ErrIndexNotFound = errors.New("persisted index not found")

// ErrIndexMismatch 向量数与文本数不一致
var ErrIndexMismatch = errors.New("persisted index vector/text count mismatch")

const (
	vectorsSuffix = ".index"
	textsSuffix   = ".texts"
)

// IndexStore 以文件对形式保存向量与文本序列
type IndexStore interface {
	Save(ctx context.Context, vectors [][]float32, texts []string) error
	Load(ctx context.Context) ([][]float32, []string, error)
	Location() string
}

// FileIndexStore 本地文件存储：<prefix>.index 与 <prefix>.texts
type FileIndexStore struct {
	prefix string
}

// NewFileIndexStore 创建本地索引存储
func NewFileIndexStore(prefix string) *FileIndexStore {
	return &FileIndexStore{prefix: prefix}
}

func (s *FileIndexStore) Location() string { return s.prefix }

// Save 先写临时文件再rename，文本文件最后替换
func (s *FileIndexStore) Save(ctx context.Context, vectors [][]float32, texts []string) error {
	if len(vectors) != len(texts) {
		return ErrIndexMismatch
	}

	var vecBuf, textBuf bytes.Buffer
	if err := EncodeVectors(&vecBuf, vectors); err != nil {
		return fmt.Errorf("encode vectors: %w", err)
	}
	if err := EncodeTexts(&textBuf, texts); err != nil {
		return fmt.Errorf("encode texts: %w", err)
	}

	if err := writeFileAtomic(s.prefix+vectorsSuffix, vecBuf.Bytes()); err != nil {
		return err
	}
	return writeFileAtomic(s.prefix+textsSuffix, textBuf.Bytes())
}

func (s *FileIndexStore) Load(ctx context.Context) ([][]float32, []string, error) {
	vecData, err := os.ReadFile(s.prefix + vectorsSuffix)
	if err != nil {
		return nil, nil, translateNotExist(err)
	}
	textData, err := os.ReadFile(s.prefix + textsSuffix)
	if err != nil {
		return nil, nil, translateNotExist(err)
	}
	return decodePair(vecData, textData)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "tmp-*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp index: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename temp index: %w", err)
	}
	return nil
}

// BlobStore 对象存储最小接口，不存在的对象返回包装的fs.ErrNotExist
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ObjectIndexStore 对象存储中的索引文件对
type ObjectIndexStore struct {
	blobs  BlobStore
	prefix string
}

// NewObjectIndexStore 创建对象存储索引
func NewObjectIndexStore(blobs BlobStore, prefix string) *ObjectIndexStore {
	return &ObjectIndexStore{blobs: blobs, prefix: prefix}
}

func (s *ObjectIndexStore) Location() string { return s.prefix }

func (s *ObjectIndexStore) Save(ctx context.Context, vectors [][]float32, texts []string) error {
	if len(vectors) != len(texts) {
		return ErrIndexMismatch
	}

	var vecBuf, textBuf bytes.Buffer
	if err := EncodeVectors(&vecBuf, vectors); err != nil {
		return fmt.Errorf("encode vectors: %w", err)
	}
	if err := EncodeTexts(&textBuf, texts); err != nil {
		return fmt.Errorf("encode texts: %w", err)
	}

	if err := s.blobs.Put(ctx, s.prefix+vectorsSuffix, vecBuf.Bytes(), "application/octet-stream"); err != nil {
		return err
	}
	return s.blobs.Put(ctx, s.prefix+textsSuffix, textBuf.Bytes(), "application/json")
}

func (s *ObjectIndexStore) Load(ctx context.Context) ([][]float32, []string, error) {
	vecData, err := s.blobs.Get(ctx, s.prefix+vectorsSuffix)
	if err != nil {
		return nil, nil, translateNotExist(err)
	}
	textData, err := s.blobs.Get(ctx, s.prefix+textsSuffix)
	if err != nil {
		return nil, nil, translateNotExist(err)
	}
	return decodePair(vecData, textData)
}

func decodePair(vecData, textData []byte) ([][]float32, []string, error) {
	vectors, err := DecodeVectors(bytes.NewReader(vecData))
	if err != nil {
		return nil, nil, err
	}
	texts, err := DecodeTexts(bytes.NewReader(textData))
	if err != nil {
		return nil, nil, err
	}
	if len(vectors) != len(texts) {
		return nil, nil, fmt.Errorf("%w: %d vectors, %d texts", ErrIndexMismatch, len(vectors), len(texts))
	}
	return vectors, texts, nil
}

func translateNotExist(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrIndexNotFound, err)
	}
	return err
}
