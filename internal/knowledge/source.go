package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/aihub/docqa-go/internal/errors"
)

// RawDocument 原始字节与来源标识，只在一次请求内存在
type RawDocument struct {
	Source string
	Name   string
	Bytes  []byte
}

// ObjectFetcher 按bucket/key读取对象，不存在返回包装的fs.ErrNotExist
type ObjectFetcher interface {
	GetFrom(ctx context.Context, bucket, key string) ([]byte, error)
}

// SourceResolver 把来源标识解析为原始字节：本地路径、file://、http(s)://、s3://
type SourceResolver struct {
	httpClient *http.Client
	objects    ObjectFetcher
	maxBytes   int64
}

// SourceOption 可选配置
type SourceOption func(*SourceResolver)

// WithHTTPClient 自定义HTTP客户端
func WithHTTPClient(c *http.Client) SourceOption {
	return func(r *SourceResolver) { r.httpClient = c }
}

// WithObjectFetcher 启用s3://来源
func WithObjectFetcher(f ObjectFetcher) SourceOption {
	return func(r *SourceResolver) { r.objects = f }
}

// WithMaxBytes 单个文档大小上限
func WithMaxBytes(n int64) SourceOption {
	return func(r *SourceResolver) { r.maxBytes = n }
}

// NewSourceResolver 创建来源解析器
func NewSourceResolver(opts ...SourceOption) *SourceResolver {
	r := &SourceResolver{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxBytes:   50 << 20,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch 读取来源字节。来源不存在时返回RESOURCE_NOT_FOUND并带上来源标识。
func (r *SourceResolver) Fetch(ctx context.Context, source string) (*RawDocument, error) {
	source = strings.TrimSpace(source)
	if !ValidateSource(source) {
		return nil, apperrors.NewInvalidInputError("documents", "unsupported source: "+source)
	}

	var (
		data []byte
		name string
		err  error
	)
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		data, name, err = r.fetchHTTP(ctx, source)
	case strings.HasPrefix(source, "s3://"):
		data, name, err = r.fetchObject(ctx, source)
	default:
		data, name, err = r.fetchFile(source)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewNotFoundError("document").
				WithCause(err).
				WithDetails(map[string]string{"source": source})
		}
		return nil, fmt.Errorf("fetch %s: %w", source, err)
	}

	return &RawDocument{Source: source, Name: name, Bytes: data}, nil
}

func (r *SourceResolver) fetchFile(source string) ([]byte, string, error) {
	p := strings.TrimPrefix(source, "file://")
	info, err := os.Stat(p)
	if err != nil {
		return nil, "", err
	}
	if info.IsDir() {
		return nil, "", fmt.Errorf("%s is a directory: %w", p, fs.ErrNotExist)
	}
	if info.Size() > r.maxBytes {
		return nil, "", fmt.Errorf("document size %d exceeds limit %d", info.Size(), r.maxBytes)
	}
	data, err := os.ReadFile(p)
	return data, filepath.Base(p), err
}

func (r *SourceResolver) fetchHTTP(ctx context.Context, source string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, "", fmt.Errorf("http status %d: %w", resp.StatusCode, fs.ErrNotExist)
	case resp.StatusCode >= 300:
		return nil, "", fmt.Errorf("http status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > r.maxBytes {
		return nil, "", fmt.Errorf("document exceeds limit %d bytes", r.maxBytes)
	}

	name := ""
	if u, err := url.Parse(source); err == nil {
		name = path.Base(u.Path)
	}
	return data, name, nil
}

func (r *SourceResolver) fetchObject(ctx context.Context, source string) ([]byte, string, error) {
	if r.objects == nil {
		return nil, "", fmt.Errorf("object storage not configured")
	}
	rest := strings.TrimPrefix(source, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return nil, "", fmt.Errorf("invalid object source %q", source)
	}
	data, err := r.objects.GetFrom(ctx, bucket, key)
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > r.maxBytes {
		return nil, "", fmt.Errorf("document exceeds limit %d bytes", r.maxBytes)
	}
	return data, path.Base(key), nil
}
