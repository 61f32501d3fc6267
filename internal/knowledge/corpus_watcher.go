package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/aihub/docqa-go/internal/logger"
)

// CorpusWatcher 监听语料目录，受支持文件变化时标记索引失效并在静默期后回调重建
type CorpusWatcher struct {
	dir      string
	debounce time.Duration
	index    *VectorIndex
	onChange func(ctx context.Context) error
	logger   *zap.Logger
}

// NewCorpusWatcher 创建目录监听器
func NewCorpusWatcher(dir string, debounce time.Duration, index *VectorIndex, onChange func(ctx context.Context) error) *CorpusWatcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &CorpusWatcher{
		dir:      dir,
		debounce: debounce,
		index:    index,
		onChange: onChange,
		logger:   logger.Named("corpus_watcher"),
	}
}

// Relevant 是否是会影响语料的事件
func Relevant(event fsnotify.Event) bool {
	if !IsSupportedFile(event.Name) {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

// Run 阻塞直到ctx结束
func (w *CorpusWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching corpus directory", zap.String("dir", w.dir))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !Relevant(event) {
				continue
			}
			w.logger.Debug("corpus changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			if w.index != nil {
				w.index.Invalidate()
			}
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			pending = true

		case <-timer.C:
			pending = false
			if w.onChange == nil {
				continue
			}
			if err := w.onChange(ctx); err != nil {
				w.logger.Error("corpus rebuild failed", zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("corpus watcher error", zap.Error(err))
		}
	}
}
