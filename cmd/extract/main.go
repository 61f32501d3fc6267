package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aihub/docqa-go/internal/knowledge"
)

// 文档抽取预览：按服务相同的方式读取、抽取、清洗并分块，便于排查检索效果
func main() {
	var (
		source   = flag.String("source", "", "文档来源：本地路径或 http(s) URL（必需）")
		output   = flag.String("output", "", "输出文件路径（可选，默认输出到标准输出）")
		chunks   = flag.Bool("chunks", false, "按chunk输出并标注章节")
		size     = flag.Int("chunk-size", 1000, "chunk大小（词）")
		overlap  = flag.Int("chunk-overlap", 200, "chunk重叠（词）")
		timeout  = flag.Duration("timeout", 60*time.Second, "读取超时")
		maxBytes = flag.Int64("max-bytes", 50<<20, "最大读取字节数")
	)
	flag.Parse()

	if *source == "" {
		fmt.Fprintf(os.Stderr, "错误: 必须指定文档来源 (-source)\n")
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	text, err := extract(ctx, *source, *maxBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: 抽取失败: %v\n", err)
		os.Exit(1)
	}

	rendered := text
	if *chunks {
		rendered, err = renderChunks(text, *size, *overlap)
		if err != nil {
			fmt.Fprintf(os.Stderr, "错误: %v\n", err)
			os.Exit(1)
		}
	}

	if *output == "" {
		fmt.Println(rendered)
		return
	}
	if err := os.WriteFile(*output, []byte(rendered), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "错误: 写入输出文件失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("抽取完成: %s -> %s (%d 字符)\n", *source, *output, len(text))
}

func extract(ctx context.Context, source string, maxBytes int64) (string, error) {
	raw, err := knowledge.NewSourceResolver(knowledge.WithMaxBytes(maxBytes)).Fetch(ctx, source)
	if err != nil {
		return "", err
	}
	text, err := knowledge.NewFileParserManager().ExtractText(raw.Bytes, raw.Name)
	if err != nil {
		return "", err
	}
	text = knowledge.SanitizeText(text)
	if text == "" {
		return "", fmt.Errorf("文档不包含可抽取的文本 (格式: %s)", knowledge.DetectFormat(raw.Bytes, raw.Name))
	}
	return text, nil
}

func renderChunks(text string, size, overlap int) (string, error) {
	chunker, err := knowledge.NewChunker(size, overlap)
	if err != nil {
		return "", err
	}
	sections := knowledge.NewSectionIdentifier(nil)

	var b strings.Builder
	for i, chunk := range chunker.Texts(text) {
		fmt.Fprintf(&b, "## Chunk %d [%s]\n\n%s\n\n", i+1, sections.Identify(chunk, text), chunk)
	}
	return b.String(), nil
}
