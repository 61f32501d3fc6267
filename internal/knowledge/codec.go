package knowledge

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	vectorFileMagic   = "DQIX"
	vectorFileVersion = uint32(1)
	vectorHeaderSize  = 4 + 3*4
	// 防止损坏文件导致超大分配
	maxCodecDimension = 1 << 16
	// 头部count不可信，预分配上限
	maxCodecPrealloc = 1 << 12
)

// ErrCorruptIndex 索引文件格式错误
var ErrCorruptIndex = errors.New("corrupt vector index file")

// EncodeVectors 写出向量文件：magic | version | count | dim | float32 LE...
func EncodeVectors(w io.Writer, vectors [][]float32) error {
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(vectorFileMagic); err != nil {
		return err
	}
	header := []uint32{vectorFileVersion, uint32(len(vectors)), uint32(dim)}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return err
	}

	buf := make([]byte, 4)
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("vector %d: %w", i, ErrDimensionMismatch)
		}
		for _, x := range v {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(x))
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// DecodeVectors 读取EncodeVectors写出的向量文件。
// r能报告剩余长度时（如*bytes.Reader），头部声明的数据量超过文件实际大小直接判为损坏。
func DecodeVectors(r io.Reader) ([][]float32, error) {
	size := -1
	if l, ok := r.(interface{ Len() int }); ok {
		size = l.Len()
	}
	br := bufio.NewReader(r)

	magic := make([]byte, len(vectorFileMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	if string(magic) != vectorFileMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorruptIndex, magic)
	}

	var header [3]uint32
	if err := binary.Read(br, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	if header[0] != vectorFileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, header[0])
	}
	count, dim := int(header[1]), int(header[2])
	if dim > maxCodecDimension || (count > 0 && dim == 0) {
		return nil, fmt.Errorf("%w: invalid dimension %d", ErrCorruptIndex, dim)
	}
	if size >= 0 {
		payload := uint64(header[1]) * uint64(header[2]) * 4
		if payload > uint64(size-vectorHeaderSize) {
			return nil, fmt.Errorf("%w: header declares %d vectors of dim %d, file has %d payload bytes",
				ErrCorruptIndex, count, dim, size-vectorHeaderSize)
		}
	}

	vectors := make([][]float32, 0, min(count, maxCodecPrealloc))
	buf := make([]byte, 4*dim)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("%w: vector %d: %v", ErrCorruptIndex, i, err)
		}
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:]))
		}
		vectors = append(vectors, v)
	}
	return vectors, nil
}

// EncodeTexts 文本序列以JSON数组保存
func EncodeTexts(w io.Writer, texts []string) error {
	if texts == nil {
		texts = []string{}
	}
	return json.NewEncoder(w).Encode(texts)
}

// DecodeTexts 读取EncodeTexts写出的文本序列
func DecodeTexts(r io.Reader) ([]string, error) {
	var texts []string
	if err := json.NewDecoder(r).Decode(&texts); err != nil {
		return nil, fmt.Errorf("%w: texts: %v", ErrCorruptIndex, err)
	}
	return texts, nil
}
