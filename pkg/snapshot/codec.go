package snapshot

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
	"github.com/easyops/ctxwindow-go/pkg/core/errors"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// zstd 编解码器可以并发使用，全局复用
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("snapshot: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("snapshot: zstd decoder initialization failed: " + err.Error())
	}
}

// encode 序列化状态并生成元数据
func encode(sessionID string, state ctxwin.State, compress bool) ([]byte, Meta, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("marshal state: %w", err)
	}

	payload := raw
	if compress {
		payload = zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	}

	createdAt := state.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	meta := Meta{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		CreatedAt:  createdAt,
		Checksum:   Checksum(payload),
		Compressed: compress,
		Size:       len(payload),
		RawSize:    len(raw),
	}
	return payload, meta, nil
}

// decode 校验并反序列化快照
func decode(payload []byte, meta Meta) (ctxwin.State, error) {
	if Checksum(payload) != meta.Checksum {
		return ctxwin.State{}, fmt.Errorf("snapshot %s: %w", meta.ID, errors.ErrChecksumMismatch)
	}

	raw := payload
	if meta.Compressed {
		var err error
		raw, err = zstdDecoder.DecodeAll(payload, make([]byte, 0, meta.RawSize))
		if err != nil {
			return ctxwin.State{}, fmt.Errorf("snapshot %s: zstd decode: %w", meta.ID, err)
		}
	}

	var state ctxwin.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return ctxwin.State{}, fmt.Errorf("snapshot %s: unmarshal: %w", meta.ID, err)
	}
	return state, nil
}

// Checksum 返回数据的 blake3 十六进制摘要
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
