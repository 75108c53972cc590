package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vamos-labs/vamos-indexer/internal/chain"
	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// multipartThreshold is the buffer size above which an archive flush switches
// to a multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// ArchivedLog is the JSONL record written to the archive, carrying everything
// needed to reconstruct the raw log for replay.
type ArchivedLog struct {
	BlockNumber uint64    `json:"block_number"`
	BlockTime   time.Time `json:"block_time"`
	TxHash      string    `json:"tx_hash"`
	LogIndex    uint32    `json:"log_index"`
	Address     string    `json:"address"`
	Topics      []string  `json:"topics"`
	Data        []byte    `json:"data"`
}

// ToLog reconstructs the go-ethereum log for the decoder.
func (a ArchivedLog) ToLog() types.Log {
	topics := make([]common.Hash, len(a.Topics))
	for i, t := range a.Topics {
		topics[i] = common.HexToHash(t)
	}
	return types.Log{
		Address:     common.HexToAddress(a.Address),
		Topics:      topics,
		Data:        a.Data,
		BlockNumber: a.BlockNumber,
		TxHash:      common.HexToHash(a.TxHash),
		Index:       uint(a.LogIndex),
	}
}

// Archiver writes every raw contract log to object storage before it is
// decoded. The archive is the recovery path for decode faults and the input
// of replay mode; losing a batch here means losing the ability to backfill
// it, so archiving happens before materialization.
type Archiver struct {
	writer  BlobPutter
	chainID uint64
	logger  *slog.Logger
}

// BlobPutter is domain.BlobWriter plus the multipart path for large flushes.
// Implemented by s3blob.Writer.
type BlobPutter interface {
	domain.BlobWriter
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// NewArchiver creates an Archiver for one chain.
func NewArchiver(writer BlobPutter, chainID uint64, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:  writer,
		chainID: chainID,
		logger: logger.With(
			slog.String("component", "archiver"),
			slog.Uint64("chain_id", chainID),
		),
	}
}

// Append uploads one scanned batch as a JSONL object. Keys sort
// chronologically: raws/{chain}/{date}/{from}-{to}.jsonl with zero-padded
// block numbers.
func (a *Archiver) Append(ctx context.Context, logs []chain.RawLog) error {
	if len(logs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, rl := range logs {
		rec := ArchivedLog{
			BlockNumber: rl.Log.BlockNumber,
			BlockTime:   rl.BlockTime,
			TxHash:      rl.Log.TxHash.Hex(),
			LogIndex:    uint32(rl.Log.Index),
			Address:     rl.Log.Address.Hex(),
			Topics:      topicsToHex(rl.Log.Topics),
			Data:        rl.Log.Data,
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("indexer: encode archived log %s:%d: %w", rec.TxHash, rec.LogIndex, err)
		}
	}

	from := logs[0].Log.BlockNumber
	to := logs[len(logs)-1].Log.BlockNumber
	path := fmt.Sprintf("raws/%d/%s/%010d-%010d.jsonl",
		a.chainID, logs[0].BlockTime.UTC().Format("2006-01-02"), from, to)

	var err error
	if buf.Len() > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, &buf, 0)
	} else {
		err = a.writer.Put(ctx, path, &buf, "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("indexer: archive batch %d-%d: %w", from, to, err)
	}

	a.logger.DebugContext(ctx, "batch archived",
		slog.String("path", path),
		slog.Int("logs", len(logs)),
	)
	return nil
}

func topicsToHex(topics []common.Hash) []string {
	out := make([]string, len(topics))
	for i, t := range topics {
		out[i] = t.Hex()
	}
	return out
}
