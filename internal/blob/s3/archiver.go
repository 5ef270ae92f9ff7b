package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quforge/qubet/internal/domain"
)

// archiveBatch bounds how many records one archival run pulls per table.
const archiveBatch = 5000

// multipartThreshold is the payload size above which uploads go through the
// multipart manager instead of a single put.
const multipartThreshold = 8 << 20

// roundRecord is the archived form of a settled round: the round itself with
// its entries and price snapshots inlined, one JSON object per line.
type roundRecord struct {
	Round     domain.Round           `json:"round"`
	Entries   []domain.RoundEntry    `json:"entries"`
	Snapshots []domain.PriceSnapshot `json:"snapshots"`
}

// marketRecord is the archived form of a terminal market with its escrows.
type marketRecord struct {
	Market  domain.Market   `json:"market"`
	Escrows []domain.Escrow `json:"escrows"`
}

// Archiver exports settled rounds and terminal markets to object storage as
// JSONL. Deleting archived rows from the primary store is intentionally a
// separate, explicit operation run after the archive has been verified.
type Archiver struct {
	writer    domain.BlobWriter
	rounds    domain.RoundStore
	markets   domain.MarketStore
	status    domain.StatusStore
	retention time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver keeping retention worth of history in the
// primary store.
func NewArchiver(
	writer domain.BlobWriter,
	rounds domain.RoundStore,
	markets domain.MarketStore,
	status domain.StatusStore,
	retention time.Duration,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:    writer,
		rounds:    rounds,
		markets:   markets,
		status:    status,
		retention: retention,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run archives everything older than the retention cutoff. Scheduler job.
func (a *Archiver) Run(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-a.retention)

	roundCount, err := a.ArchiveRounds(ctx, cutoff)
	if err != nil {
		return err
	}
	marketCount, err := a.ArchiveMarkets(ctx, cutoff)
	if err != nil {
		return err
	}

	if err := a.status.Set(ctx, domain.StatusKeyLastArchiveRun, now.Format(time.RFC3339)); err != nil {
		a.logger.WarnContext(ctx, "record archive run failed", slog.String("error", err.Error()))
	}
	if roundCount > 0 || marketCount > 0 {
		a.logger.InfoContext(ctx, "archive run complete",
			slog.Int64("rounds", roundCount),
			slog.Int64("markets", marketCount),
			slog.Time("cutoff", cutoff),
		)
	}
	return nil
}

// ArchiveRounds exports settled rounds closed before the cutoff to
// archive/rounds/YYYY-MM.jsonl and returns the record count.
func (a *Archiver) ArchiveRounds(ctx context.Context, before time.Time) (int64, error) {
	rounds, err := a.rounds.ListSettledBefore(ctx, before, domain.ListOpts{Limit: archiveBatch})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rounds query: %w", err)
	}
	if len(rounds) == 0 {
		return 0, nil
	}

	records := make([]roundRecord, 0, len(rounds))
	for _, r := range rounds {
		entries, err := a.rounds.ListEntries(ctx, r.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive round %s entries: %w", r.ID, err)
		}
		snaps, err := a.rounds.ListSnapshots(ctx, r.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive round %s snapshots: %w", r.ID, err)
		}
		records = append(records, roundRecord{Round: r, Entries: entries, Snapshots: snaps})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rounds marshal: %w", err)
	}
	if err := a.upload(ctx, archivePath("rounds", before), buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive rounds upload: %w", err)
	}
	return int64(len(records)), nil
}

// ArchiveMarkets exports resolved and voided markets whose resolve time
// passed before the cutoff to archive/markets/YYYY-MM.jsonl.
func (a *Archiver) ArchiveMarkets(ctx context.Context, before time.Time) (int64, error) {
	markets, err := a.markets.ListTerminalBefore(ctx, before, domain.ListOpts{Limit: archiveBatch})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets query: %w", err)
	}
	if len(markets) == 0 {
		return 0, nil
	}

	records := make([]marketRecord, 0, len(markets))
	for _, m := range markets {
		escrows, err := a.markets.ListEscrows(ctx, m.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive market %s escrows: %w", m.ID, err)
		}
		records = append(records, marketRecord{Market: m, Escrows: escrows})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets marshal: %w", err)
	}
	if err := a.upload(ctx, archivePath("markets", before), buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive markets upload: %w", err)
	}
	return int64(len(records)), nil
}

// upload picks single-put or multipart based on payload size.
func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if len(buf) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

// marshalJSONL serializes a slice as newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// archivePath builds the object key archive/<kind>/YYYY-MM.jsonl from the
// cutoff month.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}
