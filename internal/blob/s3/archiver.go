package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// OutcomeArchiveStore provides read access to trade outcomes for archival
// purposes. The Postgres OutcomeStore satisfies this implicitly.
type OutcomeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeOutcome, error)
}

// EstimateArchiveStore provides read access to cost estimates for archival
// purposes.
type EstimateArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeCostEstimate, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for old
// records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here -- that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	outcomes  OutcomeArchiveStore
	estimates EstimateArchiveStore
	logger    *slog.Logger
}

// NewArchiver creates a new ArchiveImpl. reader may be nil, in which case
// the post-upload existence check is skipped.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	outcomes OutcomeArchiveStore,
	estimates EstimateArchiveStore,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		reader:    reader,
		outcomes:  outcomes,
		estimates: estimates,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// verify confirms the uploaded archive object is readable before the caller
// prunes the archived rows.
func (a *ArchiveImpl) verify(ctx context.Context, path string) error {
	if a.reader == nil {
		return nil
	}
	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: verify %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("s3blob: verify %s: object missing after upload", path)
	}
	return nil
}

// ArchiveOutcomes queries all trade outcomes before the cutoff, serializes
// them to JSONL, and uploads the file to S3 at
// archive/outcomes/YYYY-MM.jsonl. The count of archived records is returned.
func (a *ArchiveImpl) ArchiveOutcomes(ctx context.Context, before time.Time) (int64, error) {
	outcomes, err := a.outcomes.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes query: %w", err)
	}
	if len(outcomes) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(outcomes)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes marshal: %w", err)
	}

	path := archivePath("outcomes", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes upload: %w", err)
	}
	if err := a.verify(ctx, path); err != nil {
		return 0, err
	}

	count := int64(len(outcomes))
	a.logger.Info("archived outcomes",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Time("before", before),
	)
	return count, nil
}

// ArchiveEstimates queries all cost estimates before the cutoff, serializes
// them to JSONL, and uploads the file to S3 at
// archive/estimates/YYYY-MM.jsonl. The count of archived records is returned.
func (a *ArchiveImpl) ArchiveEstimates(ctx context.Context, before time.Time) (int64, error) {
	estimates, err := a.estimates.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive estimates query: %w", err)
	}
	if len(estimates) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(estimates)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive estimates marshal: %w", err)
	}

	path := archivePath("estimates", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive estimates upload: %w", err)
	}
	if err := a.verify(ctx, path); err != nil {
		return 0, err
	}

	count := int64(len(estimates))
	a.logger.Info("archived estimates",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Time("before", before),
	)
	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/outcomes/2025-01.jsonl
//	archive/estimates/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
