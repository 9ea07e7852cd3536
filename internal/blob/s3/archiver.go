package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/amadeodlp/cryptara/internal/domain"
	"github.com/amadeodlp/cryptara/internal/metrics"
)

const (
	jsonlContentType = "application/x-ndjson"
	// Payloads above this size go through the multipart uploader.
	multipartThreshold = 16 * 1024 * 1024
)

// TransactionArchiver implements domain.Archiver. It writes one JSONL object
// per UTC day at archive/transactions/YYYY/MM/DD.jsonl and never deletes
// from the transaction log.
type TransactionArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	log    domain.TransactionLog
	logger *slog.Logger
}

// NewArchiver creates a TransactionArchiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, log domain.TransactionLog, logger *slog.Logger) *TransactionArchiver {
	return &TransactionArchiver{
		writer: writer,
		reader: reader,
		log:    log,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveDay uploads the records created on day. Days that already have an
// object are skipped and report zero.
func (a *TransactionArchiver) ArchiveDay(ctx context.Context, day time.Time) (int64, error) {
	from := truncateDay(day)
	to := from.AddDate(0, 0, 1)
	path := archivePath(from)

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", path, err)
	}
	if exists {
		a.logger.DebugContext(ctx, "archiver: day already archived", slog.String("path", path))
		return 0, nil
	}

	recs, err := a.log.ListBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query %s: %w", from.Format(time.DateOnly), err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), jsonlContentType, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	n := int64(len(recs))
	metrics.AddArchived(n)
	a.logger.InfoContext(ctx, "archiver: day archived",
		slog.String("path", path),
		slog.Int64("records", n),
	)
	return n, nil
}

// ArchiveRange archives every whole day in [from, before) and returns the
// total record count.
func (a *TransactionArchiver) ArchiveRange(ctx context.Context, from, before time.Time) (int64, error) {
	var total int64
	for d := truncateDay(from); d.Before(truncateDay(before)); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := a.ArchiveDay(ctx, d)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// archivePath is archive/transactions/2025/01/31.jsonl.
func archivePath(day time.Time) string {
	return "archive/transactions/" + day.Format("2006/01/02") + ".jsonl"
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// marshalJSONL encodes one compact JSON document per line.
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

var _ domain.Archiver = (*TransactionArchiver)(nil)
