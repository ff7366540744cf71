package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// jsonlContentType is the media type of archive objects.
const jsonlContentType = "application/x-ndjson"

// multipartThreshold switches uploads to the transfer manager.
const multipartThreshold = 8 * 1024 * 1024

// multipartWriter is implemented by Writer.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// archivedOutcome is one JSONL line of an archive object.
type archivedOutcome struct {
	TxHash      string    `json:"txHash"`
	Player      string    `json:"player"`
	AmountWei   string    `json:"amountWei"`
	AmountEther string    `json:"amountEther"`
	BlockNumber uint64    `json:"blockNumber"`
	Timestamp   time.Time `json:"timestamp"`
}

func toArchived(e domain.OutcomeEvent) archivedOutcome {
	amount := "0"
	if e.Amount != nil {
		amount = e.Amount.String()
	}
	return archivedOutcome{
		TxHash:      e.TxHash.Hex(),
		Player:      e.Player.Hex(),
		AmountWei:   amount,
		AmountEther: domain.FormatEther(e.Amount),
		BlockNumber: e.BlockNumber,
		Timestamp:   e.Time(),
	}
}

// ArchiveImpl implements domain.Archiver. It copies persisted outcome events
// older than a cutoff to one JSONL object per cutoff; the rows stay in the
// store because the history poller would re-insert them.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	store  domain.OutcomeStore
	audit  domain.AuditStore
}

// NewArchiver creates an ArchiveImpl. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, store domain.OutcomeStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		store:  store,
		audit:  audit,
	}
}

// ArchiveOutcomes writes every event before the cutoff and returns how many
// were archived. It does nothing when the object for this cutoff already
// exists or there is nothing to archive. The upload is read back and its
// line count checked.
func (a *ArchiveImpl) ArchiveOutcomes(ctx context.Context, before time.Time) (int64, error) {
	path := archivePath(before)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes: %w", err)
	}
	if exists {
		return 0, nil
	}

	events, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	records := make([]archivedOutcome, len(events))
	for i, e := range events {
		records[i] = toArchived(e)
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes marshal: %w", err)
	}

	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes upload: %w", err)
	}
	if err := a.verify(ctx, path, len(records)); err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes verify: %w", err)
	}

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.outcomes", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive outcomes audit log: %w", err)
		}
	}
	return count, nil
}

func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	if mw, ok := a.writer.(multipartWriter); ok && len(buf) > multipartThreshold {
		return mw.PutMultipart(ctx, path, bytes.NewReader(buf), jsonlContentType, minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
}

func (a *ArchiveImpl) verify(ctx context.Context, path string, want int) error {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return err
	}
	defer body.Close()

	got := 0
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) > 0 {
			got++
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%s holds %d records, want %d", path, got, want)
	}
	return nil
}

// archivePath partitions archives by the UTC date of the cutoff:
//
//	history/2025/01/31/outcomes-1738281600.jsonl
func archivePath(before time.Time) string {
	b := before.UTC()
	return fmt.Sprintf("history/%04d/%02d/%02d/outcomes-%d.jsonl", b.Year(), int(b.Month()), b.Day(), b.Unix())
}

// marshalJSONL encodes records as newline-delimited JSON.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
