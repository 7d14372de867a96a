package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// ArchiveImpl implements domain.Archiver by querying the stores for aged
// records, serializing them to JSONL, and uploading the result.
//
// Deletion of archived records from the primary store is intentionally not
// performed here; that is a separate, explicit step after the archive has
// been verified.
type ArchiveImpl struct {
	writer      domain.BlobWriter
	resolutions domain.ResolutionStore
	audit       domain.AuditStore
}

// NewArchiver creates an ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, resolutions domain.ResolutionStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:      writer,
		resolutions: resolutions,
		audit:       audit,
	}
}

// ArchiveResolutions uploads all resolution records created before the cutoff
// to archive/resolutions/YYYY-MM.jsonl and records the archival in the audit
// log. It returns the count of archived records.
func (a *ArchiveImpl) ArchiveResolutions(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.resolutions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive resolutions query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive resolutions marshal: %w", err)
	}

	path := archivePath("resolutions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive resolutions upload: %w", err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive.resolutions", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive resolutions audit log: %w", err)
	}

	return count, nil
}

// ArchiveAudit uploads all audit entries created before the cutoff to
// archive/audit/YYYY-MM.jsonl. It returns the count of archived entries.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	return int64(len(entries)), nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/resolutions/2026-08.jsonl
//	archive/audit/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON, one
// compact line per record.
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
