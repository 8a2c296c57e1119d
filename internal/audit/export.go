package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Wikid82/sentinel/backend/internal/models"
)

// Format is an export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ErrUnsupportedFormat is returned for unknown export formats.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat normalizes a format name.
func ParseFormat(v string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(v))); f {
	case FormatCSV, FormatJSON:
		return f, nil
	case "":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, v)
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

var csvHeader = []string{
	"id", "created_at", "actor_id", "organization_id", "store_id", "action",
	"resource_table", "resource_id", "severity", "category", "source_ip", "user_agent",
}

type exportDocument struct {
	ExportedAt time.Time           `json:"exported_at"`
	Count      int                 `json:"count"`
	Filter     Filter              `json:"filter"`
	Events     []models.AuditEvent `json:"events"`
}

// Export writes the events matching f to w. The page size is ignored up to
// an upper bound on exported rows.
func (l *Log) Export(ctx context.Context, w io.Writer, f Filter, format Format) (int, error) {
	if f.Limit <= 0 || f.Limit > maxExportRows {
		f.Limit = maxExportRows
	}
	events, _, err := l.store.Query(ctx, f)
	if err != nil {
		return 0, err
	}

	switch format {
	case FormatCSV:
		return len(events), writeCSV(w, events)
	case FormatJSON:
		if events == nil {
			events = []models.AuditEvent{}
		}
		doc := exportDocument{ExportedAt: l.now().UTC(), Count: len(events), Filter: f, Events: events}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return 0, fmt.Errorf("encode export: %w", err)
		}
		return len(events), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

func writeCSV(w io.Writer, events []models.AuditEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, ev := range events {
		row := []string{
			ev.ID,
			ev.CreatedAt.UTC().Format(time.RFC3339),
			ev.ActorID,
			ev.OrganizationID,
			ev.StoreID,
			ev.Action,
			ev.ResourceTable,
			ev.ResourceID,
			string(ev.Severity),
			string(ev.Category),
			ev.SourceIP,
			ev.UserAgent,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
