package audit

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// exportEntry is the wire form of an entry: timestamps as ISO-8601 strings,
// details as an arbitrary JSON object.
type exportEntry struct {
	ID          string         `json:"id"`
	Sequence    uint64         `json:"sequence"`
	Timestamp   string         `json:"timestamp"`
	AgentID     string         `json:"agent_id"`
	Kind        Kind           `json:"kind"`
	Operation   string         `json:"operation"`
	Outcome     Outcome        `json:"outcome"`
	Details     map[string]any `json:"details,omitempty"`
	ContentHash string         `json:"content_hash"`
	PrevHash    string         `json:"prev_hash"`
}

func toExport(e Entry) exportEntry {
	r := Redacted(e)
	return exportEntry{
		ID:          r.ID,
		Sequence:    r.Sequence,
		Timestamp:   r.Timestamp.UTC().Format(time.RFC3339Nano),
		AgentID:     r.AgentID,
		Kind:        r.Kind,
		Operation:   r.Operation,
		Outcome:     r.Outcome,
		Details:     r.Details,
		ContentHash: r.ContentHash,
		PrevHash:    r.PrevHash,
	}
}

// ExportJSON writes the whole log as a JSON array. Export crosses a trust
// boundary, so redaction is applied to every entry.
func (l *Log) ExportJSON(w io.Writer) error {
	entries := l.All()
	out := make([]exportEntry, len(entries))
	for i, e := range entries {
		out[i] = toExport(e)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("audit: export: %w", err)
	}
	return nil
}

// ExportArchive writes a zip archive containing the JSON export plus a small
// manifest with the chain head, for offline retention.
func (l *Log) ExportArchive(w io.Writer) error {
	zw := zip.NewWriter(w)

	entries, err := zw.Create("audit.json")
	if err != nil {
		return fmt.Errorf("audit: archive: %w", err)
	}
	if err := l.ExportJSON(entries); err != nil {
		return err
	}

	manifest, err := zw.Create("manifest.json")
	if err != nil {
		return fmt.Errorf("audit: archive: %w", err)
	}
	meta := map[string]any{
		"entries":     l.Len(),
		"head_hash":   l.Head(),
		"exported_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := json.NewEncoder(manifest).Encode(meta); err != nil {
		return fmt.Errorf("audit: archive manifest: %w", err)
	}
	return zw.Close()
}
