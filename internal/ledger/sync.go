package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// WritebackBy tags history records appended by this system.
const WritebackBy = "mission-control"

// Sync performs read-modify-write cycles against one ledger file.
type Sync struct {
	mu   sync.Mutex
	path string
}

// NewSync creates a Sync for the ledger document at path.
func NewSync(path string) *Sync {
	return &Sync{path: path}
}

// Path returns the ledger file location.
func (s *Sync) Path() string { return s.path }

// Apply records one status update. It appends a history record to the
// matching entry (case-insensitive id match), updates the entry's status
// and the document's lastUpdate, and rewrites the whole file atomically.
// A missing entry is created only when the initiative id was explicitly
// supplied, guarded against duplicate insertion by both id and any known
// external request id.
func (s *Sync) Apply(u Update) error {
	if u.InitiativeID == "" {
		return errors.New("ledger: empty initiative id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	mapped := MapStatus(u.Status)
	record := HistoryRecord{Status: mapped, At: now, By: WritebackBy, Note: u.Note}

	idx := findEntry(doc, u.InitiativeID, u.ExternalRequestID)
	if idx < 0 {
		if !u.Explicit {
			// Inferred ids never seed new entries.
			return fmt.Errorf("ledger: no entry for initiative %s", u.InitiativeID)
		}
		seed := HistoryRecord{Status: StatusPlanned, At: now, By: WritebackBy, Note: "initiative registered"}
		entry := Entry{
			ID:                u.InitiativeID,
			Title:             u.Title,
			Status:            StatusPlanned,
			Created:           now.Format("2006-01-02"),
			Source:            WritebackBy,
			ExternalRequestID: u.ExternalRequestID,
			History:           []HistoryRecord{seed},
		}
		doc.Initiatives = append(doc.Initiatives, entry)
		idx = len(doc.Initiatives) - 1
	}

	entry := &doc.Initiatives[idx]
	entry.History = append(entry.History, record)
	entry.Status = mapped
	doc.LastUpdate = now

	return s.write(doc)
}

// Get returns a copy of the entry with the given id, case-insensitively.
func (s *Sync) Get(initiativeID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	idx := findEntry(doc, initiativeID, "")
	if idx < 0 {
		return nil, fmt.Errorf("ledger: no entry for initiative %s", initiativeID)
	}
	entry := doc.Initiatives[idx]
	return &entry, nil
}

// Load returns the whole document.
func (s *Sync) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func findEntry(doc *Document, id, externalRequestID string) int {
	for i := range doc.Initiatives {
		if strings.EqualFold(doc.Initiatives[i].ID, id) {
			return i
		}
		if externalRequestID != "" && doc.Initiatives[i].ExternalRequestID == externalRequestID {
			return i
		}
	}
	return -1
}

func (s *Sync) load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Document{}, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	return &doc, nil
}

// write marshals the document and swaps it in with a temp file + rename
// so readers never see a partially-written ledger.
func (s *Sync) write(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger tmp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename ledger: %w", err)
	}
	return nil
}
