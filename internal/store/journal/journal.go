// Package journal implements the write-ahead fallback for Store's
// CommitPollOutcome when the underlying MongoDB deployment has no replica
// set (and therefore no multi-document transaction support). Each pending
// commit is written to its own file before the three writes are applied
// sequentially; the file is removed only once all three have succeeded.
// On startup, Replay re-applies any file left behind by a crash between
// the write and the removal.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tunahanbr/willhaben/internal/platform/event"
	"github.com/tunahanbr/willhaben/internal/platform/listing"
	"github.com/tunahanbr/willhaben/internal/platform/target"
)

// Entry is one pending commit: the target state, the canonical listing
// mutations, and the events it produced.
type Entry struct {
	Target   *target.PollingTarget  `json:"target"`
	Listings []*listing.Listing     `json:"listings"`
	Events   []*event.ChangeEvent   `json:"events"`
	WrittenAt time.Time             `json:"writtenAt"`
}

// Journal is a directory of one-file-per-pending-commit records.
type Journal struct {
	dir string
}

// Open ensures the journal directory exists and returns a handle to it.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}
	return &Journal{dir: dir}, nil
}

// Write persists a pending commit and returns its id (the filename), used
// to Remove it once the underlying writes succeed.
func (j *Journal) Write(e Entry) (string, error) {
	e.WrittenAt = time.Now()
	id := fmt.Sprintf("%d-%s.json", e.WrittenAt.UnixNano(), e.Target.ID)

	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("journal: marshal entry: %w", err)
	}

	path := filepath.Join(j.dir, id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("journal: write entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("journal: commit entry: %w", err)
	}
	return id, nil
}

// Remove deletes a completed commit's journal file.
func (j *Journal) Remove(id string) error {
	err := os.Remove(filepath.Join(j.dir, id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Pending lists journal entries left behind by a prior crash, oldest first.
func (j *Journal) Pending() ([]Entry, []string, error) {
	files, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, nil, fmt.Errorf("journal: read dir: %w", err)
	}

	var names []string
	for _, f := range files {
		if !f.IsDir() && filepath.Ext(f.Name()) == ".json" {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(j.dir, name))
		if err != nil {
			return nil, nil, fmt.Errorf("journal: read entry %s: %w", name, err)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, nil, fmt.Errorf("journal: decode entry %s: %w", name, err)
		}
		entries = append(entries, e)
	}
	return entries, names, nil
}
