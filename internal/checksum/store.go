package checksum

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/harvest/internal/step"
)

// RecordFilename is the name of the checksum record written into a step's
// output directory after a successful run.
const RecordFilename = ".checksum"

// RecordPath returns the location of a step's checksum record.
func RecordPath(workspace string, id step.ID) string {
	return filepath.Join(id.OutputDir(workspace), RecordFilename)
}

// DependencyGraph supplies the direct dependencies of a step, sorted by
// step identifier. *dag.Graph satisfies this.
type DependencyGraph interface {
	Dependencies(id step.ID) []step.ID
}

// Store computes step checksums against a workspace and reads and writes
// the per-step checksum records that mark successful runs.
//
// Input and full checksums are memoized for the lifetime of the Store. Both
// are functions of source artifacts only, never of step outputs, so a memo
// entry stays valid across the run that created it. Methods are safe for
// concurrent use.
type Store struct {
	workspace string
	graph     DependencyGraph

	mu        sync.RWMutex
	memoInput map[step.ID]Checksum
	memoFull  map[step.ID]Checksum
}

// NewStore returns a Store over the given workspace and dependency graph.
func NewStore(workspace string, graph DependencyGraph) *Store {
	return &Store{
		workspace: workspace,
		graph:     graph,
		memoInput: make(map[step.ID]Checksum),
		memoFull:  make(map[step.ID]Checksum),
	}
}

// InputChecksum returns the digest of a step's own source artifacts. Steps
// whose source is a directory hash every regular file under it; stub steps
// without a source on disk hash an empty file list. A required source that
// is missing yields a MissingSourceError.
func (s *Store) InputChecksum(id step.ID) (Checksum, error) {
	s.mu.RLock()
	sum, ok := s.memoInput[id]
	s.mu.RUnlock()
	if ok {
		return sum, nil
	}

	artifacts, err := collectArtifacts(s.workspace, id)
	if err != nil {
		return "", err
	}
	sum, err = hashCanonical(DomainStepInput, inputPayload(id, artifacts))
	if err != nil {
		return "", fmt.Errorf("step %s: %w", id, err)
	}

	s.mu.Lock()
	s.memoInput[id] = sum
	s.mu.Unlock()
	return sum, nil
}

// FullChecksum returns the digest covering a step's entire transitive input
// surface: its own input checksum plus the full checksums of all direct
// dependencies. Any change to any transitive source changes this value.
//
// The computation walks an explicit worklist instead of recursing, so
// diamond-shaped graphs cost one computation per step rather than one per
// path. The graph is acyclic by construction, which guarantees termination.
func (s *Store) FullChecksum(id step.ID) (Checksum, error) {
	if sum, ok := s.memoizedFull(id); ok {
		return sum, nil
	}

	stack := []step.ID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		if _, ok := s.memoizedFull(cur); ok {
			stack = stack[:len(stack)-1]
			continue
		}

		deps := s.graph.Dependencies(cur)
		blocked := false
		for _, dep := range deps {
			if _, ok := s.memoizedFull(dep); !ok {
				stack = append(stack, dep)
				blocked = true
			}
		}
		if blocked {
			continue
		}

		input, err := s.InputChecksum(cur)
		if err != nil {
			return "", err
		}
		depSums := make([]string, 0, len(deps))
		for _, dep := range deps {
			sum, _ := s.memoizedFull(dep)
			depSums = append(depSums, string(sum))
		}
		sort.Strings(depSums)

		sum, err := hashCanonical(DomainStepFull, map[string]any{
			"input": string(input),
			"deps":  depSums,
		})
		if err != nil {
			return "", fmt.Errorf("step %s: %w", cur, err)
		}
		s.storeFull(cur, sum)
		stack = stack[:len(stack)-1]
	}

	sum, _ := s.memoizedFull(id)
	return sum, nil
}

func (s *Store) memoizedFull(id step.ID) (Checksum, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.memoFull[id]
	return sum, ok
}

func (s *Store) storeFull(id step.ID, sum Checksum) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memoFull[id] = sum
}

// Recorded returns the checksum persisted by the step's last successful
// run. A missing record means the step has never completed. A record that
// cannot be parsed is treated the same way; execution then rebuilds the
// step and rewrites the record, so corruption is self-healing.
func (s *Store) Recorded(id step.ID) (Checksum, bool) {
	path := RecordPath(s.workspace, id)
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("unreadable checksum record", "step", id.String(), "path", path, "error", err)
		}
		return "", false
	}

	sum := Checksum(strings.TrimSpace(string(raw)))
	if !sum.Valid() {
		slog.Debug("ignoring malformed checksum record", "step", id.String(), "path", path)
		return "", false
	}
	return sum, true
}

// Persist writes sum as the step's checksum record. The write goes through
// a temporary file in the output directory followed by a rename, so readers
// observe either the old record or the new one, never a partial write.
func (s *Store) Persist(id step.ID, sum Checksum) error {
	dir := id.OutputDir(s.workspace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("step %s: create output dir: %w", id, err)
	}

	tmp, err := os.CreateTemp(dir, RecordFilename+".tmp-*")
	if err != nil {
		return fmt.Errorf("step %s: create temp record: %w", id, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(string(sum) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("step %s: write record: %w", id, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("step %s: sync record: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("step %s: close record: %w", id, err)
	}
	if err := os.Rename(tmpName, RecordPath(s.workspace, id)); err != nil {
		return fmt.Errorf("step %s: commit record: %w", id, err)
	}
	return nil
}

// IsDirty reports whether a step needs to run: its current full checksum
// differs from the recorded one, or no usable record exists.
func (s *Store) IsDirty(id step.ID) (bool, error) {
	current, err := s.FullChecksum(id)
	if err != nil {
		return false, err
	}
	recorded, ok := s.Recorded(id)
	if !ok {
		return true, nil
	}
	return recorded != current, nil
}
