package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/roach88/harvest/internal/dag"
	"github.com/roach88/harvest/internal/step"
)

// Orphan is an output directory whose step URI is not in the current graph.
type Orphan struct {
	ID  step.ID
	Dir string // relative to the workspace root
}

// Prune walks data/ and removes output directories of steps the graph no
// longer names. Only directories at exactly the step depth whose path parses
// as a step URI are considered; anything else under data/ is left alone, as
// are outputs of known steps, partial or not. With dryRun the candidates are
// reported but nothing is removed.
//
// Returned orphans are sorted by URI (the walk order).
func Prune(workspace string, g *dag.Graph, dryRun bool) ([]Orphan, error) {
	dataDir := DataDir(workspace)

	var orphans []Orphan
	for _, ch := range readSubdirs(dataDir) {
		for _, ns := range readSubdirs(filepath.Join(dataDir, ch)) {
			for _, ver := range readSubdirs(filepath.Join(dataDir, ch, ns)) {
				for _, name := range readSubdirs(filepath.Join(dataDir, ch, ns, ver)) {
					uri := ch + "/" + ns + "/" + ver + "/" + name
					id, err := step.Parse(uri)
					if err != nil {
						continue // not step-shaped, not ours to touch
					}
					if g.Has(id) {
						continue
					}

					rel := filepath.Join(DataDirName, ch, ns, ver, name)
					if !dryRun {
						if err := os.RemoveAll(filepath.Join(workspace, rel)); err != nil {
							return orphans, fmt.Errorf("prune %s: %w", uri, err)
						}
					}
					orphans = append(orphans, Orphan{ID: id, Dir: rel})
				}
			}
		}
	}
	return orphans, nil
}

// readSubdirs returns the names of dir's subdirectories in lexical order.
// Missing or unreadable directories read as empty.
func readSubdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}
