// Package checksum computes and records the content-addressed checksums
// that drive incremental execution.
//
// Every step has two digests. The input checksum covers only the step's own
// source artifacts on disk. The full checksum folds the input checksum
// together with the full checksums of every dependency, so any change to a
// step's transitive inputs changes its full checksum. A step is dirty when
// its current full checksum disagrees with the one recorded after its last
// successful run.
//
// All digests are SHA-256 over a domain-separated payload: the domain string,
// a zero byte, then the canonical JSON encoding of the hashed value. Domain
// separation keeps input and full checksums from ever colliding even when
// their payloads happen to match.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/roach88/harvest/internal/step"
)

// Hashing domains. Bump the version suffix when the hashed payload shape
// changes, so stale records from older layouts read as dirty instead of
// colliding with the new scheme.
const (
	DomainStepInput = "harvest/step-input/v1"
	DomainStepFull  = "harvest/step-full/v1"
)

// Checksum is a lowercase hex-encoded SHA-256 digest.
type Checksum string

// Valid reports whether c looks like a digest this package produced:
// exactly 64 lowercase hex characters.
func (c Checksum) Valid() bool {
	if len(c) != 64 {
		return false
	}
	for _, r := range c {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// Short returns a truncated digest for log lines.
func (c Checksum) Short() string {
	if len(c) < 12 {
		return string(c)
	}
	return string(c[:12])
}

// hashWithDomain computes SHA256(domain || 0x00 || data) and returns it as
// a lowercase hex Checksum. The zero byte separates the domain from the
// payload so no payload can impersonate a different domain.
func hashWithDomain(domain string, data []byte) Checksum {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0})
	h.Write(data)
	return Checksum(hex.EncodeToString(h.Sum(nil)))
}

// hashCanonical canonically encodes v and hashes it under domain.
func hashCanonical(domain string, v any) (Checksum, error) {
	enc, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("encoding for %s: %w", domain, err)
	}
	return hashWithDomain(domain, enc), nil
}

// MissingSourceError reports a step whose declared source artifact does not
// exist on disk. Input checksums cannot be computed for such steps.
type MissingSourceError struct {
	Step step.ID
	Path string
}

func (e *MissingSourceError) Error() string {
	return fmt.Sprintf("step %s: source artifact missing: %s", e.Step, e.Path)
}

// IsMissingSource reports whether err wraps a MissingSourceError.
func IsMissingSource(err error) bool {
	var mse *MissingSourceError
	return errors.As(err, &mse)
}

// artifact is one hashed file belonging to a step's source tree.
type artifact struct {
	relPath string
	digest  string
}

// inputPayload builds the canonical value hashed for a step's input
// checksum: the step URI plus the (path, sha256) pair of every source file,
// ordered by path.
func inputPayload(id step.ID, artifacts []artifact) map[string]any {
	files := make([]any, 0, len(artifacts))
	for _, a := range artifacts {
		files = append(files, map[string]any{
			"path":   a.relPath,
			"sha256": a.digest,
		})
	}
	return map[string]any{
		"step":  id.String(),
		"files": files,
	}
}

// collectArtifacts gathers and hashes the source files of id under
// workspace. A single-file source yields one artifact; a directory source
// yields one artifact per regular file, sorted by workspace-relative path.
// Stub steps without a source file yield an empty list.
func collectArtifacts(workspace string, id step.ID) ([]artifact, error) {
	src := id.SourcePath(workspace)

	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			if !id.SourceRequired() {
				return nil, nil
			}
			rel, relErr := filepath.Rel(workspace, src)
			if relErr != nil {
				rel = src
			}
			return nil, &MissingSourceError{Step: id, Path: rel}
		}
		return nil, fmt.Errorf("step %s: stat source: %w", id, err)
	}

	if !info.IsDir() {
		digest, err := hashFile(src)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", id, err)
		}
		rel, err := filepath.Rel(workspace, src)
		if err != nil {
			return nil, fmt.Errorf("step %s: relativize %s: %w", id, src, err)
		}
		return []artifact{{relPath: filepath.ToSlash(rel), digest: digest}}, nil
	}

	var artifacts []artifact
	walkErr := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		digest, err := hashFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(workspace, path)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, artifact{relPath: filepath.ToSlash(rel), digest: digest})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("step %s: walk source: %w", id, walkErr)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].relPath < artifacts[j].relPath
	})
	return artifacts, nil
}

// hashFile returns the lowercase hex SHA-256 of a file's contents.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
