// Package step defines step identifiers: the canonical, parsed form of the
// URI-like strings that name every unit of work in the pipeline.
//
// A step URI has the form
//
//	<channel>/<namespace>/<version>/<short_name>
//
// for example "garden/demography/2024-07-15/population". The channel names
// the pipeline stage and is constrained to a fixed set; the version is a
// YYYY-MM-DD date or the literal "latest". An ID uniquely determines one
// output directory and one source-artifact location under a workspace, so
// IDs double as graph-node keys and as on-disk path roots.
package step

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Channel is the pipeline stage a step belongs to.
type Channel string

// The fixed channel set, in pipeline order. External marks steps whose
// transformation happens outside the engine entirely; the engine tracks them
// for ordering and checksums but never executes anything for them.
const (
	ChannelSnapshot Channel = "snapshot"
	ChannelMeadow   Channel = "meadow"
	ChannelGarden   Channel = "garden"
	ChannelGrapher  Channel = "grapher"
	ChannelExport   Channel = "export"
	ChannelExternal Channel = "external"
)

// Channels returns the valid channels in pipeline order.
func Channels() []Channel {
	return []Channel{
		ChannelSnapshot,
		ChannelMeadow,
		ChannelGarden,
		ChannelGrapher,
		ChannelExport,
		ChannelExternal,
	}
}

// Valid reports whether c is one of the fixed channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSnapshot, ChannelMeadow, ChannelGarden, ChannelGrapher, ChannelExport, ChannelExternal:
		return true
	default:
		return false
	}
}

// Kind distinguishes steps the engine executes from external stubs.
type Kind int

const (
	// KindData is a step whose run-function produces a dataset on disk.
	KindData Kind = iota
	// KindStub is an external-collaborator step: a graph node with a
	// checksum but no transformation of its own.
	KindStub
)

func (k Kind) String() string {
	if k == KindStub {
		return "stub"
	}
	return "data"
}

// ID is the immutable identity of one step. Two IDs are equal iff all four
// fields are equal; the zero value is not a valid ID.
type ID struct {
	Channel   Channel
	Namespace string
	Version   string
	ShortName string
}

const uriSegments = 4

var (
	segmentRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	versionRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// VersionLatest is the floating version label accepted wherever a date is.
const VersionLatest = "latest"

// ParseError reports a malformed step URI, naming the offending segment.
type ParseError struct {
	URI     string
	Segment string // "uri", "channel", "namespace", "version" or "short name"
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed step URI %q: %s: %s", e.URI, e.Segment, e.Reason)
}

// Parse converts a step URI string into an ID. Parsing is pure: it never
// touches the filesystem. Malformed input fails with a *ParseError naming
// the offending segment.
func Parse(uri string) (ID, error) {
	parts := strings.Split(uri, "/")
	if len(parts) != uriSegments {
		return ID{}, &ParseError{
			URI:     uri,
			Segment: "uri",
			Reason:  fmt.Sprintf("expected %d segments <channel>/<namespace>/<version>/<short_name>, got %d", uriSegments, len(parts)),
		}
	}

	channel := Channel(parts[0])
	if !channel.Valid() {
		return ID{}, &ParseError{
			URI:     uri,
			Segment: "channel",
			Reason:  fmt.Sprintf("%q is not one of %v", parts[0], Channels()),
		}
	}

	if !segmentRE.MatchString(parts[1]) {
		return ID{}, &ParseError{URI: uri, Segment: "namespace", Reason: fmt.Sprintf("invalid segment %q", parts[1])}
	}

	if parts[2] != VersionLatest && !versionRE.MatchString(parts[2]) {
		return ID{}, &ParseError{
			URI:     uri,
			Segment: "version",
			Reason:  fmt.Sprintf("%q is neither a YYYY-MM-DD date nor %q", parts[2], VersionLatest),
		}
	}

	if !segmentRE.MatchString(parts[3]) {
		return ID{}, &ParseError{URI: uri, Segment: "short name", Reason: fmt.Sprintf("invalid segment %q", parts[3])}
	}

	return ID{
		Channel:   channel,
		Namespace: parts[1],
		Version:   parts[2],
		ShortName: parts[3],
	}, nil
}

// MustParse is like Parse but panics on error. Use only in tests or with
// literals known to be valid.
func MustParse(uri string) ID {
	id, err := Parse(uri)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical URI form of the ID.
func (id ID) String() string {
	return string(id.Channel) + "/" + id.Namespace + "/" + id.Version + "/" + id.ShortName
}

// Less orders IDs lexically by their URI. This is the tie-break order used
// everywhere determinism matters (topological sort, ready queues, reports).
func (id ID) Less(other ID) bool {
	return id.String() < other.String()
}

// Kind reports whether the step is a data step or an external stub.
func (id ID) Kind() Kind {
	if id.Channel == ChannelExternal {
		return KindStub
	}
	return KindData
}

// OutputDir returns the step's output directory under the workspace. IDs are
// unique, so output directories are unique; no two steps ever write the same
// path.
func (id ID) OutputDir(workspace string) string {
	return filepath.Join(workspace, "data", string(id.Channel), id.Namespace, id.Version, id.ShortName)
}

// SourcePath returns the conventional location of the step's declaring
// source artifacts under the workspace:
//
//	snapshot  snapshots/<ns>/<version>/<short_name>.yml   (manifest, required)
//	external  external/<ns>/<version>/<short_name>.yml    (manifest, optional)
//	others    steps/<channel>/<ns>/<version>/<short_name> (executable file or
//	          directory of files, required)
//
// Whether the path must exist, and whether it may be a directory, is the
// checksum layer's concern.
func (id ID) SourcePath(workspace string) string {
	switch id.Channel {
	case ChannelSnapshot:
		return filepath.Join(workspace, "snapshots", id.Namespace, id.Version, id.ShortName+".yml")
	case ChannelExternal:
		return filepath.Join(workspace, "external", id.Namespace, id.Version, id.ShortName+".yml")
	default:
		return filepath.Join(workspace, "steps", string(id.Channel), id.Namespace, id.Version, id.ShortName)
	}
}

// SourceRequired reports whether a missing source artifact is an error for
// this step. External stubs may be declared by URI alone.
func (id ID) SourceRequired() bool {
	return id.Channel != ChannelExternal
}
