package database

import (
	"context"

	"github.com/pkg/errors"
)

// ErrConfigBlobConflict is returned when a manifest already references a
// config blob other than the one being attached.
var ErrConfigBlobConflict = errors.New("manifest already has a different config blob")

// ErrNotFound is returned by the lookup operations when no row matches.
var ErrNotFound = errors.New("not found")

// Database is the content identity store.
//
// Every CreateOrGet operation either inserts the row or, when a row with the
// same identity already exists, returns that row with created set to false.
// Implementations must make this atomic so that concurrent writers converge
// on a single row.
type Database interface {
	CreateSchemaIfNecessary(ctx context.Context) error

	CreateOrGetArtifact(ctx context.Context, artifact *Artifact) (*Artifact, bool, error)
	CreateOrGetBlob(ctx context.Context, blob *Blob) (*Blob, bool, error)
	CreateOrGetManifest(ctx context.Context, manifest *Manifest) (*Manifest, bool, error)
	CreateOrGetManifestList(ctx context.Context, list *ManifestList) (*ManifestList, bool, error)
	CreateOrGetManifestTag(ctx context.Context, tag *ManifestTag) (*ManifestTag, bool, error)
	CreateOrGetListTag(ctx context.Context, tag *ListTag) (*ListTag, bool, error)

	// AddListManifest and AddManifestBlob insert an edge; inserting an
	// existing edge is a no-op reported as created == false.
	AddListManifest(ctx context.Context, listDigest, manifestDigest string) (bool, error)
	AddManifestBlob(ctx context.Context, manifestDigest, blobDigest string) (bool, error)

	// SetConfigBlob attaches the config blob to a manifest. Setting the same
	// value again is a no-op, setting a different one returns
	// ErrConfigBlobConflict.
	SetConfigBlob(ctx context.Context, manifestDigest, blobDigest string) error

	// LinkContentArtifact records which artifact backs a content row. A link
	// without an artifact never overwrites one that has it.
	LinkContentArtifact(ctx context.Context, link *ContentArtifact) error

	GetManifest(ctx context.Context, digest string) (*Manifest, error)
	IsArtifact(ctx context.Context, digest string) (bool, error)
	IsBlob(ctx context.Context, digest string) (bool, error)
	IsManifest(ctx context.Context, digest string) (bool, error)
}
