package mock

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/vleurgat/regsync/internal/app/database"
)

// Edge is a (from, to) pair in one of the edge tables.
type Edge struct {
	From string
	To   string
}

// Database: in-memory implementation of Database. Unique constraints are
// enforced under a single lock, so concurrent callers converge on one row.
type Database struct {
	mu sync.Mutex

	Artifacts        map[string]*database.Artifact
	Blobs            map[string]*database.Blob
	Manifests        map[string]*database.Manifest
	ManifestLists    map[string]*database.ManifestList
	ManifestTags     map[Edge]*database.ManifestTag
	ListTags         map[Edge]*database.ListTag
	ListManifests    map[Edge]bool
	ManifestBlobs    map[Edge]bool
	ContentArtifacts map[Edge]*database.ContentArtifact

	// Created counts rows actually inserted, per table.
	Created map[string]int
}

// CreateDatabase creates a mock Database implementation
func CreateDatabase() *Database {
	return &Database{
		Artifacts:        map[string]*database.Artifact{},
		Blobs:            map[string]*database.Blob{},
		Manifests:        map[string]*database.Manifest{},
		ManifestLists:    map[string]*database.ManifestList{},
		ManifestTags:     map[Edge]*database.ManifestTag{},
		ListTags:         map[Edge]*database.ListTag{},
		ListManifests:    map[Edge]bool{},
		ManifestBlobs:    map[Edge]bool{},
		ContentArtifacts: map[Edge]*database.ContentArtifact{},
		Created:          map[string]int{},
	}
}

func (db *Database) CreateSchemaIfNecessary(ctx context.Context) error {
	// no op
	return nil
}

// ResetCreated clears the insert counters, leaving the rows in place.
func (db *Database) ResetCreated() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.Created = map[string]int{}
}

// CreatedTotal returns the number of content rows inserted since the last reset.
func (db *Database) CreatedTotal() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	total := 0
	for _, n := range db.Created {
		total += n
	}
	return total
}

func (db *Database) CreateOrGetArtifact(ctx context.Context, artifact *database.Artifact) (*database.Artifact, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if existing, ok := db.Artifacts[artifact.Digest]; ok {
		row := *existing
		return &row, false, nil
	}
	row := *artifact
	db.Artifacts[row.Digest] = &row
	db.Created["artifacts"]++
	out := row
	return &out, true, nil
}

func (db *Database) CreateOrGetBlob(ctx context.Context, blob *database.Blob) (*database.Blob, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if existing, ok := db.Blobs[blob.Digest]; ok {
		row := *existing
		return &row, false, nil
	}
	row := *blob
	db.Blobs[row.Digest] = &row
	db.Created["blobs"]++
	out := row
	return &out, true, nil
}

func (db *Database) CreateOrGetManifest(ctx context.Context, manifest *database.Manifest) (*database.Manifest, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if existing, ok := db.Manifests[manifest.Digest]; ok {
		row := *existing
		return &row, false, nil
	}
	row := *manifest
	db.Manifests[row.Digest] = &row
	db.Created["manifests"]++
	out := row
	return &out, true, nil
}

func (db *Database) CreateOrGetManifestList(ctx context.Context, list *database.ManifestList) (*database.ManifestList, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if existing, ok := db.ManifestLists[list.Digest]; ok {
		row := *existing
		return &row, false, nil
	}
	row := *list
	db.ManifestLists[row.Digest] = &row
	db.Created["manifest_lists"]++
	out := row
	return &out, true, nil
}

func (db *Database) CreateOrGetManifestTag(ctx context.Context, tag *database.ManifestTag) (*database.ManifestTag, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.Manifests[tag.ManifestDigest]; !ok {
		return nil, false, errors.Errorf("tag %s: unknown manifest %s", tag.Name, tag.ManifestDigest)
	}
	key := Edge{From: tag.Name, To: tag.ManifestDigest}
	if existing, ok := db.ManifestTags[key]; ok {
		row := *existing
		return &row, false, nil
	}
	row := *tag
	db.ManifestTags[key] = &row
	db.Created["manifest_tags"]++
	out := row
	return &out, true, nil
}

func (db *Database) CreateOrGetListTag(ctx context.Context, tag *database.ListTag) (*database.ListTag, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.ManifestLists[tag.ListDigest]; !ok {
		return nil, false, errors.Errorf("list tag %s: unknown manifest list %s", tag.Name, tag.ListDigest)
	}
	key := Edge{From: tag.Name, To: tag.ListDigest}
	if existing, ok := db.ListTags[key]; ok {
		row := *existing
		return &row, false, nil
	}
	row := *tag
	db.ListTags[key] = &row
	db.Created["list_tags"]++
	out := row
	return &out, true, nil
}

func (db *Database) AddListManifest(ctx context.Context, listDigest, manifestDigest string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.ManifestLists[listDigest]; !ok {
		return false, errors.Errorf("unknown manifest list %s", listDigest)
	}
	if _, ok := db.Manifests[manifestDigest]; !ok {
		return false, errors.Errorf("unknown manifest %s", manifestDigest)
	}
	key := Edge{From: listDigest, To: manifestDigest}
	if db.ListManifests[key] {
		return false, nil
	}
	db.ListManifests[key] = true
	db.Created["list_manifests"]++
	return true, nil
}

func (db *Database) AddManifestBlob(ctx context.Context, manifestDigest, blobDigest string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.Manifests[manifestDigest]; !ok {
		return false, errors.Errorf("unknown manifest %s", manifestDigest)
	}
	if _, ok := db.Blobs[blobDigest]; !ok {
		return false, errors.Errorf("unknown blob %s", blobDigest)
	}
	key := Edge{From: manifestDigest, To: blobDigest}
	if db.ManifestBlobs[key] {
		return false, nil
	}
	db.ManifestBlobs[key] = true
	db.Created["manifest_blobs"]++
	return true, nil
}

func (db *Database) SetConfigBlob(ctx context.Context, manifestDigest, blobDigest string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	manifest, ok := db.Manifests[manifestDigest]
	if !ok {
		return errors.Wrapf(database.ErrNotFound, "manifest %s", manifestDigest)
	}
	if _, ok := db.Blobs[blobDigest]; !ok {
		return errors.Errorf("unknown blob %s", blobDigest)
	}
	if manifest.ConfigBlob != nil {
		if *manifest.ConfigBlob == blobDigest {
			return nil
		}
		return errors.Wrapf(database.ErrConfigBlobConflict, "manifest %s, blob %s", manifestDigest, blobDigest)
	}
	config := blobDigest
	manifest.ConfigBlob = &config
	return nil
}

func (db *Database) LinkContentArtifact(ctx context.Context, link *database.ContentArtifact) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := Edge{From: link.ContentDigest, To: link.RelativePath}
	row := *link
	if existing, ok := db.ContentArtifacts[key]; ok && row.ArtifactDigest == nil {
		row.ArtifactDigest = existing.ArtifactDigest
	}
	db.ContentArtifacts[key] = &row
	return nil
}

func (db *Database) GetManifest(ctx context.Context, digest string) (*database.Manifest, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	manifest, ok := db.Manifests[digest]
	if !ok {
		return nil, errors.Wrapf(database.ErrNotFound, "manifest %s", digest)
	}
	row := *manifest
	return &row, nil
}

func (db *Database) IsBlob(ctx context.Context, digest string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.Blobs[digest]
	return ok, nil
}

func (db *Database) IsArtifact(ctx context.Context, digest string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.Artifacts[digest]
	return ok, nil
}

func (db *Database) IsManifest(ctx context.Context, digest string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.Manifests[digest]
	return ok, nil
}

// BlobsOf returns the layer blobs linked to a manifest.
func (db *Database) BlobsOf(manifestDigest string) []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	var blobs []string
	for edge := range db.ManifestBlobs {
		if edge.From == manifestDigest {
			blobs = append(blobs, edge.To)
		}
	}
	return blobs
}

// ManifestsOf returns the manifests linked to a manifest list.
func (db *Database) ManifestsOf(listDigest string) []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	var manifests []string
	for edge := range db.ListManifests {
		if edge.From == listDigest {
			manifests = append(manifests, edge.To)
		}
	}
	return manifests
}

var _ database.Database = &Database{}
