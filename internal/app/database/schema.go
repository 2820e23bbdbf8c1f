package database

// Artifact representation in the database.
//
// An artifact is the raw bytes behind a content row, keyed by its checksum.
type Artifact struct {
	Digest   string `db:"digest"`
	Size     int64  `db:"size"`
	Location string `db:"location"`
}

// Blob representation in the database.
//
// A blob is a layer or a config, shared between any number of manifests.
type Blob struct {
	Digest    string `db:"digest"`
	MediaType string `db:"media_type"`
}

// Manifest representation in the database.
//
// A manifest is linked to zero or more layer blobs and at most one config blob.
type Manifest struct {
	Digest        string  `db:"digest"`
	SchemaVersion int     `db:"schema_version"`
	MediaType     string  `db:"media_type"`
	ConfigBlob    *string `db:"config_blob"`
}

// ManifestList representation in the database.
//
// A manifest list is linked to one or more manifests.
type ManifestList struct {
	Digest        string `db:"digest"`
	SchemaVersion int    `db:"schema_version"`
	MediaType     string `db:"media_type"`
}

// ManifestTag representation in the database.
//
// A tag is linked to one manifest.
type ManifestTag struct {
	Name           string `db:"name"`
	ManifestDigest string `db:"manifest_digest"`
}

// ListTag representation in the database.
//
// A list tag is linked to one manifest list.
type ListTag struct {
	Name       string `db:"name"`
	ListDigest string `db:"list_digest"`
}

// ContentArtifact links a content row to the artifact that backs it. The
// artifact is empty until its bytes have been downloaded.
type ContentArtifact struct {
	ContentDigest  string  `db:"content_digest"`
	RelativePath   string  `db:"relative_path"`
	ArtifactDigest *string `db:"artifact_digest"`
}
