package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vleurgat/regsync/internal/app/database"
)

// Database is an implementation of database.Database for Postgres.
type Database struct {
	conn *sqlx.DB
}

// CreateDatabase creates a Database which contains a connection to a Postgres database.
func CreateDatabase(pgConnStr string) (*Database, error) {
	conn, err := sqlx.Connect("postgres", pgConnStr)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres")
	}
	conn.SetMaxOpenConns(100)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(time.Minute * 5)
	return &Database{
		conn: conn,
	}, nil
}

// GetConnection exposes the underlying connection, mostly for tests.
func (db *Database) GetConnection() *sqlx.DB {
	return db.conn
}

// Close closes the connection pool.
func (db *Database) Close() error {
	return db.conn.Close()
}

// CreateSchemaIfNecessary does what it says on the tin.
func (db *Database) CreateSchemaIfNecessary(ctx context.Context) error {
	var schemaExists bool
	var tableExists bool
	if err := db.conn.QueryRowContext(ctx, "SELECT EXISTS("+
		"SELECT 1 FROM information_schema.schemata "+
		"WHERE schema_name = $1"+
		")",
		"regsync").Scan(&schemaExists); err != nil {
		return errors.Wrap(err, "checking for regsync schema")
	}
	if schemaExists {
		if err := db.conn.QueryRowContext(ctx, "SELECT EXISTS("+
			"SELECT 1 FROM information_schema.tables "+
			"WHERE table_schema = $1 "+
			"AND table_name = $2"+
			")",
			"regsync", "content_artifacts").Scan(&tableExists); err != nil {
			return errors.Wrap(err, "checking for regsync tables")
		}
	}
	if schemaExists && tableExists {
		logrus.Info("regsync schema already exists")
		return nil
	}
	logrus.Info("creating regsync schema")
	if _, err := db.conn.ExecContext(ctx, postgresSchema); err != nil {
		return errors.Wrap(err, "creating regsync schema")
	}
	return nil
}

// insertOrSelect runs an INSERT ... ON CONFLICT DO NOTHING and, when nothing
// was inserted, reads the row that won instead.
func (db *Database) insertOrSelect(ctx context.Context, dest interface{}, insert string, insertArgs []interface{}, query string, queryArgs ...interface{}) (bool, error) {
	res, err := db.conn.ExecContext(ctx, insert, insertArgs...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := db.conn.GetContext(ctx, dest, query, queryArgs...); err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateOrGetArtifact writes an artifact, or returns the existing one with the same checksum.
func (db *Database) CreateOrGetArtifact(ctx context.Context, artifact *database.Artifact) (*database.Artifact, bool, error) {
	var row database.Artifact
	created, err := db.insertOrSelect(ctx, &row,
		"INSERT INTO regsync.artifacts "+
			"(digest, size, location) "+
			"VALUES ($1, $2, $3) "+
			"ON CONFLICT (digest) "+
			"DO NOTHING",
		[]interface{}{artifact.Digest, artifact.Size, artifact.Location},
		"SELECT digest, size, location FROM regsync.artifacts "+
			"WHERE digest = $1",
		artifact.Digest)
	if err != nil {
		return nil, false, errors.Wrapf(err, "creating artifact %s", artifact.Digest)
	}
	logrus.Debugf("artifact %s created=%t", row.Digest, created)
	return &row, created, nil
}

// CreateOrGetBlob writes a blob, or returns the existing one with the same digest.
func (db *Database) CreateOrGetBlob(ctx context.Context, blob *database.Blob) (*database.Blob, bool, error) {
	var row database.Blob
	created, err := db.insertOrSelect(ctx, &row,
		"INSERT INTO regsync.blobs "+
			"(digest, media_type) "+
			"VALUES ($1, $2) "+
			"ON CONFLICT (digest) "+
			"DO NOTHING",
		[]interface{}{blob.Digest, blob.MediaType},
		"SELECT digest, media_type FROM regsync.blobs "+
			"WHERE digest = $1",
		blob.Digest)
	if err != nil {
		return nil, false, errors.Wrapf(err, "creating blob %s", blob.Digest)
	}
	logrus.Debugf("blob %s created=%t", row.Digest, created)
	return &row, created, nil
}

// CreateOrGetManifest writes a manifest, or returns the existing one with the same digest.
func (db *Database) CreateOrGetManifest(ctx context.Context, manifest *database.Manifest) (*database.Manifest, bool, error) {
	var row database.Manifest
	created, err := db.insertOrSelect(ctx, &row,
		"INSERT INTO regsync.manifests "+
			"(digest, schema_version, media_type, config_blob) "+
			"VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (digest) "+
			"DO NOTHING",
		[]interface{}{manifest.Digest, manifest.SchemaVersion, manifest.MediaType, manifest.ConfigBlob},
		"SELECT digest, schema_version, media_type, config_blob FROM regsync.manifests "+
			"WHERE digest = $1",
		manifest.Digest)
	if err != nil {
		return nil, false, errors.Wrapf(err, "creating manifest %s", manifest.Digest)
	}
	logrus.Debugf("manifest %s created=%t", row.Digest, created)
	return &row, created, nil
}

// CreateOrGetManifestList writes a manifest list, or returns the existing one with the same digest.
func (db *Database) CreateOrGetManifestList(ctx context.Context, list *database.ManifestList) (*database.ManifestList, bool, error) {
	var row database.ManifestList
	created, err := db.insertOrSelect(ctx, &row,
		"INSERT INTO regsync.manifest_lists "+
			"(digest, schema_version, media_type) "+
			"VALUES ($1, $2, $3) "+
			"ON CONFLICT (digest) "+
			"DO NOTHING",
		[]interface{}{list.Digest, list.SchemaVersion, list.MediaType},
		"SELECT digest, schema_version, media_type FROM regsync.manifest_lists "+
			"WHERE digest = $1",
		list.Digest)
	if err != nil {
		return nil, false, errors.Wrapf(err, "creating manifest list %s", list.Digest)
	}
	logrus.Debugf("manifest list %s created=%t", row.Digest, created)
	return &row, created, nil
}

// CreateOrGetManifestTag writes a tag, or returns the existing one for the same name and manifest.
func (db *Database) CreateOrGetManifestTag(ctx context.Context, tag *database.ManifestTag) (*database.ManifestTag, bool, error) {
	var row database.ManifestTag
	created, err := db.insertOrSelect(ctx, &row,
		"INSERT INTO regsync.manifest_tags "+
			"(name, manifest_digest) "+
			"VALUES ($1, $2) "+
			"ON CONFLICT (name, manifest_digest) "+
			"DO NOTHING",
		[]interface{}{tag.Name, tag.ManifestDigest},
		"SELECT name, manifest_digest FROM regsync.manifest_tags "+
			"WHERE name = $1 AND manifest_digest = $2",
		tag.Name, tag.ManifestDigest)
	if err != nil {
		return nil, false, errors.Wrapf(err, "creating tag %s", tag.Name)
	}
	logrus.Debugf("tag %s -> %s created=%t", row.Name, row.ManifestDigest, created)
	return &row, created, nil
}

// CreateOrGetListTag writes a list tag, or returns the existing one for the same name and list.
func (db *Database) CreateOrGetListTag(ctx context.Context, tag *database.ListTag) (*database.ListTag, bool, error) {
	var row database.ListTag
	created, err := db.insertOrSelect(ctx, &row,
		"INSERT INTO regsync.list_tags "+
			"(name, list_digest) "+
			"VALUES ($1, $2) "+
			"ON CONFLICT (name, list_digest) "+
			"DO NOTHING",
		[]interface{}{tag.Name, tag.ListDigest},
		"SELECT name, list_digest FROM regsync.list_tags "+
			"WHERE name = $1 AND list_digest = $2",
		tag.Name, tag.ListDigest)
	if err != nil {
		return nil, false, errors.Wrapf(err, "creating list tag %s", tag.Name)
	}
	logrus.Debugf("list tag %s -> %s created=%t", row.Name, row.ListDigest, created)
	return &row, created, nil
}

func (db *Database) insertEdge(ctx context.Context, insert string, a, b string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, insert, a, b)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AddListManifest links a manifest to a manifest list.
func (db *Database) AddListManifest(ctx context.Context, listDigest, manifestDigest string) (bool, error) {
	created, err := db.insertEdge(ctx,
		"INSERT INTO regsync.list_manifests "+
			"(list_digest, manifest_digest) "+
			"VALUES ($1, $2) "+
			"ON CONFLICT (list_digest, manifest_digest) "+
			"DO NOTHING",
		listDigest, manifestDigest)
	if err != nil {
		return false, errors.Wrapf(err, "linking manifest %s to list %s", manifestDigest, listDigest)
	}
	return created, nil
}

// AddManifestBlob links a layer blob to a manifest.
func (db *Database) AddManifestBlob(ctx context.Context, manifestDigest, blobDigest string) (bool, error) {
	created, err := db.insertEdge(ctx,
		"INSERT INTO regsync.manifest_blobs "+
			"(manifest_digest, blob_digest) "+
			"VALUES ($1, $2) "+
			"ON CONFLICT (manifest_digest, blob_digest) "+
			"DO NOTHING",
		manifestDigest, blobDigest)
	if err != nil {
		return false, errors.Wrapf(err, "linking blob %s to manifest %s", blobDigest, manifestDigest)
	}
	return created, nil
}

// SetConfigBlob points a manifest at its config blob.
func (db *Database) SetConfigBlob(ctx context.Context, manifestDigest, blobDigest string) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE regsync.manifests "+
			"SET config_blob = $2 "+
			"WHERE digest = $1 AND (config_blob IS NULL OR config_blob = $2)",
		manifestDigest, blobDigest)
	if err != nil {
		return errors.Wrapf(err, "setting config blob of manifest %s", manifestDigest)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "setting config blob of manifest %s", manifestDigest)
	}
	if n > 0 {
		return nil
	}
	exists, err := db.IsManifest(ctx, manifestDigest)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Wrapf(database.ErrNotFound, "manifest %s", manifestDigest)
	}
	return errors.Wrapf(database.ErrConfigBlobConflict, "manifest %s, blob %s", manifestDigest, blobDigest)
}

// LinkContentArtifact records the artifact behind a content row.
func (db *Database) LinkContentArtifact(ctx context.Context, link *database.ContentArtifact) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO regsync.content_artifacts "+
			"(content_digest, relative_path, artifact_digest) "+
			"VALUES ($1, $2, $3) "+
			"ON CONFLICT (content_digest, relative_path) "+
			"DO UPDATE SET "+
			"artifact_digest = COALESCE(EXCLUDED.artifact_digest, regsync.content_artifacts.artifact_digest)",
		link.ContentDigest, link.RelativePath, link.ArtifactDigest)
	if err != nil {
		return errors.Wrapf(err, "linking artifact to %s", link.ContentDigest)
	}
	return nil
}

// GetManifest reads a manifest by digest.
func (db *Database) GetManifest(ctx context.Context, digest string) (*database.Manifest, error) {
	var row database.Manifest
	err := db.conn.GetContext(ctx, &row,
		"SELECT digest, schema_version, media_type, config_blob FROM regsync.manifests "+
			"WHERE digest = $1",
		digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(database.ErrNotFound, "manifest %s", digest)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading manifest %s", digest)
	}
	return &row, nil
}

// IsBlob determines whether the given digest belongs to a persisted blob.
func (db *Database) IsBlob(ctx context.Context, digest string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx, "SELECT EXISTS("+
		"SELECT 1 FROM regsync.blobs "+
		"WHERE digest = $1"+
		")",
		digest).Scan(&exists)
	return exists, errors.Wrapf(err, "looking up blob %s", digest)
}

// IsArtifact determines whether the given digest belongs to a stored artifact.
func (db *Database) IsArtifact(ctx context.Context, digest string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx, "SELECT EXISTS("+
		"SELECT 1 FROM regsync.artifacts "+
		"WHERE digest = $1"+
		")",
		digest).Scan(&exists)
	return exists, errors.Wrapf(err, "looking up artifact %s", digest)
}

// IsManifest determines whether the given digest belongs to a persisted manifest.
func (db *Database) IsManifest(ctx context.Context, digest string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx, "SELECT EXISTS("+
		"SELECT 1 FROM regsync.manifests "+
		"WHERE digest = $1"+
		")",
		digest).Scan(&exists)
	return exists, errors.Wrapf(err, "looking up manifest %s", digest)
}

var _ database.Database = &Database{}
