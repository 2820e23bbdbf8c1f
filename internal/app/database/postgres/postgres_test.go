//go:build database

// to run this test start up a test Postgres db in a Docker container, e.g. ...
//
//   docker run --rm --name=db-test -e POSTGRES_HOST_AUTH_METHOD=trust -p 5432:5432 postgres:16
//
// and then use ... "go test -tags database" ... to run the test; set
// REGSYNC_TEST_PG to point it at another database
//
// finally kill the Postgres container once the test has completed

package postgres

import (
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/vleurgat/regsync/internal/app/database"
	"github.com/vleurgat/regsync/internal/app/database/databasetest"
)

func createTestDatabase(t *testing.T) *Database {
	connStr := os.Getenv("REGSYNC_TEST_PG")
	if connStr == "" {
		connStr = "host=localhost port=5432 user=postgres sslmode=disable"
	}
	db, err := CreateDatabase(connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateSchemaIfNecessary(t *testing.T) {
	r := require.New(t)
	db := createTestDatabase(t)
	r.NoError(db.CreateSchemaIfNecessary(t.Context()))
	r.NoError(db.CreateSchemaIfNecessary(t.Context()), "a second call is a no-op")

	conn := db.GetConnection()
	var schemaExists bool
	r.NoError(conn.QueryRow("SELECT EXISTS("+
		"SELECT 1 FROM information_schema.schemata "+
		"WHERE schema_name = $1"+
		")",
		"regsync").Scan(&schemaExists))
	r.True(schemaExists, "expected schema to exist")
	for _, table := range []string{"artifacts", "blobs", "manifests", "manifest_lists", "manifest_blobs",
		"list_manifests", "manifest_tags", "list_tags", "content_artifacts"} {
		var tableExists bool
		r.NoError(conn.QueryRow("SELECT EXISTS("+
			"SELECT 1 FROM information_schema.tables "+
			"WHERE table_schema = $1 and table_name = $2"+
			")",
			"regsync", table).Scan(&tableExists))
		r.True(tableExists, "expected %s table to exist", table)
	}
}

func TestConformance(t *testing.T) {
	databasetest.Run(t, createTestDatabase(t))
}

func TestLinkContentArtifact(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()
	db := createTestDatabase(t)
	r.NoError(db.CreateSchemaIfNecessary(ctx))

	content := "sha256:" + uuid.NewString()
	artifact := content
	_, _, err := db.CreateOrGetArtifact(ctx, &database.Artifact{Digest: artifact, Size: 1, Location: "/tmp/" + content})
	r.NoError(err)
	r.NoError(db.LinkContentArtifact(ctx, &database.ContentArtifact{
		ContentDigest: content, RelativePath: content, ArtifactDigest: &artifact,
	}))
	r.NoError(db.LinkContentArtifact(ctx, &database.ContentArtifact{
		ContentDigest: content, RelativePath: content,
	}))

	var stored *string
	r.NoError(db.GetConnection().QueryRowContext(ctx,
		"SELECT artifact_digest FROM regsync.content_artifacts WHERE content_digest = $1 AND relative_path = $2",
		content, content).Scan(&stored))
	r.NotNil(stored, "a link without an artifact keeps the existing one")
	r.Equal(artifact, *stored)
}
