// Package databasetest checks that a database.Database behaves as the
// pipeline expects. Both the Postgres and the in-memory stores run it.
package databasetest

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
	"github.com/vleurgat/regsync/internal/app/database"
)

// Run runs the conformance tests against db. Digests are unique per call, so
// db may hold data from earlier runs.
func Run(t *testing.T, db database.Database) {
	ctx := t.Context()
	prefix := uuid.NewString()
	dgst := func(name string) string {
		return digest.FromString(prefix + name).String()
	}
	r := require.New(t)
	r.NoError(db.CreateSchemaIfNecessary(ctx))

	manifest := &database.Manifest{Digest: dgst("manifest"), SchemaVersion: 2, MediaType: "application/vnd.docker.distribution.manifest.v2+json"}
	list := &database.ManifestList{Digest: dgst("list"), SchemaVersion: 2, MediaType: "application/vnd.docker.distribution.manifest.list.v2+json"}
	layer := &database.Blob{Digest: dgst("layer"), MediaType: "application/vnd.docker.image.rootfs.diff.tar.gzip"}
	config := &database.Blob{Digest: dgst("config"), MediaType: "application/vnd.docker.container.image.v1+json"}

	t.Run("create or get artifact", func(t *testing.T) {
		r := require.New(t)
		artifact := &database.Artifact{Digest: dgst("artifact"), Size: 42, Location: "/tmp/artifact"}
		row, created, err := db.CreateOrGetArtifact(ctx, artifact)
		r.NoError(err)
		r.True(created)
		r.Equal(artifact, row)

		again := &database.Artifact{Digest: artifact.Digest, Size: 42, Location: "/elsewhere"}
		row, created, err = db.CreateOrGetArtifact(ctx, again)
		r.NoError(err)
		r.False(created)
		r.Equal("/tmp/artifact", row.Location, "the existing row is returned")

		stored, err := db.IsArtifact(ctx, artifact.Digest)
		r.NoError(err)
		r.True(stored)
	})

	t.Run("create or get content", func(t *testing.T) {
		r := require.New(t)
		for _, blob := range []*database.Blob{layer, config} {
			row, created, err := db.CreateOrGetBlob(ctx, blob)
			r.NoError(err)
			r.True(created)
			r.Equal(blob, row)
			_, created, err = db.CreateOrGetBlob(ctx, blob)
			r.NoError(err)
			r.False(created)
		}

		row, created, err := db.CreateOrGetManifest(ctx, manifest)
		r.NoError(err)
		r.True(created)
		r.Equal(manifest, row)
		_, created, err = db.CreateOrGetManifest(ctx, manifest)
		r.NoError(err)
		r.False(created)

		listRow, created, err := db.CreateOrGetManifestList(ctx, list)
		r.NoError(err)
		r.True(created)
		r.Equal(list, listRow)
		_, created, err = db.CreateOrGetManifestList(ctx, list)
		r.NoError(err)
		r.False(created)

		isBlob, err := db.IsBlob(ctx, layer.Digest)
		r.NoError(err)
		r.True(isBlob)
		isManifest, err := db.IsManifest(ctx, manifest.Digest)
		r.NoError(err)
		r.True(isManifest)
		isManifest, err = db.IsManifest(ctx, layer.Digest)
		r.NoError(err)
		r.False(isManifest)
	})

	t.Run("tags", func(t *testing.T) {
		r := require.New(t)
		tag := &database.ManifestTag{Name: "latest", ManifestDigest: manifest.Digest}
		row, created, err := db.CreateOrGetManifestTag(ctx, tag)
		r.NoError(err)
		r.True(created)
		r.Equal(tag, row)
		_, created, err = db.CreateOrGetManifestTag(ctx, tag)
		r.NoError(err)
		r.False(created)

		listTag := &database.ListTag{Name: "latest", ListDigest: list.Digest}
		listRow, created, err := db.CreateOrGetListTag(ctx, listTag)
		r.NoError(err)
		r.True(created)
		r.Equal(listTag, listRow)
		_, created, err = db.CreateOrGetListTag(ctx, listTag)
		r.NoError(err)
		r.False(created)

		_, _, err = db.CreateOrGetManifestTag(ctx, &database.ManifestTag{Name: "dangling", ManifestDigest: dgst("nothing")})
		r.Error(err, "a tag needs its manifest")
	})

	t.Run("edges", func(t *testing.T) {
		r := require.New(t)
		created, err := db.AddListManifest(ctx, list.Digest, manifest.Digest)
		r.NoError(err)
		r.True(created)
		created, err = db.AddListManifest(ctx, list.Digest, manifest.Digest)
		r.NoError(err)
		r.False(created)

		created, err = db.AddManifestBlob(ctx, manifest.Digest, layer.Digest)
		r.NoError(err)
		r.True(created)
		created, err = db.AddManifestBlob(ctx, manifest.Digest, layer.Digest)
		r.NoError(err)
		r.False(created)

		_, err = db.AddManifestBlob(ctx, manifest.Digest, dgst("nothing"))
		r.Error(err, "an edge needs both ends")
	})

	t.Run("config blob", func(t *testing.T) {
		r := require.New(t)
		r.NoError(db.SetConfigBlob(ctx, manifest.Digest, config.Digest))
		r.NoError(db.SetConfigBlob(ctx, manifest.Digest, config.Digest), "setting the same config is a no-op")
		err := db.SetConfigBlob(ctx, manifest.Digest, layer.Digest)
		r.ErrorIs(err, database.ErrConfigBlobConflict)

		row, err := db.GetManifest(ctx, manifest.Digest)
		r.NoError(err)
		r.NotNil(row.ConfigBlob)
		r.Equal(config.Digest, *row.ConfigBlob)

		err = db.SetConfigBlob(ctx, dgst("nothing"), config.Digest)
		r.ErrorIs(err, database.ErrNotFound)
		_, err = db.GetManifest(ctx, dgst("nothing"))
		r.ErrorIs(err, database.ErrNotFound)
	})

	t.Run("content artifact links", func(t *testing.T) {
		r := require.New(t)
		artifact := dgst("artifact")
		r.NoError(db.LinkContentArtifact(ctx, &database.ContentArtifact{
			ContentDigest: manifest.Digest, RelativePath: manifest.Digest, ArtifactDigest: &artifact,
		}))
		r.NoError(db.LinkContentArtifact(ctx, &database.ContentArtifact{
			ContentDigest: manifest.Digest, RelativePath: manifest.Digest,
		}))
		r.NoError(db.LinkContentArtifact(ctx, &database.ContentArtifact{
			ContentDigest: layer.Digest, RelativePath: layer.Digest,
		}))
	})

	t.Run("concurrent writers converge", func(t *testing.T) {
		r := require.New(t)
		blob := &database.Blob{Digest: dgst("contended"), MediaType: "application/octet-stream"}
		var mu sync.Mutex
		createdCount := 0
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, created, err := db.CreateOrGetBlob(ctx, blob)
				if err != nil {
					t.Error(err)
					return
				}
				if created {
					mu.Lock()
					createdCount++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		r.Equal(1, createdCount)
	})
}
