package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
)

func TestCommitAndDiscard(t *testing.T) {
	r := require.New(t)
	s, err := CreateStorage(t.TempDir())
	r.NoError(err)

	content := []byte("hello")
	dgst := digest.FromBytes(content)

	t.Run("commit", func(t *testing.T) {
		tmp := filepath.Join(s.DownloadDir(), "one.tmp")
		r.NoError(os.WriteFile(tmp, content, 0o644))
		location, err := s.Commit(tmp, dgst)
		r.NoError(err)
		r.Equal(s.Location(dgst), location)
		r.Equal(filepath.Join("blobs", "sha256", dgst.Encoded()), location[len(filepath.Dir(s.DownloadDir()))+1:])
		stored, err := os.ReadFile(location)
		r.NoError(err)
		r.Equal(content, stored)
		_, err = os.Stat(tmp)
		r.True(os.IsNotExist(err))
	})

	t.Run("commit over a stored file", func(t *testing.T) {
		tmp := filepath.Join(s.DownloadDir(), "again.tmp")
		r.NoError(os.WriteFile(tmp, content, 0o644))
		location, err := s.Commit(tmp, dgst)
		r.NoError(err)
		stored, err := os.ReadFile(location)
		r.NoError(err)
		r.Equal(content, stored)
		_, err = os.Stat(tmp)
		r.True(os.IsNotExist(err))
	})

	t.Run("commit invalid digest", func(t *testing.T) {
		tmp := filepath.Join(s.DownloadDir(), "two.tmp")
		r.NoError(os.WriteFile(tmp, content, 0o644))
		_, err := s.Commit(tmp, digest.Digest("nope"))
		r.Error(err)
	})

	t.Run("discard", func(t *testing.T) {
		tmp := filepath.Join(s.DownloadDir(), "three.tmp")
		r.NoError(os.WriteFile(tmp, content, 0o644))
		r.NoError(s.Discard(tmp))
		_, err := os.Stat(tmp)
		r.True(os.IsNotExist(err))
		r.NoError(s.Discard(tmp), "discarding twice is fine")
	})
}
