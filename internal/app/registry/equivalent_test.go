package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindEquivalent(t *testing.T) {
	r := require.New(t)
	eqv := EquivRegistries{
		Equivs: map[string][]string{
			"hello": {
				"bonjour",
				"hi",
			},
			"index.docker.io": {
				"mirror.example.com",
			},
		},
	}
	r.Equal("xxx", eqv.FindEquivalent("xxx"))
	r.Equal("hello", eqv.FindEquivalent("hello"))
	r.Equal("hello", eqv.FindEquivalent("hi"))
	r.Equal("index.docker.io", eqv.FindEquivalent("mirror.example.com"))
	r.Equal("index.docker.io", eqv.FindEquivalent("registry-1.docker.io"))

	var none *EquivRegistries
	r.Equal("index.docker.io", none.FindEquivalent("docker.io"))
	r.Equal("quay.io", none.FindEquivalent("quay.io"))
}

func TestCreateEquivRegistries(t *testing.T) {
	t.Run("no path", func(t *testing.T) {
		r := require.New(t)
		eqr, err := CreateEquivRegistries("")
		r.NoError(err)
		r.Empty(eqr.Equivs)
	})

	t.Run("no file", func(t *testing.T) {
		r := require.New(t)
		eqr, err := CreateEquivRegistries("no-such-file")
		r.ErrorContains(err, "no-such-file")
		r.Nil(eqr)
	})

	t.Run("bad json", func(t *testing.T) {
		r := require.New(t)
		path := filepath.Join(t.TempDir(), "equiv-regs.json")
		r.NoError(os.WriteFile(path, []byte("{bad"), 0o644))
		_, err := CreateEquivRegistries(path)
		r.ErrorContains(err, "parsing equivalent registries file")
	})

	t.Run("good json", func(t *testing.T) {
		r := require.New(t)
		path := filepath.Join(t.TempDir(), "equiv-regs.json")
		r.NoError(os.WriteFile(path, []byte(`{"my.registry.com":["my.registry.com:443"]}`), 0o644))
		eqr, err := CreateEquivRegistries(path)
		r.NoError(err)
		r.Equal("my.registry.com", eqr.FindEquivalent("my.registry.com:443"))
	})
}
