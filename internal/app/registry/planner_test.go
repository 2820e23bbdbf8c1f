package registry

import (
	"testing"

	"github.com/docker/distribution"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
)

func TestNamespacedName(t *testing.T) {
	tests := []struct {
		remote   string
		upstream string
		want     string
	}{
		{"https://registry-1.docker.io", "busybox", "library/busybox"},
		{"https://registry-1.docker.io", "grafana/grafana", "grafana/grafana"},
		{"https://quay.io", "coreos/etcd", "coreos/etcd"},
		{"https://quay.io", "busybox", "busybox"},
		{"http://127.0.0.1:5000", "team/app", "team/app"},
	}
	for _, tt := range tests {
		t.Run(tt.remote+"/"+tt.upstream, func(t *testing.T) {
			p, err := CreatePlanner(tt.remote, tt.upstream, nil)
			require.NoError(t, err)
			require.Equal(t, tt.want, p.NamespacedName())
		})
	}

	t.Run("equivalent of docker hub", func(t *testing.T) {
		r := require.New(t)
		equivs := &EquivRegistries{Equivs: map[string][]string{"index.docker.io": {"mirror.example.com"}}}
		p, err := CreatePlanner("https://mirror.example.com", "busybox", equivs)
		r.NoError(err)
		r.Equal("library/busybox", p.NamespacedName())
		r.Equal("mirror.example.com", p.Host())
	})

	t.Run("invalid upstream", func(t *testing.T) {
		_, err := CreatePlanner("https://quay.io", "Not Valid", nil)
		require.ErrorContains(t, err, "invalid upstream name")
	})

	t.Run("relative remote", func(t *testing.T) {
		_, err := CreatePlanner("quay.io", "busybox", nil)
		require.ErrorContains(t, err, "must be absolute")
	})
}

func TestRequests(t *testing.T) {
	r := require.New(t)
	p, err := CreatePlanner("https://registry.example.com", "team/app", nil)
	r.NoError(err)

	t.Run("tag list", func(t *testing.T) {
		req := p.TagListRequest()
		r.Equal("https://registry.example.com/v2/team/app/tags/list", req.URL)
		r.Empty(req.Expected)
	})

	t.Run("manifest by tag", func(t *testing.T) {
		req := p.ManifestRequest("latest")
		r.Equal("https://registry.example.com/v2/team/app/manifests/latest", req.URL)
		r.Equal("latest", req.TagName)
		r.Equal("latest", req.RelativePath)
		r.Contains(req.Headers.Get("Accept"), MediaTypeManifest)
		r.Contains(req.Headers.Get("Accept"), MediaTypeManifestList)
		r.Empty(req.Expected)
	})

	t.Run("manifest by digest", func(t *testing.T) {
		dgst := digest.FromString("manifest")
		req := p.ManifestByDigestRequest(dgst)
		r.Equal("https://registry.example.com/v2/team/app/manifests/"+dgst.String(), req.URL)
		r.Equal(dgst, req.Expected)
		r.Equal(dgst.String(), req.RelativePath)
	})

	t.Run("blob", func(t *testing.T) {
		dgst := digest.FromString("layer")
		req := p.BlobRequest("sha256:manifest", distribution.Descriptor{Digest: dgst})
		r.Equal("https://registry.example.com/v2/team/app/blobs/"+dgst.String(), req.URL)
		r.Equal(dgst, req.Expected)
		r.Equal("sha256:manifest", req.Referrer)
		r.Empty(req.Headers.Get("Accept"))
	})

	t.Run("remote with a path prefix", func(t *testing.T) {
		prefixed, err := CreatePlanner("https://registry.example.com/mirror/", "team/app", nil)
		r.NoError(err)
		r.Equal("https://registry.example.com/v2/team/app/tags/list", prefixed.TagListRequest().URL)
	})
}
