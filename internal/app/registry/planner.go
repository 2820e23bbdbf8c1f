package registry

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/docker/distribution"
	"github.com/docker/distribution/manifest/manifestlist"
	"github.com/docker/distribution/manifest/schema2"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// The two manifest media types a sync understands.
const (
	MediaTypeManifest     = schema2.MediaTypeManifest
	MediaTypeManifestList = manifestlist.MediaTypeManifestList
)

// V2AcceptHeaders returns the headers sent with every manifest request.
func V2AcceptHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", strings.Join([]string{MediaTypeManifest, MediaTypeManifestList}, ","))
	return h
}

// FetchRequest describes one download: where from, with which headers, and
// where the bytes belong relative to the content they back.
type FetchRequest struct {
	URL          string
	Headers      http.Header
	RelativePath string
	// Expected is the digest the fetched bytes must hash to, if known.
	Expected digest.Digest
	// TagName is set for manifest requests addressed by tag.
	TagName string
	// Referrer is the manifest that referenced a blob request.
	Referrer string
}

// Planner turns tag names and descriptors into fetch requests against one
// upstream repository.
type Planner struct {
	remote         *url.URL
	namespacedName string
}

// CreatePlanner creates a Planner for the repository upstreamName served at
// remoteURL. equivs may be nil.
func CreatePlanner(remoteURL string, upstreamName string, equivs *EquivRegistries) (*Planner, error) {
	remote, err := url.Parse(remoteURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing remote url %q", remoteURL)
	}
	if remote.Scheme == "" || remote.Host == "" {
		return nil, errors.Errorf("remote url %q must be absolute", remoteURL)
	}
	namespaced, err := NamespacedName(equivs.FindEquivalent(remote.Host), upstreamName)
	if err != nil {
		return nil, err
	}
	return &Planner{remote: remote, namespacedName: namespaced}, nil
}

// NamespacedName returns the repository path used in /v2/ URLs. Single
// segment names on Docker Hub live under "library/". host is a canonical
// registry name as returned by FindEquivalent.
func NamespacedName(host string, upstreamName string) (string, error) {
	repo, err := name.NewRepository(upstreamName, name.WithDefaultRegistry(host))
	if err != nil {
		return "", errors.Wrapf(err, "invalid upstream name %q", upstreamName)
	}
	return repo.RepositoryStr(), nil
}

// NamespacedName is the repository path used in /v2/ URLs.
func (p *Planner) NamespacedName() string {
	return p.namespacedName
}

// Host is the remote registry host.
func (p *Planner) Host() string {
	return p.remote.Host
}

func (p *Planner) url(relative string) string {
	return p.remote.ResolveReference(&url.URL{Path: relative}).String()
}

// TagListRequest plans the download of the repository tag list.
func (p *Planner) TagListRequest() FetchRequest {
	return FetchRequest{
		URL:          p.url("/v2/" + p.namespacedName + "/tags/list"),
		Headers:      http.Header{},
		RelativePath: "tags/list",
	}
}

// ManifestRequest plans the download of the manifest or manifest list a tag points to.
func (p *Planner) ManifestRequest(tagName string) FetchRequest {
	return FetchRequest{
		URL:          p.url("/v2/" + p.namespacedName + "/manifests/" + tagName),
		Headers:      V2AcceptHeaders(),
		RelativePath: tagName,
		TagName:      tagName,
	}
}

// ManifestByDigestRequest plans the download of a manifest addressed by digest,
// as manifest list members are.
func (p *Planner) ManifestByDigestRequest(dgst digest.Digest) FetchRequest {
	return FetchRequest{
		URL:          p.url("/v2/" + p.namespacedName + "/manifests/" + dgst.String()),
		Headers:      V2AcceptHeaders(),
		RelativePath: dgst.String(),
		Expected:     dgst,
	}
}

// BlobRequest plans the download of a layer or config blob referenced by a manifest.
func (p *Planner) BlobRequest(manifestDigest string, desc distribution.Descriptor) FetchRequest {
	return FetchRequest{
		URL:          p.url("/v2/" + p.namespacedName + "/blobs/" + desc.Digest.String()),
		Headers:      http.Header{},
		RelativePath: desc.Digest.String(),
		Expected:     desc.Digest,
		Referrer:     manifestDigest,
	}
}
