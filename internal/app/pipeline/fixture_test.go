package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/docker/distribution"
	"github.com/docker/distribution/manifest/manifestlist"
	"github.com/docker/distribution/manifest/schema2"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vleurgat/regsync/internal/app/database/mock"
	"github.com/vleurgat/regsync/internal/app/registry"
	"github.com/vleurgat/regsync/internal/app/storage"
)

// fakeRegistry serves fixed content by URL. A gated URL is held until its
// gate is closed, which lets tests pick the order fetches complete in.
type fakeRegistry struct {
	mu      sync.Mutex
	dir     string
	content map[string][]byte
	gates   map[string]chan struct{}
	fetched map[string]int
}

func newFakeRegistry(dir string) *fakeRegistry {
	return &fakeRegistry{
		dir:     dir,
		content: map[string][]byte{},
		gates:   map[string]chan struct{}{},
		fetched: map[string]int{},
	}
}

func (f *fakeRegistry) serve(url string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[url] = content
}

func (f *fakeRegistry) gate(url string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[url] = gate
	return gate
}

func (f *fakeRegistry) fetchCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetched[url]
}

func (f *fakeRegistry) Fetch(ctx context.Context, req registry.FetchRequest) (*registry.FetchResult, error) {
	f.mu.Lock()
	content, ok := f.content[req.URL]
	gate := f.gates[req.URL]
	f.fetched[req.URL]++
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, errors.Errorf("unexpected status code 404 from %s", req.URL)
	}
	dgst := digest.FromBytes(content)
	if req.Expected != "" && req.Expected != dgst {
		return nil, errors.Errorf("digest mismatch: expected %s, got %s", req.Expected, dgst)
	}
	path := filepath.Join(f.dir, uuid.NewString()+".tmp")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, err
	}
	return &registry.FetchResult{Request: req, Path: path, Digest: dgst, Size: int64(len(content))}, nil
}

// testRepo is one upstream repository with its registry, store and database.
type testRepo struct {
	t        *testing.T
	planner  *registry.Planner
	registry *fakeRegistry
	storage  *storage.Storage
	db       *mock.Database
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	planner, err := registry.CreatePlanner("https://registry.example.com", "team/app", nil)
	require.NoError(t, err)
	s, err := storage.CreateStorage(t.TempDir())
	require.NoError(t, err)
	return &testRepo{
		t:        t,
		planner:  planner,
		registry: newFakeRegistry(s.DownloadDir()),
		storage:  s,
		db:       mock.CreateDatabase(),
	}
}

func (r *testRepo) marshal(v interface{}) []byte {
	raw, err := json.Marshal(v)
	require.NoError(r.t, err)
	return raw
}

func (r *testRepo) tags(names ...string) {
	if names == nil {
		names = []string{}
	}
	r.registry.serve(r.planner.TagListRequest().URL, r.marshal(map[string]interface{}{
		"name": r.planner.NamespacedName(),
		"tags": names,
	}))
}

// blob serves content as a blob and returns its descriptor.
func (r *testRepo) blob(mediaType string, content string) distribution.Descriptor {
	desc := distribution.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromString(content),
		Size:      int64(len(content)),
	}
	r.registry.serve(r.planner.BlobRequest("", desc).URL, []byte(content))
	return desc
}

func (r *testRepo) layer(content string) distribution.Descriptor {
	return r.blob(schema2.MediaTypeLayer, content)
}

func (r *testRepo) config(content string) distribution.Descriptor {
	return r.blob(schema2.MediaTypeImageConfig, content)
}

// manifest serves a schema 2 manifest by digest and returns its descriptor.
func (r *testRepo) manifest(config distribution.Descriptor, layers ...distribution.Descriptor) distribution.Descriptor {
	if layers == nil {
		layers = []distribution.Descriptor{}
	}
	raw := r.marshal(schema2.Manifest{
		Versioned: schema2.SchemaVersion,
		Config:    config,
		Layers:    layers,
	})
	return r.serveManifest(schema2.MediaTypeManifest, raw)
}

// manifestList serves a manifest list by digest and returns its descriptor.
func (r *testRepo) manifestList(members ...distribution.Descriptor) distribution.Descriptor {
	list := manifestlist.ManifestList{
		Versioned: manifestlist.SchemaVersion,
		Manifests: []manifestlist.ManifestDescriptor{},
	}
	for i, member := range members {
		list.Manifests = append(list.Manifests, manifestlist.ManifestDescriptor{
			Descriptor: member,
			Platform: manifestlist.PlatformSpec{
				Architecture: []string{"amd64", "arm64", "s390x"}[i%3],
				OS:           "linux",
			},
		})
	}
	return r.serveManifest(manifestlist.MediaTypeManifestList, r.marshal(list))
}

func (r *testRepo) serveManifest(mediaType string, raw []byte) distribution.Descriptor {
	desc := distribution.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(raw),
		Size:      int64(len(raw)),
	}
	r.registry.serve(r.planner.ManifestByDigestRequest(desc.Digest).URL, raw)
	return desc
}

// tag makes a tag point at a served manifest or manifest list.
func (r *testRepo) tag(name string, target distribution.Descriptor) {
	raw := r.registry.content[r.planner.ManifestByDigestRequest(target.Digest).URL]
	require.NotNil(r.t, raw, "tag target must be served first")
	r.registry.serve(r.planner.ManifestRequest(name).URL, raw)
}

func (r *testRepo) builder(opts BuilderOptions) *Builder {
	return CreateBuilder(r.db, r.registry, r.planner, r.storage, opts)
}

// sync runs builder, resolver and reporter once.
func (r *testRepo) sync(opts BuilderOptions, extra ...Stage) (Summary, error) {
	reporter := &Reporter{}
	stages := append([]Stage{r.builder(opts), CreateResolver(r.db)}, extra...)
	stages = append(stages, reporter)
	err := Run(r.t.Context(), stages...)
	return reporter.Summary(), err
}

// graph is the persisted state that must not depend on fetch order.
type graph struct {
	Artifacts        int
	Blobs            interface{}
	Manifests        interface{}
	ManifestLists    interface{}
	ManifestTags     interface{}
	ListTags         interface{}
	ListManifests    interface{}
	ManifestBlobs    interface{}
	ContentArtifacts interface{}
}

func snapshot(db *mock.Database) graph {
	return graph{
		Artifacts:        len(db.Artifacts),
		Blobs:            db.Blobs,
		Manifests:        db.Manifests,
		ManifestLists:    db.ManifestLists,
		ManifestTags:     db.ManifestTags,
		ListTags:         db.ListTags,
		ListManifests:    db.ListManifests,
		ManifestBlobs:    db.ManifestBlobs,
		ContentArtifacts: db.ContentArtifacts,
	}
}

// sliceStage emits fixed nodes, for driving a single stage under test.
type sliceStage []*Node

func (s sliceStage) Run(ctx context.Context, _ <-chan *Node, out chan<- *Node) error {
	for _, node := range s {
		if err := emit(ctx, out, node); err != nil {
			return err
		}
	}
	return nil
}

// collector keeps everything it receives.
type collector struct {
	mu    sync.Mutex
	nodes []*Node
}

func (c *collector) Run(ctx context.Context, in <-chan *Node, out chan<- *Node) error {
	for node := range in {
		c.mu.Lock()
		c.nodes = append(c.nodes, node)
		c.mu.Unlock()
	}
	return nil
}

func filepathGlob(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*"))
}

// failingStore fails its next failures commits with err.
type failingStore struct {
	*storage.Storage
	mu       sync.Mutex
	failures int
	err      error
}

func (f *failingStore) Commit(path string, dgst digest.Digest) (string, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return "", f.err
	}
	f.mu.Unlock()
	return f.Storage.Commit(path, dgst)
}
