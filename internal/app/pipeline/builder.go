package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/docker/distribution"
	"github.com/docker/distribution/manifest"
	"github.com/docker/distribution/manifest/manifestlist"
	"github.com/docker/distribution/manifest/schema2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vleurgat/regsync/internal/app/database"
	"github.com/vleurgat/regsync/internal/app/registry"
)

// BuilderOptions tunes the Builder.
type BuilderOptions struct {
	// IncludeForeignLayers keeps layers hosted outside the registry.
	IncludeForeignLayers bool
}

// Builder discovers the content of one upstream repository and emits a node
// for every tag, manifest list, manifest and blob it finds, each carrying the
// relation the Resolver later writes. A tag is emitted after the content it
// points at. A Builder runs once.
type Builder struct {
	db      database.Database
	fetcher registry.Fetcher
	planner *registry.Planner
	store   artifacts
	futures *FutureTable
	opts    BuilderOptions

	// handles of list members still being fetched
	pending  []FutureHandle
	inflight sync.WaitGroup
}

// CreateBuilder creates a Builder.
func CreateBuilder(db database.Database, fetcher registry.Fetcher, planner *registry.Planner, store ArtifactStore, opts BuilderOptions) *Builder {
	return &Builder{
		db:      db,
		fetcher: fetcher,
		planner: planner,
		store:   artifacts{db: db, store: store},
		futures: NewFutureTable(),
		opts:    opts,
	}
}

func (b *Builder) String() string {
	return "builder"
}

type tagFetch struct {
	tag    string
	result *registry.FetchResult
	err    error
}

// Run ignores in. It fetches every tag's manifest concurrently and processes
// them in completion order, then waits for the members of any manifest list
// and emits their blobs.
func (b *Builder) Run(ctx context.Context, _ <-chan *Node, out chan<- *Node) error {
	tags, err := registry.FetchTagList(ctx, b.fetcher, b.planner)
	if err != nil {
		return err
	}
	logrus.Infof("found %d tags in %s", len(tags), b.planner.NamespacedName())

	fetches := make(chan tagFetch, len(tags))
	fetchCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		b.inflight.Wait()
		b.discardUnprocessed(fetches)
	}()

	for _, tag := range tags {
		req := b.planner.ManifestRequest(tag)
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			res, err := b.fetcher.Fetch(fetchCtx, req)
			fetches <- tagFetch{tag: tag, result: res, err: err}
		}()
	}

	for received := 0; received < len(tags); received++ {
		var fetch tagFetch
		select {
		case fetch = <-fetches:
		case <-ctx.Done():
			return ctx.Err()
		}
		if fetch.err != nil {
			return errors.Wrapf(fetch.err, "fetching tag %s", fetch.tag)
		}
		if err := b.processTag(ctx, fetchCtx, out, fetch.tag, fetch.result); err != nil {
			return err
		}
	}

	for completion := range b.futures.AsCompleted(ctx, b.pending) {
		if completion.Err != nil {
			return completion.Err
		}
		if completion.Node.Payload == nil {
			continue
		}
		if err := b.emitBlobs(ctx, out, completion.Node); err != nil {
			return err
		}
	}
	return nil
}

// discardUnprocessed removes the temp files of tag fetches that completed
// after the run was abandoned.
func (b *Builder) discardUnprocessed(fetches <-chan tagFetch) {
	for {
		select {
		case fetch := <-fetches:
			if fetch.result != nil {
				_ = b.store.store.Discard(fetch.result.Path)
			}
		default:
			return
		}
	}
}

// processTag handles a downloaded tag target. fetchCtx scopes the member
// fetches a manifest list starts.
func (b *Builder) processTag(ctx, fetchCtx context.Context, out chan<- *Node, tag string, res *registry.FetchResult) error {
	raw, err := os.ReadFile(res.Path)
	if err != nil {
		_ = b.store.store.Discard(res.Path)
		return errors.Wrapf(err, "reading manifest of tag %s", tag)
	}
	artifact, err := b.store.save(ctx, res)
	if err != nil {
		return err
	}

	var versioned manifest.Versioned
	if err := json.Unmarshal(raw, &versioned); err != nil {
		logrus.Warnf("tag %s: manifest is not valid json, skipping: %v", tag, err)
		return nil
	}
	switch versioned.MediaType {
	case registry.MediaTypeManifestList:
		var list manifestlist.ManifestList
		if err := json.Unmarshal(raw, &list); err != nil {
			logrus.Warnf("tag %s: invalid manifest list, skipping: %v", tag, err)
			return nil
		}
		return b.processManifestList(ctx, fetchCtx, out, tag, res, artifact, &list)
	case registry.MediaTypeManifest:
		var payload schema2.Manifest
		if err := json.Unmarshal(raw, &payload); err != nil {
			logrus.Warnf("tag %s: invalid manifest, skipping: %v", tag, err)
			return nil
		}
		return b.processManifest(ctx, out, tag, res, artifact, &payload)
	case "":
		logrus.Debugf("tag %s: manifest has no media type, skipping", tag)
		return nil
	default:
		logrus.Warnf("tag %s: unsupported media type %s, skipping", tag, versioned.MediaType)
		return nil
	}
}

func (b *Builder) processManifest(ctx context.Context, out chan<- *Node, tag string, res *registry.FetchResult, artifact *database.Artifact, payload *schema2.Manifest) error {
	row, created, err := b.db.CreateOrGetManifest(ctx, &database.Manifest{
		Digest:        res.Digest.String(),
		SchemaVersion: payload.SchemaVersion,
		MediaType:     payload.MediaType,
	})
	if err != nil {
		return errors.Wrapf(err, "saving manifest of tag %s", tag)
	}
	logCreated(created, "manifest", row.Digest)

	manifestNode := &Node{
		Kind:     KindManifest,
		Manifest: row,
		Artifact: artifact,
		Request:  b.planner.ManifestByDigestRequest(res.Digest),
		Payload:  payload,
	}
	if err := b.store.link(ctx, manifestNode, artifact); err != nil {
		return err
	}
	if err := emit(ctx, out, manifestNode); err != nil {
		return err
	}
	if err := b.emitBlobs(ctx, out, manifestNode); err != nil {
		return err
	}

	tagNode := &Node{
		Kind:        KindManifestTag,
		ManifestTag: &database.ManifestTag{Name: tag},
		Artifact:    artifact,
		Request:     res.Request,
		Relation:    ToTag{Manifest: manifestNode},
	}
	return emit(ctx, out, tagNode)
}

func (b *Builder) processManifestList(ctx, fetchCtx context.Context, out chan<- *Node, tag string, res *registry.FetchResult, artifact *database.Artifact, list *manifestlist.ManifestList) error {
	row, created, err := b.db.CreateOrGetManifestList(ctx, &database.ManifestList{
		Digest:        res.Digest.String(),
		SchemaVersion: list.SchemaVersion,
		MediaType:     list.MediaType,
	})
	if err != nil {
		return errors.Wrapf(err, "saving manifest list of tag %s", tag)
	}
	logCreated(created, "manifest list", row.Digest)

	listNode := &Node{
		Kind:         KindManifestList,
		ManifestList: row,
		Artifact:     artifact,
		Request:      b.planner.ManifestByDigestRequest(res.Digest),
	}
	if err := b.store.link(ctx, listNode, artifact); err != nil {
		return err
	}
	if err := emit(ctx, out, listNode); err != nil {
		return err
	}

	for _, member := range list.Manifests {
		if member.MediaType != registry.MediaTypeManifest {
			logrus.Warnf("manifest list %s: member %s has unsupported media type %s, skipping",
				row.Digest, member.Digest, member.MediaType)
			continue
		}
		stub, err := b.createStub(ctx, listNode, member.Descriptor)
		if err != nil {
			return err
		}
		if handle, created := b.futures.GetOrCreate(stub); created {
			b.pending = append(b.pending, handle)
			b.inflight.Add(1)
			go func() {
				defer b.inflight.Done()
				b.fetchStub(fetchCtx, stub, handle)
			}()
		}
		if err := emit(ctx, out, stub); err != nil {
			return err
		}
	}

	tagNode := &Node{
		Kind:     KindListTag,
		ListTag:  &database.ListTag{Name: tag},
		Artifact: artifact,
		Request:  res.Request,
		Relation: ToListTag{List: listNode},
	}
	return emit(ctx, out, tagNode)
}

// createStub persists a list member known only by its descriptor.
func (b *Builder) createStub(ctx context.Context, listNode *Node, member distribution.Descriptor) (*Node, error) {
	row, created, err := b.db.CreateOrGetManifest(ctx, &database.Manifest{
		Digest:        member.Digest.String(),
		SchemaVersion: 2,
		MediaType:     member.MediaType,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "saving member %s of manifest list %s", member.Digest, listNode.Digest())
	}
	logCreated(created, "manifest", row.Digest)
	return &Node{
		Kind:     KindManifest,
		Manifest: row,
		Request:  b.planner.ManifestByDigestRequest(member.Digest),
		Relation: ToManifestList{List: listNode},
	}, nil
}

// fetchStub downloads a list member and resolves its future with a new node
// carrying the parsed manifest. The stub itself is never modified: it has
// already been emitted.
func (b *Builder) fetchStub(ctx context.Context, stub *Node, handle FutureHandle) {
	resolved, err := b.resolveStub(ctx, stub)
	if err != nil {
		b.futures.Fail(handle, err)
		return
	}
	b.futures.Resolve(handle, resolved)
}

func (b *Builder) resolveStub(ctx context.Context, stub *Node) (*Node, error) {
	res, err := b.fetcher.Fetch(ctx, stub.Request)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching manifest %s", stub.Digest())
	}
	if res.Digest.String() != stub.Digest() {
		_ = b.store.store.Discard(res.Path)
		return nil, errors.Errorf("manifest %s: fetched content has digest %s", stub.Digest(), res.Digest)
	}
	raw, err := os.ReadFile(res.Path)
	if err != nil {
		_ = b.store.store.Discard(res.Path)
		return nil, errors.Wrapf(err, "reading manifest %s", stub.Digest())
	}
	artifact, err := b.store.save(ctx, res)
	if err != nil {
		return nil, err
	}

	resolved := &Node{
		Kind:     KindManifest,
		Manifest: stub.Manifest,
		Artifact: artifact,
		Request:  stub.Request,
	}
	if err := b.store.link(ctx, resolved, artifact); err != nil {
		return nil, err
	}
	var payload schema2.Manifest
	if err := json.Unmarshal(raw, &payload); err != nil || payload.MediaType != registry.MediaTypeManifest {
		logrus.Warnf("manifest %s: not a %s manifest, skipping its blobs", stub.Digest(), registry.MediaTypeManifest)
		return resolved, nil
	}
	resolved.Payload = &payload
	return resolved, nil
}

// emitBlobs emits the included layers and the config blob of a manifest.
func (b *Builder) emitBlobs(ctx context.Context, out chan<- *Node, manifestNode *Node) error {
	payload := manifestNode.Payload
	for _, layer := range payload.Layers {
		if !ShouldIncludeLayer(layer, b.opts.IncludeForeignLayers) {
			continue
		}
		blob, err := b.createBlob(ctx, manifestNode, layer)
		if err != nil {
			return err
		}
		blob.Relation = AsLayer{Manifest: manifestNode}
		if err := emit(ctx, out, blob); err != nil {
			return err
		}
	}
	if payload.Config.Digest == "" {
		logrus.Warnf("manifest %s has no config blob", manifestNode.Digest())
		return nil
	}
	config, err := b.createBlob(ctx, manifestNode, payload.Config)
	if err != nil {
		return err
	}
	config.Relation = AsConfig{Manifest: manifestNode}
	return emit(ctx, out, config)
}

func (b *Builder) createBlob(ctx context.Context, manifestNode *Node, desc distribution.Descriptor) (*Node, error) {
	if err := desc.Digest.Validate(); err != nil {
		return nil, errors.Wrapf(err, "manifest %s references blob %q", manifestNode.Digest(), desc.Digest)
	}
	row, created, err := b.db.CreateOrGetBlob(ctx, &database.Blob{
		Digest:    desc.Digest.String(),
		MediaType: desc.MediaType,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "saving blob %s", desc.Digest)
	}
	logCreated(created, "blob", row.Digest)
	blob := &Node{
		Kind:    KindBlob,
		Blob:    row,
		Request: b.planner.BlobRequest(manifestNode.Digest(), desc),
	}
	if err := b.store.link(ctx, blob, nil); err != nil {
		return nil, err
	}
	return blob, nil
}

func logCreated(created bool, kind string, dgst string) {
	if created {
		logrus.Debugf("created %s %s", kind, dgst)
	} else {
		logrus.Debugf("%s %s already exists", kind, dgst)
	}
}
