package pipeline

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vleurgat/regsync/internal/app/database"
)

// Resolver writes the relation each node carries and forwards the node
// unchanged. By the time a node arrives every node its relation points at has
// already been persisted by the Builder.
type Resolver struct {
	db database.Database
}

// CreateResolver creates a Resolver.
func CreateResolver(db database.Database) *Resolver {
	return &Resolver{db: db}
}

func (r *Resolver) String() string {
	return "resolver"
}

func (r *Resolver) Run(ctx context.Context, in <-chan *Node, out chan<- *Node) error {
	for node := range in {
		if err := r.relate(ctx, node); err != nil {
			return err
		}
		if err := emit(ctx, out, node); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) relate(ctx context.Context, node *Node) error {
	switch rel := node.Relation.(type) {
	case nil:
		return nil
	case ToTag:
		return r.tagManifest(ctx, node, rel.Manifest)
	case ToListTag:
		return r.tagManifestList(ctx, node, rel.List)
	case ToManifestList:
		created, err := r.db.AddListManifest(ctx, rel.List.Digest(), node.Digest())
		if err != nil {
			return errors.Wrapf(err, "adding %s to manifest list %s", node.Digest(), rel.List.Digest())
		}
		logEdge(created, rel.List, node)
		return nil
	case AsLayer:
		created, err := r.db.AddManifestBlob(ctx, rel.Manifest.Digest(), node.Digest())
		if err != nil {
			return errors.Wrapf(err, "adding layer %s to manifest %s", node.Digest(), rel.Manifest.Digest())
		}
		logEdge(created, rel.Manifest, node)
		return nil
	case AsConfig:
		return r.setConfig(ctx, node, rel.Manifest)
	default:
		panic(fmt.Sprintf("unknown relation %T on %s", rel, node))
	}
}

func (r *Resolver) tagManifest(ctx context.Context, tag *Node, target *Node) error {
	if tag.ManifestTag.ManifestDigest != "" {
		panic(fmt.Sprintf("tag %s already points at %s", tag.ManifestTag.Name, tag.ManifestTag.ManifestDigest))
	}
	tag.ManifestTag.ManifestDigest = target.Digest()
	row, created, err := r.db.CreateOrGetManifestTag(ctx, tag.ManifestTag)
	if err != nil {
		return errors.Wrapf(err, "saving tag %s", tag.ManifestTag.Name)
	}
	logEdge(created, tag, target)
	tag.ManifestTag = row
	return nil
}

func (r *Resolver) tagManifestList(ctx context.Context, tag *Node, target *Node) error {
	if tag.ListTag.ListDigest != "" {
		panic(fmt.Sprintf("list tag %s already points at %s", tag.ListTag.Name, tag.ListTag.ListDigest))
	}
	tag.ListTag.ListDigest = target.Digest()
	row, created, err := r.db.CreateOrGetListTag(ctx, tag.ListTag)
	if err != nil {
		return errors.Wrapf(err, "saving list tag %s", tag.ListTag.Name)
	}
	logEdge(created, tag, target)
	tag.ListTag = row
	return nil
}

// setConfig attaches a config blob. A manifest gets at most one per run; a
// second one means the manifest was planned twice.
func (r *Resolver) setConfig(ctx context.Context, blob *Node, target *Node) error {
	if target.configAssigned {
		panic(fmt.Sprintf("%s already has config blob %s", target, *target.Manifest.ConfigBlob))
	}
	if err := r.db.SetConfigBlob(ctx, target.Digest(), blob.Digest()); err != nil {
		return errors.Wrapf(err, "setting config of %s", target)
	}
	config := blob.Digest()
	target.Manifest.ConfigBlob = &config
	target.configAssigned = true
	logrus.Debugf("%s has config blob %s", target, config)
	return nil
}

func logEdge(created bool, from *Node, to *Node) {
	if created {
		logrus.Debugf("linked %s -> %s", from, to)
	} else {
		logrus.Debugf("%s -> %s already linked", from, to)
	}
}
