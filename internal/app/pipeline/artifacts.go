package pipeline

import (
	"context"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vleurgat/regsync/internal/app/database"
	"github.com/vleurgat/regsync/internal/app/registry"
)

// ArtifactStore keeps downloaded bytes by digest.
type ArtifactStore interface {
	Commit(path string, dgst digest.Digest) (string, error)
	Discard(path string) error
}

type artifacts struct {
	db    database.Database
	store ArtifactStore
}

// save commits the downloaded bytes to the store, then records them as an
// artifact. The row only exists once its bytes do; a second writer of the
// same digest replaces the file with identical content and gets the
// existing row.
func (a *artifacts) save(ctx context.Context, res *registry.FetchResult) (*database.Artifact, error) {
	location, err := a.store.Commit(res.Path, res.Digest)
	if err != nil {
		if discardErr := a.store.Discard(res.Path); discardErr != nil {
			logrus.Warnf("%v", discardErr)
		}
		return nil, err
	}
	row, created, err := a.db.CreateOrGetArtifact(ctx, &database.Artifact{
		Digest:   res.Digest.String(),
		Size:     res.Size,
		Location: location,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		logrus.Debugf("artifact %s already stored", row.Digest)
	}
	return row, nil
}

// link records that artifact backs the node's content at the request's
// relative path. A nil artifact records the path only.
func (a *artifacts) link(ctx context.Context, node *Node, artifact *database.Artifact) error {
	link := &database.ContentArtifact{
		ContentDigest: node.Digest(),
		RelativePath:  node.Request.RelativePath,
	}
	if artifact != nil {
		link.ArtifactDigest = &artifact.Digest
	}
	return errors.Wrapf(a.db.LinkContentArtifact(ctx, link), "linking %s", node)
}
