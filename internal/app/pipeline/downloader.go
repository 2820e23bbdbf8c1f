package pipeline

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vleurgat/regsync/internal/app/database"
	"github.com/vleurgat/regsync/internal/app/registry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Downloader fetches the bytes of every blob that has no artifact yet and
// links them. Nodes are forwarded as their download completes, so the output
// order differs from the input order.
type Downloader struct {
	db          database.Database
	fetcher     registry.Fetcher
	store       artifacts
	concurrency int
	inflight    singleflight.Group
}

// CreateDownloader creates a Downloader running at most concurrency downloads
// at once, or any number of them when concurrency is 0.
func CreateDownloader(db database.Database, fetcher registry.Fetcher, store ArtifactStore, concurrency int) *Downloader {
	if concurrency <= 0 {
		concurrency = -1
	}
	return &Downloader{
		db:          db,
		fetcher:     fetcher,
		store:       artifacts{db: db, store: store},
		concurrency: concurrency,
	}
}

func (d *Downloader) String() string {
	return "downloader"
}

func (d *Downloader) Run(ctx context.Context, in <-chan *Node, out chan<- *Node) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for node := range in {
		if node.Kind != KindBlob || node.Artifact != nil {
			if err := emit(gctx, out, node); err != nil {
				break
			}
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			artifact, err := d.download(gctx, node)
			if err != nil {
				return err
			}
			node.Artifact = artifact
			return emit(gctx, out, node)
		})
	}
	return g.Wait()
}

// download returns the artifact of a blob, fetching it unless it is already
// stored. Concurrent calls for the same digest share one fetch.
func (d *Downloader) download(ctx context.Context, blob *Node) (*database.Artifact, error) {
	dgst := blob.Digest()
	value, err, _ := d.inflight.Do(dgst, func() (interface{}, error) {
		stored, err := d.db.IsArtifact(ctx, dgst)
		if err != nil {
			return nil, err
		}
		var artifact *database.Artifact
		if stored {
			logrus.Debugf("blob %s already stored", dgst)
			artifact = &database.Artifact{Digest: dgst}
		} else {
			res, err := d.fetcher.Fetch(ctx, blob.Request)
			if err != nil {
				return nil, errors.Wrapf(err, "downloading blob %s", dgst)
			}
			if res.Digest.String() != dgst {
				_ = d.store.store.Discard(res.Path)
				return nil, errors.Errorf("blob %s: fetched content has digest %s", dgst, res.Digest)
			}
			artifact, err = d.store.save(ctx, res)
			if err != nil {
				return nil, err
			}
		}
		return artifact, nil
	})
	if err != nil {
		return nil, err
	}
	artifact := value.(*database.Artifact)
	if err := d.store.link(ctx, blob, artifact); err != nil {
		return nil, err
	}
	return artifact, nil
}
