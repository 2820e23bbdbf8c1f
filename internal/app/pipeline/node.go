package pipeline

import (
	"fmt"

	"github.com/docker/distribution/manifest/schema2"
	"github.com/vleurgat/regsync/internal/app/database"
	"github.com/vleurgat/regsync/internal/app/registry"
)

// Kind is the content type of a node.
type Kind int

const (
	KindManifestTag Kind = iota
	KindListTag
	KindManifestList
	KindManifest
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindManifestTag:
		return "manifest-tag"
	case KindListTag:
		return "list-tag"
	case KindManifestList:
		return "manifest-list"
	case KindManifest:
		return "manifest"
	case KindBlob:
		return "blob"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Node is one piece of content flowing through the pipeline. Exactly one of
// the row pointers matching Kind is set.
type Node struct {
	Kind Kind

	ManifestTag  *database.ManifestTag
	ListTag      *database.ListTag
	ManifestList *database.ManifestList
	Manifest     *database.Manifest
	Blob         *database.Blob

	// Artifact is the stored bytes behind the node, nil until downloaded.
	Artifact *database.Artifact
	// Request is how the node's bytes are fetched.
	Request registry.FetchRequest
	// Relation is the deferred edge the resolver writes for this node.
	Relation Relation
	// Payload is the parsed manifest, for manifests whose bytes are known.
	Payload *schema2.Manifest

	// set by the resolver when the node's single-valued target is written
	configAssigned bool
}

// Digest returns the content digest of the node; tags have none.
func (n *Node) Digest() string {
	switch n.Kind {
	case KindManifestList:
		return n.ManifestList.Digest
	case KindManifest:
		return n.Manifest.Digest
	case KindBlob:
		return n.Blob.Digest
	default:
		return ""
	}
}

func (n *Node) String() string {
	switch n.Kind {
	case KindManifestTag:
		return "tag " + n.ManifestTag.Name
	case KindListTag:
		return "list tag " + n.ListTag.Name
	default:
		return n.Kind.String() + " " + n.Digest()
	}
}
