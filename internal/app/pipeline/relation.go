package pipeline

// Relation is an edge recorded on a node at build time and written by the
// resolver once both endpoints exist. The concrete types are the only
// implementations.
type Relation interface {
	relation()
}

// ToTag is carried by a manifest tag; the tag points at Manifest.
type ToTag struct {
	Manifest *Node
}

// ToListTag is carried by a list tag; the tag points at List.
type ToListTag struct {
	List *Node
}

// ToManifestList is carried by a manifest that is a member of List.
type ToManifestList struct {
	List *Node
}

// AsConfig is carried by a blob that is the config of Manifest.
type AsConfig struct {
	Manifest *Node
}

// AsLayer is carried by a blob that is a layer of Manifest.
type AsLayer struct {
	Manifest *Node
}

func (ToTag) relation()          {}
func (ToListTag) relation()      {}
func (ToManifestList) relation() {}
func (AsConfig) relation()       {}
func (AsLayer) relation()        {}
