package pipeline

import (
	"github.com/docker/distribution"
	"github.com/docker/distribution/manifest/schema2"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"
)

// Layers with these media types are hosted outside the registry.
var foreignLayerMediaTypes = map[string]bool{
	schema2.MediaTypeForeignLayer:              true,
	v1.MediaTypeImageLayerNonDistributable:     true, //nolint:staticcheck
	v1.MediaTypeImageLayerNonDistributableGzip: true, //nolint:staticcheck
	v1.MediaTypeImageLayerNonDistributableZstd: true, //nolint:staticcheck
}

// ShouldIncludeLayer reports whether a layer takes part in the sync. Foreign
// layers are left out unless allowForeignLayers is set.
func ShouldIncludeLayer(layer distribution.Descriptor, allowForeignLayers bool) bool {
	if foreignLayerMediaTypes[layer.MediaType] && !allowForeignLayers {
		logrus.Debugf("foreign layer %s excluded", layer.Digest)
		return false
	}
	return true
}
