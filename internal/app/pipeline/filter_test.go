package pipeline

import (
	"testing"

	"github.com/docker/distribution"
	"github.com/docker/distribution/manifest/schema2"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"
)

func TestShouldIncludeLayer(t *testing.T) {
	tests := []struct {
		mediaType    string
		allowForeign bool
		include      bool
	}{
		{schema2.MediaTypeLayer, false, true},
		{schema2.MediaTypeLayer, true, true},
		{v1.MediaTypeImageLayerGzip, false, true},
		{schema2.MediaTypeForeignLayer, false, false},
		{schema2.MediaTypeForeignLayer, true, true},
		{v1.MediaTypeImageLayerNonDistributableGzip, false, false}, //nolint:staticcheck
		{v1.MediaTypeImageLayerNonDistributableGzip, true, true},   //nolint:staticcheck
	}
	for _, tt := range tests {
		t.Run(tt.mediaType, func(t *testing.T) {
			layer := distribution.Descriptor{MediaType: tt.mediaType}
			require.Equal(t, tt.include, ShouldIncludeLayer(layer, tt.allowForeign), "allowForeign=%v", tt.allowForeign)
		})
	}
}
