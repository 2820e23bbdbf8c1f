package registry

import (
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchTagList(t *testing.T) {
	p, err := CreatePlanner("https://registry.example.com", "team/app", nil)
	require.NoError(t, err)

	t.Run("tags", func(t *testing.T) {
		r := require.New(t)
		httpClient := CreateMockHttpClient(response(http.StatusOK, `{"name":"team/app","tags":["1.0","latest"]}`))
		c := testClient(t, httpClient, nil)
		tags, err := FetchTagList(t.Context(), c, p)
		r.NoError(err)
		r.Equal([]string{"1.0", "latest"}, tags)
		r.Equal(p.TagListRequest().URL, httpClient.Requests()[0].URL.String())
		entries, err := os.ReadDir(c.downloadDir)
		r.NoError(err)
		r.Empty(entries, "the tag list is not kept")
	})

	t.Run("no tags", func(t *testing.T) {
		r := require.New(t)
		httpClient := CreateMockHttpClient(response(http.StatusOK, `{"name":"team/app","tags":null}`))
		tags, err := FetchTagList(t.Context(), testClient(t, httpClient, nil), p)
		r.NoError(err)
		r.Empty(tags)
	})

	t.Run("bad json", func(t *testing.T) {
		r := require.New(t)
		httpClient := CreateMockHttpClient(response(http.StatusOK, "abc"))
		_, err := FetchTagList(t.Context(), testClient(t, httpClient, nil), p)
		r.ErrorContains(err, "decoding tag list")
	})
}
