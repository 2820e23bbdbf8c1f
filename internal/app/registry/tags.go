package registry

import (
	"context"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type tagList struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// FetchTagList downloads and decodes the tag list of the planner's repository.
func FetchTagList(ctx context.Context, fetcher Fetcher, planner *Planner) ([]string, error) {
	result, err := fetcher.Fetch(ctx, planner.TagListRequest())
	if err != nil {
		return nil, errors.Wrap(err, "downloading tag list")
	}
	defer os.Remove(result.Path)
	raw, err := os.ReadFile(result.Path)
	if err != nil {
		return nil, errors.Wrap(err, "reading tag list")
	}
	var tags tagList
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, errors.Wrap(err, "decoding tag list")
	}
	logrus.Infof("repository %s has %d tags", planner.NamespacedName(), len(tags.Tags))
	return tags.Tags, nil
}
