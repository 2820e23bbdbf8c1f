package pipeline

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// Summary counts what a run saw.
type Summary struct {
	ManifestTags  int `json:"manifestTags"`
	ListTags      int `json:"listTags"`
	ManifestLists int `json:"manifestLists"`
	Manifests     int `json:"manifests"`
	Blobs         int `json:"blobs"`
	Layers        int `json:"layers"`
	Configs       int `json:"configs"`
	Downloaded    int `json:"downloaded"`
}

// Reporter is the terminal stage. It counts the nodes it receives.
type Reporter struct {
	mu      sync.Mutex
	summary Summary
}

func (r *Reporter) String() string {
	return "reporter"
}

func (r *Reporter) Run(ctx context.Context, in <-chan *Node, out chan<- *Node) error {
	for node := range in {
		r.count(node)
		if err := emit(ctx, out, node); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reporter) count(node *Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &r.summary
	switch node.Kind {
	case KindManifestTag:
		s.ManifestTags++
	case KindListTag:
		s.ListTags++
	case KindManifestList:
		s.ManifestLists++
	case KindManifest:
		s.Manifests++
	case KindBlob:
		s.Blobs++
		if node.Artifact != nil {
			s.Downloaded++
		}
	}
	switch node.Relation.(type) {
	case AsLayer:
		s.Layers++
	case AsConfig:
		s.Configs++
	}
}

// Summary returns the counts so far.
func (r *Reporter) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

// LogJSONSummary logs the counts as prettified JSON.
func (r *Reporter) LogJSONSummary() {
	marshalled, err := json.MarshalIndent(r.Summary(), "", "  ")
	if err != nil {
		logrus.Errorf("failed to marshal summary: %v", err)
		return
	}
	logrus.Infof("sync summary:\n%s", marshalled)
}
