package regsync

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/docker/distribution/notifications"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vleurgat/regsync/internal/app/registry"
)

type server struct {
	httpServer *http.Server
	// registry is the canonical name of the upstream registry host
	registry   string
	repository string
	equivs     *registry.EquivRegistries
	// holds at most one pending sync request
	trigger chan struct{}
	sync    func(ctx context.Context) error
}

func newServer(port string, planner *registry.Planner, equivs *registry.EquivRegistries, sync func(ctx context.Context) error) *server {
	s := &server{
		registry:   equivs.FindEquivalent(planner.Host()),
		repository: planner.NamespacedName(),
		equivs:     equivs,
		trigger:    make(chan struct{}, 1),
		sync:       sync,
	}
	s.httpServer = &http.Server{
		Addr:              ":" + port,
		Handler:           http.HandlerFunc(s.handle),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *server) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		logrus.Errorf("error reading request body: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.processRegistryRequest(body); err != nil {
		logrus.Warnf("rejected notification: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *server) processRegistryRequest(body []byte) error {
	if len(body) == 0 {
		return nil
	}
	var envelope notifications.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return errors.Wrap(err, "json unmarshal error")
	}
	for _, event := range envelope.Events {
		if s.wantsSync(&event) {
			logrus.Infof("push of %s:%s requests a sync", event.Target.Repository, event.Target.Tag)
			s.requestSync()
		} else {
			logrus.Debugf("ignoring %s event for %s", event.Action, event.Target.Repository)
		}
	}
	return nil
}

// wantsSync reports whether the event is a manifest push to the synced
// repository. Events naming another registry host are ignored.
func (s *server) wantsSync(event *notifications.Event) bool {
	if event.Action != notifications.EventActionPush || event.Target.Repository != s.repository {
		return false
	}
	if event.Request.Host != "" && s.equivs.FindEquivalent(event.Request.Host) != s.registry {
		return false
	}
	switch event.Target.MediaType {
	case registry.MediaTypeManifest, registry.MediaTypeManifestList:
		return true
	}
	return event.Target.Tag != ""
}

// requestSync asks for a sync. Requests made while one is already pending are
// merged into it.
func (s *server) requestSync() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// syncLoop runs one sync per pending request until ctx is done.
func (s *server) syncLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
			if err := s.sync(ctx); err != nil {
				logrus.Errorf("triggered sync failed: %v", err)
			}
		}
	}
}

// listenAndServe serves notifications until ctx is done. It returns once the
// server is shut down and no sync is running.
func (s *server) listenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	logrus.Infof("server now listening on %s", s.httpServer.Addr)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		s.syncLoop(ctx)
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()
	err = s.httpServer.Serve(listener)
	cancel()
	<-syncDone
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve listens on opts.Port for notifications from the upstream registry and
// syncs the repository whenever a manifest is pushed to it. An initial sync
// runs at startup.
func Serve(ctx context.Context, opts Options) error {
	s, err := newSyncer(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()
	srv := newServer(opts.Port, s.planner, s.equivs, func(ctx context.Context) error {
		_, err := s.sync(ctx)
		return err
	})
	srv.requestSync()
	return srv.listenAndServe(ctx)
}
