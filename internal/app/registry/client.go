package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/cli/cli/config/configfile"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"k8s.io/apimachinery/pkg/util/wait"
)

// HttpClient is the part of http.Client the registry client needs.
type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetchResult is a completed download: the bytes sit at Path and hash to Digest.
type FetchResult struct {
	Request FetchRequest
	Path    string
	Digest  digest.Digest
	Size    int64
}

// Fetcher downloads the target of a FetchRequest to local storage.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error)
}

// ClientOptions tunes the HTTP fetch executor.
type ClientOptions struct {
	// DownloadDir receives the downloaded temp files.
	DownloadDir string
	// MaxConcurrent caps the number of in-flight requests, 0 means no cap.
	MaxConcurrent int64
	// RetrySteps is the number of attempts per request.
	RetrySteps int
	// RetryDelay is the initial delay between attempts.
	RetryDelay time.Duration
	// Timeout applies to every single HTTP request.
	Timeout time.Duration
	// EquivRegistries maps remote hosts to the registry whose credentials they use.
	EquivRegistries *EquivRegistries
}

// BackoffDefault is the default Backoff behaviour for network call retries.
var BackoffDefault = wait.Backoff{
	Duration: time.Second,
	Factor:   2,
	Jitter:   0.1,
	Steps:    5,
	Cap:      time.Second * 30,
}

// Client represents a HTTP client connection to a Docker registry.
type Client struct {
	client       HttpClient
	dockerConfig *configfile.ConfigFile
	equivs       *EquivRegistries
	tokens       *tokenCache
	downloadDir  string
	sem          *semaphore.Weighted
	backoff      wait.Backoff
}

// CreateClient create a Client object.
func CreateClient(dockerConfig *configfile.ConfigFile, opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return CreateClientProvidingHttpClient(&http.Client{Timeout: timeout}, dockerConfig, opts)
}

// CreateClientProvidingHttpClient creates a Client on top of the given HttpClient.
func CreateClientProvidingHttpClient(httpClient HttpClient, dockerConfig *configfile.ConfigFile, opts ClientOptions) *Client {
	backoff := BackoffDefault
	if opts.RetrySteps > 0 {
		backoff.Steps = opts.RetrySteps
	}
	if opts.RetryDelay > 0 {
		backoff.Duration = opts.RetryDelay
	}
	downloadDir := opts.DownloadDir
	if downloadDir == "" {
		downloadDir = os.TempDir()
	}
	c := &Client{
		client:       httpClient,
		dockerConfig: dockerConfig,
		equivs:       opts.EquivRegistries,
		tokens:       newTokenCache(),
		downloadDir:  downloadDir,
		backoff:      backoff,
	}
	if opts.MaxConcurrent > 0 {
		c.sem = semaphore.NewWeighted(opts.MaxConcurrent)
	}
	return c
}

// statusError is a non-200 registry response.
type statusError struct {
	url    string
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.status, e.url)
}

func (e *statusError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= http.StatusInternalServerError
}

// permanentError wraps failures that another attempt would not fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Fetch downloads the request target, retrying transient failures.
func (c *Client) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer c.sem.Release(1)
	}

	var result *FetchResult
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, c.backoff, func(ctx context.Context) (bool, error) {
		res, err := c.download(ctx, req)
		if err == nil {
			result = res
			return true, nil
		}
		lastErr = err
		var perm *permanentError
		var status *statusError
		switch {
		case errors.As(err, &perm):
			return false, perm.err
		case errors.As(err, &status) && !status.retryable():
			return false, err
		}
		logrus.Warnf("fetch %s failed, retrying: %v", req.URL, err)
		return false, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ctx.Err(), "fetching %s", req.URL)
		}
		if lastErr != nil && wait.Interrupted(err) {
			err = lastErr
		}
		return nil, errors.Wrapf(err, "fetching %s", req.URL)
	}
	return result, nil
}

func (c *Client) getResponse(ctx context.Context, req FetchRequest, auth string) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &permanentError{err: err}
	}
	addHeaders(request, req.Headers, auth)
	return c.client.Do(request)
}

func addHeaders(req *http.Request, headers http.Header, auth string) {
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	req.Header.Set("User-Agent", "regsync")
}

func (c *Client) download(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	basicAuth := c.getDockerBasicAuth(req.URL)
	auth := basicAuth
	if token, ok := c.tokens.lookup(req.URL); ok {
		auth = token
	}
	response, err := c.getResponse(ctx, req, auth)
	if err != nil {
		return nil, err
	}
	if response.StatusCode == http.StatusUnauthorized {
		// try bearer
		bearerAuth, err := c.getDockerBearerAuth(ctx, req.URL, response, basicAuth)
		drainAndClose(response)
		if err != nil {
			return nil, err
		}
		c.tokens.store(req.URL, bearerAuth)
		response, err = c.getResponse(ctx, req, bearerAuth)
		if err != nil {
			return nil, err
		}
	}
	defer drainAndClose(response)
	if response.StatusCode != http.StatusOK {
		return nil, &statusError{url: req.URL, status: response.StatusCode}
	}
	return c.save(req, response.Body)
}

// save streams body into the download dir, hashing it on the way.
func (c *Client) save(req FetchRequest, body io.Reader) (*FetchResult, error) {
	path := filepath.Join(c.downloadDir, uuid.NewString()+".tmp")
	f, err := os.Create(path)
	if err != nil {
		return nil, &permanentError{err: errors.Wrap(err, "creating download file")}
	}
	digester := digest.Canonical.Digester()
	size, err := io.Copy(io.MultiWriter(f, digester.Hash()), body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, errors.Wrap(err, "writing download file")
	}
	dgst := digester.Digest()
	if req.Expected != "" && req.Expected != dgst {
		os.Remove(path)
		return nil, &permanentError{err: errors.Errorf("digest mismatch: expected %s, got %s", req.Expected, dgst)}
	}
	logrus.Debugf("fetched %s (%s, %d bytes)", req.URL, dgst, size)
	return &FetchResult{
		Request: req,
		Path:    path,
		Digest:  dgst,
		Size:    size,
	}, nil
}

func drainAndClose(response *http.Response) {
	if response == nil || response.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, response.Body)
	response.Body.Close()
}

var _ Fetcher = &Client{}
