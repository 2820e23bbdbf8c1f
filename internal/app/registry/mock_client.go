package registry

import (
	"net/http"
	"sync"
)

// MockHttpClient: mock implementation of HttpClient.
type MockHttpClient struct {
	mu        *sync.Mutex
	responses *[]http.Response
	requests  *[]*http.Request
	err       error
}

// CreateMockHttpClientErr creates a MockHttpClient that returns errors.
func CreateMockHttpClientErr(err error) MockHttpClient {
	return MockHttpClient{
		mu:        &sync.Mutex{},
		responses: &[]http.Response{{}},
		requests:  &[]*http.Request{},
		err:       err,
	}
}

// CreateMockHttpClient creates a MockHttpClient that returns http.Responses,
// in order; the last one is repeated.
func CreateMockHttpClient(res ...http.Response) MockHttpClient {
	return MockHttpClient{
		mu:        &sync.Mutex{},
		responses: &res,
		requests:  &[]*http.Request{},
	}
}

// Do is the mock implementation of the real http.Client.Do method.
func (m MockHttpClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.requests = append(*m.requests, req)
	response := (*m.responses)[0]
	if len(*m.responses) > 1 {
		*m.responses = (*m.responses)[1:]
	}
	if m.err != nil {
		return nil, m.err
	}
	return &response, nil
}

// Requests returns the requests seen so far.
func (m MockHttpClient) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request(nil), *m.requests...)
}
