package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	resthttp "github.com/gaborage/restgate/http"
)

// MockTransport provides a testify-based mock implementation of the http.Transport interface.
//
// Example usage:
//
//	transport := &mocks.MockTransport{}
//	transport.ExpectSend(http.MethodGet, "https://api.example.com/objects").
//		Return(&resthttp.Response{StatusCode: 503}, nil).Once()
//	transport.ExpectSend(http.MethodGet, "https://api.example.com/objects").
//		Return(&resthttp.Response{StatusCode: 200, Body: []byte(`[]`)}, nil)
type MockTransport struct {
	mock.Mock
}

var _ resthttp.Transport = (*MockTransport)(nil)

// NewMockTransport creates a new mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Send implements http.Transport
func (m *MockTransport) Send(ctx context.Context, req *resthttp.Request) (*resthttp.Response, error) {
	arguments := m.Called(ctx, req)
	var resp *resthttp.Response
	if r := arguments.Get(0); r != nil {
		resp = r.(*resthttp.Response)
	}
	return resp, arguments.Error(1)
}

// ExpectSend sets up an expectation for a request with the given method and URL.
func (m *MockTransport) ExpectSend(method, url string) *mock.Call {
	return m.On("Send", mock.Anything, mock.MatchedBy(func(req *resthttp.Request) bool {
		return req.Method == method && req.URL == url
	}))
}

// ExpectAnySend sets up an expectation for any request.
func (m *MockTransport) ExpectAnySend() *mock.Call {
	return m.On("Send", mock.Anything, mock.Anything)
}

// Reply is a convenience for Return with a response carrying status and body.
func Reply(call *mock.Call, status int, body string) *mock.Call {
	return call.Return(&resthttp.Response{StatusCode: status, Body: []byte(body)}, nil)
}
