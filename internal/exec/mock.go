package exec

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockResponse is a canned result for a matched invocation.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

// Call records one invocation seen by the MockExecutor.
type Call struct {
	Dir  string
	Name string
	Args []string
	Env  []string
}

type prefixMatch struct {
	name     string
	argsPre  []string
	response MockResponse
}

// MockExecutor is a CommandExecutor returning canned responses for tests.
// Responses are matched by command name plus an argument prefix; the most
// recently added match wins. Unmatched invocations return the default
// response (success with empty output unless a default error is supplied).
type MockExecutor struct {
	mu      sync.Mutex
	matches []prefixMatch
	calls   []Call
	defErr  error
}

// NewMockExecutor creates a MockExecutor. defErr, when non-nil, is returned
// for every invocation that no prefix match covers.
func NewMockExecutor(defErr error) *MockExecutor {
	return &MockExecutor{defErr: defErr}
}

// AddPrefixMatch registers a canned response for invocations of name whose
// arguments start with argsPrefix.
func (m *MockExecutor) AddPrefixMatch(name string, argsPrefix []string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches = append(m.matches, prefixMatch{name: name, argsPre: argsPrefix, response: resp})
}

// GetCalls returns a copy of all recorded invocations.
func (m *MockExecutor) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]Call, len(m.calls))
	copy(calls, m.calls)
	return calls
}

func (m *MockExecutor) lookup(dir string, env []string, name string, args []string) MockResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Dir: dir, Name: name, Args: args, Env: env})

	for i := len(m.matches) - 1; i >= 0; i-- {
		match := m.matches[i]
		if match.name != name || len(args) < len(match.argsPre) {
			continue
		}
		ok := true
		for j, pre := range match.argsPre {
			if args[j] != pre {
				ok = false
				break
			}
		}
		if ok {
			return match.response
		}
	}

	if m.defErr != nil {
		return MockResponse{Err: fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), m.defErr)}
	}
	return MockResponse{}
}

func (m *MockExecutor) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	resp := m.lookup(dir, nil, name, args)
	return resp.Stdout, resp.Stderr, resp.Err
}

func (m *MockExecutor) Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	resp := m.lookup(dir, nil, name, args)
	return resp.Stdout, resp.Err
}

func (m *MockExecutor) CombinedOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	resp := m.lookup(dir, nil, name, args)
	return append(resp.Stdout, resp.Stderr...), resp.Err
}

func (m *MockExecutor) CombinedOutputEnv(ctx context.Context, dir string, extraEnv []string, name string, args ...string) ([]byte, error) {
	resp := m.lookup(dir, extraEnv, name, args)
	return append(resp.Stdout, resp.Stderr...), resp.Err
}

var _ CommandExecutor = (*MockExecutor)(nil)
