package tilesim

import (
	"context"
	"sync"
)

// MockRPCExecutor is a configurable interfaces.RPCExecutor for tests: it
// returns a recorded response for a given (address, rpc_id) pair, zero
// bytes by default, and tracks every call made through it.
type MockRPCExecutor struct {
	mu        sync.Mutex
	responses map[mockRPCKey][]byte
	errors    map[mockRPCKey]error
	calls     []MockRPCCall
}

type mockRPCKey struct {
	address uint16
	rpcID   uint16
}

// MockRPCCall records one call made through a MockRPCExecutor.
type MockRPCCall struct {
	Address uint16
	RPCID   uint16
	Payload []byte
}

// NewMockRPCExecutor creates a mock that returns nil, nil for any call not
// otherwise configured with SetResponse/SetError.
func NewMockRPCExecutor() *MockRPCExecutor {
	return &MockRPCExecutor{
		responses: make(map[mockRPCKey][]byte),
		errors:    make(map[mockRPCKey]error),
	}
}

// SetResponse configures the payload returned for calls to (address, rpcID).
func (m *MockRPCExecutor) SetResponse(address, rpcID uint16, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[mockRPCKey{address, rpcID}] = payload
}

// SetError configures the error returned for calls to (address, rpcID).
func (m *MockRPCExecutor) SetError(address, rpcID uint16, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[mockRPCKey{address, rpcID}] = err
}

// CallRPC implements interfaces.RPCExecutor.
func (m *MockRPCExecutor) CallRPC(ctx context.Context, address, rpcID uint16, payload []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockRPCCall{Address: address, RPCID: rpcID, Payload: payload})

	key := mockRPCKey{address, rpcID}
	if err, ok := m.errors[key]; ok {
		return nil, err
	}
	return m.responses[key], nil
}

// Calls returns every call made through this mock, in order.
func (m *MockRPCExecutor) Calls() []MockRPCCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRPCCall(nil), m.calls...)
}

// Reset clears every recorded call, leaving configured responses untouched.
func (m *MockRPCExecutor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
