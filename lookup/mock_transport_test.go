// Code generated in the style of mockgen for the lookup.Transport interface.
// Hand-maintained here (no mockgen invocation in this environment) but
// follows the same MockX/MockXMockRecorder/EXPECT shape mockgen emits.
package lookup_test

import (
	context "context"
	reflect "reflect"

	gomock "github.com/golang/mock/gomock"

	"github.com/razor7877/kademliatransfer/nodeid"
	"github.com/razor7877/kademliatransfer/peer"
	"github.com/razor7877/kademliatransfer/rpcwire"
)

// MockTransport is a mock of the Transport interface.
type MockTransport struct {
	ctrl     *gomock.Controller
	recorder *MockTransportMockRecorder
}

// MockTransportMockRecorder is the mock recorder for MockTransport.
type MockTransportMockRecorder struct {
	mock *MockTransport
}

// NewMockTransport creates a new mock instance.
func NewMockTransport(ctrl *gomock.Controller) *MockTransport {
	mock := &MockTransport{ctrl: ctrl}
	mock.recorder = &MockTransportMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockTransport) EXPECT() *MockTransportMockRecorder {
	return m.recorder
}

// FindNode mocks base method.
func (m *MockTransport) FindNode(ctx context.Context, target peer.Peer, key nodeid.ID) (rpcwire.FindNodeResponse, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "FindNode", ctx, target, key)
	ret0, _ := ret[0].(rpcwire.FindNodeResponse)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// FindNode indicates an expected call of FindNode.
func (mr *MockTransportMockRecorder) FindNode(ctx, target, key interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "FindNode", reflect.TypeOf((*MockTransport)(nil).FindNode), ctx, target, key)
}

// FindValue mocks base method.
func (m *MockTransport) FindValue(ctx context.Context, target peer.Peer, key nodeid.ID) (rpcwire.FindValueResponse, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "FindValue", ctx, target, key)
	ret0, _ := ret[0].(rpcwire.FindValueResponse)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// FindValue indicates an expected call of FindValue.
func (mr *MockTransportMockRecorder) FindValue(ctx, target, key interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "FindValue", reflect.TypeOf((*MockTransport)(nil).FindValue), ctx, target, key)
}
