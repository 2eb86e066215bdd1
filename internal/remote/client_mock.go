package remote

import (
	"github.com/stretchr/testify/mock"
)

// MockClient is a testify mock of Client for unit tests.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Fetch(ruleID string) (*Snapshot, error) {
	args := m.Called(ruleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Snapshot), args.Error(1)
}

func (m *MockClient) Replace(ruleID string, obj *Snapshot) (*Snapshot, error) {
	args := m.Called(ruleID, obj)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Snapshot), args.Error(1)
}

func (m *MockClient) BatchPartialUpdate(ruleID string, delta FieldDelta) (*Snapshot, error) {
	args := m.Called(ruleID, delta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Snapshot), args.Error(1)
}

func (m *MockClient) List(filter ListFilter) ([]*Snapshot, error) {
	args := m.Called(filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Snapshot), args.Error(1)
}
