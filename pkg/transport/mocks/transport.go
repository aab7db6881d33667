// Package mocks provides testify mocks for the transport contract.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/loopwire/podcore/pkg/ids"
	"github.com/loopwire/podcore/pkg/transport"
)

// Transport is a mock transport.Transport.
type Transport struct {
	mock.Mock
}

var _ transport.Transport = (*Transport)(nil)

// Send mocks transport.Transport.Send.
func (m *Transport) Send(ctx context.Context, cmd transport.Command) (transport.Response, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0).(transport.Response), args.Error(1)
}

// QueryStatus mocks transport.Transport.QueryStatus.
func (m *Transport) QueryStatus(ctx context.Context, id ids.Identity) (transport.Status, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(transport.Status), args.Error(1)
}

// Pair mocks transport.Transport.Pair.
func (m *Transport) Pair(ctx context.Context, id ids.Identity) (transport.PairResult, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(transport.PairResult), args.Error(1)
}
