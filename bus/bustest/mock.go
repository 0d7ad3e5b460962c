package bustest

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockTransactor is a testify mock of sensorhub.Transactor. The first return
// argument, when a []byte, is copied into the read buffer.
type MockTransactor struct {
	mock.Mock
}

func (m *MockTransactor) Tx(ctx context.Context, address byte, w, r []byte) error {
	args := m.Called(ctx, address, w, r)
	if data, ok := args.Get(0).([]byte); ok && len(data) <= len(r) {
		copy(r, data)
	}
	return args.Error(1)
}
