package testutil

import (
	"context"

	"github.com/arthur-debert/keg/pkg/runner"
	"github.com/stretchr/testify/mock"
)

// MockRunner is a testify mock of runner.Runner.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, cmd runner.Command) (runner.Result, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0).(runner.Result), args.Error(1)
}

// MockBackend is a testify mock of fetch.Backend.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Fetch(ctx context.Context, locator, digest string) (string, error) {
	args := m.Called(ctx, locator, digest)
	return args.String(0), args.Error(1)
}

// CommandNamed matches a runner.Command by its Name in mock expectations.
func CommandNamed(name string) interface{} {
	return mock.MatchedBy(func(cmd runner.Command) bool {
		return cmd.Name == name
	})
}
