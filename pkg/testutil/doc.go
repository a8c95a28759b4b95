// Package testutil provides utilities for testing keg components.
//
// Key components:
//   - TestEnvironment: an isolated shared root plus config, cache and
//     state directories under t.TempDir(), wired through the KEG_*
//     environment variables
//   - MockRunner, MockBackend: testify mocks for external tools and
//     artifact retrieval
//   - FormulaBuilder: declarative formula setup for planning and
//     orchestration tests
//   - File helpers: CreateFile, AssertSymlink, AssertFileContent, ...
//
// Usage guidelines:
//   - Tests that touch symlinks use a real temp directory
//   - All test data should be defined inline, not in external files
//   - Each test should be completely isolated with no shared state
package testutil
