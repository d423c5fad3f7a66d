// Package test contains a test suite with benchmarks for backends.
//
// # Overview
//
// For the test suite to work, a function returning the configuration of a
// temporary backend and the factory of the backend are needed. The Suite
// struct has fields for both, plus an optional cleanup function.
//
// So for a new backend, a Suite needs to be built, then the methods
// RunTests() and RunBenchmarks() can be used to run the individual tests and
// benchmarks as subtests/subbenchmarks.
//
// # Example
//
//	func newTestSuite(t testing.TB) *test.Suite[mem.Config] {
//		return &test.Suite[mem.Config]{
//			NewConfig: func() (*mem.Config, error) {
//				return mem.ParseConfig("mem://suite")
//			},
//			Factory: mem.NewFactory(),
//		}
//	}
//
//	func TestSuiteBackendMem(t *testing.T) {
//		newTestSuite(t).RunTests(t)
//	}
//
// The functions are run in alphabetical order. Every test works below its
// own directory, so tests do not see each other's files.
//
// # Add new tests
//
// A new test or benchmark can be added by implementing a method on *Suite
// with the name starting with "Test" and a single *testing.T parameter for
// test. For benchmarks, the name must start with "Benchmark" and the parameter
// is a *testing.B
package test
