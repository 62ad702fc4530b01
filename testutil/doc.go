// Package testutil provides test setup for execkit components.
//
// Components started with Setup are stopped when the test ends, so a pool
// from Pool is always drained and no spawned process outlives its test:
//
//	func TestBroker(t *testing.T) {
//		pool := testutil.Pool(t)
//		e, err := local.New(local.Config{}, pool, logger.NewNop())
//		...
//	}
package testutil
