// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package engine_test

import "testing"

// skipRace skips tests that hand tasks to a running worker. The task
// queue is an lfq SPSC whose cross-variable memory ordering the race
// detector cannot see.
func skipRace(tb testing.TB) {
	tb.Helper()
	tb.Skip("skip: SPSC uses cross-variable memory ordering")
}
