// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scalars_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"code.hybscloud.com/engine/internal/scalars"
)

func TestWriters(t *testing.T) {
	table := scalars.NewTable()
	counter := table.Writer(scalars.Counter, 2, 10)
	gauge := table.Writer(scalars.Gauge, 1, 11)

	counter(5)
	counter(-3)
	gauge(4)
	gauge(-1)

	assert.Equal(t, []scalars.Sample{
		{BindingID: 1, MetricID: 11, Kind: scalars.Gauge, Value: 3},
		{BindingID: 2, MetricID: 10, Kind: scalars.Counter, Value: 5},
	}, table.Samples())

	table.Remove(1)
	assert.Len(t, table.Samples(), 1)
}
