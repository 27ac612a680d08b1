// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import "code.hybscloud.com/atomix"

// Serial is a monotonically increasing session identifier.
// Each endpoint, or pipe pair, takes the next serial value.
type Serial = uint32

var counter atomix.Uint32

func nextSerial() Serial {
	return counter.Add(1)
}
