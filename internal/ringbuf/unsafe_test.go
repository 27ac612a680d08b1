// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ringbuf_test

import "unsafe"

func unsafeBytes(backing []int64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&backing[0])), len(backing)*8)
}
