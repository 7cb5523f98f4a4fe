//go:build !linux

package asyncio

import "os"

func newURing(_ *os.File, _ layout, _ options) (Reader, error) {
	return nil, ErrUnsupported
}
