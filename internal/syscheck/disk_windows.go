//go:build windows

package syscheck

import (
	"errors"
)

func diskFreeGB(path string) (float64, error) {
	return 0, errors.New("disk space check not supported on windows")
}
