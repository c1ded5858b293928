//go:build !linux

package forksafety

import "os"

func currentPID() int32 {
	return int32(os.Getpid())
}
