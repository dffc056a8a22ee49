//go:build !linux

package device

func isFatalErrno(error) bool { return false }
