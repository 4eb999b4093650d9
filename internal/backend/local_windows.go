//go:build windows

package backend

func isHangup(error) bool { return false }
