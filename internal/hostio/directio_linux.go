//go:build linux

package hostio

import "syscall"

const directIOFlag = syscall.O_DIRECT
