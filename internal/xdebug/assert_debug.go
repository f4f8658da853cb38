//go:build debug

// Package xdebug provides cheap runtime assertions that compile to no-ops
// unless built with `-tags debug`, the same split the teacher uses between
// cmn/debug's build-tagged variants.
package xdebug

import (
	"fmt"

	"github.com/golang/glog"
)

func Assert(cond bool, a ...interface{}) {
	if !cond {
		panicf("assertion failed: %s", fmt.Sprint(a...))
	}
}

func Assertf(cond bool, f string, a ...interface{}) {
	if !cond {
		panicf("assertion failed: %s", fmt.Sprintf(f, a...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panicf("unexpected error: %v", err)
	}
}

func panicf(f string, a ...interface{}) {
	msg := fmt.Sprintf(f, a...)
	glog.ErrorDepth(1, "[DEBUG] "+msg)
	panic(msg)
}
