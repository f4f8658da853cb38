//go:build !debug

package xdebug

func Assert(cond bool, a ...interface{})           {}
func Assertf(cond bool, f string, a ...interface{}) {}
func AssertNoErr(err error)                         {}
