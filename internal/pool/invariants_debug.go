//go:build debug

package pool

const debugInvariants = true
