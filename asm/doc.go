// Package asm exposes the handful of arm64 instructions the memory manager
// needs and Go cannot express: barriers, TLB maintenance, system-register
// moves and interrupt masking.
//
// The functions only exist on arm64 and trap unless executed at EL1.
package asm
