package util

import "log"

// Debug is the verbosity threshold for DPrintf; 0 prints only level-0
// messages.
var Debug uint64 = 0

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		log.Printf(format, a...)
	}
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	} else {
		return m
	}
}

func Max(n uint64, m uint64) uint64 {
	if n > m {
		return n
	} else {
		return m
	}
}

// SumOverflows reports whether n + m wraps around.
func SumOverflows(n uint64, m uint64) bool {
	return n+m < n
}

// MulOverflows reports whether n * m does not fit in 64 bits.
func MulOverflows(n uint64, m uint64) bool {
	if n == 0 || m == 0 {
		return false
	}
	return (n*m)/m != n
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}
