// Package media holds the raw and encoded sample types that travel between
// the capture, encode and mux stages.
package media

import (
	"fmt"
	"math/big"
)

// StreamKind distinguishes the two elementary streams of a recording.
type StreamKind int

const (
	Audio StreamKind = iota
	Video
)

func (k StreamKind) String() string {
	switch k {
	case Audio:
		return "audio"
	case Video:
		return "video"
	default:
		return fmt.Sprintf("stream(%d)", int(k))
	}
}

// Rational is a time base expressed as Num/Den seconds per tick.
type Rational struct {
	Num int64
	Den int64
}

// MicrosecondTimeBase is the shared time base of every captured sample.
var MicrosecondTimeBase = Rational{Num: 1, Den: 1_000_000}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Valid reports whether r can be used as a time base.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// Rescale converts ts from the from time base to the to time base, rounding
// to the nearest tick with halves away from zero.
func Rescale(ts int64, from, to Rational) int64 {
	if from == to {
		return ts
	}
	num := new(big.Int).Mul(big.NewInt(ts), big.NewInt(from.Num))
	num.Mul(num, big.NewInt(to.Den))
	den := new(big.Int).Mul(big.NewInt(from.Den), big.NewInt(to.Num))

	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	// |2r| >= den rounds away from zero
	r.Abs(r).Lsh(r, 1)
	if r.Cmp(den) >= 0 {
		if num.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	return q.Int64()
}
