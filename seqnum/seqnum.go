// Package seqnum implements modular arithmetic over 15-bit sequence numbers.
package seqnum

const (
	// Bits is the width of a sequence number as carried on the wire (§6.1).
	Bits = 15
	// Space is the size of the sequence number ring, 2^15.
	Space = 1 << Bits
	// Max is the largest valid sequence number.
	Max = Space - 1
	half = Space / 2
)

// Num is a sequence number in [0, Space).
type Num uint16

// Add returns (n + delta) mod Space.
func (n Num) Add(delta int) Num {
	v := (int(n) + delta) % Space
	if v < 0 {
		v += Space
	}
	return Num(v)
}

// Relative computes relative(a, b) = ((a-b+2^14) mod 2^15) - 2^14, the
// signed offset of a from b in [-2^14, 2^14). It is the sole comparison
// primitive sequence numbers use: ordinary `<`/`>` would break at the wrap.
func Relative(a, b Num) int {
	const quarter = Space / 4
	v := (int(a) - int(b) + quarter*2) % Space
	if v < 0 {
		v += Space
	}
	return v - quarter*2
}

// LessOrEqual reports whether a is not newer than b (r <= 0 in spec terms).
func LessOrEqual(a, b Num) bool {
	return Relative(a, b) <= 0
}
