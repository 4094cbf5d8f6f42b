// Package fixedmath provides integer-only angle and trigonometry
// primitives. Actor fields that feed the replication checksum must evolve
// bit-identically on every platform, so anything derived from native
// floating-point transcendentals is off limits in simulation code; this
// package is the deterministic substitute.
package fixedmath

// Angle is a binary angle: the full circle is 65536 units, so wraparound
// is free and every angle has one canonical representation.
type Angle uint16

const (
	Quarter Angle = 1 << 14
	Half    Angle = 1 << 15
)

// FromDegrees converts whole degrees to the nearest binary angle.
func FromDegrees(deg int) Angle {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return Angle((deg*65536 + 180) / 360)
}

// Add returns a advanced by delta, wrapping.
func (a Angle) Add(delta Angle) Angle { return a + delta }

// Sub returns a retarded by delta, wrapping.
func (a Angle) Sub(delta Angle) Angle { return a - delta }

// Toward returns a stepped toward target by at most step units, taking the
// shorter way around the circle.
func (a Angle) Toward(target, step Angle) Angle {
	diff := int16(target - a)
	switch {
	case diff > 0 && Angle(diff) > step:
		return a + step
	case diff < 0 && Angle(-diff) > step:
		return a - step
	default:
		return target
	}
}

// Q16 is a signed 16.16 fixed-point number.
type Q16 int32

// One is the Q16 representation of 1.0.
const One Q16 = 1 << 16

// FromInt converts an integer to Q16.
func FromInt(v int) Q16 { return Q16(v) << 16 }

// Mul returns the Q16 product.
func (q Q16) Mul(other Q16) Q16 {
	return Q16((int64(q) * int64(other)) >> 16)
}

// Div returns the Q16 quotient.
func (q Q16) Div(other Q16) Q16 {
	return Q16((int64(q) << 16) / int64(other))
}

// Round returns the nearest integer.
func (q Q16) Round() int {
	if q < 0 {
		return -int((-q + 1<<15) >> 16)
	}
	return int((q + 1<<15) >> 16)
}

// Float converts to float64 for rendering only; the result must never
// flow back into simulation state.
func (q Q16) Float() float64 { return float64(q) / 65536 }

// Sin returns the sine of a in Q16, computed with integer arithmetic via
// a rational half-wave approximation. Absolute error stays under 0.002,
// which is plenty for facings and headings; what matters is that every
// platform computes the identical bit pattern.
func Sin(a Angle) Q16 {
	theta := int64(a % Half)
	// p peaks at Half*Half/4 when theta is a quarter turn.
	p := theta * (int64(Half) - theta)
	s := Q16((p << 20) / (5*int64(Half)*int64(Half) - 4*p))
	if a >= Half {
		return -s
	}
	return s
}

// Cos returns the cosine of a in Q16.
func Cos(a Angle) Q16 { return Sin(a + Quarter) }
