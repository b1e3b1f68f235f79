package wire

import "math"

// Fixed is a signed 24.8 fixed-point number.
type Fixed int32

func FixedFromFloat64(v float64) Fixed {
	return Fixed(math.Round(v * 256))
}

func FixedFromInt(v int) Fixed {
	return Fixed(v * 256)
}

func (f Fixed) Float64() float64 {
	return float64(f) / 256
}

// Int truncates toward zero.
func (f Fixed) Int() int {
	return int(f) / 256
}
