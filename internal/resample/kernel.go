package resample

import "math"

const (
	tableSize  = 100000
	tableRange = 4.0
)

// Kernel is the piecewise cubic convolution kernel with a precomputed
// lookup table covering [-4, 4]. A Kernel is immutable once built.
type Kernel struct {
	table []float64
	scale float64
}

// NewKernel builds the lookup table
func NewKernel() *Kernel {
	k := &Kernel{
		table: make([]float64, tableSize),
		scale: float64(tableSize-1) / (2 * tableRange),
	}
	for i := range k.table {
		k.table[i] = cubic(tableRange - float64(i)/k.scale)
	}
	return k
}

// At evaluates the kernel, from the table when |x| <= 4
func (k *Kernel) At(x float64) float64 {
	if x < -tableRange || x > tableRange {
		return cubic(x)
	}
	return k.table[int(math.Round((tableRange-x)*k.scale))]
}

// cubic evaluates the kernel directly
func cubic(t float64) float64 {
	d := t + 2
	r := 0.0
	if d > 0 {
		r += d * d * d / 6
	}
	d--
	if d > 0 {
		r -= 2.0 / 3 * d * d * d
	}
	d--
	if d > 0 {
		r += d * d * d
	}
	d--
	if d > 0 {
		r -= 2.0 / 3 * d * d * d
	}
	return r
}
