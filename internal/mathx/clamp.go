package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Approach moves v toward target by at most step and never overshoots.
func Approach[T constraints.Float](v, target, step T) T {
	if step < 0 {
		step = -step
	}
	if v < target {
		return Clamp(v+step, v, target)
	}
	return Clamp(v-step, target, v)
}
