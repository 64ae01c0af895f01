package kmem

import (
	"fmt"

	binutils "github.com/jfoster/binary-utilities"
	"github.com/pkg/math"
)

// PageSize is the default block size and bus address alignment.
const PageSize = 4096

// normalize fills defaults and validates the request.
func (spec Spec) normalize() (Spec, error) {
	if spec.Count <= 0 {
		return spec, fmt.Errorf("%w: count %d", ErrInvalidSpec, spec.Count)
	}
	if spec.Size < 0 {
		return spec, fmt.Errorf("%w: size %d", ErrInvalidSpec, spec.Size)
	}
	if spec.Size == 0 {
		spec.Size = PageSize
	}
	if spec.Alignment == 0 {
		spec.Alignment = PageSize
	}
	if binutils.NextPowerOfTwo(int64(spec.Alignment)) != int64(spec.Alignment) {
		return spec, fmt.Errorf("%w: alignment %d is not a power of two", ErrInvalidSpec, spec.Alignment)
	}
	spec.Alignment = math.MaxInt(spec.Alignment, 8)
	return spec, nil
}

func alignUp(x uint64, alignment int) uint64 {
	a := uint64(alignment)
	return (x + a - 1) / a * a
}
