package utils

// Value dereferences v, yielding the zero value for nil.
func Value[T any](v *T) T {
	if v == nil {
		return *new(T)
	}
	return *v
}

// OrDefault dereferences v, yielding def when v is nil or points at the zero value.
func OrDefault[T comparable](v *T, def T) T {
	var zero T
	if v == nil || *v == zero {
		return def
	}
	return *v
}

func Ptr[T any](v T) *T {
	return &v
}
