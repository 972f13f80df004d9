package optional

// Optional holds a value which may or may not have been set. The zero value is
// an empty Optional.
type Optional[T any] struct {
	value T
	set   bool
}

// Set stores v.
func (o *Optional[T]) Set(v T) {
	o.value = v
	o.set = true
}

// Get returns the stored value. It returns the zero value of T when nothing
// has been set, use HasValue to tell the two apart.
func (o Optional[T]) Get() T {
	return o.value
}

// HasValue returns true if Set has been called.
func (o Optional[T]) HasValue() bool {
	return o.set
}
