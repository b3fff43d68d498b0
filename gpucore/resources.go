package gpucore

import "sync"

// Resources keeps one lazily created value per device. It is how
// long-lived objects attach their textures and programs to every device
// they are used with.
type Resources[T any] struct {
	mu sync.Mutex
	m  map[Device]T
}

// Get returns the value for dev, creating it with create on first use. A
// failed create leaves no entry behind, so the next Get retries.
func (r *Resources[T]) Get(dev Device, create func() (T, error)) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.m[dev]; ok {
		return v, nil
	}
	v, err := create()
	if err != nil {
		var zero T
		return zero, err
	}
	if r.m == nil {
		r.m = make(map[Device]T)
	}
	r.m[dev] = v
	return v, nil
}

// Lookup returns the value for dev without creating it.
func (r *Resources[T]) Lookup(dev Device) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.m[dev]
	return v, ok
}

// Release removes the value for dev and passes it to destroy.
func (r *Resources[T]) Release(dev Device, destroy func(T)) {
	r.mu.Lock()
	v, ok := r.m[dev]
	delete(r.m, dev)
	r.mu.Unlock()

	if ok && destroy != nil {
		destroy(v)
	}
}

// ReleaseAll removes every value and passes each to destroy.
func (r *Resources[T]) ReleaseAll(destroy func(T)) {
	r.mu.Lock()
	m := r.m
	r.m = nil
	r.mu.Unlock()

	if destroy == nil {
		return
	}
	for _, v := range m {
		destroy(v)
	}
}

// Len returns the number of devices with a live value.
func (r *Resources[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
