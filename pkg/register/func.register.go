package register

import "sync"

// Package register collects init-time hook functions keyed by an arbitrary
// value, so store implementations can wire themselves into a provider
// without import cycles.

type funcRegister struct {
	handlers map[any][]any
	locker   sync.RWMutex
}

var fr = &funcRegister{
	handlers: make(map[any][]any),
}

type Handler[T any] func(T)

func RegisterFunc[T any](key any, handler Handler[T]) {
	fr.locker.Lock()
	defer fr.locker.Unlock()
	fr.handlers[key] = append(fr.handlers[key], handler)
}

func ResolveFuncHandlers[T any](key any) []Handler[T] {
	fr.locker.RLock()
	defer fr.locker.RUnlock()

	var result []Handler[T]
	for _, v := range fr.handlers[key] {
		if h, ok := v.(Handler[T]); ok {
			result = append(result, h)
		}
	}
	return result
}
