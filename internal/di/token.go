package di

import "sync"

// Token is a typed handle for a registered service. The type parameter
// makes resolution compile-time safe at the call site.
type Token[T any] struct {
	name string
}

// NewToken creates a token with a unique name. Names are conventionally
// "<context>.<Service>" for public services and "<context>:<dep>" for
// module-private dependencies.
func NewToken[T any](name string) Token[T] {
	return Token[T]{name: name}
}

// Name returns the token's registry name.
func (t Token[T]) Name() string {
	return t.name
}

// lazy defers construction until first resolution, so modules can
// register factories in any order.
type lazy struct {
	once    sync.Once
	value   any
	factory func(ServiceRegistry) any
}

// RegisterToken registers a factory for the token. The factory runs once,
// on first GetToken, and the result is memoized.
func RegisterToken[T any](c Container, tok Token[T], factory func(ServiceRegistry) T) {
	c.Register(tok.name, &lazy{
		factory: func(sr ServiceRegistry) any { return factory(sr) },
	})
}

// GetToken resolves the token, constructing the service on first use.
// Panics when the token was never registered; wiring errors should fail
// loudly at startup.
func GetToken[T any](sr ServiceRegistry, tok Token[T]) T {
	v := sr.MustGet(tok.name)
	if l, ok := v.(*lazy); ok {
		l.once.Do(func() {
			l.value = l.factory(sr)
		})
		return l.value.(T)
	}
	return v.(T)
}
