package tokenstore

import "context"

// Prefixed scopes a shared Store to one namespace, typically one browser.
// Two Prefixed stores with different namespaces never see each other's entries.
func Prefixed(store Store, namespace string) Store {
	return &prefixedStore{store: store, prefix: namespace + ":"}
}

type prefixedStore struct {
	store  Store
	prefix string
}

func (p *prefixedStore) Get(ctx context.Context, name string) (string, bool, error) {
	return p.store.Get(ctx, p.prefix+name)
}

func (p *prefixedStore) Set(ctx context.Context, name, value string) error {
	return p.store.Set(ctx, p.prefix+name, value)
}

func (p *prefixedStore) Clear(ctx context.Context, name string) error {
	return p.store.Clear(ctx, p.prefix+name)
}

func (p *prefixedStore) Take(ctx context.Context, name string) (string, bool, error) {
	return p.store.Take(ctx, p.prefix+name)
}
