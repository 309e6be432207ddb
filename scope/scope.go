// Package scope maps raw requested scope names to audience-owned scope
// definitions and compares scope sets.
package scope

import (
	"context"
	"log/slog"
	"sort"

	"github.com/arcwell/authcore/storage"
)

// Resolver resolves requested scope names against the scopes defined for a
// resource-server audience.
type Resolver struct {
	store  storage.ScopeStore
	logger *slog.Logger
}

// NewResolver creates a scope resolver backed by the given store.
func NewResolver(store storage.ScopeStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve filters the audience's defined scopes down to those named in the
// request. Unknown names are dropped rather than rejected; dropped names are
// logged at debug so operators can spot misconfigured clients.
func (r *Resolver) Resolve(ctx context.Context, names []string, audienceID string) ([]*storage.Scope, error) {
	if len(names) == 0 {
		return nil, nil
	}

	defined, err := r.store.ListScopesByAudience(ctx, audienceID)
	if err != nil {
		return nil, err
	}

	byValue := make(map[string]*storage.Scope, len(defined))
	for _, s := range defined {
		byValue[s.Value] = s
	}

	resolved := make([]*storage.Scope, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if s, ok := byValue[name]; ok {
			resolved = append(resolved, s)
		} else {
			r.logger.Debug("Dropped unknown scope", "scope", name, "audience", audienceID)
		}
	}

	return resolved, nil
}

// Values extracts the scope value strings from resolved scopes.
func Values(scopes []*storage.Scope) []string {
	values := make([]string, len(scopes))
	for i, s := range scopes {
		values[i] = s.Value
	}
	return values
}

// SetEqual reports whether two scope lists carry the same elements
// regardless of order. The comparison is duplicate-sensitive: the lists
// must have the same length, so ["a"] and ["a", "a"] are not equal even
// though they cover the same set.
func SetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)

	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
