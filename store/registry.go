// Package store holds the registry of blob-store types
// and a function for synchronizing stores that can list their refs.
package store

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/habs"
)

// Factory creates a store from its configuration map.
type Factory func(context.Context, map[string]interface{}) (habs.Store, error)

var registry = make(map[string]Factory)

// Register makes a store type available to Create under the given key.
func Register(key string, f Factory) {
	registry[key] = f
}

// Create creates a store of the type registered under key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (habs.Store, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// FromConfig creates a store from a config map whose "type" parameter names a registered store type.
func FromConfig(ctx context.Context, conf map[string]interface{}) (habs.Store, error) {
	typ, ok := conf["type"].(string)
	if !ok {
		return nil, errors.New(`missing "type" parameter`)
	}
	return Create(ctx, typ, conf)
}

// Nested creates the store described by the map-valued parameter key of conf.
func Nested(ctx context.Context, conf map[string]interface{}, key string) (habs.Store, error) {
	nested, ok := conf[key].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf(`missing "%s" parameter`, key)
	}
	nestedType, ok := nested["type"].(string)
	if !ok {
		return nil, fmt.Errorf(`"%s" parameter missing "type"`, key)
	}
	s, err := Create(ctx, nestedType, nested)
	return s, errors.Wrapf(err, "creating %s store", key)
}
