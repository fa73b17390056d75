package hashgroup

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/bobg/habs/store"
)

// IndexFactory creates an Index from its configuration map.
type IndexFactory func(context.Context, map[string]interface{}) (Index, error)

var registry = map[string]IndexFactory{
	"mem": func(context.Context, map[string]interface{}) (Index, error) {
		return NewMemIndex(), nil
	},
}

// RegisterIndex makes an index type available to TreeFromConfig under the given key.
func RegisterIndex(key string, f IndexFactory) {
	registry[key] = f
}

// TreeFromConfig creates a tree from a config map.
// Its "type" parameter names a registered index type,
// and "prefix_len" and "depth" give the layout.
// The remaining parameters are for the index.
func TreeFromConfig(ctx context.Context, conf map[string]interface{}, opts ...Option) (*Tree, error) {
	typ, ok := conf["type"].(string)
	if !ok {
		return nil, errors.New(`missing "type" parameter`)
	}
	f, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("index type %s not found in registry", typ)
	}

	var (
		c   Config
		err error
	)
	if c.PrefixLen, err = store.Int(conf, "prefix_len", 0); err != nil {
		return nil, err
	}
	if c.Depth, err = store.Int(conf, "depth", 0); err != nil {
		return nil, err
	}

	idx, err := f(ctx, conf)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s index", typ)
	}
	t, err := New(idx, c, opts...)
	if err != nil {
		if closer, ok := idx.(io.Closer); ok {
			closer.Close()
		}
		return nil, err
	}
	return t, nil
}

// Close closes the tree's index if it has a Close method.
func (t *Tree) Close() error {
	if closer, ok := t.idx.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
