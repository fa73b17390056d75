package store

import (
	"encoding/json"
	"fmt"
)

// Int reads an integer parameter from a config map,
// which may hold it as an int, an int64, a float64, or a json.Number
// depending on how the config was decoded.
// It returns def if the parameter is absent.
func Int(conf map[string]interface{}, key string, def int) (int, error) {
	v, ok := conf[key]
	if !ok {
		return def, nil
	}
	switch v := v.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("parameter %s: %v is not an integer", key, v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("parameter %s: %s", key, err)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("parameter %s has type %T, want number", key, v)
}

// Bool reads a boolean parameter from a config map,
// returning def if the parameter is absent.
func Bool(conf map[string]interface{}, key string, def bool) (bool, error) {
	v, ok := conf[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %s has type %T, want bool", key, v)
	}
	return b, nil
}
