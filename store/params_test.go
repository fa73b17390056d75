package store

import (
	"encoding/json"
	"testing"
)

func TestInt(t *testing.T) {
	conf := map[string]interface{}{
		"a": 3,
		"b": float64(4),
		"c": json.Number("5"),
		"d": 2.5,
		"e": "six",
	}
	cases := []struct {
		key     string
		want    int
		wantErr bool
	}{
		{key: "a", want: 3},
		{key: "b", want: 4},
		{key: "c", want: 5},
		{key: "d", wantErr: true},
		{key: "e", wantErr: true},
		{key: "missing", want: 7},
	}
	for _, c := range cases {
		t.Run(c.key, func(t *testing.T) {
			got, err := Int(conf, c.key, 7)
			if c.wantErr {
				if err == nil {
					t.Errorf("got %d, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != c.want {
				t.Errorf("got %d, want %d", got, c.want)
			}
		})
	}
}

func TestBool(t *testing.T) {
	conf := map[string]interface{}{"yes": true, "bad": 1}
	if got, err := Bool(conf, "yes", false); err != nil || !got {
		t.Errorf("got %v, %v; want true, nil", got, err)
	}
	if got, err := Bool(conf, "missing", true); err != nil || !got {
		t.Errorf("got %v, %v; want true, nil", got, err)
	}
	if _, err := Bool(conf, "bad", false); err == nil {
		t.Error("got nil error for non-bool parameter")
	}
}
