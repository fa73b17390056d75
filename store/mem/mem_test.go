package mem

import (
	"context"
	"testing"

	"github.com/bobg/habs/testutil"
)

func TestStore(t *testing.T) {
	testutil.ReadWrite(context.Background(), t, New())
}

func TestListRefs(t *testing.T) {
	testutil.ListRefs(context.Background(), t, New())
}
