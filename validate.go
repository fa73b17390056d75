package habs

import (
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
)

// Validator checks blob content against the ref it was requested under.
type Validator interface {
	// VerifyHash consumes r and reports an error if its content does not hash to want.
	VerifyHash(r io.Reader, want Ref) error
}

// SHA256 is the Validator for refs computed by RefOf.
var SHA256 Validator = sha256Validator{}

type sha256Validator struct{}

func (sha256Validator) VerifyHash(r io.Reader, want Ref) error {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return errors.Wrap(err, "hashing content")
	}
	got := RefFromBytes(h.Sum(nil))
	if got != want {
		return errors.Errorf("content hashes to %s", got)
	}
	return nil
}
