package habs

import (
	"bytes"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
)

// Ref is the ref of a blob: the sha256 hash of its content.
type Ref [sha256.Size]byte

// RefOf computes the Ref of some bytes.
func RefOf(b []byte) Ref {
	return sha256.Sum256(b)
}

// Zero is the zero value of a Ref.
var Zero Ref

func (r Ref) String() string {
	return hex.EncodeToString(r[:])
}

// IsZero tells whether r is the zero Ref.
func (r Ref) IsZero() bool {
	return r == Zero
}

// Less tells whether r sorts before other.
func (r Ref) Less(other Ref) bool {
	return bytes.Compare(r[:], other[:]) < 0
}

// FromHex parses s into r.
func (r *Ref) FromHex(s string) error {
	if len(s) != 2*sha256.Size {
		return fmt.Errorf("wrong length %d for hex ref", len(s))
	}
	_, err := hex.Decode(r[:], []byte(s))
	return err
}

// RefFromBytes copies b into a Ref.
func RefFromBytes(b []byte) Ref {
	var out Ref
	copy(out[:], b)
	return out
}

// RefFromHex parses a hex string into a Ref.
func RefFromHex(s string) (Ref, error) {
	var out Ref
	err := out.FromHex(s)
	return out, err
}

// Value implements driver.Valuer,
// so a Ref can be passed directly as a SQL query argument.
func (r Ref) Value() (driver.Value, error) {
	return r[:], nil
}

// Scan implements sql.Scanner.
func (r *Ref) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into a Ref", src)
	}
	if len(b) != sha256.Size {
		return fmt.Errorf("cannot scan %d bytes into a Ref", len(b))
	}
	copy(r[:], b)
	return nil
}
