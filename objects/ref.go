package objects

import (
	"strings"

	"github.com/nestormc/nestor/errors"
)

// ParseRef splits an "owner:oid" reference. The oid may itself contain
// colons.
func ParseRef(ref string) (owner, oid string, err error) {
	owner, oid, ok := strings.Cut(ref, ":")
	if !ok || owner == "" || oid == "" {
		return "", "", errors.ErrMalformedOID(ref)
	}
	return owner, oid, nil
}

// Ref builds the canonical reference of an object.
func Ref(owner, oid string) string {
	return owner + ":" + oid
}
