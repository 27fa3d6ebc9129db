package lightodm

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GenerateID returns a new random document ID: the 24 character hex form of a
// MongoDB ObjectID.
func GenerateID() string {
	return primitive.NewObjectID().Hex()
}

// GenerateCompositeID derives a deterministic document ID from values. Each
// value is converted to its string form and the strings are concatenated in
// order, without separators, before hashing with MD5. The result is the 32
// character lowercase hex digest.
//
// Callers are responsible for values whose boundaries could be ambiguous:
// ("ab", "c") and ("a", "bc") produce the same ID.
//
// String forms follow Go conventions: 1.0 becomes "1" and true becomes
// "true". A store shared with code that renders these as "1.0" or "True"
// gets different IDs for the same key; use string or integer components
// there.
func GenerateCompositeID(values ...any) string {
	var sb strings.Builder
	for _, v := range values {
		sb.WriteString(stringify(v))
	}

	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func stringify(v any) string {
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}

	return fmt.Sprint(v)
}
