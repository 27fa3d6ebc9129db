package lightodm

import (
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
)

var (
	// ErrConfiguration marks a model or connection declaration that cannot be
	// used: missing collection name, invalid composite key, missing
	// connection parameters.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidValue marks an operation precondition violated by the
	// caller's data, like an empty document ID on save.
	ErrInvalidValue = errors.New("invalid value")

	// ErrDuplicateKey is returned by stores that are not MongoDB when an
	// insert collides with an existing _id.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrUnsupported is returned by stores for operations or pipeline
	// stages they do not implement.
	ErrUnsupported = errors.New("unsupported operation")
)

// IsDuplicateKeyError reports whether err is a duplicate key conflict raised
// by MongoDB or by an embedded store.
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrDuplicateKey) || mongo.IsDuplicateKeyError(err)
}
