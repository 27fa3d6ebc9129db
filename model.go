package lightodm

import "context"

// Model is implemented by document types that declare their collection
// settings. Types that do not implement it can still be constructed, but any
// operation that needs a collection name fails with ErrConfiguration.
type Model interface {
	Settings() Settings
}

// CollectionResolver lets a model route itself to a collection handle of its
// own choosing instead of the one the mapper's Connector would return.
type CollectionResolver interface {
	ResolveCollection(ctx context.Context, conn Connector) (Collection, error)
}

// Document is the embeddable base of a model. It carries the identity field,
// mapped to the reserved "_id" key, and the bag of undeclared fields read
// from or written to the store.
//
//	type User struct {
//		lightodm.Document `bson:",inline"`
//		Name  string `bson:"name"`
//		Email string `bson:"email"`
//		Age   *int   `bson:"age"`
//	}
//
//	func (User) Settings() lightodm.Settings {
//		return lightodm.Settings{Name: "users"}
//	}
type Document struct {
	ID    string         `bson:"_id" odm:"id"`
	Extra map[string]any `bson:"-" odm:"extra"`
}

// GetID returns the document ID.
func (d Document) GetID() string {
	return d.ID
}

// SetExtra stores an undeclared field that will be written with the document.
func (d *Document) SetExtra(key string, value any) {
	if d.Extra == nil {
		d.Extra = make(map[string]any)
	}

	d.Extra[key] = value
}
