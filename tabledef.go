package lightodm

// Settings is the static per-model configuration block.
type Settings struct {
	// Name is the collection the model is stored in.
	Name string

	// CompositeKey lists, in order, the fields whose values derive the
	// document ID. A nil slice means the model uses random IDs; a non-nil
	// empty slice is an invalid declaration.
	//
	// Adding a composite key to a model that already stored documents under
	// random IDs changes their IDs; Save then inserts instead of replacing.
	CompositeKey []string
}

// SortKey orders query results by one field. Order is 1 for ascending and -1
// for descending.
type SortKey struct {
	Key   string
	Order int
}

// Sort is an ordered list of sort keys.
type Sort []SortKey

// Asc sorts by key in ascending order.
func Asc(key string) SortKey {
	return SortKey{Key: key, Order: 1}
}

// Desc sorts by key in descending order.
func Desc(key string) SortKey {
	return SortKey{Key: key, Order: -1}
}
