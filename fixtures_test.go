package lightodm

import "time"

type testUser struct {
	Document `bson:",inline"`
	Name     string `bson:"name"`
	Email    string `bson:"email"`
	Age      *int   `bson:"age"`
}

func (testUser) Settings() Settings {
	return Settings{Name: "test_users"}
}

type tenantUser struct {
	Document `bson:",inline"`
	TenantID string `bson:"tenant_id"`
	UserID   string `bson:"user_id"`
	Email    string `bson:"email"`
}

func (tenantUser) Settings() Settings {
	return Settings{Name: "tenant_users", CompositeKey: []string{"tenant_id", "user_id"}}
}

type optionalKey struct {
	Document
	Required string  `bson:"required_field"`
	Optional *string `bson:"optional_field"`
}

func (optionalKey) Settings() Settings {
	return Settings{Name: "optional_keys", CompositeKey: []string{"required_field", "optional_field"}}
}

type numericKey struct {
	Document
	Year int `bson:"year"`
	Code int `bson:"code"`
}

func (numericKey) Settings() Settings {
	return Settings{Name: "numeric_keys", CompositeKey: []string{"Year", "Code"}}
}

type noSettings struct {
	Document
	Name string `bson:"name"`
}

type emptyName struct {
	Document
}

func (emptyName) Settings() Settings {
	return Settings{}
}

type emptyComposite struct {
	Document
	A string `bson:"a"`
}

func (emptyComposite) Settings() Settings {
	return Settings{Name: "empty_composite", CompositeKey: []string{}}
}

type unknownComposite struct {
	Document
	A string `bson:"a"`
}

func (unknownComposite) Settings() Settings {
	return Settings{Name: "unknown_composite", CompositeKey: []string{"a", "missing"}}
}

type plainIdentity struct {
	Key  string `bson:"key" odm:"id"`
	Name string `bson:"name"`
}

func (*plainIdentity) Settings() Settings {
	return Settings{Name: "plain_identity"}
}

type untagged struct {
	ID        string
	FirstName string
	CreatedAt time.Time
	internal  string
}

type noIdentity struct {
	Name string `bson:"name"`
}

type intIdentity struct {
	ID int `odm:"id"`
}

type badExtra struct {
	Document `bson:",inline"`
	More     map[string]string `odm:"extra"`
}

type address struct {
	City string `bson:"city"`
	Zip  string `bson:"zip"`
}

type profile struct {
	Document `bson:",inline"`
	Address  address   `bson:"address"`
	Tags     []string  `bson:"tags"`
	Created  time.Time `bson:"created"`
	Score    float64   `bson:"score"`
	Nickname string    `bson:"nickname,omitempty"`
	Skipped  string    `bson:"-"`
}

func (profile) Settings() Settings {
	return Settings{Name: "profiles"}
}

func intPtr(v int) *int {
	return &v
}

func strPtr(v string) *string {
	return &v
}
