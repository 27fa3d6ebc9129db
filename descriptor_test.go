package lightodm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	d, err := Describe[testUser]()
	require.NoError(t, err)

	assert.Equal(t, "testUser", d.Name())
	assert.Equal(t, "ID", d.IdentityField())
	assert.True(t, d.UsesIdentityAlias())
	assert.Equal(t, []string{"name", "email", "age"}, d.Fields())
	assert.Nil(t, d.CompositeKey())

	name, err := d.CollectionName()
	require.NoError(t, err)
	assert.Equal(t, "test_users", name)
}

func TestDescribeIsCached(t *testing.T) {
	d1, err := Describe[tenantUser]()
	require.NoError(t, err)

	d2, err := Describe[tenantUser]()
	require.NoError(t, err)

	assert.Same(t, d1, d2)
}

func TestDescribeDefaultWireNames(t *testing.T) {
	d, err := Describe[untagged]()
	require.NoError(t, err)

	assert.Equal(t, "ID", d.IdentityField())
	assert.False(t, d.UsesIdentityAlias())
	assert.Equal(t, []string{"first_name", "created_at"}, d.Fields())
}

func TestDescribeSkipsIgnoredFields(t *testing.T) {
	d, err := Describe[profile]()
	require.NoError(t, err)

	assert.Equal(t, []string{"address", "tags", "created", "score", "nickname"}, d.Fields())
}

func TestDescribeSettingsOnPointerReceiver(t *testing.T) {
	d, err := Describe[plainIdentity]()
	require.NoError(t, err)

	name, err := d.CollectionName()
	require.NoError(t, err)
	assert.Equal(t, "plain_identity", name)
	assert.Equal(t, "Key", d.IdentityField())
	assert.False(t, d.UsesIdentityAlias())
}

func TestDescribeInvalidModels(t *testing.T) {
	tests := []struct {
		name     string
		describe func() (*Descriptor, error)
		contains string
	}{
		{
			name:     "not a struct",
			describe: Describe[int],
			contains: "must be a struct",
		},
		{
			name:     "no identity",
			describe: Describe[noIdentity],
			contains: "no identity field",
		},
		{
			name:     "non-string identity",
			describe: Describe[intIdentity],
			contains: "must be a string",
		},
		{
			name:     "extra field of wrong type",
			describe: Describe[badExtra],
			contains: "must be a map[string]any",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.describe()
			require.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestCollectionNameErrors(t *testing.T) {
	d, err := Describe[noSettings]()
	require.NoError(t, err, "models without settings can still be described")

	_, err = d.CollectionName()
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "must implement Settings()")

	d, err = Describe[emptyName]()
	require.NoError(t, err)

	_, err = d.CollectionName()
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "must define a collection name")
}

func TestInitRandomID(t *testing.T) {
	u := &testUser{Name: "alice"}
	require.NoError(t, Init(u))
	assert.Regexp(t, objectIDPattern, u.ID)

	u2 := &testUser{Name: "bob"}
	require.NoError(t, Init(u2))
	assert.NotEqual(t, u.ID, u2.ID)
}

func TestInitKeepsExplicitID(t *testing.T) {
	u := &testUser{Document: Document{ID: "custom_id_123"}}
	require.NoError(t, Init(u))
	assert.Equal(t, "custom_id_123", u.ID)
}

func TestInitCompositeKey(t *testing.T) {
	u := &tenantUser{TenantID: "tenant1", UserID: "user1"}
	require.NoError(t, Init(u))
	assert.Equal(t, md5Hex("tenant1user1"), u.ID)

	same := &tenantUser{TenantID: "tenant1", UserID: "user1", Email: "other@example.com"}
	require.NoError(t, Init(same))
	assert.Equal(t, u.ID, same.ID)

	other := &tenantUser{TenantID: "tenant1", UserID: "user2"}
	require.NoError(t, Init(other))
	assert.NotEqual(t, u.ID, other.ID)
}

func TestInitCompositeKeyOverridesExplicitID(t *testing.T) {
	u := &tenantUser{Document: Document{ID: "manual"}, TenantID: "t", UserID: "u"}
	require.NoError(t, Init(u))
	assert.Equal(t, md5Hex("tu"), u.ID)
}

func TestInitCompositeKeyByFieldName(t *testing.T) {
	n := &numericKey{Year: 2024, Code: 7}
	require.NoError(t, Init(n))
	assert.Equal(t, md5Hex("20247"), n.ID)
}

func TestInitCompositeKeyNilComponent(t *testing.T) {
	o := &optionalKey{Required: "req"}
	err := Init(o)
	require.ErrorIs(t, err, ErrInvalidValue)
	assert.Contains(t, err.Error(), "optional_field")

	o.Optional = strPtr("opt")
	require.NoError(t, Init(o))
	assert.Equal(t, md5Hex("reqopt"), o.ID)
}

func TestInitCompositeKeyEmptyStringIsAValue(t *testing.T) {
	u := &tenantUser{TenantID: "", UserID: "test"}
	require.NoError(t, Init(u))
	assert.Equal(t, md5Hex("test"), u.ID)
}

func TestInitInvalidCompositeDeclaration(t *testing.T) {
	err := Init(&emptyComposite{A: "x"})
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "non-empty list")

	err = Init(&unknownComposite{A: "x"})
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), `"missing" not found`)
}

func TestInitNilDocument(t *testing.T) {
	require.ErrorIs(t, Init[testUser](nil), ErrInvalidValue)
}
