package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(0)
	require.NoError(t, err)
	assert.Len(t, code, DefaultCodeLength)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateCode(12)
		require.NoError(t, err)
		assert.Len(t, code, 12)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(codeAlphabet, r), "unexpected rune %q", r)
		}
		seen[code] = true
	}
	assert.Len(t, seen, 50)
}

func TestIssueExpiryAndSnapshot(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.False(t, (&Issue{}).IsExpired(now))
	assert.True(t, (&Issue{ExpiresAt: &past}).IsExpired(now))
	assert.False(t, (&Issue{ExpiresAt: &future}).IsExpired(now))

	issue := &Issue{Data: datatypes.JSONMap{
		IssueDataUserFullName: "Ada Lovelace",
		IssueDataTemplateName: 42,
	}}
	assert.Equal(t, "Ada Lovelace", issue.UserFullName())
	assert.Equal(t, "", issue.TemplateName())
	assert.Equal(t, "", (&Issue{}).UserFullName())
}

func TestAPIKeyUsable(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, (&TenantAPIKey{}).IsUsable(now))
	assert.True(t, (&TenantAPIKey{ExpiresAt: &future}).IsUsable(now))
	assert.False(t, (&TenantAPIKey{ExpiresAt: &past}).IsUsable(now))
	assert.False(t, (&TenantAPIKey{RevokedAt: &past}).IsUsable(now))
}

func TestUserFullNameAndSharedTemplate(t *testing.T) {
	assert.Equal(t, "Ada", (&User{FirstName: "Ada"}).FullName())
	assert.Equal(t, "Ada Lovelace", (&User{FirstName: "Ada", LastName: "Lovelace"}).FullName())
	assert.True(t, (&Template{TenantID: SharedTenantID}).IsShared())
	assert.False(t, (&Template{TenantID: 3}).IsShared())
}
