package tenant_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/certificate-service/pkg/apperr"
	"github.com/yourorg/certificate-service/pkg/auth"
	"github.com/yourorg/certificate-service/pkg/db/models"
	"github.com/yourorg/certificate-service/pkg/tenant"
	"github.com/yourorg/certificate-service/pkg/testutil"
)

func TestManager_CreateAndSuspend(t *testing.T) {
	ctx := context.Background()
	gdb := testutil.NewDB(t)
	m := tenant.NewManager(gdb, zap.NewNop())

	_, err := m.Create(ctx, &tenant.CreateTenantRequest{})
	_, isValidation := apperr.AsValidation(err)
	assert.True(t, isValidation)

	created, err := m.Create(ctx, &tenant.CreateTenantRequest{Name: "Acme"})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, models.TenantStatusActive, created.Status)

	byName, err := m.GetByName(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	resolver := tenant.NewDBResolver(gdb)
	p := &auth.Principal{TenantID: created.ID}
	got, err := resolver.CurrentTenant(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got)

	require.NoError(t, m.Suspend(ctx, created.ID))
	_, err = resolver.CurrentTenant(ctx, p)
	assert.Error(t, err)

	require.NoError(t, m.Activate(ctx, created.ID))
	_, err = resolver.CurrentTenant(ctx, p)
	assert.NoError(t, err)

	_, err = m.Get(ctx, 9999)
	assert.True(t, apperr.IsNotFound(err))
}

func TestDBResolver_SharedTenantAlwaysResolves(t *testing.T) {
	resolver := tenant.NewDBResolver(testutil.NewDB(t))
	got, err := resolver.CurrentTenant(context.Background(), &auth.Principal{TenantID: 0})
	require.NoError(t, err)
	assert.Equal(t, models.SharedTenantID, got)
}

func TestManager_APIKeys(t *testing.T) {
	ctx := context.Background()
	m := tenant.NewManager(testutil.NewDB(t), zap.NewNop())

	acme, err := m.Create(ctx, &tenant.CreateTenantRequest{Name: "Acme"})
	require.NoError(t, err)

	key, plaintext, err := m.CreateAPIKey(ctx, acme.ID, &tenant.CreateAPIKeyRequest{
		Name:         "lms",
		Capabilities: []string{auth.CapIssue},
	})
	require.NoError(t, err)
	assert.NotContains(t, key.SecretHash, plaintext)

	p, err := m.ValidateAPIKey(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, acme.ID, p.TenantID)
	assert.Equal(t, auth.TokenTypeAPI, p.Type)
	assert.True(t, p.Has(auth.CapIssue))

	_, err = m.ValidateAPIKey(ctx, key.ID+".wrong")
	assert.Error(t, err)

	require.NoError(t, m.RevokeAPIKey(ctx, acme.ID, key.ID))
	_, err = m.ValidateAPIKey(ctx, plaintext)
	assert.Error(t, err)

	past := time.Now().Add(-time.Hour)
	_, expired, err := m.CreateAPIKey(ctx, acme.ID, &tenant.CreateAPIKeyRequest{Name: "old", ExpiresAt: &past})
	require.NoError(t, err)
	_, err = m.ValidateAPIKey(ctx, expired)
	assert.Error(t, err)
}

func TestManager_GetStats(t *testing.T) {
	ctx := context.Background()
	gdb := testutil.NewDB(t)
	m := tenant.NewManager(gdb, zap.NewNop())

	tpl := &models.Template{Name: "T", TenantID: 4}
	require.NoError(t, gdb.Create(tpl).Error)
	require.NoError(t, gdb.Create(&models.Template{Name: "Other", TenantID: 5}).Error)
	require.NoError(t, gdb.Create(&models.Issue{TemplateID: tpl.ID, UserID: 1, Code: "AAAAAAAAA1"}).Error)
	require.NoError(t, gdb.Create(&models.Issue{TemplateID: tpl.ID, UserID: 2, Code: "AAAAAAAAA2"}).Error)
	require.NoError(t, gdb.Create(&models.User{TenantID: 4, FirstName: "A"}).Error)

	stats, err := m.GetStats(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Templates)
	assert.Equal(t, int64(2), stats.Issues)
	assert.Equal(t, int64(1), stats.Users)
}

func TestVisibleScope(t *testing.T) {
	gdb := testutil.NewDB(t)
	for _, tid := range []uint64{0, 1, 2} {
		require.NoError(t, gdb.Create(&models.Template{Name: "T", TenantID: tid}).Error)
	}

	var count int64
	require.NoError(t, gdb.Model(&models.Template{}).Scopes(tenant.VisibleScope(1)).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	require.NoError(t, gdb.Model(&models.Template{}).Scopes(tenant.VisibleScope(0)).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
