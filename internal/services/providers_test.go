package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"telecare-server/internal/models"
	"telecare-server/internal/repository"
)

func TestResolveDefaultsToOldestActiveAdmin(t *testing.T) {
	f := newFixture(t)

	p, err := f.providers.Resolve(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, f.admin.ID, p.ID)
}

func TestResolveHonoursConfiguredDefault(t *testing.T) {
	f := newFixture(t)
	r := NewProviderResolver(f.repos.Users, f.staff.ID, zap.NewNop())

	p, err := r.Resolve(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, f.staff.ID, p.ID)
}

func TestResolveMisconfiguredDefaultIsUnavailable(t *testing.T) {
	f := newFixture(t)

	r := NewProviderResolver(f.repos.Users, f.patient.ID, zap.NewNop())
	_, err := r.Resolve(f.ctx, "")
	assert.ErrorIs(t, err, models.ErrNoActiveProvider)

	r = NewProviderResolver(f.repos.Users, "missing", zap.NewNop())
	_, err = r.Resolve(f.ctx, "")
	assert.ErrorIs(t, err, models.ErrNoActiveProvider)
}

func TestResolveExplicitProvider(t *testing.T) {
	f := newFixture(t)

	p, err := f.providers.Resolve(f.ctx, f.staff.ID)
	require.NoError(t, err)
	assert.Equal(t, f.staff.ID, p.ID)

	_, err = f.providers.Resolve(f.ctx, f.patient.ID)
	assert.Equal(t, KindValidation, Classify(err))

	_, err = f.providers.Resolve(f.ctx, "nobody")
	assert.Equal(t, KindValidation, Classify(err))
}

func TestResolveWithoutAdminsIsConfigurationError(t *testing.T) {
	f := newFixture(t)
	users := repository.NewMemoryUserRepository()
	require.NoError(t, users.Create(f.ctx, &models.User{Email: "p@x.test", Role: models.RolePatient, IsActive: true}))

	_, err := NewProviderResolver(users, "", nil).Resolve(f.ctx, "")
	assert.ErrorIs(t, err, models.ErrNoActiveProvider)
	assert.Equal(t, KindUnavailable, Classify(err))
}
