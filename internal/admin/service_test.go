package admin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-marketplace/internal/analytics"
	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/testutil"
	"ms-marketplace/internal/users"
	"ms-marketplace/internal/utils"
)

func TestAdminUserManagement(t *testing.T) {
	bdb := testutil.NewSQLiteDB(t)
	log := logger.NewNop()
	svc := NewService(&users.DB{Bun: bdb}, analytics.NewService(analytics.NewDB(bdb)), audit.NewRecorder(bdb, log), log)
	ctx := context.Background()

	root := testutil.SeedUser(t, bdb, models.RoleAdmin)
	buyer := testutil.SeedUser(t, bdb, models.RoleBuyer)
	testutil.SeedUser(t, bdb, models.RoleBuyer)

	_, err := svc.ChangeRole(ctx, root.ID, root.ID, models.RoleBuyer)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	u, err := svc.ChangeRole(ctx, root.ID, buyer.ID, models.RoleOrganizer)
	require.NoError(t, err)
	assert.Equal(t, models.RoleOrganizer, u.Role)
	assert.Equal(t, models.PlatformPending, u.OrganizerProfile.PlatformStatus)

	page, err := svc.ListUsers(ctx, users.Filter{Role: models.RoleBuyer}, utils.Page{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, err = svc.SetActive(ctx, root.ID, root.ID, false)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	u, err = svc.SetActive(ctx, root.ID, buyer.ID, false)
	require.NoError(t, err)
	assert.False(t, u.Active)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Users.Total)
	assert.Equal(t, 1, st.PendingApprovals.Organizers)

	var actions []string
	require.NoError(t, bdb.NewSelect().Model((*models.AuditLogEntry)(nil)).
		Column("action").Where("entity_id = ?", buyer.ID).Scan(ctx, &actions))
	assert.ElementsMatch(t, []string{"user.role_change", "user.set_active"}, actions)
}
