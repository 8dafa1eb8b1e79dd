package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marina-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marina-backend/pkg/db/models"
	"github.com/angelmondragon/marina-backend/pkg/enums"
)

func TestListAdminIDs(t *testing.T) {
	db := dbtest.New(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	users := []models.User{
		{ID: uuid.New(), Name: "Second admin", Email: "b@marina.test", Role: enums.UserRoleAdmin, Status: enums.UserStatusActive, CreatedAt: base.Add(time.Hour)},
		{ID: uuid.New(), Name: "Member", Email: "m@marina.test", Role: enums.UserRoleMember, Status: enums.UserStatusActive, CreatedAt: base},
		{ID: uuid.New(), Name: "First admin", Email: "a@marina.test", Role: enums.UserRoleAdmin, Status: enums.UserStatusActive, CreatedAt: base},
	}
	for i := range users {
		require.NoError(t, db.Create(&users[i]).Error)
	}

	ids, err := NewRepository(db).ListAdminIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{users[2].ID, users[0].ID}, ids)
}
