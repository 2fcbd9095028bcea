package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
	"github.com/SAP-F-2025/article-service/internal/validator"
)

func TestHelpRequests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.services.HelpRequest()

	alice := env.user(t, "alice", models.RoleStudent)
	bob := env.user(t, "bob", models.RoleStudent)
	staff := env.user(t, "staff", models.RoleInstructor)

	stored, err := svc.SendHelpRequest(ctx, alice, &models.HelpRequestCreateRequest{
		Message:       "  The VPN guide does not cover macOS  ",
		SearchHistory: []string{"vpn", "vpn mac"},
	})
	require.NoError(t, err)
	assert.Equal(t, "The VPN guide does not cover macOS", stored.Message)

	var history []string
	require.NoError(t, json.Unmarshal(stored.SearchHistory, &history))
	assert.Equal(t, []string{"vpn", "vpn mac"}, history)

	_, err = svc.SendHelpRequest(ctx, bob, &models.HelpRequestCreateRequest{Message: "Printer?"})
	require.NoError(t, err)

	_, err = svc.SendHelpRequest(ctx, bob, &models.HelpRequestCreateRequest{})
	var verrs validator.ValidationErrors
	assert.ErrorAs(t, err, &verrs)

	_, err = svc.SendHelpRequest(ctx, nil, &models.HelpRequestCreateRequest{Message: "anonymous"})
	assert.True(t, IsPermissionError(err))

	own, err := svc.ListHelpRequests(ctx, alice, repositories.HelpRequestFilters{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), own.Total)
	require.Len(t, own.Requests, 1)
	assert.Equal(t, "alice", own.Requests[0].UserID)

	// A student cannot widen the filter to someone else
	other := "bob"
	own, err = svc.ListHelpRequests(ctx, alice, repositories.HelpRequestFilters{UserID: &other})
	require.NoError(t, err)
	assert.Equal(t, int64(1), own.Total)
	assert.Equal(t, "alice", own.Requests[0].UserID)

	all, err := svc.ListHelpRequests(ctx, staff, repositories.HelpRequestFilters{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), all.Total)
}
