package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/datatypes"

	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
	"github.com/SAP-F-2025/article-service/internal/validator"
)

type helpRequestService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
}

func NewHelpRequestService(repo repositories.Repository, logger *slog.Logger, validator *validator.Validator) HelpRequestService {
	return &helpRequestService{
		repo:      repo,
		logger:    logger,
		validator: validator,
	}
}

// SendHelpRequest stores a question together with what the user searched
// for before asking.
func (s *helpRequestService) SendHelpRequest(ctx context.Context, actor *models.User, req *models.HelpRequestCreateRequest) (*models.HelpRequest, error) {
	if actor == nil {
		return nil, NewPermissionError("", nil, "help request", "send", "requires a signed in user")
	}
	s.logger.Info("Sending help request", "user_id", actor.ID, "searches", len(req.SearchHistory))

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	history := req.SearchHistory
	if history == nil {
		history = []string{}
	}
	encoded, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search history: %w", err)
	}

	request := &models.HelpRequest{
		UserID:        actor.ID,
		Message:       strings.TrimSpace(req.Message),
		SearchHistory: datatypes.JSON(encoded),
	}
	if err := s.repo.HelpRequest().Create(ctx, nil, request); err != nil {
		err = persistenceError("create help request", err)
		logFailure(s.logger, "Failed to store help request", err, "user_id", actor.ID)
		return nil, err
	}

	s.logger.Info("Help request stored", "request_id", request.ID)
	return request, nil
}

// ListHelpRequests shows instructors and admins every request, and other
// users only their own.
func (s *helpRequestService) ListHelpRequests(ctx context.Context, actor *models.User, filters repositories.HelpRequestFilters) (*HelpRequestListResponse, error) {
	if actor == nil {
		return nil, NewPermissionError("", nil, "help request", "list", "requires a signed in user")
	}
	if !actor.IsPlatformAdmin() && !actor.IsInstructor() {
		own := actor.ID
		filters.UserID = &own
	}

	requests, total, err := s.repo.HelpRequest().List(ctx, nil, filters)
	if err != nil {
		return nil, persistenceError("list help requests", err)
	}
	return &HelpRequestListResponse{Requests: requests, Total: total}, nil
}
