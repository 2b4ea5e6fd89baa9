package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/opsdesk/ticket-sync/internal/domain"
	"github.com/opsdesk/ticket-sync/internal/repository"
	apperrors "github.com/opsdesk/ticket-sync/pkg/util/errorutil"
)

// GroupCreator provisions assignment groups remotely.
type GroupCreator interface {
	CreateGroup(ctx context.Context, name, description string) (string, error)
}

// GroupSeed names a group and the category it serves.
type GroupSeed struct {
	Name        string `yaml:"name"`
	Category    string `yaml:"category"`
	Description string `yaml:"description,omitempty"`
}

// DefaultGroupSeeds is one support group per category.
var DefaultGroupSeeds = []GroupSeed{
	{Name: "Network Support", Category: "network"},
	{Name: "Cloud Support", Category: "cloud"},
	{Name: "Database Support", Category: "database"},
	{Name: "Application Support", Category: "application"},
	{Name: "Unix Support", Category: "unix"},
	{Name: "Security Support", Category: "security"},
	{Name: "VM Support", Category: "virtualization"},
	{Name: "Storage Support", Category: "storage"},
	{Name: "Monitoring Support", Category: "monitoring"},
	{Name: "DevOps Support", Category: "devops"},
	{Name: "Hardware Support", Category: "hardware"},
	{Name: "Email Support", Category: "email"},
	{Name: "Backup Support", Category: "backup"},
	{Name: "Vendor Support", Category: "vendor"},
}

// groupSeedFile is the YAML layout accepted by ParseGroupSeeds.
type groupSeedFile struct {
	Groups []GroupSeed `yaml:"groups"`
}

// ParseGroupSeeds decodes a YAML document with a top-level "groups" list and validates it.
func ParseGroupSeeds(data []byte) ([]GroupSeed, error) {
	var file groupSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, apperrors.NewValidationError("invalid group file", map[string]any{"cause": err.Error()})
	}
	if len(file.Groups) == 0 {
		return nil, apperrors.NewValidationError("group file lists no groups", nil)
	}
	if err := ValidateSeeds(file.Groups); err != nil {
		return nil, err
	}
	return file.Groups, nil
}

// ProvisionResult reports the outcome for one seed.
type ProvisionResult struct {
	Name          string
	RemoteGroupID string
	Err           error
}

// AssignmentService manages the assignment groups tickets are routed to.
type AssignmentService struct {
	groups  repository.AssignmentGroupRepository
	creator GroupCreator
	logger  *zap.Logger
}

// NewAssignmentService creates the service.
func NewAssignmentService(groups repository.AssignmentGroupRepository, creator GroupCreator, logger *zap.Logger) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{groups: groups, creator: creator, logger: logger}
}

// ValidateSeeds checks names and categories before anything is sent remotely.
func ValidateSeeds(seeds []GroupSeed) error {
	seen := map[string]struct{}{}
	for i, seed := range seeds {
		name := strings.TrimSpace(seed.Name)
		if name == "" {
			return apperrors.NewValidationError(fmt.Sprintf("group %d: name is required", i), nil)
		}
		if _, dup := seen[strings.ToLower(name)]; dup {
			return apperrors.NewValidationError("duplicate group name", map[string]any{"name": name})
		}
		seen[strings.ToLower(name)] = struct{}{}
		if _, ok := domain.ParseCategory(seed.Category); !ok {
			return apperrors.NewValidationError("unknown category", map[string]any{"name": name, "category": seed.Category})
		}
	}
	return nil
}

// Provision creates each group remotely and stores its remote id. A failed group does
// not stop the others.
func (s *AssignmentService) Provision(ctx context.Context, seeds []GroupSeed, dryRun bool) ([]ProvisionResult, error) {
	if err := ValidateSeeds(seeds); err != nil {
		return nil, err
	}
	results := make([]ProvisionResult, 0, len(seeds))
	for _, seed := range seeds {
		name := strings.TrimSpace(seed.Name)
		category, _ := domain.ParseCategory(seed.Category)
		description := seed.Description
		if description == "" {
			description = name + " assignment group"
		}
		if dryRun {
			results = append(results, ProvisionResult{Name: name})
			continue
		}

		remoteID, err := s.creator.CreateGroup(ctx, name, description)
		if err != nil {
			s.logger.Warn("group creation failed", zap.String("group", name), zap.Error(err))
			results = append(results, ProvisionResult{Name: name, Err: err})
			continue
		}
		group := &domain.AssignmentGroup{
			Name:          name,
			Category:      category,
			RemoteGroupID: remoteID,
			IsActive:      true,
		}
		if err := s.groups.Upsert(ctx, group); err != nil {
			results = append(results, ProvisionResult{Name: name, RemoteGroupID: remoteID, Err: err})
			continue
		}
		s.logger.Info("group provisioned", zap.String("group", name), zap.String("remote_group_id", remoteID))
		results = append(results, ProvisionResult{Name: name, RemoteGroupID: remoteID})
	}
	return results, nil
}

// ListGroups returns all stored groups.
func (s *AssignmentService) ListGroups(ctx context.Context) ([]domain.AssignmentGroup, error) {
	return s.groups.List(ctx)
}
