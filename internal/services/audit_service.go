package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/orderdesk/orderdesk/internal/models"
	"github.com/orderdesk/orderdesk/internal/recovery"
)

// AuditFilters encapsulates optional filters when querying recovery events.
type AuditFilters struct {
	UserID string
	Email  string
	Action string
	Result string
	Since  *time.Time
	Until  *time.Time
}

// AuditListOptions controls pagination and filtering for audit queries.
type AuditListOptions struct {
	Page     int
	PageSize int
	Filters  AuditFilters
}

// AuditService persists and retrieves the recovery audit trail.
type AuditService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db, now: time.Now}, nil
}

// RecordRecoveryEvent stores one recovery event, marshalling metadata into
// JSON form.
func (s *AuditService) RecordRecoveryEvent(ctx context.Context, event recovery.Event) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(event.Action) == "" {
		return errors.New("audit service: action is required")
	}
	if strings.TrimSpace(event.Result) == "" {
		return errors.New("audit service: result is required")
	}

	row := models.RecoveryEvent{
		Email:     strings.ToLower(strings.TrimSpace(event.Email)),
		Action:    strings.TrimSpace(event.Action),
		Result:    strings.TrimSpace(event.Result),
		IPAddress: strings.TrimSpace(event.IPAddress),
		UserAgent: strings.TrimSpace(event.UserAgent),
	}

	if event.UserID != nil && strings.TrimSpace(*event.UserID) != "" {
		id := strings.TrimSpace(*event.UserID)
		row.UserID = &id
	}

	if event.Metadata != nil {
		encoded, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		row.Metadata = encoded
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("audit service: record event: %w", err)
	}
	return nil
}

// List returns paginated recovery events ordered by creation time descending.
func (s *AuditService) List(ctx context.Context, opts AuditListOptions) ([]models.RecoveryEvent, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	var (
		results []models.RecoveryEvent
		total   int64
	)

	query := s.db.WithContext(ctx).Model(&models.RecoveryEvent{})
	query = applyAuditFilters(query, opts.Filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count events: %w", err)
	}

	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: list events: %w", err)
	}

	return results, total, nil
}

// CleanupOlderThan removes recovery events older than the supplied retention
// window (in days).
func (s *AuditService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("audit service: retentionDays must be positive")
	}

	cutoff := s.now().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.RecoveryEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: cleanup events: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func applyAuditFilters(query *gorm.DB, filters AuditFilters) *gorm.DB {
	if filters.UserID != "" {
		query = query.Where("user_id = ?", filters.UserID)
	}
	if filters.Email != "" {
		query = query.Where("email = ?", strings.ToLower(filters.Email))
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.Result != "" {
		query = query.Where("result = ?", filters.Result)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	return query
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

var _ recovery.EventRecorder = (*AuditService)(nil)
