package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	// MaxExportRows caps a single CSV export.
	MaxExportRows = 5000
)

// Repository reads audit_logs rows ordered newest first.
type Repository interface {
	Timeline(ctx context.Context, q Query) ([]TimelineRow, error)
}

// Service pages through the audit timeline.
type Service struct {
	repo Repository
}

// NewService builds the audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of the timeline.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	q, err := s.query(filters)
	if err != nil {
		return Result{}, err
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	q.Offset = (page - 1) * pageSize
	q.Limit = pageSize + 1
	rows, err := s.repo.Timeline(ctx, q)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every matching row up to MaxExportRows.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	q, err := s.query(filters)
	if err != nil {
		return nil, err
	}
	q.Limit = MaxExportRows
	return s.repo.Timeline(ctx, q)
}

func (s *Service) query(filters TimelineFilters) (Query, error) {
	if s.repo == nil {
		return Query{}, errors.New("audit: repository not configured")
	}
	if filters.CompanyID <= 0 {
		return Query{}, fmt.Errorf("audit: company required: %w", shared.ErrValidation)
	}
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.From.After(filters.To) {
		return Query{}, fmt.Errorf("audit: from after to: %w", shared.ErrValidation)
	}
	q := Query{
		CompanyID: filters.CompanyID,
		From:      filters.From,
		ActorID:   filters.ActorID,
		Entity:    strings.TrimSpace(filters.Entity),
		EntityID:  strings.TrimSpace(filters.EntityID),
		Action:    strings.TrimSpace(filters.Action),
	}
	if !filters.To.IsZero() {
		q.Until = filters.To.AddDate(0, 0, 1)
	}
	return q, nil
}
