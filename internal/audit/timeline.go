package audit

import "time"

// TimelineFilters narrows the audit timeline of one company.
type TimelineFilters struct {
	CompanyID int64
	From      time.Time
	// To is inclusive at day granularity.
	To       time.Time
	ActorID  int64
	Entity   string
	EntityID string
	Action   string
	Page     int
	PageSize int
}

// TimelineRow is one audit_logs entry.
type TimelineRow struct {
	At       time.Time      `json:"at"`
	ActorID  int64          `json:"actorId"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entityId"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// PagingInfo carries simple next/prev paging metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	HasNext  bool `json:"hasNext"`
	PrevPage int  `json:"prevPage,omitempty"`
	NextPage int  `json:"nextPage,omitempty"`
}

// Result wraps a timeline page.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}

// Query is the resolved repository query.
type Query struct {
	CompanyID int64
	From      time.Time
	Until     time.Time
	ActorID   int64
	Entity    string
	EntityID  string
	Action    string
	Offset    int
	Limit     int
}
