package audit

import "time"

// Entry is one immutable audit trail record.
type Entry struct {
	ID      int64     `json:"id"`
	At      time.Time `json:"ts"`
	Action  string    `json:"action"`
	Actor   string    `json:"by"`
	Details string    `json:"details"`
	RefType string    `json:"ref_type,omitempty"`
	RefID   string    `json:"ref_id,omitempty"`
}

// TimelineFilters menampung filter dasar untuk audit timeline.
type TimelineFilters struct {
	Action   string
	RefType  string
	RefID    string
	Actor    string
	Page     int
	PageSize int
}

// Query is the repository-level form of TimelineFilters.
type Query struct {
	Action  string
	RefType string
	RefID   string
	Actor   string
	Offset  int
	Limit   int
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result membungkus hasil timeline dengan informasi paging.
type Result struct {
	Rows   []Entry    `json:"rows"`
	Paging PagingInfo `json:"paging"`
}
