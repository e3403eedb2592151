package model

import (
	"fmt"
	"time"
)

// BatchStatus is the lifecycle of a bulk import batch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
)

// ParseStatus is the per-item state machine:
//
//	pending -> quick_parsing -> quick_parsed -> full_parsing -> parsed -> imported
//
// Strategies that skip the quick pass go pending -> full_parsing, and
// quick-parsed data may be imported directly. failed is reachable from
// every non-terminal state. imported and failed are terminal.
type ParseStatus string

const (
	StatusPending      ParseStatus = "pending"
	StatusQuickParsing ParseStatus = "quick_parsing"
	StatusQuickParsed  ParseStatus = "quick_parsed"
	StatusFullParsing  ParseStatus = "full_parsing"
	StatusParsed       ParseStatus = "parsed"
	StatusImported     ParseStatus = "imported"
	StatusFailed       ParseStatus = "failed"
)

var parseTransitions = map[ParseStatus][]ParseStatus{
	StatusPending:      {StatusQuickParsing, StatusFullParsing, StatusFailed},
	StatusQuickParsing: {StatusQuickParsed, StatusFailed},
	StatusQuickParsed:  {StatusFullParsing, StatusImported, StatusFailed},
	StatusFullParsing:  {StatusParsed, StatusFailed},
	StatusParsed:       {StatusImported, StatusFailed},
	StatusImported:     nil,
	StatusFailed:       nil,
}

// Terminal reports whether no further transitions are allowed.
func (s ParseStatus) Terminal() bool {
	return s == StatusImported || s == StatusFailed
}

// Succeeded reports whether the item's latest phase produced usable data.
func (s ParseStatus) Succeeded() bool {
	return s == StatusQuickParsed || s == StatusParsed || s == StatusImported
}

// CanTransitionTo reports whether s -> next is in the state graph.
func (s ParseStatus) CanTransitionTo(next ParseStatus) bool {
	for _, allowed := range parseTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionError reports a rejected parse status transition.
type TransitionError struct {
	From ParseStatus
	To   ParseStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal parse status transition %s -> %s", e.From, e.To)
}

// CheckTransition validates from -> to against the state graph. Every
// write path goes through this; nothing flips states ad hoc.
func CheckTransition(from, to ParseStatus) error {
	if !from.CanTransitionTo(to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// ProgressFor maps a parse status to the loading progress it implies.
// failed maps to no value: progress freezes where the item died.
func ProgressFor(s ParseStatus) (int, bool) {
	switch s {
	case StatusPending:
		return 0, true
	case StatusQuickParsing:
		return 10, true
	case StatusQuickParsed:
		return 40, true
	case StatusFullParsing:
		return 60, true
	case StatusParsed:
		return 90, true
	case StatusImported:
		return 100, true
	}
	return 0, false
}

// ProgressInstantCommit is pinned on items committed from URL-derived
// data only, until the background backfill replaces it.
const ProgressInstantCommit = 25

// Batch tracks one bulk import run against a destination collection.
type Batch struct {
	ID           string      `json:"id"`
	OwnerID      string      `json:"ownerId"`
	CollectionID string      `json:"collectionId"`
	Status       BatchStatus `json:"status"`
	TotalCount   int         `json:"totalCount"`
	SuccessCount int         `json:"successCount"`
	FailureCount int         `json:"failureCount"`
	StartedAt    time.Time   `json:"startedAt"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty"`
}

// BatchItem is one URL inside a batch. Position is the stable input
// order; CommittedEntityID is set once the property has been committed
// to the destination collection.
type BatchItem struct {
	ID                string          `json:"id"`
	BatchID           string          `json:"batchId"`
	SourceURL         string          `json:"sourceUrl"`
	Position          int             `json:"position"`
	Status            ParseStatus     `json:"parseStatus"`
	ParsedData        *ParsedProperty `json:"parsedData,omitempty"`
	ParseError        string          `json:"parseError,omitempty"`
	LoadingProgress   int             `json:"loadingProgress"`
	CommittedEntityID string          `json:"committedEntityId,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// PropertyOverrides carries user edits applied at import time. Nil
// fields leave the parsed value untouched.
type PropertyOverrides struct {
	DisplayPrice *string  `json:"displayPrice,omitempty"`
	NumericPrice *float64 `json:"numericPrice,omitempty"`
	Beds         *int     `json:"beds,omitempty"`
	Baths        *float64 `json:"baths,omitempty"`
	Sqft         *int     `json:"sqft,omitempty"`
	PropertyType *string  `json:"propertyType,omitempty"`
}

// Apply overlays the overrides onto a parsed property.
func (o *PropertyOverrides) Apply(p *ParsedProperty) {
	if o == nil {
		return
	}
	if o.DisplayPrice != nil {
		p.Pricing.DisplayPrice = *o.DisplayPrice
	}
	if o.NumericPrice != nil {
		p.Pricing.NumericPrice = *o.NumericPrice
	}
	if o.Beds != nil {
		p.Details.Beds = o.Beds
	}
	if o.Baths != nil {
		p.Details.Baths = o.Baths
	}
	if o.Sqft != nil {
		p.Details.Sqft = o.Sqft
	}
	if o.PropertyType != nil {
		p.Details.PropertyType = *o.PropertyType
	}
}

// ImportSelection names one batch item to import, with optional edits.
type ImportSelection struct {
	ItemID    string             `json:"itemId"`
	Overrides *PropertyOverrides `json:"overrides,omitempty"`
}

// ImportResult is the per-item outcome of an import run.
type ImportResult struct {
	ItemID     string `json:"itemId"`
	Imported   bool   `json:"imported"`
	Duplicate  bool   `json:"duplicate"`
	Reason     string `json:"reason,omitempty"`
	PropertyID string `json:"propertyId,omitempty"`
}

// ImportSummary aggregates an import run. A duplicate counts toward
// Failed; the per-item result carries the distinction.
type ImportSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// ParseSummary aggregates a sequential parse run over a batch.
type ParseSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}
