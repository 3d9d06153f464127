package sourcing

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
)

// Source names a procurement data source.
type Source string

// Known data sources.
const (
	SourceDIBBS      Source = "dibbs"
	SourceWBParts    Source = "wbparts"
	SourceSAMGov     Source = "samgov"
	SourceCanadaBuys Source = "canadabuys"
	SourceAlberta    Source = "alberta"
)

// SupplierRef is one company named by a source for an item.
type SupplierRef struct {
	Name       string        `json:"name"`
	CAGE       string        `json:"cage,omitempty"`
	PartNumber string        `json:"part_number,omitempty"`
	Contact    ContactRecord `json:"contact"`
}

// Opportunity is a solicitation, tender or RFQ a source lists for an item.
type Opportunity struct {
	Source       Source   `json:"source"`
	Number       string   `json:"number,omitempty"`
	Title        string   `json:"title,omitempty"`
	Status       string   `json:"status,omitempty"`
	Organization string   `json:"organization,omitempty"`
	Category     string   `json:"category,omitempty"`
	PostedDate   string   `json:"posted_date,omitempty"`
	ClosingDate  string   `json:"closing_date,omitempty"`
	Quantity     int      `json:"quantity,omitempty"`
	URL          string   `json:"url,omitempty"`
	ContactName  string   `json:"contact_name,omitempty"`
	ContactEmail string   `json:"contact_email,omitempty"`
	ContactPhone string   `json:"contact_phone,omitempty"`
	Description  string   `json:"description,omitempty"`
	DocumentURLs []string `json:"document_urls,omitempty"`
}

// IsOpen reports whether the opportunity is still accepting quotes.
func (o Opportunity) IsOpen() bool {
	return strings.EqualFold(strings.TrimSpace(o.Status), "open")
}

// RawSourceRecord is the output of one connector for one item.
type RawSourceRecord struct {
	Source        Source            `json:"source"`
	NSN           nsn.NSN           `json:"nsn"`
	OK            bool              `json:"ok"`
	Suppliers     []SupplierRef     `json:"suppliers,omitempty"`
	Opportunities []Opportunity     `json:"opportunities,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	URL           string            `json:"url,omitempty"`
	FetchedAt     time.Time         `json:"fetched_at"`
}

// Supplier is a deduplicated company for one item.
type Supplier struct {
	Key         string        `json:"key"`
	Name        string        `json:"name"`
	Aliases     []string      `json:"aliases,omitempty"`
	CAGECodes   []string      `json:"cage_codes,omitempty"`
	PartNumbers []string      `json:"part_numbers,omitempty"`
	Sources     []Source      `json:"sources,omitempty"`
	Contact     ContactRecord `json:"contact"`
	EnrichError string        `json:"enrich_error,omitempty"`
	EmailDraft  string        `json:"email_draft,omitempty"`
}

// Tier derives the supplier's confidence from its contact record.
func (s Supplier) Tier() ConfidenceTier {
	return Tier(s.Contact)
}

// PrimaryCAGE returns the first CAGE code, if any.
func (s Supplier) PrimaryCAGE() string {
	if len(s.CAGECodes) == 0 {
		return ""
	}
	return s.CAGECodes[0]
}

// MarshalJSON adds the derived confidence tier to the encoded supplier.
func (s Supplier) MarshalJSON() ([]byte, error) {
	type plain Supplier
	return json.Marshal(struct {
		plain
		Confidence ConfidenceTier `json:"confidence"`
	}{plain: plain(s), Confidence: s.Tier()})
}

// ItemStatus is the terminal status of an item.
type ItemStatus string

// Item statuses. Partial means the item completed with at least one source or
// enrichment failure.
const (
	ItemComplete ItemStatus = "complete"
	ItemPartial  ItemStatus = "partial"
	ItemFailed   ItemStatus = "failed"
	ItemSkipped  ItemStatus = "skipped"
)

// Terminal reports whether the status is recorded in batch progress.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemComplete, ItemPartial, ItemFailed:
		return true
	default:
		return false
	}
}

// Outcome collapses the status to what a batch summary reports.
func (s ItemStatus) Outcome() ItemStatus {
	if s == ItemPartial {
		return ItemComplete
	}
	return s
}

// SourceOutcome records how one connector fared for an item.
type SourceOutcome struct {
	Source        Source             `json:"source"`
	OK            bool               `json:"ok"`
	Kind          ConnectorErrorKind `json:"kind,omitempty"`
	Error         string             `json:"error,omitempty"`
	Attempts      int                `json:"attempts"`
	Suppliers     int                `json:"suppliers"`
	Opportunities int                `json:"opportunities"`
	Duration      time.Duration      `json:"duration"`
}

// ItemResult is the terminal aggregate for one item.
type ItemResult struct {
	Key           string          `json:"key"`
	Input         string          `json:"input"`
	NSN           nsn.NSN         `json:"nsn,omitempty"`
	Status        ItemStatus      `json:"status"`
	State         State           `json:"state"`
	Reason        string          `json:"reason,omitempty"`
	Sources       []SourceOutcome `json:"sources,omitempty"`
	Suppliers     []Supplier      `json:"suppliers,omitempty"`
	Opportunities []Opportunity   `json:"opportunities,omitempty"`
	HasOpenRFQ    bool            `json:"has_open_rfq"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// DisplayNSN returns the dashed form when the item validated.
func (r ItemResult) DisplayNSN() string {
	if r.NSN == "" {
		return r.Key
	}
	return r.NSN.Dashed()
}

// OpenStatus returns OPEN, CLOSED or ERROR for flat exports.
func (r ItemResult) OpenStatus() string {
	switch {
	case r.Status == ItemFailed:
		return "ERROR"
	case r.HasOpenRFQ:
		return "OPEN"
	default:
		return "CLOSED"
	}
}

// ProgressEntry is the persisted terminal state of one item.
type ProgressEntry struct {
	Status     ItemStatus `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	FinishedAt time.Time  `json:"finished_at"`
}

// BatchProgress maps item keys to their terminal status for resume.
type BatchProgress struct {
	RunID              string                   `json:"run_id"`
	Items              map[string]ProgressEntry `json:"items"`
	UpdatedAt          time.Time                `json:"updated_at"`
	PersistenceWarning bool                     `json:"persistence_warning,omitempty"`
}

// NewBatchProgress returns empty progress for runID.
func NewBatchProgress(runID string) BatchProgress {
	return BatchProgress{RunID: runID, Items: map[string]ProgressEntry{}}
}

// Done reports whether key already reached a terminal status.
func (p BatchProgress) Done(key string) bool {
	entry, ok := p.Items[key]
	return ok && entry.Status.Terminal()
}

// Record stores the terminal status of result. Non-terminal results are ignored.
func (p *BatchProgress) Record(result ItemResult) {
	if !result.Status.Terminal() {
		return
	}
	if p.Items == nil {
		p.Items = map[string]ProgressEntry{}
	}
	p.Items[result.Key] = ProgressEntry{
		Status:     result.Status,
		Reason:     result.Reason,
		FinishedAt: result.FinishedAt,
	}
	if result.FinishedAt.After(p.UpdatedAt) {
		p.UpdatedAt = result.FinishedAt
	}
}

// Clone returns a deep copy safe to hand to a store.
func (p BatchProgress) Clone() BatchProgress {
	out := p
	out.Items = make(map[string]ProgressEntry, len(p.Items))
	for k, v := range p.Items {
		out.Items[k] = v
	}
	return out
}

// Keys returns the recorded item keys in sorted order.
func (p BatchProgress) Keys() []string {
	keys := make([]string, 0, len(p.Items))
	for k := range p.Items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ItemOutcome is one line of a batch summary.
type ItemOutcome struct {
	Key    string     `json:"key"`
	Input  string     `json:"input"`
	Status ItemStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// BatchRunSummary reports the result of a batch run.
type BatchRunSummary struct {
	RunID              string        `json:"run_id"`
	Items              []ItemOutcome `json:"items"`
	Complete           int           `json:"complete"`
	Failed             int           `json:"failed"`
	Skipped            int           `json:"skipped"`
	Suppliers          int           `json:"suppliers"`
	HighConfidence     int           `json:"high_confidence"`
	Interrupted        bool          `json:"interrupted,omitempty"`
	PersistenceWarning bool          `json:"persistence_warning,omitempty"`
	StartedAt          time.Time     `json:"started_at"`
	FinishedAt         time.Time     `json:"finished_at"`
}

// Add records one item outcome and updates the counters.
func (s *BatchRunSummary) Add(result ItemResult) {
	status := result.Status.Outcome()
	s.Items = append(s.Items, ItemOutcome{
		Key:    result.Key,
		Input:  result.Input,
		Status: status,
		Reason: result.Reason,
	})
	switch status {
	case ItemComplete:
		s.Complete++
	case ItemFailed:
		s.Failed++
	case ItemSkipped:
		s.Skipped++
	}
	s.Suppliers += len(result.Suppliers)
	for _, sup := range result.Suppliers {
		if sup.Tier() == TierHigh {
			s.HighConfidence++
		}
	}
}
