package crawler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// QueueStatus is the lifecycle state of a QueueItem.
type QueueStatus string

// Queue item states. Completed and failed are terminal until the item is requeued.
const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// ProcessingStatus tracks a FetchResult through extraction.
type ProcessingStatus string

// Fetch result processing states.
const (
	ProcessingStatusNew       ProcessingStatus = "new"
	ProcessingStatusProcessed ProcessingStatus = "processed"
	ProcessingStatusFailed    ProcessingStatus = "failed"
)

// QueueItem is one pending or attempted fetch.
type QueueItem struct {
	ID             uuid.UUID
	URL            string
	ListingID      string
	ParentResultID *uuid.UUID
	Depth          int
	Priority       int
	Status         QueueStatus
	RetryCount     int
	NextEligibleAt time.Time
	CreatedAt      time.Time
}

// HasListing reports whether the item belongs to a listing.
func (q QueueItem) HasListing() bool {
	return q.ListingID != ""
}

// PageRef identifies a (url, listing) page independent of its queue row.
type PageRef struct {
	URL       string
	ListingID string
}

// FetchRequest describes a single fetch call.
type FetchRequest struct {
	URL     string
	Timeout time.Duration
	Headers http.Header
}

// FetchResponse captures what a fetcher observed.
type FetchResponse struct {
	URL            string
	StatusCode     int
	Headers        http.Header
	Body           []byte
	IPAddress      string
	RedirectedFrom string
	Duration       time.Duration
	UsedHeadless   bool
}

// FetchResult is the persisted outcome of one fetch attempt.
type FetchResult struct {
	ID                 uuid.UUID
	QueueID            uuid.UUID
	URL                string
	HTML               *string
	StatusCode         int
	Headers            http.Header
	IPAddress          string
	RedirectedFrom     string
	Language           string
	LanguageConfidence float64
	Error              *string
	ProcessingStatus   ProcessingStatus
	ArchiveURI         string
	ScrapedAt          time.Time
}

// ClaimedResult is a FetchResult joined with the queue fields extraction needs.
type ClaimedResult struct {
	ResultID  uuid.UUID
	QueueID   uuid.UUID
	URL       string
	HTML      string
	Language  string
	ListingID string
	Depth     int
}

// StructuredData holds machine-readable metadata found in a page.
type StructuredData struct {
	JSONLD    json.RawMessage   `json:"json_ld,omitempty"`
	OpenGraph map[string]string `json:"opengraph,omitempty"`
}

// Empty reports whether no structured metadata was found.
func (s *StructuredData) Empty() bool {
	return s == nil || (len(s.JSONLD) == 0 && len(s.OpenGraph) == 0)
}

// SnapshotData is the extracted payload stored as JSON on a Snapshot.
type SnapshotData struct {
	URL          string            `json:"url"`
	Language     string            `json:"language,omitempty"`
	Country      string            `json:"country,omitempty"`
	CompanyName  *string           `json:"company_name,omitempty"`
	Emails       []string          `json:"emails"`
	Phones       []string          `json:"phones"`
	OrgNum       *string           `json:"org_num,omitempty"`
	Addresses    []string          `json:"addresses"`
	OpeningHours []string          `json:"opening_hours,omitempty"`
	SocialMedia  map[string]string `json:"social_media,omitempty"`
	Structured   *StructuredData   `json:"structured,omitempty"`
}

// Snapshot is one extraction pass over a FetchResult.
type Snapshot struct {
	ID            uuid.UUID
	ResultID      uuid.UUID
	ListingID     string
	Language      string
	Data          SnapshotData
	QualityScore  int
	ExtractedAt   time.Time
	ChangeChecked bool
}

// ChangeRecord is one field-level delta between two snapshots of a listing.
type ChangeRecord struct {
	ID         uuid.UUID `json:"id"`
	ListingID  string    `json:"listing_id"`
	Field      string    `json:"field"`
	OldValue   *string   `json:"old_value"`
	NewValue   *string   `json:"new_value"`
	DetectedAt time.Time `json:"detected_at"`
}

// BlacklistEntry excludes a domain from dispatch.
type BlacklistEntry struct {
	Domain    string    `json:"domain"`
	Reason    string    `json:"reason"`
	AutoAdded bool      `json:"auto_added"`
	CreatedAt time.Time `json:"created_at"`
}

// MultipageRule overrides the sub-page crawl depth for a domain.
type MultipageRule struct {
	Domain   string `json:"domain"`
	MaxDepth int    `json:"max_depth"`
	Enabled  bool   `json:"enabled"`
}

// QueueStats summarizes queue rows by status.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Due        int64 `json:"due"`
}
