package storage

import "errors"

var (
	// ErrNotFound indicates that the requested document was not found.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrJobTerminal indicates an attempt to mutate a job that already
	// reached complete or failed.
	ErrJobTerminal = errors.New("pipeline job is terminal")

	// ErrInvalidLayerTransition indicates a layer update that is not an
	// allowed edge of the tier state machine.
	ErrInvalidLayerTransition = errors.New("invalid layer transition")
)

// ListOptions provides bounds and filtering for agent-scoped list operations.
// Every scan in the engine is capped; implementations must never return more
// than Limit rows.
type ListOptions struct {
	// Limit is the maximum number of documents to return (default: 100,
	// max: 10000 to bound brute-force scans).
	Limit int

	// SortBy specifies the field to sort by ("created_at" or "updated_at").
	SortBy string

	// SortOrder specifies the sort direction ("asc" or "desc", default: "desc").
	SortOrder string

	// Layer filters memories by retention tier. Empty string means no filter.
	Layer string

	// MemoryType filters memories by classification. Empty string means no
	// filter.
	MemoryType string

	// SessionID filters memories by their source session. Empty string means
	// no filter.
	SessionID string

	// WithEmbeddings requests embedding vectors in the result. Scans that
	// only need scalar fields leave this false to keep rows small.
	WithEmbeddings bool
}

// Normalize applies defaults and validates the ListOptions.
func (o *ListOptions) Normalize() {
	// Whitelist validation for SortBy to prevent SQL injection
	allowedSortFields := map[string]bool{
		"created_at": true,
		"updated_at": true,
	}

	if !allowedSortFields[o.SortBy] {
		o.SortBy = "created_at" // Default sort field
	}

	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		o.SortOrder = "desc" // Default sort order
	}

	if o.Limit < 1 {
		o.Limit = 100 // Default limit
	}

	if o.Limit > 10000 {
		o.Limit = 10000 // Max limit, bounds every brute-force scan
	}
}

// ClusterAssignment is one element of the bulk cluster write performed at the
// end of a clustering run.
type ClusterAssignment struct {
	// MemoryID is the memory receiving the assignment.
	MemoryID string

	// ClusterID is the index of the assigned cluster.
	ClusterID int

	// ClusterLabel is the human-readable label of the assigned cluster.
	ClusterLabel string
}
