package models

// RowError describes one input row or record that could not be stored
type RowError struct {
	Row       int    `json:"row"`
	Reference string `json:"reference,omitempty"`
	Code      string `json:"code,omitempty"`
	Reason    string `json:"reason"`
}

// Row error codes set by the reconciliation upsert
const (
	RowInvalid = "INVALID_RECORD" // the record itself is unusable; retrying cannot help
	RowBusy    = "LOCKED"         // another writer held the invoice
)

// ImportBatch accumulates the outcome of a bulk operation. Counts only grow.
type ImportBatch struct {
	Imported    int        `json:"imported"`
	Updated     int        `json:"updated"`
	Skipped     int        `json:"skipped"`
	ParseErrors int        `json:"parseErrors"`
	Failed      int        `json:"failed"`
	Rejected    []RowError `json:"rejected,omitempty"`
}

// AddImported counts a newly stored item
func (b *ImportBatch) AddImported() { b.Imported++ }

// AddUpdated counts an item that merged into an existing record
func (b *ImportBatch) AddUpdated() { b.Updated++ }

// AddSkipped counts an item that needed no work
func (b *ImportBatch) AddSkipped() { b.Skipped++ }

// AddParseError counts an input row that could not be read
func (b *ImportBatch) AddParseError(row int, ref, reason string) {
	b.ParseErrors++
	b.Rejected = append(b.Rejected, RowError{Row: row, Reference: ref, Reason: reason})
}

// AddFailure counts an item whose processing failed after parsing
func (b *ImportBatch) AddFailure(row int, ref, reason string) {
	b.Failed++
	b.Rejected = append(b.Rejected, RowError{Row: row, Reference: ref, Reason: reason})
}

// Merge adds other's counts into b
func (b *ImportBatch) Merge(other *ImportBatch) {
	if other == nil {
		return
	}
	b.Imported += other.Imported
	b.Updated += other.Updated
	b.Skipped += other.Skipped
	b.ParseErrors += other.ParseErrors
	b.Failed += other.Failed
	b.Rejected = append(b.Rejected, other.Rejected...)
}

// Total returns the number of items seen
func (b *ImportBatch) Total() int {
	return b.Imported + b.Updated + b.Skipped + b.ParseErrors + b.Failed
}

// UpsertResult reports how a batch of remote records was merged into the store
type UpsertResult struct {
	Found    int        `json:"found"`
	Inserted int        `json:"inserted"`
	Updated  int        `json:"updated"`
	Failed   []RowError `json:"failed,omitempty"`
}

// Saved returns the number of invoices the batch added to the store
func (r *UpsertResult) Saved() int { return r.Inserted }

// FailedWith returns the failed records carrying code
func (r *UpsertResult) FailedWith(code string) []RowError {
	var out []RowError
	for _, f := range r.Failed {
		if f.Code == code {
			out = append(out, f)
		}
	}
	return out
}
