package model

import "fmt"

// Summary counts the outcome of reconciling a set of rows.
type Summary struct {
	Processed int      `json:"processed"`
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// maxSummaryErrors caps how many per-row error messages a summary keeps.
const maxSummaryErrors = 50

// AddError counts a failed row and records its message.
func (s *Summary) AddError(msg string) {
	s.Failed++
	if len(s.Errors) < maxSummaryErrors {
		s.Errors = append(s.Errors, msg)
	}
}

// Merge adds the counts of o into s.
func (s *Summary) Merge(o Summary) {
	s.Processed += o.Processed
	s.Created += o.Created
	s.Updated += o.Updated
	s.Skipped += o.Skipped
	s.Failed += o.Failed
	for _, e := range o.Errors {
		if len(s.Errors) >= maxSummaryErrors {
			break
		}
		s.Errors = append(s.Errors, e)
	}
}

// FailureRate returns failed rows as a fraction of processed rows.
func (s Summary) FailureRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Processed)
}

func (s Summary) String() string {
	return fmt.Sprintf("processed=%d created=%d updated=%d skipped=%d failed=%d",
		s.Processed, s.Created, s.Updated, s.Skipped, s.Failed)
}
