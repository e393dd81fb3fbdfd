// internal/fetch/types.go
package fetch

import (
	"fmt"
	"time"
)

// Candidate is one feed item before ingestion has decided whether it is new
type Candidate struct {
	GUID      string
	URL       string
	Title     string
	Summary   string
	Published time.Time
}

// FetchError reports a failed feed or page download
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetching %s: unexpected response status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError reports that an article page was downloaded but no
// readable body could be pulled out of it.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting body from %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
