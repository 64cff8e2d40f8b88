package runner

import (
	"time"

	"qstorm/internal/queries"
	"qstorm/internal/search"
)

// outcome is one finished query of a burst.
type outcome struct {
	query    queries.EmbeddedQuery
	results  search.Results
	err      error
	latency  time.Duration
	panicked interface{} // recovered value of a panicking provider call
}
