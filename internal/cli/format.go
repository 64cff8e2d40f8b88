package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"qstorm/internal/metrics"
	"qstorm/internal/search"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return "", search.Config("unknown output format %q (use json or csv)", s)
	}
}

var csvHeader = []string{"timestamp", "qps", "p50_ms", "p90_ms", "p99_ms", "success", "failure"}

type encoder interface {
	header() error
	write(b metrics.BurstMetrics) error
}

func newEncoder(f Format, w io.Writer) (encoder, error) {
	switch f {
	case FormatJSON, "":
		return &jsonEncoder{enc: json.NewEncoder(w)}, nil
	case FormatCSV:
		return &csvEncoder{w: csv.NewWriter(w)}, nil
	}
	return nil, search.Config("unknown output format %q", f)
}

// jsonEncoder writes one BurstMetrics object per line.
type jsonEncoder struct {
	enc *json.Encoder
}

func (e *jsonEncoder) header() error { return nil }

func (e *jsonEncoder) write(b metrics.BurstMetrics) error {
	if err := e.enc.Encode(b); err != nil {
		return search.Serialization(err, "encode burst")
	}
	return nil
}

type csvEncoder struct {
	w *csv.Writer
}

func (e *csvEncoder) header() error {
	return e.flush(e.w.Write(csvHeader))
}

func (e *csvEncoder) write(b metrics.BurstMetrics) error {
	record := []string{
		b.Timestamp.UTC().Format(time.RFC3339Nano),
		fmt.Sprintf("%.2f", b.QPS),
		fmt.Sprintf("%.2f", b.Latency.P50Ms()),
		fmt.Sprintf("%.2f", b.Latency.P90Ms()),
		fmt.Sprintf("%.2f", b.Latency.P99Ms()),
		strconv.Itoa(b.SuccessCount),
		strconv.Itoa(b.FailureCount),
	}
	return e.flush(e.w.Write(record))
}

// flush pushes every row out immediately so consumers can tail the stream.
func (e *csvEncoder) flush(err error) error {
	if err != nil {
		return errors.Wrap(err, "write csv row")
	}
	e.w.Flush()
	return errors.Wrap(e.w.Error(), "flush csv")
}
