package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/trademon/trademon-backend/internal/analytics/types"
)

const (
	defaultBatchSize      = 1
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// Config controls the analytics writer behavior.
type Config struct {
	PaymentEventsTable string
	OrderEventsTable   string
	BatchSize          int
	RetryPolicy        RetryPolicy
}

// RetryPolicy controls how many times BigQuery inserts are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter inserts audit rows into BigQuery with retries and optional
// batching. Rows use the event id as insert id so a redelivered event is
// deduplicated by BigQuery.
type BigQueryWriter struct {
	client        tableInserter
	paymentsTable string
	ordersTable   string
	batchSize     int
	retry         RetryPolicy

	mu      sync.Mutex
	buffers map[string][]any
}

// New creates a BigQueryWriter backed by a shared client.
func New(client tableInserter, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	payments := strings.TrimSpace(cfg.PaymentEventsTable)
	if payments == "" {
		return nil, errors.New("payment events table is required")
	}
	orders := strings.TrimSpace(cfg.OrderEventsTable)
	if orders == "" {
		return nil, errors.New("order events table is required")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	retry := cfg.RetryPolicy
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultMaxAttempts
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = defaultInitialBackoff
	}
	if retry.MaximumBackoff <= 0 {
		retry.MaximumBackoff = defaultMaximumBackoff
	}
	if retry.MaximumBackoff < retry.InitialBackoff {
		retry.MaximumBackoff = retry.InitialBackoff
	}

	return &BigQueryWriter{
		client:        client,
		paymentsTable: payments,
		ordersTable:   orders,
		batchSize:     batchSize,
		retry:         retry,
		buffers:       map[string][]any{},
	}, nil
}

// InsertPaymentEvent buffers a money audit row and flushes once the batch is full.
func (w *BigQueryWriter) InsertPaymentEvent(ctx context.Context, row types.PaymentEventRow) error {
	return w.add(ctx, w.paymentsTable, &cbigquery.StructSaver{Struct: &row, InsertID: row.EventID})
}

// InsertOrderEvent buffers an order audit row and flushes once the batch is full.
func (w *BigQueryWriter) InsertOrderEvent(ctx context.Context, row types.OrderEventRow) error {
	return w.add(ctx, w.ordersTable, &cbigquery.StructSaver{Struct: &row, InsertID: row.EventID})
}

// Flush writes any buffered rows immediately.
func (w *BigQueryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flush(ctx, w.paymentsTable); err != nil {
		return err
	}
	return w.flush(ctx, w.ordersTable)
}

func (w *BigQueryWriter) add(ctx context.Context, table string, row any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffers[table] = append(w.buffers[table], row)
	if len(w.buffers[table]) >= w.batchSize {
		return w.flush(ctx, table)
	}
	return nil
}

func (w *BigQueryWriter) flush(ctx context.Context, table string) error {
	rows := w.buffers[table]
	if len(rows) == 0 {
		return nil
	}
	if err := w.insertWithRetry(ctx, table, rows); err != nil {
		return err
	}
	w.buffers[table] = nil
	return nil
}

// insertWithRetry retries transient BigQuery failures with capped
// exponential backoff. Rows keep their insert ids across attempts, so a
// retry after an ambiguous failure does not duplicate them.
func (w *BigQueryWriter) insertWithRetry(ctx context.Context, table string, rows []any) error {
	backoff := retry.WithMaxRetries(uint64(w.retry.MaxAttempts-1),
		retry.WithCappedDuration(w.retry.MaximumBackoff, retry.NewExponential(w.retry.InitialBackoff)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := w.client.InsertRows(ctx, table, rows)
		if err != nil && isRetryableBigQueryError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("insert %s rows: %w", table, err)
	}
	return nil
}

// isRetryableBigQueryError reports whether every failure inside err is
// transient. A batch with one permanently rejected row is not retried.
func isRetryableBigQueryError(err error) bool {
	if err == nil {
		return false
	}
	if inner, ok := nestedErrors(err); ok {
		if len(inner) == 0 {
			return false
		}
		for _, e := range inner {
			if !isRetryableBigQueryError(e) {
				return false
			}
		}
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return retryableHTTPCodes[apiErr.Code]
	}
	var statusErr interface{ GRPCStatus() *status.Status }
	if errors.As(err, &statusErr) {
		if st := statusErr.GRPCStatus(); st != nil {
			return retryableGRPCCodes[st.Code()]
		}
	}
	return false
}

// nestedErrors unpacks the aggregate error shapes returned by the inserter.
func nestedErrors(err error) ([]error, bool) {
	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		return multi, true
	}
	var putErr cbigquery.PutMultiError
	if errors.As(err, &putErr) {
		out := make([]error, 0, len(putErr))
		for _, rowErr := range putErr {
			out = append(out, rowErr.Errors)
		}
		return out, true
	}
	var rowErr *cbigquery.RowInsertionError
	if errors.As(err, &rowErr) && rowErr != nil {
		return rowErr.Errors, true
	}
	return nil, false
}

var retryableHTTPCodes = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusRequestTimeout:      true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var retryableGRPCCodes = map[codes.Code]bool{
	codes.Aborted:           true,
	codes.DeadlineExceeded:  true,
	codes.Internal:          true,
	codes.ResourceExhausted: true,
	codes.Unavailable:       true,
}

// EncodeJSON serializes the provided payload so it can be stored in BigQuery JSON columns.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	switch value := payload.(type) {
	case nil:
		return cbigquery.NullJSON{}, nil
	case cbigquery.NullJSON:
		return value, nil
	case json.RawMessage:
		if len(value) == 0 {
			return cbigquery.NullJSON{}, nil
		}
		return cbigquery.NullJSON{Valid: true, JSONVal: string(value)}, nil
	case []byte:
		if len(value) == 0 {
			return cbigquery.NullJSON{}, nil
		}
		return cbigquery.NullJSON{Valid: true, JSONVal: string(value)}, nil
	}

	marshaled, err := json.Marshal(payload)
	if err != nil {
		return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
	}
	if len(marshaled) == 0 {
		return cbigquery.NullJSON{}, nil
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(marshaled)}, nil
}
