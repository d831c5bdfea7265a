// Package validator decodes consumed rows against the configured schema.
package validator

import (
	"fmt"
	"time"

	"github.com/jittakal/kafrowstore/internal/errors"
	"github.com/jittakal/kafrowstore/internal/idf"
	"github.com/jittakal/kafrowstore/internal/observability"
	pkgidf "github.com/jittakal/kafrowstore/pkg/idf"
	"github.com/jittakal/kafrowstore/pkg/row"
	"github.com/jittakal/kafrowstore/pkg/schema"
)

// MetricsCollector records converter outcomes.
type MetricsCollector interface {
	IncRowsDecoded(topic, status, class string)
	ObserveRowConversion(topic string, d time.Duration)
}

// RowValidator decodes textual rows into records. It owns a single
// converter and is not safe for concurrent use; create one per worker.
type RowValidator struct {
	converter *idf.Converter
	metrics   MetricsCollector
	now       func() time.Time
}

// NewRowValidator binds a new converter to s. metrics may be nil.
func NewRowValidator(s *schema.Schema, metrics MetricsCollector) (*RowValidator, error) {
	if s == nil || s.IsEmpty() {
		return nil, &pkgidf.SchemaError{Reason: "schema has no columns"}
	}

	converter := idf.NewConverter()
	if err := converter.BindSchema(s); err != nil {
		return nil, fmt.Errorf("failed to bind schema: %w", err)
	}

	return &RowValidator{
		converter: converter,
		metrics:   metrics,
		now:       time.Now,
	}, nil
}

// Schema returns the bound schema.
func (v *RowValidator) Schema() *schema.Schema {
	return v.converter.Schema()
}

// Validate decodes the consumed text and re-encodes the values so the record
// carries the canonical text. A null row returns errors.ErrNullRow and a row
// that violates the schema returns *errors.ValidationError.
func (v *RowValidator) Validate(consumed *row.ConsumedRow) (*row.Record, error) {
	md := consumed.Metadata
	start := v.now()

	if consumed.Text == nil {
		v.record(md.Topic, observability.StatusNull, "", start)
		return nil, errors.ErrNullRow
	}

	v.converter.SetText(consumed.Text)
	values, err := v.converter.Values()
	if err != nil {
		return nil, v.fail(md, err, start)
	}

	v.converter.SetValues(values)
	text, err := v.converter.Text()
	if err != nil {
		return nil, v.fail(md, err, start)
	}

	v.record(md.Topic, observability.StatusSuccess, "", start)

	return &row.Record{
		Values:      values,
		Text:        *text,
		Kafka:       md,
		Offset:      md.Offset,
		ProcessedAt: v.now(),
	}, nil
}

func (v *RowValidator) fail(md row.KafkaMetadata, err error, start time.Time) error {
	verr := &errors.ValidationError{
		PartitionID: row.PartitionID{Topic: md.Topic, Partition: md.Partition},
		Offset:      md.Offset,
		Err:         err,
	}
	v.record(md.Topic, observability.StatusFailure, verr.Class(), start)
	return verr
}

func (v *RowValidator) record(topic, status, class string, start time.Time) {
	if v.metrics == nil {
		return
	}
	v.metrics.IncRowsDecoded(topic, status, class)
	v.metrics.ObserveRowConversion(topic, v.now().Sub(start))
}
