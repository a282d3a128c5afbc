// Package enrich follows each row's contact and lot links and extracts contact
// and lot fields. Failures are per page: a row is always emitted, with nil
// fields for any page that could not be read.
package enrich

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/tender-sync/internal/model"
)

// RegistrationID derives the registration number from a composite organizer
// value ("<name> | <id> | ..."). It returns nil when there is no second
// segment or it is blank.
func RegistrationID(organizer string) *string {
	parts := strings.Split(organizer, "|")
	if len(parts) < 2 {
		return nil
	}
	return model.StringPtr(parts[1])
}

// Options configures an Enricher.
type Options struct {
	Concurrency int
	RatePerSec  float64
	PhoneRegion string
	Selectors   Selectors
	Columns     map[model.Kind]model.Columns
}

// Enricher enriches batches of raw rows.
type Enricher struct {
	pages       PageFetcher
	schemas     map[model.Kind]Schema
	concurrency int
	limiter     *rate.Limiter
	phoneRegion string
	log         *zap.Logger
}

// New creates an Enricher. Kinds missing from opts.Columns use the default
// column mapping.
func New(pages PageFetcher, opts Options) *Enricher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		burst := max(1, int(opts.RatePerSec))
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}

	schemas := make(map[model.Kind]Schema, len(model.Kinds))
	for _, k := range model.Kinds {
		cols := opts.Columns[k].Merge(model.DefaultColumns(k))
		schemas[k] = SchemaFor(k, cols, opts.Selectors)
	}

	return &Enricher{
		pages:       pages,
		schemas:     schemas,
		concurrency: opts.Concurrency,
		limiter:     limiter,
		phoneRegion: opts.PhoneRegion,
		log:         zap.L().With(zap.String("component", "enrich")),
	}
}

// Schema returns the schema used for kind.
func (e *Enricher) Schema(kind model.Kind) Schema {
	return e.schemas[kind]
}

// Enrich enriches rows concurrently. The result has one entry per input row,
// in input order.
func (e *Enricher) Enrich(ctx context.Context, rows []model.RawRow, kind model.Kind) []model.EnrichedRow {
	schema, ok := e.schemas[kind]
	if !ok {
		schema = SchemaFor(kind, model.DefaultColumns(kind), Selectors{})
	}

	start := time.Now()
	out := make([]model.EnrichedRow, len(rows))
	var fetched, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for i := range rows {
		g.Go(func() error {
			out[i] = e.enrichRow(ctx, rows[i], schema, &fetched)
			if out[i].EnrichErr != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	e.log.Info("enrich: batch complete",
		zap.String("kind", kind.String()),
		zap.Int("rows", len(rows)),
		zap.Int64("pages_fetched", fetched.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out
}

func (e *Enricher) enrichRow(ctx context.Context, raw model.RawRow, schema Schema, fetched *atomic.Int64) (row model.EnrichedRow) {
	row = model.EnrichedRow{
		Raw:            raw,
		Kind:           schema.Kind,
		RegistrationID: RegistrationID(raw.Get(schema.Organizer)),
	}

	contactURL, hasContact := raw.Link(schema.Link)
	var lotURL string
	var hasLot bool
	if col := schema.lotLink(); col != "" {
		lotURL, hasLot = raw.Link(col)
	}
	if !hasContact && !hasLot {
		return row
	}

	var url string
	defer func() {
		if r := recover(); r != nil {
			row.Contact = model.ContactInfo{}
			row.EnrichErr = &ExtractionError{Row: raw.Index, URL: url, Err: eris.Errorf("panic: %v", r)}
			e.log.Error("enrich: extraction panicked",
				zap.Int("row", raw.Index),
				zap.String("url", url),
				zap.Any("panic", r),
			)
		}
	}()

	if hasContact {
		url = contactURL
		info, err := e.extract(ctx, url, schema, fetched)
		if err != nil {
			e.fail(&row, url, err)
		} else {
			row.Contact = info
		}
	}

	if hasLot {
		url = lotURL
		row.Contact.LotTitle, row.Contact.LotDate = nil, nil
		info, err := e.extract(ctx, url, schema, fetched)
		if err != nil {
			e.fail(&row, url, err)
		} else {
			row.Contact.LotTitle, row.Contact.LotDate = info.LotTitle, info.LotDate
		}
	}
	return row
}

// fail records the first page failure of row.
func (e *Enricher) fail(row *model.EnrichedRow, url string, err error) {
	if row.EnrichErr == nil {
		row.EnrichErr = &ExtractionError{Row: row.Raw.Index, URL: url, Err: err}
	}
	e.log.Debug("enrich: page failed",
		zap.Int("row", row.Raw.Index),
		zap.String("url", url),
		zap.Error(err),
	)
}

func (e *Enricher) extract(ctx context.Context, url string, schema Schema, fetched *atomic.Int64) (model.ContactInfo, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return model.ContactInfo{}, eris.Wrap(err, "rate limit")
		}
	}
	body, err := e.pages.Page(ctx, url)
	if err != nil {
		return model.ContactInfo{}, err
	}
	fetched.Add(1)
	return Extract(body, schema.Selectors, e.phoneRegion)
}
