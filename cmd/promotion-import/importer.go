package main

import (
	"bufio"
	"context"
	"io"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/wire"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	maxLineBytes  = 1 << 20
	progressEvery = 1000
)

// creator is implemented by *promotion.Service.
type creator interface {
	Create(ctx context.Context, tenantID string, spec promotion.Spec) (*promotion.Promotion, error)
}

// Report counts the outcome of an import.
type Report struct {
	Created int64
	Skipped int64
	Failed  int64
}

type job struct {
	line int
	spec promotion.Spec
}

type importer struct {
	svc      creator
	tenantID string
	workers  int
	lg       *zap.Logger

	// seen is only touched by the reader goroutine.
	seen  *bloom.BloomFilter
	codes map[string]struct{}

	created, skipped, failed atomic.Int64
}

func newImporter(svc creator, tenantID string, workers int, lg *zap.Logger) *importer {
	return &importer{
		svc:      svc,
		tenantID: tenantID,
		workers:  max(workers, 1),
		lg:       lg,
		seen:     bloom.NewWithEstimates(bloomCapacity, bloomFPR),
		codes:    make(map[string]struct{}),
	}
}

// ImportGzip imports a gzip-compressed NDJSON stream of promotion specs.
func (im *importer) ImportGzip(ctx context.Context, r io.Reader) (Report, error) {
	gz, err := pgzip.NewReader(r)
	if err != nil {
		return Report{}, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()
	return im.Import(ctx, gz)
}

// Import reads one promotion spec per line and creates them with bounded
// concurrency. Malformed lines and rejected specs are counted as failed;
// codes repeated within the stream or already stored are counted as
// skipped.
func (im *importer) Import(ctx context.Context, r io.Reader) (Report, error) {
	jobs := make(chan job)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		return im.read(ctx, r, jobs)
	})
	for range im.workers {
		g.Go(func() error {
			for j := range jobs {
				im.create(ctx, j)
			}
			return nil
		})
	}

	err := g.Wait()
	return Report{
		Created: im.created.Load(),
		Skipped: im.skipped.Load(),
		Failed:  im.failed.Load(),
	}, err
}

func (im *importer) read(ctx context.Context, r io.Reader, jobs chan<- job) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		d := jx.DecodeBytes(raw)
		spec, err := wire.DecodeSpec(d)
		if err == nil {
			err = wire.DecodeEnd(d)
		}
		if err != nil {
			im.failed.Add(1)
			im.lg.Warn("Skipping malformed line", zap.Int("line", line), zap.Error(err))
			continue
		}
		if im.duplicate(spec.Code) {
			im.skipped.Add(1)
			im.lg.Info("Skipping duplicate code", zap.Int("line", line), zap.String("code", spec.Code))
			continue
		}
		select {
		case jobs <- job{line: line, spec: spec}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "read line %d", line+1)
	}
	return nil
}

// duplicate reports whether code was already seen in this stream and
// remembers it. Auto-applied promotions have no code and are never
// duplicates.
func (im *importer) duplicate(code string) bool {
	code = promotion.NormalizeCode(code)
	if code == "" {
		return false
	}
	if im.seen.TestString(code) {
		if _, ok := im.codes[code]; ok {
			return true
		}
	} else {
		im.seen.AddString(code)
	}
	im.codes[code] = struct{}{}
	return false
}

func (im *importer) create(ctx context.Context, j job) {
	p, err := im.svc.Create(ctx, im.tenantID, j.spec)
	var invalid *promotion.InvalidSpecError
	switch {
	case err == nil:
		if n := im.created.Add(1); n%progressEvery == 0 {
			im.lg.Info("Import progress", zap.Int64("created", n))
		}
		im.lg.Debug("Promotion created", zap.Int("line", j.line), zap.String("promotion_id", p.ID))
	case errors.Is(err, promotion.ErrDuplicateCode):
		im.skipped.Add(1)
		im.lg.Info("Code already exists", zap.Int("line", j.line), zap.String("code", j.spec.Code))
	case errors.As(err, &invalid):
		im.failed.Add(1)
		im.lg.Warn("Invalid promotion", zap.Int("line", j.line), zap.Error(err))
	default:
		im.failed.Add(1)
		im.lg.Error("Create promotion", zap.Int("line", j.line), zap.Error(err))
	}
}
