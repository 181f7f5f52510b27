// Package directory serves companies, projects and places read from the spreadsheet, keeping an
// expiring cache in front of it and a durable copy behind it for when it cannot be reached.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/charlesng35/estatedir/internal/cache"
	"github.com/charlesng35/estatedir/internal/fetch"
	"github.com/charlesng35/estatedir/internal/models"
	"github.com/charlesng35/estatedir/internal/records"
	"github.com/charlesng35/estatedir/internal/sheets"
	"github.com/charlesng35/estatedir/pkg/logger"
	"github.com/charlesng35/estatedir/pkg/metrics"
)

// Sources reported in Result.
const (
	SourceCache   = "cache"
	SourceNetwork = "network"
	SourceStore   = "store"
)

// ErrNotFound is returned when a record id is not in the directory.
var ErrNotFound = errors.New("directory: record not found")

// SheetSource fetches raw sheet exports.
type SheetSource interface {
	FetchCSV(ctx context.Context, sheet sheets.Sheet, format string) (string, error)
}

// ConnectivityReporter is told whether the spreadsheet host answered a fetch.
type ConnectivityReporter interface {
	SetOnline(online bool)
}

// Result carries records along with where they came from. Stale is set when the spreadsheet
// could not be reached and the durable copy was served instead.
type Result[T any] struct {
	Items     []T
	Source    string
	Stale     bool
	FetchedAt time.Time
}

type cachedSheet[T any] struct {
	Items     []T       `json:"items"`
	FetchedAt time.Time `json:"fetched_at"`
}

// DefaultFetchTimeout bounds one shared sheet fetch, retries included.
const DefaultFetchTimeout = time.Minute

// Config tunes the service.
type Config struct {
	TTL          time.Duration
	Format       string
	FetchTimeout time.Duration
}

// Service loads directory records.
type Service struct {
	source   SheetSource
	cache    *cache.Cache
	store    *records.Store
	reporter ConnectivityReporter
	cfg      Config
	now      func() time.Time
	group    singleflight.Group
	log      *zap.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithReporter forwards fetch reachability to r.
func WithReporter(r ConnectivityReporter) Option {
	return func(s *Service) {
		s.reporter = r
	}
}

// WithClock overrides the clock used to stamp fetched records.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires a directory service.
func NewService(source SheetSource, c *cache.Cache, store *records.Store, cfg Config, opts ...Option) (*Service, error) {
	if source == nil {
		return nil, errors.New("directory: sheet source is required")
	}
	if c == nil {
		return nil, errors.New("directory: cache is required")
	}
	if store == nil {
		return nil, errors.New("directory: record store is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = cache.TTLMedium
	}
	if cfg.Format == "" {
		cfg.Format = sheets.FormatCSV
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}

	s := &Service{
		source: source,
		cache:  c,
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		log:    logger.WithModule("directory"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type sheetLoader[T records.Record] struct {
	sheet sheets.Sheet
	parse func(text string, fetchedAt time.Time) ([]T, error)
}

var (
	companyLoader = sheetLoader[models.Company]{sheet: sheets.Companies, parse: ParseCompanies}
	projectLoader = sheetLoader[models.Project]{sheet: sheets.Projects, parse: ParseProjects}
	placeLoader   = sheetLoader[models.Place]{sheet: sheets.Places, parse: ParsePlaces}
)

// Companies returns all companies. refresh skips the cache.
func (s *Service) Companies(ctx context.Context, refresh bool) (Result[models.Company], error) {
	return load(ctx, s, companyLoader, refresh)
}

// Projects returns all projects. refresh skips the cache.
func (s *Service) Projects(ctx context.Context, refresh bool) (Result[models.Project], error) {
	return load(ctx, s, projectLoader, refresh)
}

// Places returns all places. refresh skips the cache.
func (s *Service) Places(ctx context.Context, refresh bool) (Result[models.Place], error) {
	return load(ctx, s, placeLoader, refresh)
}

// Company returns one company by id.
func (s *Service) Company(ctx context.Context, id string, refresh bool) (models.Company, Result[models.Company], error) {
	res, err := s.Companies(ctx, refresh)
	if err != nil {
		return models.Company{}, res, err
	}
	for _, c := range res.Items {
		if c.ID == id {
			return c, res, nil
		}
	}
	return models.Company{}, res, fmt.Errorf("%w: company %q", ErrNotFound, id)
}

// Project returns one project by id.
func (s *Service) Project(ctx context.Context, id string, refresh bool) (models.Project, Result[models.Project], error) {
	res, err := s.Projects(ctx, refresh)
	if err != nil {
		return models.Project{}, res, err
	}
	for _, p := range res.Items {
		if p.ID == id {
			return p, res, nil
		}
	}
	return models.Project{}, res, fmt.Errorf("%w: project %q", ErrNotFound, id)
}

// CompanyProjects returns the projects referencing companyID.
func (s *Service) CompanyProjects(ctx context.Context, companyID string, refresh bool) (Result[models.Project], error) {
	res, err := s.Projects(ctx, refresh)
	if err != nil {
		return res, err
	}
	filtered := make([]models.Project, 0, len(res.Items))
	for _, p := range res.Items {
		if p.CompanyID == companyID {
			filtered = append(filtered, p)
		}
	}
	res.Items = filtered
	return res, nil
}

// RawCSV proxies a sheet export without parsing or caching it.
func (s *Service) RawCSV(ctx context.Context, sheet sheets.Sheet, format string) (string, error) {
	text, err := s.source.FetchCSV(ctx, sheet, format)
	s.report(ctx, err)
	return text, err
}

// Warm refreshes every sheet concurrently. It returns the first failure.
func (s *Service) Warm(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.Companies(gctx, true)
		return err
	})
	g.Go(func() error {
		_, err := s.Projects(gctx, true)
		return err
	})
	g.Go(func() error {
		_, err := s.Places(gctx, true)
		return err
	})
	return g.Wait()
}

// ClearCache drops every cached sheet so the next read goes to the spreadsheet.
func (s *Service) ClearCache(ctx context.Context) (int, error) {
	return s.cache.ClearAll(ctx)
}

func cacheKey(sheet sheets.Sheet) string {
	return "sheet_" + string(sheet)
}

func load[T records.Record](ctx context.Context, s *Service, l sheetLoader[T], refresh bool) (Result[T], error) {
	key := cacheKey(l.sheet)

	if !refresh {
		var cached cachedSheet[T]
		found, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.log.Warn("cache read failed", zap.String("sheet", string(l.sheet)), zap.Error(err))
		}
		if found {
			return Result[T]{Items: cached.Items, Source: SourceCache, FetchedAt: cached.FetchedAt}, nil
		}
	}

	// The shared fetch is detached from any one caller. Each caller stops waiting on its own ctx.
	ch := s.group.DoChan(string(l.sheet), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FetchTimeout)
		defer cancel()
		return fetchSheet(fetchCtx, s, l)
	})
	var shared singleflight.Result
	select {
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	case shared = <-ch:
	}

	err := shared.Err
	if err == nil {
		fresh := shared.Val.(cachedSheet[T])
		items := make([]T, len(fresh.Items))
		copy(items, fresh.Items)
		return Result[T]{Items: items, Source: SourceNetwork, FetchedAt: fresh.FetchedAt}, nil
	}

	if !transient(err) {
		return Result[T]{}, err
	}

	stored, storeErr := records.All[T](ctx, s.store)
	if storeErr != nil || len(stored) == 0 {
		if storeErr != nil {
			s.log.Warn("durable copy unavailable", zap.String("sheet", string(l.sheet)), zap.Error(storeErr))
		}
		return Result[T]{}, err
	}

	metrics.SheetFetches.WithLabelValues(string(l.sheet), "fallback").Inc()
	s.log.Info("serving durable copy",
		zap.String("sheet", string(l.sheet)),
		zap.Int("records", len(stored)),
		zap.Error(err),
	)
	return Result[T]{Items: stored, Source: SourceStore, Stale: true, FetchedAt: latestFetch(stored)}, nil
}

func fetchSheet[T records.Record](ctx context.Context, s *Service, l sheetLoader[T]) (cachedSheet[T], error) {
	text, err := s.source.FetchCSV(ctx, l.sheet, s.cfg.Format)
	s.report(ctx, err)
	if err != nil {
		return cachedSheet[T]{}, err
	}

	fetchedAt := s.now().UTC()
	items, err := l.parse(text, fetchedAt)
	if err != nil {
		metrics.SheetFetches.WithLabelValues(string(l.sheet), "invalid").Inc()
		return cachedSheet[T]{}, err
	}

	fresh := cachedSheet[T]{Items: items, FetchedAt: fetchedAt}
	if err := s.cache.Set(ctx, cacheKey(l.sheet), fresh, s.cfg.TTL); err != nil {
		s.log.Warn("cache write failed", zap.String("sheet", string(l.sheet)), zap.Error(err))
	}
	if err := records.Replace(ctx, s.store, items...); err != nil {
		s.log.Warn("durable copy not updated", zap.String("sheet", string(l.sheet)), zap.Error(err))
	}
	return fresh, nil
}

func (s *Service) report(ctx context.Context, err error) {
	if s.reporter == nil || ctx.Err() != nil {
		return
	}
	switch {
	case err == nil:
		s.reporter.SetOnline(true)
	case unreachable(err):
		s.reporter.SetOnline(false)
	}
}

// transient reports whether err is a network or upstream failure worth falling back on, as
// opposed to a problem with the sheet itself or a cancelled request.
func transient(err error) bool {
	var parseErr *ParseError
	switch {
	case errors.As(err, &parseErr),
		errors.Is(err, sheets.ErrSheetNotPublic),
		errors.Is(err, sheets.ErrEmptySheet),
		errors.Is(err, sheets.ErrUnknownSheet),
		errors.Is(err, sheets.ErrUnknownFormat),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// unreachable reports whether err means no answer came back from the host at all.
func unreachable(err error) bool {
	var statusErr *fetch.StatusError
	return transient(err) && !errors.As(err, &statusErr)
}

func latestFetch[T records.Record](items []T) time.Time {
	var latest time.Time
	for _, item := range items {
		var at time.Time
		switch v := any(item).(type) {
		case models.Company:
			at = v.FetchedAt
		case models.Project:
			at = v.FetchedAt
		case models.Place:
			at = v.FetchedAt
		}
		if at.After(latest) {
			latest = at
		}
	}
	return latest
}
