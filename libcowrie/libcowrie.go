// Package libcowrie is the embedding surface of the processing engine.
//
// It wires the loaders, the enrichment cascade, the snapshot builder,
// the sanitization sweeper, and dead-letter replay onto one database
// pool and exposes them as verbs. Command-line front ends are expected
// to live elsewhere and map the returned error kinds onto exit codes.
package libcowrie

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quay/zlog"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
	"github.com/datagen24/cowrieprocessor-sub005/cache"
	"github.com/datagen24/cowrieprocessor-sub005/datastore/postgres"
	"github.com/datagen24/cowrieprocessor-sub005/datastore/postgres/migrations"
	"github.com/datagen24/cowrieprocessor-sub005/deadletter"
	"github.com/datagen24/cowrieprocessor-sub005/enrich"
	"github.com/datagen24/cowrieprocessor-sub005/ingest"
	"github.com/datagen24/cowrieprocessor-sub005/ratelimit"
	"github.com/datagen24/cowrieprocessor-sub005/snapshot"
	"github.com/datagen24/cowrieprocessor-sub005/status"
	"github.com/datagen24/cowrieprocessor-sub005/sweep"
)

// Options configures a Lib. DSN or Pool is required; everything else is
// optional and disables its feature when absent.
type Options struct {
	// DSN is the PostgreSQL connection string. Ignored when Pool is set.
	DSN string
	// Pool is an externally managed pool, shared with the caller.
	Pool *pgxpool.Pool
	// Migrations controls whether New brings the schema up to date.
	Migrations bool

	// StatusDir is where progress documents are written. Empty disables
	// status emission.
	StatusDir string
	// CacheDir is the disk cache tier's directory. Empty disables the
	// tier; the memory and database tiers are always active.
	CacheDir string
	// MemCacheEntries bounds the memory cache tier. Zero gets a default.
	MemCacheEntries int64

	// GeoIPCityPath and GeoIPASNPath locate the offline MaxMind
	// databases. Both empty disables the offline source.
	GeoIPCityPath string
	GeoIPASNPath  string

	// ScannerRoot and ScannerKey configure the scanner intelligence API.
	// Empty root disables the source.
	ScannerRoot string
	ScannerKey  string
	// HashRepRoot and HashRepKey configure the file-hash reputation API.
	HashRepRoot string
	HashRepKey  string
	// BreachRoot configures the password breach range API.
	BreachRoot string

	// Client is used for all remote sources. Nil gets
	// [http.DefaultClient].
	Client *http.Client
	// RateLimits overrides per-service limits. Nil gets defaults.
	RateLimits map[cowrieprocessor.Service]ratelimit.Config
	// SourceTimeout bounds one remote source call. Zero gets the
	// cascade's default.
	SourceTimeout time.Duration

	// Ingest tunes the loaders.
	Ingest ingest.Options

	// Now is the clock. Nil gets the wall clock.
	Now func() time.Time
}

// DefaultRateLimits is the per-service limit applied when the caller
// supplies none. The numbers track the public tiers of the respective
// providers.
func DefaultRateLimits() map[cowrieprocessor.Service]ratelimit.Config {
	return map[cowrieprocessor.Service]ratelimit.Config{
		cowrieprocessor.ServiceWhoisASN: {Rate: 10, Burst: 10, MaxWait: 30 * time.Second},
		cowrieprocessor.ServiceScanner:  {Rate: 1, Burst: 5, MaxWait: 30 * time.Second},
		cowrieprocessor.ServiceHashRep:  {Rate: 4.0 / 60, Burst: 4, DailyQuota: 500, MaxWait: time.Minute},
		cowrieprocessor.ServiceBreach:   {Rate: 10, Burst: 10, MaxWait: 30 * time.Second},
	}
}

// Lib is an instantiated engine.
type Lib struct {
	store    *postgres.Store
	pool     *pgxpool.Pool
	ownsPool bool
	emitter  *status.Emitter
	mem      *cache.Memory
	geo      *enrich.GeoIP
	cascade  *enrich.Cascade
	refresh  *enrich.Refresher
	opts     Options
	now      func() time.Time
}

// cacheTiers assembles the cache lookup order: memory first, then the
// shared database, then the host-local disk directory. Disk is last
// because it is scoped to one host; the database tier already reflects
// what every worker has fetched. disk may be nil.
func cacheTiers(mem, db, disk cache.Tier) []cache.Tier {
	tiers := []cache.Tier{mem, db}
	if disk != nil {
		tiers = append(tiers, disk)
	}
	return tiers
}

// New wires an engine from the options. The returned Lib must be closed.
func New(ctx context.Context, opts *Options) (*Lib, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "libcowrie/New")
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	pool := opts.Pool
	ownsPool := false
	if pool == nil {
		if opts.DSN == "" {
			return nil, &cowrieprocessor.Error{
				Kind:    cowrieprocessor.ErrInvalid,
				Op:      "libcowrie.New",
				Message: "one of DSN or Pool is required",
			}
		}
		var err error
		pool, err = postgres.Connect(ctx, opts.DSN, "libcowrie")
		if err != nil {
			return nil, err
		}
		ownsPool = true
	}
	store, err := postgres.InitPostgresStore(ctx, pool, opts.Migrations)
	if err != nil {
		if ownsPool {
			pool.Close()
		}
		return nil, err
	}

	l := Lib{
		store:    store,
		pool:     pool,
		ownsPool: ownsPool,
		opts:     *opts,
		now:      now,
	}
	cleanup := func() {
		l.Close(ctx)
	}

	if opts.StatusDir != "" {
		l.emitter, err = status.New(opts.StatusDir, now)
		if err != nil {
			cleanup()
			return nil, err
		}
	}

	memEntries := opts.MemCacheEntries
	if memEntries == 0 {
		memEntries = 1 << 14
	}
	l.mem, err = cache.NewMemory(memEntries, now)
	if err != nil {
		cleanup()
		return nil, err
	}
	var disk cache.Tier
	if opts.CacheDir != "" {
		disk, err = cache.NewDisk(opts.CacheDir, now)
		if err != nil {
			cleanup()
			return nil, err
		}
	}
	tiered := cache.NewTiered(now, cacheTiers(l.mem, cache.NewDB(store, now), disk)...)

	limits := opts.RateLimits
	if limits == nil {
		limits = DefaultRateLimits()
	}
	registry := ratelimit.NewRegistry(limits, now)

	var sources []enrich.Source
	if opts.GeoIPCityPath != "" || opts.GeoIPASNPath != "" {
		l.geo, err = enrich.NewGeoIP(ctx, opts.GeoIPCityPath, opts.GeoIPASNPath)
		if err != nil {
			cleanup()
			return nil, err
		}
		sources = append(sources, l.geo)
	}
	sources = append(sources, enrich.NewWhoisASN(nil))
	if opts.ScannerRoot != "" {
		scanner, err := enrich.NewScannerIntel(opts.Client, opts.ScannerRoot, opts.ScannerKey)
		if err != nil {
			cleanup()
			return nil, err
		}
		sources = append(sources, scanner)
	}
	l.cascade = enrich.NewCascade(store, tiered, registry, opts.SourceTimeout, now, sources...)

	var breach, hashrep enrich.Source
	if opts.BreachRoot != "" {
		breach, err = enrich.NewBreach(opts.Client, opts.BreachRoot)
		if err != nil {
			cleanup()
			return nil, err
		}
	}
	if opts.HashRepRoot != "" {
		hashrep, err = enrich.NewHashReputation(opts.Client, opts.HashRepRoot, opts.HashRepKey)
		if err != nil {
			cleanup()
			return nil, err
		}
	}
	l.refresh = enrich.NewRefresher(l.cascade, store, breach, hashrep, now)

	zlog.Info(ctx).
		Int("sources", len(sources)).
		Bool("migrations", opts.Migrations).
		Msg("engine initialized")
	return &l, nil
}

// BulkIngest loads the named files or globs from their beginning.
func (l *Lib) BulkIngest(ctx context.Context, paths []string) (ingest.Stats, error) {
	return ingest.NewBulk(l.store, l.emitter, l.opts.Ingest, l.now).Run(ctx, paths)
}

// DeltaIngest resumes the named files from their checkpoints.
func (l *Lib) DeltaIngest(ctx context.Context, paths []string) (ingest.Stats, error) {
	return ingest.NewDelta(l.store, l.emitter, l.opts.Ingest, l.now).Run(ctx, paths)
}

// Migrate brings the schema up to date without touching data.
func (l *Lib) Migrate(ctx context.Context) error {
	return postgres.Migrate(ctx, l.pool)
}

// EnrichRefresh re-enriches inventory rows older than maxAge, then
// works through unchecked passwords and unanalyzed file artifacts.
// Quota exhaustion ends the run early without error; the next run picks
// up where this one stopped.
func (l *Lib) EnrichRefresh(ctx context.Context, maxAge time.Duration) (enrich.RefreshStats, error) {
	const pageSize = 200
	stats, err := l.refresh.RefreshIPs(ctx, maxAge, pageSize)
	if err != nil {
		return stats, err
	}
	ps, err := l.refresh.RefreshPasswords(ctx, maxAge, pageSize)
	stats.Scanned += ps.Scanned
	stats.Refreshed += ps.Refreshed
	stats.Failed += ps.Failed
	if err != nil {
		return stats, err
	}
	fs, err := l.refresh.RefreshFiles(ctx, pageSize)
	stats.Scanned += fs.Scanned
	stats.Refreshed += fs.Refreshed
	stats.Failed += fs.Failed
	return stats, err
}

// Sanitize sweeps historical payloads for stored control characters.
// With dryRun set, nothing is modified and Stats.Scanned reports how
// many rows a real sweep would touch.
func (l *Lib) Sanitize(ctx context.Context, dryRun bool) (sweep.Stats, error) {
	s := sweep.New(l.store, 0)
	if dryRun {
		const sampleSize = 10
		n, sample, err := s.Preview(ctx, sampleSize)
		if err != nil {
			return sweep.Stats{Scanned: n}, err
		}
		ids := make([]int64, len(sample))
		for i, r := range sample {
			ids[i] = r.ID
		}
		zlog.Info(ctx).
			Int64("dirty", n).
			Ints64("sample_ids", ids).
			Msg("sanitization dry run")
		return sweep.Stats{Scanned: n}, nil
	}
	return s.Run(ctx)
}

// BackfillSnapshots seals enrichment snapshots onto sessions that have
// enriched inventory but unsealed columns.
func (l *Lib) BackfillSnapshots(ctx context.Context) (snapshot.Stats, error) {
	return snapshot.New(l.store, l.now).Run(ctx)
}

// ReplayDeadLetters retries every queued payload once.
func (l *Lib) ReplayDeadLetters(ctx context.Context) (deadletter.Stats, error) {
	return deadletter.New(l.store, l.opts.Ingest, l.now).Run(ctx)
}

// CheckHealth verifies the engine can do useful work: the database
// answers and the schema is current. The returned error carries a kind
// callers can map onto an exit code.
func (l *Lib) CheckHealth(ctx context.Context) error {
	if err := l.pool.Ping(ctx); err != nil {
		return &cowrieprocessor.Error{
			Inner:   err,
			Kind:    cowrieprocessor.ErrTransient,
			Op:      "libcowrie.CheckHealth",
			Message: "database unreachable",
		}
	}
	var applied int
	query := fmt.Sprintf(`SELECT coalesce(max(version), 0) FROM %s;`, migrations.MigrationTable)
	if err := l.pool.QueryRow(ctx, query).Scan(&applied); err != nil {
		return &cowrieprocessor.Error{
			Inner:   err,
			Kind:    cowrieprocessor.ErrPrecondition,
			Op:      "libcowrie.CheckHealth",
			Message: "schema has never been migrated",
		}
	}
	if want := migrations.Migrations[len(migrations.Migrations)-1].ID; applied < want {
		return &cowrieprocessor.Error{
			Kind:    cowrieprocessor.ErrPrecondition,
			Op:      "libcowrie.CheckHealth",
			Message: fmt.Sprintf("schema at version %d, need %d", applied, want),
		}
	}
	return nil
}

// Close releases everything New built. The pool is closed only when the
// Lib created it.
func (l *Lib) Close(ctx context.Context) error {
	var errs []error
	if l.geo != nil {
		errs = append(errs, l.geo.Close())
	}
	if l.mem != nil {
		l.mem.Close()
	}
	if l.store != nil {
		if l.ownsPool {
			errs = append(errs, l.store.Close(ctx))
		}
	}
	return errors.Join(errs...)
}
