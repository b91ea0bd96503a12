package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/vpn-checkout/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	grantWorkers  = 8
)

type options struct {
	files    []string
	minFiles int
	expected uint
	percent  int
	ttl      time.Duration
	dryRun   bool
}

// fileResult holds the candidate user ids found in a single file during pass 2.
type fileResult struct {
	candidates map[int64]uint
}

func main() {
	var (
		databaseURL string
		opts        options
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.minFiles, "min-files", 1, "grant only to users listed in at least this many files")
	flag.UintVar(&opts.expected, "expected", 1_000_000, "expected user ids per file, sizes the bloom filters")
	flag.IntVar(&opts.percent, "percent", 0, "offer percent, 1..100")
	flag.DurationVar(&opts.ttl, "ttl", 72*time.Hour, "offer lifetime; 0 never expires")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "report matching users without granting")
	flag.Parse()
	opts.files = flag.Args()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !opts.dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if err := opts.validate(); err != nil {
		slog.Error("invalid arguments", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, opts); err != nil {
		slog.Error("offer grant failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("offer grant completed successfully")
}

func (o options) validate() error {
	switch {
	case len(o.files) == 0:
		return errors.New("at least one gzip file of user ids is required")
	case len(o.files) > bits.UintSize:
		return errors.Errorf("at most %d files are supported", bits.UintSize)
	case o.minFiles < 1 || o.minFiles > len(o.files):
		return errors.Errorf("min-files must be within 1..%d", len(o.files))
	case o.percent < 1 || o.percent > 100:
		return errors.New("percent must be within 1..100")
	case o.ttl < 0:
		return errors.New("ttl must not be negative")
	}
	return nil
}

func run(ctx context.Context, databaseURL string, opts options) error {
	for _, f := range opts.files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	// Pass 1: Build bloom filters concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(opts.files)))

	filters, err := buildBloomFilters(ctx, opts.files, opts.expected)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: Keep users listed in enough files.
	slog.Info("pass 2: finding target users", slog.Int("min_files", opts.minFiles))

	users, err := findTargetUsers(ctx, opts.files, filters, opts.minFiles)
	if err != nil {
		return errors.Wrap(err, "find target users")
	}

	slog.Info("target users found", slog.Int("count", len(users)))

	if len(users) == 0 || opts.dryRun {
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	var expiresAt time.Time
	if opts.ttl > 0 {
		expiresAt = time.Now().Add(opts.ttl)
	}

	if err := grantOffers(ctx, postgres.NewUserRepository(pool), users, opts.percent, expiresAt); err != nil {
		return errors.Wrap(err, "grant offers")
	}

	return nil
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string, expected uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(expected, bloomFPR)
			var count uint64

			if err := streamGzFile(ctx, f, func(id int64) {
				filter.Add(idKey(id))
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Uint64("ids", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}

			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Uint64("total_ids", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

// findTargetUsers re-streams each file and keeps ids that other files' filters
// may also contain. The final count is exact: every file contributes its own
// bit only, the filters merely prune ids that cannot reach minFiles.
func findTargetUsers(ctx context.Context, files []string, filters []*bloom.BloomFilter, minFiles int) ([]int64, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			candidates := make(map[int64]uint)
			fileBit := uint(1) << uint(i)

			if err := streamGzFile(ctx, f, func(id int64) {
				if minFiles > 1 && otherHits(filters, i, id) < minFiles-1 {
					return
				}
				candidates[id] |= fileBit
			}); err != nil {
				return errors.Wrapf(err, "scan file %d for candidates", i+1)
			}

			slog.Info("pass 2 complete", slog.Int("file", i+1), slog.Int("candidates", len(candidates)))
			results[i] = fileResult{candidates: candidates}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[int64]uint)
	for _, r := range results {
		for id, mask := range r.candidates {
			merged[id] |= mask
		}
	}

	var users []int64
	for id, mask := range merged {
		if bits.OnesCount(mask) >= minFiles {
			users = append(users, id)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	return users, nil
}

func otherHits(filters []*bloom.BloomFilter, self int, id int64) int {
	key := idKey(id)
	hits := 0
	for j, f := range filters {
		if j != self && f.Test(key) {
			hits++
		}
	}
	return hits
}

func idKey(id int64) []byte {
	return strconv.AppendInt(nil, id, 10)
}

// streamGzFile opens a gzip-compressed file and calls fn for each user id.
// Blank lines, comments and malformed ids are skipped.
func streamGzFile(ctx context.Context, path string, fn func(id int64)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var skipped uint64
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := strconv.ParseInt(line, 10, 64)
		if err != nil || id <= 0 {
			skipped++
			continue
		}
		fn(id)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	if skipped > 0 {
		slog.Warn("skipped malformed lines", slog.String("path", path), slog.Uint64("count", skipped))
	}

	return nil
}

type offerGranter interface {
	GrantPromoOffer(ctx context.Context, userID int64, percent int, expiresAt time.Time) (bool, error)
}

// grantOffers grants the offer to every user. Users already holding a larger
// unexpired offer keep it.
func grantOffers(ctx context.Context, repo offerGranter, users []int64, percent int, expiresAt time.Time) error {
	slog.Info("granting offers", slog.Int("count", len(users)), slog.Int("percent", percent))

	var granted, kept, done atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(grantWorkers)
	for _, id := range users {
		g.Go(func() error {
			ok, err := repo.GrantPromoOffer(ctx, id, percent, expiresAt)
			if err != nil {
				return err
			}
			if ok {
				granted.Add(1)
			} else {
				kept.Add(1)
			}
			if n := done.Add(1); n%10_000 == 0 {
				slog.Info("grant progress", slog.Int64("done", n), slog.Int("total", len(users)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("offers granted", slog.Int64("granted", granted.Load()), slog.Int64("kept_existing", kept.Load()))

	return nil
}
