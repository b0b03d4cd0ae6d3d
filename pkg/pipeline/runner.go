package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/hmartens/fieldcap/pkg/cache"
	"github.com/hmartens/fieldcap/pkg/geometry"
	"github.com/hmartens/fieldcap/pkg/observability"
	"github.com/hmartens/fieldcap/pkg/solver"
	"github.com/hmartens/fieldcap/pkg/stack"
	"github.com/hmartens/fieldcap/pkg/stackup"
)

// solverTool identifies the solver in cache keys, so results from a
// different tool never collide.
const solverTool = "fastercap"

var (
	// ErrNoJobs is returned when enumeration produces nothing to run.
	ErrNoJobs = errors.New("no jobs to run")

	// ErrNoLimits is returned when a default sweep needs design-rule
	// minima that the description does not declare.
	ErrNoLimits = errors.New("no design-rule limits for metal")

	// ErrNoReference is returned when the shielded pattern finds no
	// diffusion plane to reference against.
	ErrNoReference = errors.New("no diffusion plane to reference")

	// ErrAllJobsFailed is returned when a run completes with zero usable
	// records.
	ErrAllJobsFailed = errors.New("all jobs failed")

	// ErrIncompleteMatrix is returned when a solve produced fewer matrix
	// rows than the pattern has conductor groups.
	ErrIncompleteMatrix = errors.New("incomplete capacitance matrix")

	// ErrNoMagicLayers is returned when a cross-check needs magic paint
	// types that the description does not declare.
	ErrNoMagicLayers = errors.New("description declares no magic layers")
)

// Job is one cross-section geometry to characterize.
type Job struct {
	Metal     string
	Conductor string
	Width     float64
	Sep       float64
}

// Record is the measured result of one job. Units are F/m of wire
// length. Field meaning depends on the pattern:
//
//   - w1: Sub is the wire's capacitance to the reference.
//   - w2: Sub is each wire's capacitance to the reference, Coup the
//     wire-to-wire coupling.
//   - w1sh: Sub is the wire's total downward capacitance, Coup the
//     wire-to-shield coupling, Shield the shield's own capacitance to
//     the reference.
type Record struct {
	Metal     string
	Conductor string
	Width     float64
	Sep       float64
	Sub       float64
	Coup      float64
	Shield    float64
}

// Result contains the outputs of a characterization run.
type Result struct {
	// RunID is a fresh UUID stamped on the run and its result files.
	RunID string

	// Mode is the wire pattern the run swept.
	Mode string

	// Records holds one row per successful job, in enumeration order.
	Records []Record

	// Stats contains counts and timing for the run.
	Stats Stats
}

// Stats contains run execution statistics.
type Stats struct {
	Jobs     int
	Solved   int
	Cached   int
	Failed   int
	Duration time.Duration
}

// Runner executes characterization runs with caching.
//
// The Runner is stateless except for its collaborators - it doesn't
// store run results. Multiple goroutines can safely use the same Runner
// with different options.
type Runner struct {
	Cache  cache.Cache
	Keyer  cache.Keyer
	Solver solver.Solver
	Logger *log.Logger
}

// NewRunner creates a runner with the given collaborators.
// If keyer is nil, a DefaultKeyer is used.
// If c is nil, a NullCache is used (caching disabled).
// If s is nil, a FasterCap runner is used.
func NewRunner(c cache.Cache, keyer cache.Keyer, s solver.Solver, logger *log.Logger) *Runner {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	if s == nil {
		s = solver.NewFasterCap(logger)
	}
	return &Runner{
		Cache:  c,
		Keyer:  keyer,
		Solver: s,
		Logger: logger,
	}
}

// Enumerate expands options into the full job cross product: every
// selected metal over every reference conductor below it, at every width
// and separation of the sweep.
func Enumerate(doc *stackup.Document, opts Options) ([]Job, error) {
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}

	order := make(map[string]int)
	for i, name := range doc.Layers.Names() {
		order[name] = i
	}

	metals := opts.Metals
	if len(metals) == 0 {
		metals = doc.Layers.Metals()
	}

	var jobs []Job
	for _, metal := range metals {
		def, ok := doc.Layers.Get(metal)
		if !ok {
			return nil, fmt.Errorf("unknown metal %q", metal)
		}
		if _, isMetal := def.(stack.Metal); !isMetal {
			return nil, fmt.Errorf("layer %q is not a metal", metal)
		}

		widths := opts.Widths
		seps := opts.Separations
		if len(widths) == 0 || (opts.NeedsSeparation() && len(seps) == 0) {
			lim, ok := doc.Limits[metal]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrNoLimits, metal)
			}
			if len(widths) == 0 {
				widths = widthSweep(lim.Width)
			}
			if opts.NeedsSeparation() && len(seps) == 0 {
				seps = sepSweep(opts.Mode, lim.Spacing)
			}
		}

		conductors, err := referencesFor(doc, metal, order, opts)
		if err != nil {
			return nil, err
		}

		for _, cond := range conductors {
			for _, w := range widths {
				if !opts.NeedsSeparation() {
					jobs = append(jobs, Job{Metal: metal, Conductor: cond, Width: w})
					continue
				}
				for _, s := range seps {
					jobs = append(jobs, Job{Metal: metal, Conductor: cond, Width: w, Sep: s})
				}
			}
		}
	}
	if len(jobs) == 0 {
		return nil, ErrNoJobs
	}
	return jobs, nil
}

// referencesFor selects the reference conductors for one metal: every
// diffusion plane and every metal declared below it. The shielded
// pattern draws the reference as a strip, so there it is metals only.
func referencesFor(doc *stackup.Document, metal string, order map[string]int, opts Options) ([]string, error) {
	if len(opts.Conductors) > 0 {
		for _, cond := range opts.Conductors {
			pos, ok := order[cond]
			if !ok {
				return nil, fmt.Errorf("unknown conductor %q", cond)
			}
			if pos >= order[metal] {
				return nil, fmt.Errorf("conductor %q is not below metal %q", cond, metal)
			}
		}
		return opts.Conductors, nil
	}

	var conductors []string
	if opts.Mode != ModeShielded {
		conductors = append(conductors, doc.Layers.Diffusions()...)
	}
	for _, m := range doc.Layers.Metals() {
		if order[m] < order[metal] {
			conductors = append(conductors, m)
		}
	}
	return conductors, nil
}

// Execute runs the complete enumerate → resolve → solve flow.
// Configuration errors abort the run; per-job solver failures are logged
// and skipped.
func (r *Runner) Execute(ctx context.Context, doc *stackup.Document, opts Options) (*Result, error) {
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	r.applyLogger(&opts)

	jobs, err := Enumerate(doc, opts)
	if err != nil {
		return nil, err
	}

	dir := opts.WorkDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "fieldcap-")
		if err != nil {
			return nil, fmt.Errorf("work dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	result := &Result{
		RunID: uuid.New().String(),
		Mode:  opts.Mode,
	}
	result.Stats.Jobs = len(jobs)

	start := time.Now()
	observability.Pipeline().OnRunStart(ctx, result.RunID, len(jobs))
	r.Logger.Info("starting run",
		"run", result.RunID,
		"mode", opts.Mode,
		"jobs", len(jobs),
		"workers", opts.Workers)

	type outcome struct {
		idx    int
		rec    Record
		cached bool
		err    error
	}

	jobCh := make(chan int)
	outCh := make(chan outcome, len(jobs))
	var wg sync.WaitGroup
	for w := 0; w < opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobCh {
				job := jobs[idx]
				jobStart := time.Now()
				observability.Pipeline().OnJobStart(ctx, job.Metal, job.Conductor)
				rec, cached, err := r.runJob(ctx, doc, dir, job, opts)
				observability.Pipeline().OnJobComplete(ctx, job.Metal, job.Conductor, time.Since(jobStart), err)
				outCh <- outcome{idx: idx, rec: rec, cached: cached, err: err}
			}
		}()
	}

	go func() {
		defer close(jobCh)
		for idx := range jobs {
			select {
			case jobCh <- idx:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outCh)
	}()

	records := make([]*Record, len(jobs))
	for out := range outCh {
		if out.err != nil {
			if ctx.Err() != nil {
				continue
			}
			job := jobs[out.idx]
			result.Stats.Failed++
			r.Logger.Warn("job failed",
				"metal", job.Metal,
				"conductor", job.Conductor,
				"width", job.Width,
				"sep", job.Sep,
				"err", out.err)
			continue
		}
		if out.cached {
			result.Stats.Cached++
		} else {
			result.Stats.Solved++
		}
		rec := out.rec
		records[out.idx] = &rec
	}
	if err := ctx.Err(); err != nil {
		observability.Pipeline().OnRunComplete(ctx, result.RunID, 0, time.Since(start), err)
		return nil, err
	}

	for _, rec := range records {
		if rec != nil {
			result.Records = append(result.Records, *rec)
		}
	}
	result.Stats.Duration = time.Since(start)

	var runErr error
	if len(result.Records) == 0 {
		runErr = ErrAllJobsFailed
	}
	observability.Pipeline().OnRunComplete(ctx, result.RunID, len(result.Records), result.Stats.Duration, runErr)
	if runErr != nil {
		return nil, runErr
	}

	r.Logger.Info("run complete",
		"run", result.RunID,
		"records", len(result.Records),
		"solved", result.Stats.Solved,
		"cached", result.Stats.Cached,
		"failed", result.Stats.Failed,
		"duration", result.Stats.Duration)

	return result, nil
}

// runJob resolves, builds, and solves one geometry, consulting the
// cache first. The bool reports whether the result came from cache.
func (r *Runner) runJob(ctx context.Context, doc *stackup.Document, dir string, job Job, opts Options) (Record, bool, error) {
	model, err := buildModel(doc, job, opts.Mode)
	if err != nil {
		return Record{}, false, err
	}

	// The serialized model is the cache identity: any change to the
	// resolved stack or the wire pattern changes the key.
	modelData, err := json.Marshal(model)
	if err != nil {
		return Record{}, false, err
	}
	key := r.Keyer.SolveKey(modelData, opts.Tolerance, solverTool)

	if !opts.Refresh {
		if data, hit, err := r.Cache.Get(ctx, key); err == nil && hit {
			var caps solver.Caps
			if err := json.Unmarshal(data, &caps); err == nil {
				if rec, err := deriveRecord(job, opts.Mode, caps); err == nil {
					observability.Cache().OnCacheHit(ctx, key)
					return rec, true, nil
				}
				// An unusable cached matrix falls through to a fresh solve.
			}
		}
		observability.Cache().OnCacheMiss(ctx, key)
	}

	listFile, err := geometry.WriteFasterCap(dir, baseName(job, opts.Mode), model)
	if err != nil {
		return Record{}, false, err
	}
	caps, err := r.Solver.Solve(ctx, listFile, opts.Tolerance)
	if err != nil {
		return Record{}, false, err
	}
	rec, err := deriveRecord(job, opts.Mode, caps)
	if err != nil {
		return Record{}, false, err
	}

	if data, err := json.Marshal(caps); err == nil {
		if err := r.Cache.Set(ctx, key, data, cache.TTLSolve); err == nil {
			observability.Cache().OnCacheSet(ctx, key, len(data))
		}
	}

	return rec, false, nil
}

// buildModel resolves the stack for one job and lays out its wire
// pattern. Coupled pairs and single wires reference the conductor
// directly; the shielded pattern references the lowest diffusion and
// draws the conductor as the shield strip.
func buildModel(doc *stackup.Document, job Job, mode string) (*geometry.Model, error) {
	switch mode {
	case ModeOneWire:
		st, err := stack.Resolve(doc.Layers, job.Conductor, []string{job.Metal})
		if err != nil {
			return nil, err
		}
		return geometry.OneWire(st, job.Metal, job.Width)
	case ModeTwoWire:
		st, err := stack.Resolve(doc.Layers, job.Conductor, []string{job.Metal})
		if err != nil {
			return nil, err
		}
		return geometry.TwoWire(st, job.Metal, job.Width, job.Sep)
	case ModeShielded:
		diffusions := doc.Layers.Diffusions()
		if len(diffusions) == 0 {
			return nil, ErrNoReference
		}
		st, err := stack.Resolve(doc.Layers, diffusions[0], []string{job.Conductor, job.Metal})
		if err != nil {
			return nil, err
		}
		return geometry.ShieldedWire(st, job.Metal, job.Conductor, job.Width, job.Sep)
	default:
		return nil, fmt.Errorf("invalid mode: %q", mode)
	}
}

// deriveRecord turns a raw capacitance matrix into the per-pattern
// quantities. For the coupled pair the two diagonal terms are averaged;
// they differ only by solver noise since the pattern is symmetric. A
// matrix with fewer rows than the pattern has conductor groups is
// rejected; a truncated solve must fail the job, not fabricate zero
// coupling.
func deriveRecord(job Job, mode string, caps solver.Caps) (Record, error) {
	want := 1
	if mode != ModeOneWire {
		want = 2
	}
	if caps.Rows < want {
		return Record{}, fmt.Errorf("%w: %d rows for mode %s", ErrIncompleteMatrix, caps.Rows, mode)
	}

	rec := Record{
		Metal:     job.Metal,
		Conductor: job.Conductor,
		Width:     job.Width,
		Sep:       job.Sep,
	}
	switch mode {
	case ModeOneWire:
		rec.Sub = caps.G[0][0]
	case ModeTwoWire:
		diag := (caps.G[0][0] + caps.G[1][1]) / 2
		rec.Coup = -caps.G[1][0]
		rec.Sub = diag - rec.Coup
	case ModeShielded:
		rec.Sub = caps.G[0][0] + caps.G[0][1]
		rec.Shield = caps.G[1][0] + caps.G[1][1]
		rec.Coup = -(caps.G[0][1] + caps.G[1][0]) / 2
	}
	return rec, nil
}

// baseName builds the file stem for a job's geometry files, e.g.
// "w2_m1_poly_w_0p14_s_0p21". Dots and minus signs are encoded so the
// stem stays a portable filename.
func baseName(job Job, mode string) string {
	stem := fmt.Sprintf("%s_%s_%s_w_%s", mode, job.Metal, job.Conductor, dimTag(job.Width))
	if mode != ModeOneWire {
		stem += "_s_" + dimTag(job.Sep)
	}
	return stem
}

var dimEncoder = strings.NewReplacer(".", "p", "-", "n")

func dimTag(v float64) string {
	return dimEncoder.Replace(fmt.Sprintf("%.4g", v))
}

// applyLogger sets the runner's logger on options if not already set.
func (r *Runner) applyLogger(opts *Options) {
	if opts.Logger == nil {
		opts.Logger = r.Logger
	}
}

// Close releases resources held by the runner (primarily the cache).
func (r *Runner) Close() error {
	if r.Cache != nil {
		return r.Cache.Close()
	}
	return nil
}

// SortRecords orders records by metal, conductor, width, then
// separation. Useful before writing results produced out of order.
func SortRecords(records []Record) {
	slices.SortFunc(records, func(a, b Record) int {
		if c := strings.Compare(a.Metal, b.Metal); c != 0 {
			return c
		}
		if c := strings.Compare(a.Conductor, b.Conductor); c != 0 {
			return c
		}
		switch {
		case a.Width != b.Width:
			if a.Width < b.Width {
				return -1
			}
			return 1
		case a.Sep != b.Sep:
			if a.Sep < b.Sep {
				return -1
			}
			return 1
		}
		return 0
	})
}
