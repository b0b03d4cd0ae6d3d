package pipeline

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hmartens/fieldcap/pkg/cache"
	"github.com/hmartens/fieldcap/pkg/solver"
	"github.com/hmartens/fieldcap/pkg/stackup"
)

const sampleStackup = `
process = "testproc"
gate-length = 0.15

[layers.subs]
type = "diffusion"
height = 0.0
above = "fox"
magic = "ndiffusion"

[layers.fox]
type = "field-oxide"
epsilon = 3.9

[layers.poly]
type = "metal"
height = 0.32
thickness = 0.18
beneath = "fox"
above = "psg"
magic = "polysilicon"

[layers.psg]
type = "dielectric"
epsilon = 3.9
beneath = "fox"

[layers.m1]
type = "metal"
height = 0.94
thickness = 0.35
beneath = "psg"
above = "air"
magic = "metal1"

[layers.air]
type = "dielectric"
epsilon = 1.0
beneath = "psg"

[limits.poly]
width = 0.25
spacing = 0.25

[limits.m1]
width = 0.25
spacing = 0.25
`

func loadDoc(t *testing.T) *stackup.Document {
	t.Helper()
	doc, err := stackup.Parse([]byte(sampleStackup))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return doc
}

// fakeSolver returns a fixed matrix and records every list file it was
// asked to solve.
type fakeSolver struct {
	mu     sync.Mutex
	caps   solver.Caps
	failOn string // substring of list files that should fail
	calls  []string
}

func (f *fakeSolver) Solve(ctx context.Context, listFile string, tolerance float64) (solver.Caps, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, listFile)
	if f.failOn != "" && strings.Contains(listFile, f.failOn) {
		return solver.Caps{}, solver.ErrSolverFailed
	}
	return f.caps, nil
}

func (f *fakeSolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestSweepDefaults(t *testing.T) {
	// Minima of 0.25 are exactly representable, so sweep sizes are
	// stable against accumulation.
	if got := widthSweep(0.25); len(got) != 2 || got[0] != 0.25 || got[1] != 2.5 {
		t.Errorf("widthSweep = %v, want [0.25 2.5]", got)
	}
	if got := sepSweep(ModeTwoWire, 0.25); len(got) != 10 || got[0] != 0.25 || got[9] != 2.5 {
		t.Errorf("sepSweep(w2) = %v, want 0.25..2.5", got)
	}
	if got := sepSweep(ModeShielded, 0.25); len(got) != 21 || got[0] != -2.5 {
		t.Errorf("sepSweep(w1sh) = %v, want -2.5..2.5", got)
	}
}

func TestEnumerate(t *testing.T) {
	doc := loadDoc(t)

	t.Run("w1 cross product", func(t *testing.T) {
		jobs, err := Enumerate(doc, Options{Mode: ModeOneWire})
		if err != nil {
			t.Fatalf("Enumerate failed: %v", err)
		}
		// poly over subs, m1 over subs and poly, two widths each.
		if len(jobs) != 6 {
			t.Fatalf("got %d jobs, want 6", len(jobs))
		}
		pairs := make(map[string]int)
		for _, j := range jobs {
			pairs[j.Metal+"/"+j.Conductor]++
		}
		want := map[string]int{"poly/subs": 2, "m1/subs": 2, "m1/poly": 2}
		for k, n := range want {
			if pairs[k] != n {
				t.Errorf("pair %s: got %d jobs, want %d", k, pairs[k], n)
			}
		}
	})

	t.Run("w2 sweeps separation", func(t *testing.T) {
		jobs, err := Enumerate(doc, Options{
			Mode:       ModeTwoWire,
			Metals:     []string{"m1"},
			Conductors: []string{"subs"},
		})
		if err != nil {
			t.Fatalf("Enumerate failed: %v", err)
		}
		if len(jobs) != 2*10 {
			t.Errorf("got %d jobs, want 20", len(jobs))
		}
	})

	t.Run("w1sh skips diffusion shields", func(t *testing.T) {
		jobs, err := Enumerate(doc, Options{
			Mode:        ModeShielded,
			Metals:      []string{"m1"},
			Separations: []float64{-0.5, 0.0, 0.5},
		})
		if err != nil {
			t.Fatalf("Enumerate failed: %v", err)
		}
		for _, j := range jobs {
			if j.Conductor != "poly" {
				t.Fatalf("shield conductor = %q, want poly only", j.Conductor)
			}
		}
		if len(jobs) != 2*3 {
			t.Errorf("got %d jobs, want 6", len(jobs))
		}
	})

	t.Run("explicit sweeps override limits", func(t *testing.T) {
		jobs, err := Enumerate(doc, Options{
			Mode:   ModeOneWire,
			Metals: []string{"poly"},
			Widths: []float64{0.15, 0.3, 0.6},
		})
		if err != nil {
			t.Fatalf("Enumerate failed: %v", err)
		}
		if len(jobs) != 3 {
			t.Errorf("got %d jobs, want 3", len(jobs))
		}
	})
}

func TestEnumerateErrors(t *testing.T) {
	doc := loadDoc(t)
	tests := []struct {
		name string
		opts Options
	}{
		{"unknown metal", Options{Mode: ModeOneWire, Metals: []string{"m9"}}},
		{"not a metal", Options{Mode: ModeOneWire, Metals: []string{"psg"}}},
		{"conductor above metal", Options{Mode: ModeOneWire, Metals: []string{"poly"}, Conductors: []string{"m1"}}},
		{"bad mode", Options{Mode: "w3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Enumerate(doc, tt.opts); err == nil {
				t.Error("Enumerate accepted invalid options")
			}
		})
	}

	t.Run("missing limits", func(t *testing.T) {
		doc := loadDoc(t)
		delete(doc.Limits, "poly")
		_, err := Enumerate(doc, Options{Mode: ModeOneWire, Metals: []string{"poly"}})
		if !errors.Is(err, ErrNoLimits) {
			t.Errorf("error = %v, want %v", err, ErrNoLimits)
		}
	})
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	doc := loadDoc(t)
	fake := &fakeSolver{caps: solver.Caps{G: [2][2]float64{{1.23e-10, 0}, {0, 0}}, Rows: 1}}
	fc, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCache failed: %v", err)
	}
	r := NewRunner(fc, nil, fake, nil)
	defer r.Close()

	opts := Options{Mode: ModeOneWire, Metals: []string{"poly"}}
	res, err := r.Execute(ctx, doc, opts)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.RunID == "" {
		t.Error("missing run ID")
	}
	if len(res.Records) != 2 || res.Stats.Solved != 2 || res.Stats.Cached != 0 {
		t.Fatalf("first run: records %d, stats %+v", len(res.Records), res.Stats)
	}
	for _, rec := range res.Records {
		if math.Abs(rec.Sub-1.23e-10) > 1e-20 {
			t.Errorf("Sub = %g, want 1.23e-10", rec.Sub)
		}
		if rec.Metal != "poly" || rec.Conductor != "subs" {
			t.Errorf("record pair = %s/%s", rec.Metal, rec.Conductor)
		}
	}

	// Second run is served from cache entirely.
	solved := fake.callCount()
	res2, err := r.Execute(ctx, doc, opts)
	if err != nil {
		t.Fatalf("second Execute failed: %v", err)
	}
	if res2.Stats.Cached != 2 || res2.Stats.Solved != 0 {
		t.Errorf("second run stats %+v, want all cached", res2.Stats)
	}
	if fake.callCount() != solved {
		t.Errorf("solver called %d times on cached run", fake.callCount()-solved)
	}
	if res2.RunID == res.RunID {
		t.Error("run IDs not unique")
	}

	// Refresh bypasses the cache.
	opts.Refresh = true
	if _, err := r.Execute(ctx, doc, opts); err != nil {
		t.Fatalf("refresh Execute failed: %v", err)
	}
	if fake.callCount() != solved+2 {
		t.Errorf("refresh run solved %d jobs, want 2", fake.callCount()-solved)
	}
}

func TestExecuteSolverFailure(t *testing.T) {
	ctx := context.Background()
	doc := loadDoc(t)
	// The wide-width geometry fails; the run carries on without it.
	fake := &fakeSolver{
		caps:   solver.Caps{G: [2][2]float64{{1e-10, 0}, {0, 0}}, Rows: 1},
		failOn: "w_2p5",
	}
	r := NewRunner(nil, nil, fake, nil)

	res, err := r.Execute(ctx, doc, Options{Mode: ModeOneWire, Metals: []string{"poly"}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Stats.Failed != 1 || len(res.Records) != 1 {
		t.Errorf("stats %+v with %d records, want 1 failure and 1 record", res.Stats, len(res.Records))
	}
}

func TestExecuteAllFailed(t *testing.T) {
	ctx := context.Background()
	doc := loadDoc(t)
	fake := &fakeSolver{failOn: "w1"}
	r := NewRunner(nil, nil, fake, nil)

	_, err := r.Execute(ctx, doc, Options{Mode: ModeOneWire, Metals: []string{"poly"}})
	if !errors.Is(err, ErrAllJobsFailed) {
		t.Errorf("error = %v, want %v", err, ErrAllJobsFailed)
	}
}

// fakeExtractor reports a fixed capacitance and checks that each script
// was written to the work directory before extraction.
type fakeExtractor struct {
	mu    sync.Mutex
	value float64
	calls int
}

func (f *fakeExtractor) Extract(ctx context.Context, dir, script string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if _, err := os.Stat(filepath.Join(dir, script)); err != nil {
		return 0, err
	}
	return f.value, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCrossCheck(t *testing.T) {
	ctx := context.Background()
	doc := loadDoc(t)
	fake := &fakeSolver{caps: solver.Caps{G: [2][2]float64{{1e-10, 0}, {0, 0}}, Rows: 1}}
	fc, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCache failed: %v", err)
	}
	r := NewRunner(fc, nil, fake, nil)
	defer r.Close()

	opts := Options{Mode: ModeOneWire, Metals: []string{"poly"}}
	res, err := r.Execute(ctx, doc, opts)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	ext := &fakeExtractor{value: 1.1e-10}
	checks, err := r.CrossCheck(ctx, doc, res, ext, opts)
	if err != nil {
		t.Fatalf("CrossCheck failed: %v", err)
	}
	if len(checks) != len(res.Records) {
		t.Fatalf("got %d checks for %d records", len(checks), len(res.Records))
	}
	for _, chk := range checks {
		if math.Abs(chk.Extracted-1.1e-10) > 1e-20 {
			t.Errorf("Extracted = %g, want 1.1e-10", chk.Extracted)
		}
		if math.Abs(chk.Delta-0.1) > 1e-9 {
			t.Errorf("Delta = %g, want 0.1", chk.Delta)
		}
	}

	// A second pass is served from the extraction cache without
	// invoking magic again.
	calls := ext.callCount()
	if _, err := r.CrossCheck(ctx, doc, res, ext, opts); err != nil {
		t.Fatalf("cached CrossCheck failed: %v", err)
	}
	if ext.callCount() != calls {
		t.Errorf("extractor called %d times on cached pass", ext.callCount()-calls)
	}
}

func TestCrossCheckNoMagicLayers(t *testing.T) {
	doc := loadDoc(t)
	doc.MagicLayers = nil
	r := NewRunner(nil, nil, &fakeSolver{}, nil)
	defer r.Close()

	res := &Result{Mode: ModeOneWire, Records: []Record{{Metal: "poly", Conductor: "subs", Width: 0.25, Sub: 1e-10}}}
	_, err := r.CrossCheck(context.Background(), doc, res, &fakeExtractor{}, Options{Mode: ModeOneWire})
	if !errors.Is(err, ErrNoMagicLayers) {
		t.Errorf("error = %v, want %v", err, ErrNoMagicLayers)
	}
}

func TestDeriveRecord(t *testing.T) {
	job := Job{Metal: "m1", Conductor: "subs", Width: 0.14, Sep: 0.21}

	t.Run("w1", func(t *testing.T) {
		rec, err := deriveRecord(job, ModeOneWire, solver.Caps{G: [2][2]float64{{5e-11, 0}, {0, 0}}, Rows: 1})
		if err != nil {
			t.Fatalf("deriveRecord failed: %v", err)
		}
		if rec.Sub != 5e-11 || rec.Coup != 0 {
			t.Errorf("rec = %+v", rec)
		}
	})

	t.Run("w2", func(t *testing.T) {
		caps := solver.Caps{G: [2][2]float64{{7e-11, -2e-11}, {-2e-11, 7.2e-11}}, Rows: 2}
		rec, err := deriveRecord(job, ModeTwoWire, caps)
		if err != nil {
			t.Fatalf("deriveRecord failed: %v", err)
		}
		if math.Abs(rec.Coup-2e-11) > 1e-24 {
			t.Errorf("Coup = %g, want 2e-11", rec.Coup)
		}
		if math.Abs(rec.Sub-(7.1e-11-2e-11)) > 1e-24 {
			t.Errorf("Sub = %g, want %g", rec.Sub, 7.1e-11-2e-11)
		}
	})

	t.Run("w1sh", func(t *testing.T) {
		caps := solver.Caps{G: [2][2]float64{{9e-11, -3e-11}, {-3e-11, 2e-10}}, Rows: 2}
		rec, err := deriveRecord(job, ModeShielded, caps)
		if err != nil {
			t.Fatalf("deriveRecord failed: %v", err)
		}
		if math.Abs(rec.Sub-6e-11) > 1e-24 {
			t.Errorf("Sub = %g, want 6e-11", rec.Sub)
		}
		if math.Abs(rec.Shield-1.7e-10) > 1e-24 {
			t.Errorf("Shield = %g, want 1.7e-10", rec.Shield)
		}
		if math.Abs(rec.Coup-3e-11) > 1e-24 {
			t.Errorf("Coup = %g, want 3e-11", rec.Coup)
		}
	})

	t.Run("truncated matrix", func(t *testing.T) {
		// A solve that only reported the g1 row must fail the coupled
		// patterns instead of yielding zero coupling.
		caps := solver.Caps{G: [2][2]float64{{7e-11, 0}, {0, 0}}, Rows: 1}
		for _, mode := range []string{ModeTwoWire, ModeShielded} {
			if _, err := deriveRecord(job, mode, caps); !errors.Is(err, ErrIncompleteMatrix) {
				t.Errorf("%s error = %v, want %v", mode, err, ErrIncompleteMatrix)
			}
		}
		if _, err := deriveRecord(job, ModeOneWire, solver.Caps{}); !errors.Is(err, ErrIncompleteMatrix) {
			t.Errorf("empty matrix error = %v, want %v", err, ErrIncompleteMatrix)
		}
	})
}

func TestResultsRoundTrip(t *testing.T) {
	res := &Result{
		RunID: "8a2e9c4f-0000-4000-8000-000000000000",
		Mode:  ModeTwoWire,
		Records: []Record{
			{Metal: "m1", Conductor: "subs", Width: 0.14, Sep: 0.21, Sub: 5.1e-11, Coup: 2.25e-11},
			{Metal: "m1", Conductor: "poly", Width: 1.4, Sep: 0.42, Sub: 8.125e-11, Coup: 1.5e-11},
		},
	}

	var buf bytes.Buffer
	if err := WriteResults(&buf, res); err != nil {
		t.Fatalf("WriteResults failed: %v", err)
	}
	got, err := ReadResults(&buf)
	if err != nil {
		t.Fatalf("ReadResults failed: %v", err)
	}
	if got.RunID != res.RunID || got.Mode != res.Mode {
		t.Errorf("header = %s/%s, want %s/%s", got.RunID, got.Mode, res.RunID, res.Mode)
	}
	if len(got.Records) != len(res.Records) {
		t.Fatalf("got %d records, want %d", len(got.Records), len(res.Records))
	}
	for i, rec := range got.Records {
		want := res.Records[i]
		if rec.Metal != want.Metal || rec.Conductor != want.Conductor {
			t.Errorf("record %d: %s/%s, want %s/%s", i, rec.Metal, rec.Conductor, want.Metal, want.Conductor)
		}
		if math.Abs(rec.Sub-want.Sub) > 1e-16 || math.Abs(rec.Coup-want.Coup) > 1e-16 {
			t.Errorf("record %d: Sub %g Coup %g, want %g %g", i, rec.Sub, rec.Coup, want.Sub, want.Coup)
		}
	}
}

func TestReadResultsErrors(t *testing.T) {
	for _, in := range []string{
		"m1 subs 0.14\n",
		"m1 subs 0.14 0.21 abc 0 0\n",
	} {
		if _, err := ReadResults(strings.NewReader(in)); !errors.Is(err, ErrBadResults) {
			t.Errorf("ReadResults(%q) error = %v, want %v", in, err, ErrBadResults)
		}
	}
}

func TestSortRecords(t *testing.T) {
	records := []Record{
		{Metal: "m1", Conductor: "subs", Width: 1.4},
		{Metal: "m1", Conductor: "poly", Width: 0.14, Sep: 0.42},
		{Metal: "m1", Conductor: "poly", Width: 0.14, Sep: 0.21},
		{Metal: "poly", Conductor: "subs", Width: 0.15},
	}
	SortRecords(records)
	want := []Record{
		{Metal: "m1", Conductor: "poly", Width: 0.14, Sep: 0.21},
		{Metal: "m1", Conductor: "poly", Width: 0.14, Sep: 0.42},
		{Metal: "m1", Conductor: "subs", Width: 1.4},
		{Metal: "poly", Conductor: "subs", Width: 0.15},
	}
	for i := range want {
		if records[i] != want[i] {
			t.Fatalf("order[%d] = %+v, want %+v", i, records[i], want[i])
		}
	}
}
