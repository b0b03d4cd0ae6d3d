package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hmartens/fieldcap/pkg/cache"
	"github.com/hmartens/fieldcap/pkg/geometry"
	"github.com/hmartens/fieldcap/pkg/observability"
	"github.com/hmartens/fieldcap/pkg/stackup"
)

// extractTool identifies magic extraction in cache keys.
const extractTool = "magic"

// Extractor extracts the wire-to-reference capacitance from a drawn
// layout, as an independent check on field-solver results. solver.Magic
// implements it.
type Extractor interface {
	Extract(ctx context.Context, dir, script string) (float64, error)
}

// Check compares one record against layout extraction. Extracted is the
// wire-to-reference capacitance magic reports, in the same F/m units as
// the record; Delta is the relative difference against Record.Sub.
type Check struct {
	Record    Record
	Extracted float64
	Delta     float64
}

// CrossCheck re-draws every record of a completed run as a magic layout,
// extracts its parasitics, and compares the extracted wire-to-reference
// capacitance against the solver's. The description must declare magic
// paint types for every layer the geometries draw. Extraction results
// are cached like solves; per-record extraction failures are logged and
// skipped, so the returned checks may be fewer than the records.
func (r *Runner) CrossCheck(ctx context.Context, doc *stackup.Document, res *Result, ext Extractor, opts Options) ([]Check, error) {
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	r.applyLogger(&opts)
	if len(doc.MagicLayers) == 0 {
		return nil, ErrNoMagicLayers
	}

	dir := opts.WorkDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "fieldcap-magic-")
		if err != nil {
			return nil, fmt.Errorf("work dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	var checks []Check
	for _, rec := range res.Records {
		job := Job{Metal: rec.Metal, Conductor: rec.Conductor, Width: rec.Width, Sep: rec.Sep}
		value, err := r.extractJob(ctx, doc, dir, job, res.Mode, ext, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.Logger.Warn("magic check failed",
				"metal", job.Metal,
				"conductor", job.Conductor,
				"width", job.Width,
				"sep", job.Sep,
				"err", err)
			continue
		}
		chk := Check{Record: rec, Extracted: value}
		if rec.Sub != 0 {
			chk.Delta = (value - rec.Sub) / rec.Sub
		}
		checks = append(checks, chk)
	}
	return checks, nil
}

// extractJob draws one geometry as a magic script and extracts its
// wire-to-reference capacitance, consulting the cache first. The script
// bytes are the cache identity, mirroring how solves are keyed on the
// serialized model.
func (r *Runner) extractJob(ctx context.Context, doc *stackup.Document, dir string, job Job, mode string, ext Extractor, opts Options) (float64, error) {
	model, err := buildModel(doc, job, mode)
	if err != nil {
		return 0, err
	}

	var script bytes.Buffer
	if err := geometry.WriteMagicScript(&script, model, doc.MagicLayers); err != nil {
		return 0, err
	}
	key := r.Keyer.ExtractKey(script.Bytes(), extractTool)

	if !opts.Refresh {
		if data, hit, err := r.Cache.Get(ctx, key); err == nil && hit {
			var value float64
			if err := json.Unmarshal(data, &value); err == nil {
				observability.Cache().OnCacheHit(ctx, key)
				return value, nil
			}
		}
		observability.Cache().OnCacheMiss(ctx, key)
	}

	name := baseName(job, mode) + ".tcl"
	if err := os.WriteFile(filepath.Join(dir, name), script.Bytes(), 0o644); err != nil {
		return 0, err
	}
	value, err := ext.Extract(ctx, dir, name)
	if err != nil {
		return 0, err
	}

	if data, err := json.Marshal(value); err == nil {
		if err := r.Cache.Set(ctx, key, data, cache.TTLExtract); err == nil {
			observability.Cache().OnCacheSet(ctx, key, len(data))
		}
	}
	return value, nil
}
