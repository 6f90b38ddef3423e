// Package engine implements the Orchestrator (spec §4.7): it wires
// audio decode, spectrogram, peak finding, landmark hashing, the hash
// index, and the matcher into the short- and long-path recognition
// pipeline, and exposes the Recognizer facade used by every caller
// (CLI, HTTP server, shell).
package engine

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"tuneprint/internal/audio"
	"tuneprint/internal/fingerprint"
	"tuneprint/internal/index"
	"tuneprint/internal/match"
	"tuneprint/internal/peaks"
	"tuneprint/internal/songid"
	"tuneprint/internal/spectrogram"
	"tuneprint/pkg/config"
	tplog "tuneprint/pkg/logger"
	"tuneprint/pkg/model"
)

const (
	// longPathThresholdSec is the clip duration above which the
	// Orchestrator switches to the parallel chunked path.
	longPathThresholdSec = 60.0

	chunkOverlapSec = 2.0

	shortPathPeakFloor = 50
	longPathPeakFloor  = 100

	dedupTimeWindowSec = 0.1
	dedupFreqWindowHz  = 50.0

	// shortInputFloorSec gates optimized-mode ingests per spec §7.
	shortInputFloorSec = 10.0
)

// Recognizer is the top-level facade tying the pipeline together.
type Recognizer struct {
	store index.Storage
	log   *tplog.Logger
	cfg   *config.Config
}

// New builds a Recognizer over an already-open index.
func New(store index.Storage, cfg *config.Config) *Recognizer {
	return &Recognizer{store: store, log: tplog.Named("engine"), cfg: cfg}
}

// Fingerprint runs the pipeline up through hashing without touching
// the index, per the `fingerprint` CLI subcommand's contract.
func (r *Recognizer) Fingerprint(ctx context.Context, path string) ([]model.Fingerprint, error) {
	signal, err := audio.DecodeFile(ctx, path)
	if err != nil {
		return nil, err
	}

	durationSec := float64(len(signal.Samples)) / float64(signal.SampleRate)
	if r.cfg.Mode == model.ModeOptimized && durationSec < shortInputFloorSec {
		return nil, nil
	}

	pks, err := r.extractPeaks(ctx, signal)
	if err != nil {
		return nil, err
	}
	return fingerprint.Generate(pks, ""), nil
}

// Ingest decodes, fingerprints, and stores path under song_id derived
// from its path, skipping re-ingest if already present.
func (r *Recognizer) Ingest(ctx context.Context, path string, meta model.Song) (model.IngestReport, error) {
	id := songid.FromPath(path)
	meta.SongID = id
	for _, field := range []*string{&meta.Title, &meta.Artist, &meta.Album} {
		if *field == "" {
			*field = "Unknown"
		}
	}

	already, err := r.store.Contains(ctx, id)
	if err != nil {
		return model.IngestReport{}, err
	}
	if already {
		return model.IngestReport{SongID: id, AlreadyRegistered: true}, nil
	}

	if err := r.checkMode(ctx); err != nil {
		return model.IngestReport{}, err
	}

	signal, err := audio.DecodeFile(ctx, path)
	if err != nil {
		return model.IngestReport{}, err
	}

	durationSec := float64(len(signal.Samples)) / float64(signal.SampleRate)
	if r.cfg.Mode == model.ModeOptimized && durationSec < shortInputFloorSec {
		return model.IngestReport{
			SongID:     id,
			Skipped:    true,
			SkipReason: "audio shorter than the 10s optimized-mode floor",
		}, nil
	}

	pks, err := r.extractPeaks(ctx, signal)
	if err != nil {
		return model.IngestReport{}, err
	}

	r.checkPeakFloor(durationSec, len(pks))

	fps := fingerprint.Generate(pks, id)
	if err := r.store.Store(ctx, meta, fps); err != nil {
		return model.IngestReport{}, err
	}

	return model.IngestReport{
		SongID:           id,
		PeakCount:        len(pks),
		FingerprintCount: len(fps),
	}, nil
}

// Recognize runs the full query path: decode, fingerprint, lookup,
// match.
func (r *Recognizer) Recognize(ctx context.Context, path string) (model.RecognitionResult, error) {
	if err := r.checkMode(ctx); err != nil {
		return model.RecognitionResult{}, err
	}

	signal, err := audio.DecodeFile(ctx, path)
	if err != nil {
		return model.RecognitionResult{}, err
	}

	durationSec := float64(len(signal.Samples)) / float64(signal.SampleRate)
	if r.cfg.Mode == model.ModeOptimized && durationSec < shortInputFloorSec {
		return model.RecognitionResult{Matched: false}, nil
	}

	pks, err := r.extractPeaks(ctx, signal)
	if err != nil {
		return model.RecognitionResult{}, err
	}

	r.checkPeakFloor(durationSec, len(pks))

	queryFPs := fingerprint.Generate(pks, "")
	hashes := make(map[uint64]float64, len(queryFPs))
	for _, fp := range queryFPs {
		hashes[fp.Hash] = fp.AnchorTime
	}

	offsets, err := r.store.Lookup(ctx, hashes)
	if err != nil {
		return model.RecognitionResult{}, err
	}

	result := match.Match(offsets, match.DefaultTopN)
	out := model.RecognitionResult{
		Matched:       result.Matched,
		Score:         result.Score,
		MatchCount:    result.MatchCount,
		OffsetSeconds: result.OffsetSeconds,
		Candidates:    result.Candidates,
	}
	if !result.Matched {
		return out, nil
	}

	song, err := r.store.Song(ctx, result.SongID)
	if err != nil {
		return model.RecognitionResult{}, err
	}
	out.Song = song
	return out, nil
}

// Stats reports the catalog's diagnostic counters.
func (r *Recognizer) Stats(ctx context.Context) (totalSongs, totalHashes int64, err error) {
	totalSongs, err = r.store.TotalSongs(ctx)
	if err != nil {
		return 0, 0, err
	}
	totalHashes, err = r.store.TotalHashes(ctx)
	if err != nil {
		return 0, 0, err
	}
	return totalSongs, totalHashes, nil
}

// checkMode enforces the one-policy-per-catalog rule (spec §9): the
// first ingest or query stamps the catalog's mode; every later
// operation must match it or be rejected with ErrModeMismatch.
func (r *Recognizer) checkMode(ctx context.Context) error {
	stored, found, err := r.store.Mode(ctx)
	if err != nil {
		return err
	}
	if !found {
		return r.store.SetMode(ctx, r.cfg.Mode)
	}
	if stored != r.cfg.Mode {
		return fmt.Errorf("%w: catalog built under %s, request is %s", model.ErrModeMismatch, stored, r.cfg.Mode)
	}
	return nil
}

func (r *Recognizer) checkPeakFloor(durationSec float64, peakCount int) {
	floor := shortPathPeakFloor
	if durationSec > longPathThresholdSec {
		floor = longPathPeakFloor
	}
	if peakCount < floor {
		r.log.Warn("%v: %d peaks extracted, below the %d floor for a %.1fs clip", model.ErrLowPeakCount, peakCount, floor, durationSec)
	}
}

// extractPeaks dispatches to the short or long path by clip duration.
func (r *Recognizer) extractPeaks(ctx context.Context, signal *model.Signal) ([]model.Peak, error) {
	durationSec := float64(len(signal.Samples)) / float64(signal.SampleRate)
	extractFn := peaks.Extract
	if r.cfg.Mode == model.ModeLegacy {
		extractFn = peaks.ExtractLegacy
	}

	if durationSec <= longPathThresholdSec {
		proc := spectrogram.NewProcessor()
		spec := proc.Compute(signal)
		return extractFn(spec), nil
	}
	return r.extractPeaksParallel(ctx, signal, extractFn)
}

// extractPeaksParallel partitions samples into up to 4 chunks with a
// 2-second overlap at interior boundaries, processes each on its own
// goroutine with its own spectrogram Processor, offsets peak times by
// the chunk's absolute start, and dedups across chunk boundaries.
func (r *Recognizer) extractPeaksParallel(ctx context.Context, signal *model.Signal, extractFn func(*model.Spectrogram) []model.Peak) ([]model.Peak, error) {
	workers := r.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > 4 {
		workers = 4
	}
	if workers < 1 {
		workers = 1
	}

	fs := signal.SampleRate
	overlapSamples := int(chunkOverlapSec * float64(fs))
	total := len(signal.Samples)
	baseLen := total / workers

	type chunk struct {
		start, end int // [start, end) within signal.Samples, including overlap
	}
	chunks := make([]chunk, 0, workers)
	for i := 0; i < workers; i++ {
		start := i * baseLen
		end := start + baseLen
		if i == workers-1 {
			end = total
		}
		if i > 0 {
			start -= overlapSamples
			if start < 0 {
				start = 0
			}
		}
		if i < workers-1 {
			end += overlapSamples
			if end > total {
				end = total
			}
		}
		chunks = append(chunks, chunk{start: start, end: end})
	}

	results := make([][]model.Peak, len(chunks))
	var wg sync.WaitGroup
	for i, c := range chunks {
		wg.Add(1)
		go func(i int, c chunk) {
			defer wg.Done()
			proc := spectrogram.NewProcessor()
			sub := &model.Signal{Samples: signal.Samples[c.start:c.end], SampleRate: fs}
			spec := proc.Compute(sub)
			chunkPeaks := extractFn(spec)
			chunkStartSec := float64(c.start) / float64(fs)
			for j := range chunkPeaks {
				chunkPeaks[j].TimeSec += chunkStartSec
			}
			results[i] = chunkPeaks
		}(i, c)
	}
	wg.Wait()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var merged []model.Peak
	for _, r := range results {
		merged = append(merged, r...)
	}
	return dedupPeaks(merged), nil
}

// dedupPeaks removes duplicate peaks arising from chunk-boundary
// overlap: two peaks are duplicates iff |Δt| < 0.1s and |Δf| < 50Hz;
// the first encountered in time order is kept.
func dedupPeaks(pks []model.Peak) []model.Peak {
	sort.SliceStable(pks, func(i, j int) bool { return pks[i].TimeSec < pks[j].TimeSec })

	var out []model.Peak
	for _, p := range pks {
		dup := false
		for _, kept := range out {
			if kept.TimeSec < p.TimeSec-dedupTimeWindowSec {
				continue
			}
			if math.Abs(p.TimeSec-kept.TimeSec) < dedupTimeWindowSec && math.Abs(p.FreqHz-kept.FreqHz) < dedupFreqWindowHz {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, p)
		}
	}
	return out
}
