package cmaf

import (
	"github.com/rs/zerolog"
)

// DefaultTargetDurationMs is the target average segment duration used when
// none is configured.
const DefaultTargetDurationMs = 2000.0

// Resegmenter rewrites a fragmented track into segments of a new target
// average duration. The pipeline is strictly sequential: extract, plan,
// generate, concatenate. Any failure aborts the whole run with no partial
// output.
type Resegmenter struct {
	TargetDurationMs float64 // target average segment duration; DefaultTargetDurationMs if zero
	Log              zerolog.Logger
}

// Resegment reads the track in data and returns the rewritten file: the
// untouched leading header, a regenerated sidx when the input had one, then
// styp (when the input had one), moof, and mdat per planned segment.
func (r *Resegmenter) Resegment(data []byte) ([]byte, error) {
	target := r.TargetDurationMs
	if target == 0 {
		target = DefaultTargetDurationMs
	}

	x := NewExtractor(data, r.Log)
	if err := x.Extract(); err != nil {
		return nil, err
	}
	for i, seg := range x.segments {
		r.Log.Debug().
			Int("segment", i+1).
			Uint32("sequence", seg.SequenceNumber).
			Uint64("baseMediaDecodeTime", seg.BaseMediaDecodeTime).
			Uint32("duration", seg.Dur).
			Msg("input segment")
	}

	headerEnd, err := findHeaderEnd(data)
	if err != nil {
		return nil, err
	}

	if len(x.samples) > 0 && x.timescale == 0 {
		return nil, unsupportedf("moov.trak.mdia.mdhd", "track timescale not found")
	}
	plans := PlanSegments(x.samples, x.timescale, target)
	for i, p := range plans {
		r.Log.Debug().Int("segment", i+1).Uint32("duration", p.Dur).Msg("output segment")
	}
	r.Log.Info().
		Int("generated", len(plans)).
		Int("from", len(x.segments)).
		Msg("generated segments")

	out := make([]byte, 0, len(data))
	out = append(out, data[:headerEnd]...)
	if len(x.sidxPrefix) > 0 {
		out = append(out, x.generateSidx(plans)...)
	}
	for i, p := range plans {
		out = append(out, x.styp...)
		out = append(out, x.generateMoof(uint32(i+1), p)...)
		out = append(out, x.generateMdat(p)...)
	}
	return out, nil
}
