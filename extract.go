package cmaf

import (
	"fmt"

	"github.com/rs/zerolog"
)

// trun flag bits. The same bits gate the optional default-value fields in
// tfhd, which mirrors the per-sample field order duration, size, flags,
// composition time offset.
const (
	flagDataOffsetPresent       = 0x000001
	flagFirstSampleFlagsPresent = 0x000004
	flagSampleDurationPresent   = 0x000100
	flagSampleSizePresent       = 0x000200
	flagSampleFlagsPresent      = 0x000400
	flagSampleCTOPresent        = 0x000800
)

// Sample is one media sample's timing and location within the input file.
type Sample struct {
	Start  uint64 // decode time in track timescale ticks
	Dur    uint32
	Size   uint32
	Offset uint64 // absolute byte offset of the sample's media data
	Flags  uint32
	CTO    uint32 // composition time offset
}

// InputSegment records one source moof group in encounter order. It is kept
// for diagnostics only; output construction never reads it.
type InputSegment struct {
	SequenceNumber      uint32
	MoofStart           uint64
	BaseMediaDecodeTime uint64
	Dur                 uint32
}

// sampleDefaults is the cascading default state threaded through the
// extraction pass: trex seeds it, each tfhd may override fields for the
// current and all later fragments, and trun falls back to it per sample.
// A field required by a trun but never supplied is an unsupported input.
type sampleDefaults struct {
	dur, size, flags, cto             uint32
	durSet, sizeSet, flagsSet, ctoSet bool
}

// Extractor walks a fragmented track file and reconstructs the ordered
// sample timeline together with the byte-exact box prefixes needed to
// re-emit the container: styp, the sidx prefix up to its reference count,
// and the tfhd. The engine supports exactly one track and assumes
// homogeneous fragment headers across all input segments.
type Extractor struct {
	data []byte
	log  zerolog.Logger

	timescale uint32
	trackID   uint32
	defaults  sampleDefaults

	samples  []Sample
	segments []InputSegment

	lastMoofStart  uint64
	baseDecodeTime uint64

	styp             []byte // styp box, if any, reused verbatim per output segment
	sidxPrefix       []byte // sidx bytes up to and including the 2-byte reserved field
	tfhd             []byte // last-seen tfhd, reused verbatim per output fragment
	firstSampleFlags uint32 // captured but never honored; trun rejects the override
	tfdtSize         int    // 16 or 20 depending on the tfdt version seen
	trunBase         int    // trun bytes preceding the per-sample table
	trunFlags        uint32
	trunSeen         bool
}

// NewExtractor returns an Extractor over data. The logger is used for
// verbose per-segment diagnostics only.
func NewExtractor(data []byte, log zerolog.Logger) *Extractor {
	return &Extractor{data: data, log: log}
}

// Extract runs the box walk over the whole file and populates the sample
// timeline. It must complete before any planning or generation.
func (x *Extractor) Extract() error {
	return walkBoxes(x.data, 0, "", 0, x.handleBox)
}

// Samples returns the ordered sample timeline.
func (x *Extractor) Samples() []Sample { return x.samples }

// InputSegments returns one record per source moof, in encounter order.
func (x *Extractor) InputSegments() []InputSegment { return x.segments }

// Timescale returns the track timescale read from mdhd.
func (x *Extractor) Timescale() uint32 { return x.timescale }

// handleBox dispatches one visited box by its dotted type path. Extraction
// is read-only: every box passes through unchanged into the output layout,
// so handlers only record state.
func (x *Extractor) handleBox(path string, box []byte, filePos uint64) error {
	switch path {
	case "moof":
		x.lastMoofStart = filePos
	case "styp":
		x.styp = box
	case "sidx":
		return x.readSidx(path, box)
	case "moov.mvex.trex":
		return x.readTrex(path, box)
	case "moov.trak.mdia.mdhd":
		return x.readMdhd(path, box)
	case "moof.mfhd":
		return x.readMfhd(path, box)
	case "moof.traf.tfhd":
		return x.readTfhd(path, box)
	case "moof.traf.tfdt":
		return x.readTfdt(path, box)
	case "moof.traf.trun":
		return x.readTrun(path, box)
	}
	return nil
}

// readTrex seeds the defaults cascade from the track extends box.
func (x *Extractor) readTrex(path string, box []byte) error {
	if len(box) < 32 {
		return fmt.Errorf("%s: box too short (%d bytes)", path, len(box))
	}
	x.trackID = be.Uint32(box[12:16])
	// box[16:20] is the default sample description index; unused here.
	d := &x.defaults
	d.dur, d.durSet = be.Uint32(box[20:24]), true
	d.size, d.sizeSet = be.Uint32(box[24:28]), true
	d.flags, d.flagsSet = be.Uint32(box[28:32]), true
	return nil
}

// readMdhd stores the track timescale. Version 1 carries 64-bit times, so
// the timescale sits deeper in the box.
func (x *Extractor) readMdhd(path string, box []byte) error {
	offset := 20
	if len(box) > 8 && box[8] == 1 {
		offset = 28
	}
	if len(box) < offset+4 {
		return fmt.Errorf("%s: box too short (%d bytes)", path, len(box))
	}
	x.timescale = be.Uint32(box[offset : offset+4])
	return nil
}

// readSidx validates the segment index and captures its prefix up to the
// reference count for reuse. Only single, self-contained, SAP-1-aligned
// media references with a zero first offset round-trip.
func (x *Extractor) readSidx(path string, box []byte) error {
	if len(box) < 32 {
		return fmt.Errorf("%s: box too short (%d bytes)", path, len(box))
	}
	var pos int
	if box[8] == 0 {
		if first := be.Uint32(box[24:28]); first != 0 {
			return unsupportedf(path, "first offset %d, only 0 supported", first)
		}
		pos = 28
	} else {
		if len(box) < 40 {
			return fmt.Errorf("%s: box too short (%d bytes)", path, len(box))
		}
		if first := be.Uint64(box[28:36]); first != 0 {
			return unsupportedf(path, "first offset %d, only 0 supported", first)
		}
		pos = 36
	}
	pos += 2 // reserved
	x.sidxPrefix = box[:pos]
	if len(box) < pos+2 {
		return fmt.Errorf("%s: box too short (%d bytes)", path, len(box))
	}
	refCount := int(be.Uint16(box[pos : pos+2]))
	pos += 2
	if len(box) < pos+12*refCount {
		return fmt.Errorf("%s: %d references do not fit in %d bytes", path, refCount, len(box))
	}
	for i := 0; i < refCount; i++ {
		field := be.Uint32(box[pos:])
		pos += 4
		if field>>31 != 0 {
			return unsupportedf(path, "reference %d references an index, only media references supported", i+1)
		}
		dur := be.Uint32(box[pos:])
		pos += 4
		x.log.Debug().Int("reference", i+1).Uint32("duration", dur).Msg("input sidx reference")
		field = be.Uint32(box[pos:])
		pos += 4
		if field>>31 != 1 {
			return unsupportedf(path, "reference %d does not start with SAP", i+1)
		}
		if sapType := (field >> 28) & 0x7; sapType != 1 {
			return unsupportedf(path, "SAP type %d, only type 1 supported", sapType)
		}
		if delta := field & 0x0fffffff; delta != 0 {
			return unsupportedf(path, "SAP delta time %d, only 0 supported", delta)
		}
	}
	return nil
}

// readMfhd opens a new input segment record at the most recent moof offset.
func (x *Extractor) readMfhd(path string, box []byte) error {
	if len(box) < 16 {
		return fmt.Errorf("%s: box too short (%d bytes)", path, len(box))
	}
	x.segments = append(x.segments, InputSegment{
		SequenceNumber: be.Uint32(box[12:16]),
		MoofStart:      x.lastMoofStart,
	})
	return nil
}

// readTfhd applies per-fragment default overrides to the cascade and
// captures the box verbatim for reuse in every generated fragment.
func (x *Extractor) readTfhd(path string, box []byte) error {
	if len(box) < 16 {
		return fmt.Errorf("%s: box too short (%d bytes)", path, len(box))
	}
	flags := be.Uint32(box[8:12]) & 0xffffff
	pos := 16 // optional fields follow the track id
	next := func() (uint32, error) {
		if len(box) < pos+4 {
			return 0, fmt.Errorf("%s: optional field at %d past box end (%d bytes)", path, pos, len(box))
		}
		v := be.Uint32(box[pos:])
		pos += 4
		return v, nil
	}
	d := &x.defaults
	var err error
	if flags&flagDataOffsetPresent != 0 {
		if _, err = next(); err != nil {
			return err
		}
	}
	if flags&flagFirstSampleFlagsPresent != 0 {
		if x.firstSampleFlags, err = next(); err != nil {
			return err
		}
	}
	if flags&flagSampleDurationPresent != 0 {
		if d.dur, err = next(); err != nil {
			return err
		}
		d.durSet = true
	}
	if flags&flagSampleSizePresent != 0 {
		if d.size, err = next(); err != nil {
			return err
		}
		d.sizeSet = true
	}
	if flags&flagSampleFlagsPresent != 0 {
		if d.flags, err = next(); err != nil {
			return err
		}
		d.flagsSet = true
	}
	if flags&flagSampleCTOPresent != 0 {
		if d.cto, err = next(); err != nil {
			return err
		}
		d.ctoSet = true
	}
	x.tfhd = box
	return nil
}

// readTfdt attaches the base media decode time to the current input segment
// and records the encoded width for regeneration.
func (x *Extractor) readTfdt(path string, box []byte) error {
	if len(x.segments) == 0 {
		return fmt.Errorf("%s: tfdt before mfhd", path)
	}
	if len(box) < 12 {
		return fmt.Errorf("%s: box too short (%d bytes)", path, len(box))
	}
	if box[8] == 0 {
		if len(box) < 16 {
			return fmt.Errorf("%s: box too short (%d bytes)", path, len(box))
		}
		x.baseDecodeTime = uint64(be.Uint32(box[12:16]))
	} else {
		if len(box) < 20 {
			return fmt.Errorf("%s: box too short (%d bytes)", path, len(box))
		}
		x.baseDecodeTime = be.Uint64(box[12:20])
	}
	x.tfdtSize = len(box)
	seg := &x.segments[len(x.segments)-1]
	seg.BaseMediaDecodeTime = x.baseDecodeTime
	return nil
}

// readTrun decodes one track run into samples, resolving absent per-sample
// fields from the defaults cascade. Decode time accumulates from the
// fragment's base media decode time and the data offset accumulates from the
// fragment's absolute media-data start.
func (x *Extractor) readTrun(path string, box []byte) error {
	if len(x.segments) == 0 {
		return fmt.Errorf("%s: trun before mfhd", path)
	}
	if len(box) < 20 {
		return fmt.Errorf("%s: box too short (%d bytes)", path, len(box))
	}
	flags := be.Uint32(box[8:12]) & 0xffffff
	sampleCount := be.Uint32(box[12:16])
	if flags&flagDataOffsetPresent == 0 {
		return unsupportedf(path, "data offset not present (flags 0x%06x)", flags)
	}
	if flags&flagFirstSampleFlagsPresent != 0 {
		return unsupportedf(path, "first sample flags override not supported (flags 0x%06x)", flags)
	}
	pos := 16
	offset := x.lastMoofStart + uint64(be.Uint32(box[pos:]))
	pos += 4
	x.trunBase = pos
	x.trunFlags = flags
	x.trunSeen = true

	if need := pos + int(sampleCount)*x.bytesPerTrunSample(); len(box) < need {
		return fmt.Errorf("%s: %d samples need %d bytes, box has %d", path, sampleCount, need, len(box))
	}

	d := &x.defaults
	start := x.baseDecodeTime
	for i := uint32(0); i < sampleCount; i++ {
		s := Sample{Start: start, Offset: offset}
		if flags&flagSampleDurationPresent != 0 {
			s.Dur = be.Uint32(box[pos:])
			pos += 4
		} else if d.durSet {
			s.Dur = d.dur
		} else {
			return unsupportedf(path, "sample %d has no duration and no default was set", i+1)
		}
		if flags&flagSampleSizePresent != 0 {
			s.Size = be.Uint32(box[pos:])
			pos += 4
		} else if d.sizeSet {
			s.Size = d.size
		} else {
			return unsupportedf(path, "sample %d has no size and no default was set", i+1)
		}
		if flags&flagSampleFlagsPresent != 0 {
			s.Flags = be.Uint32(box[pos:])
			pos += 4
		} else if d.flagsSet {
			s.Flags = d.flags
		} else {
			return unsupportedf(path, "sample %d has no flags and no default was set", i+1)
		}
		if flags&flagSampleCTOPresent != 0 {
			s.CTO = be.Uint32(box[pos:])
			pos += 4
		} else if d.ctoSet {
			s.CTO = d.cto
		}
		if s.Offset+uint64(s.Size) > uint64(len(x.data)) {
			return fmt.Errorf("%s: sample %d data [%d, %d) past end of file (%d bytes)",
				path, i+1, s.Offset, s.Offset+uint64(s.Size), len(x.data))
		}
		x.samples = append(x.samples, s)
		start += uint64(s.Dur)
		offset += uint64(s.Size)
	}
	seg := &x.segments[len(x.segments)-1]
	seg.Dur = uint32(start - x.baseDecodeTime)
	return nil
}

// bytesPerTrunSample returns the per-sample entry width implied by the
// recorded trun flags. It is assumed identical across all fragments.
func (x *Extractor) bytesPerTrunSample() int {
	n := 0
	if x.trunFlags&flagSampleDurationPresent != 0 {
		n += 4
	}
	if x.trunFlags&flagSampleSizePresent != 0 {
		n += 4
	}
	if x.trunFlags&flagSampleFlagsPresent != 0 {
		n += 4
	}
	if x.trunFlags&flagSampleCTOPresent != 0 {
		n += 4
	}
	return n
}
