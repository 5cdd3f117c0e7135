package cmaf

// Box generation. All sizes are computed top-down from component sizes
// before any bytes are written; the captured styp, sidx prefix, and tfhd are
// reused verbatim.

// trafSize is the byte size of a generated traf holding sampleCount samples:
// traf header, the captured tfhd, the tfdt at its captured width, and the
// trun base plus its per-sample table.
func (x *Extractor) trafSize(sampleCount int) int {
	return 8 + len(x.tfhd) + x.tfdtSize + x.trunBase + sampleCount*x.bytesPerTrunSample()
}

// moofSize is the byte size of a generated moof: moof header, the fixed
// 16-byte mfhd, and the traf.
func (x *Extractor) moofSize(sampleCount int) int {
	return 8 + 16 + x.trafSize(sampleCount)
}

// segmentSize is the total byte size of one emitted segment:
// optional styp, moof, and the mdat header plus sample payloads.
func (x *Extractor) segmentSize(p SegmentPlan) int {
	size := len(x.styp) + x.moofSize(p.EndSample-p.StartSample) + 8
	for _, s := range x.samples[p.StartSample:p.EndSample] {
		size += int(s.Size)
	}
	return size
}

// sidx reference field: starts_with_sap=1, sap_type=1, sap_delta_time=0.
const sidxSAP1 = 0x90000000

// generateSidx rebuilds the segment index over the planned segments,
// reusing the captured prefix and rewriting the leading size field to the
// true total length.
func (x *Extractor) generateSidx(plans []SegmentPlan) []byte {
	out := make([]byte, 0, len(x.sidxPrefix)+2+12*len(plans))
	out = append(out, x.sidxPrefix...)
	out = be.AppendUint16(out, uint16(len(plans)))
	for _, p := range plans {
		out = be.AppendUint32(out, uint32(x.segmentSize(p))) // reference type 0: contains media
		out = be.AppendUint32(out, p.Dur)
		out = be.AppendUint32(out, sidxSAP1)
	}
	be.PutUint32(out[0:4], uint32(len(out)))
	return out
}

// generateMoof builds the movie fragment for one planned segment:
// mfhd with the 1-based output sequence number, the captured tfhd verbatim,
// a tfdt carrying the segment's start time, and the regenerated trun.
func (x *Extractor) generateMoof(sequenceNr uint32, p SegmentPlan) []byte {
	sampleCount := p.EndSample - p.StartSample
	moofSize := x.moofSize(sampleCount)
	out := make([]byte, 0, moofSize)
	out = be.AppendUint32(out, uint32(moofSize))
	out = append(out, TypeMoof[:]...)
	out = be.AppendUint32(out, 16)
	out = append(out, TypeMfhd[:]...)
	out = be.AppendUint32(out, 0)
	out = be.AppendUint32(out, sequenceNr)
	out = be.AppendUint32(out, uint32(x.trafSize(sampleCount)))
	out = append(out, TypeTraf[:]...)
	out = append(out, x.tfhd...)
	out = x.appendTfdt(out, p.StartTime)
	out = x.appendTrun(out, p, moofSize)
	return out
}

// appendTfdt re-encodes the track fragment decode time at the captured
// width: 16 bytes means version 0 with a 32-bit time, otherwise version 1
// with a 64-bit time.
func (x *Extractor) appendTfdt(out []byte, decodeTime uint64) []byte {
	out = be.AppendUint32(out, uint32(x.tfdtSize))
	out = append(out, TypeTfdt[:]...)
	if x.tfdtSize == 16 {
		out = be.AppendUint32(out, 0)
		out = be.AppendUint32(out, uint32(decodeTime))
	} else {
		out = be.AppendUint32(out, 0x01000000)
		out = be.AppendUint64(out, decodeTime)
	}
	return out
}

// appendTrun re-encodes the track run for one planned segment: version 0,
// the recorded flags verbatim, and a data offset landing on the first media
// byte, 8 bytes into the mdat that follows the moof. Per sample, only the
// fields whose presence bit is set are emitted, in the fixed order
// duration, size, flags, composition time offset.
func (x *Extractor) appendTrun(out []byte, p SegmentPlan, moofSize int) []byte {
	sampleCount := p.EndSample - p.StartSample
	trunSize := x.trunBase + sampleCount*x.bytesPerTrunSample()
	out = be.AppendUint32(out, uint32(trunSize))
	out = append(out, TypeTrun[:]...)
	out = be.AppendUint32(out, x.trunFlags)
	out = be.AppendUint32(out, uint32(sampleCount))
	out = be.AppendUint32(out, uint32(moofSize)+8)
	for _, s := range x.samples[p.StartSample:p.EndSample] {
		if x.trunFlags&flagSampleDurationPresent != 0 {
			out = be.AppendUint32(out, s.Dur)
		}
		if x.trunFlags&flagSampleSizePresent != 0 {
			out = be.AppendUint32(out, s.Size)
		}
		if x.trunFlags&flagSampleFlagsPresent != 0 {
			out = be.AppendUint32(out, s.Flags)
		}
		if x.trunFlags&flagSampleCTOPresent != 0 {
			out = be.AppendUint32(out, s.CTO)
		}
	}
	return out
}

// generateMdat concatenates the raw media bytes of every sample in the
// planned segment, read back from the input at each sample's recorded
// offset, behind an 8-byte mdat header.
func (x *Extractor) generateMdat(p SegmentPlan) []byte {
	size := 8
	for _, s := range x.samples[p.StartSample:p.EndSample] {
		size += int(s.Size)
	}
	out := make([]byte, 0, size)
	out = be.AppendUint32(out, uint32(size))
	out = append(out, TypeMdat[:]...)
	for _, s := range x.samples[p.StartSample:p.EndSample] {
		out = append(out, x.data[s.Offset:s.Offset+uint64(s.Size)]...)
	}
	return out
}
