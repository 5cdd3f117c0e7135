package cmaf

// Helpers assembling minimal fragmented track files byte by byte.

const fixtureTimescale = 1000

func u16b(v uint16) []byte { return be.AppendUint16(nil, v) }
func u32b(v uint32) []byte { return be.AppendUint32(nil, v) }

// child builds one box from concatenated payload parts.
func child(typ string, payload ...[]byte) []byte {
	size := 8
	for _, p := range payload {
		size += len(p)
	}
	out := make([]byte, 0, size)
	out = be.AppendUint32(out, uint32(size))
	out = append(out, typ...)
	for _, p := range payload {
		out = append(out, p...)
	}
	return out
}

func ftypBox() []byte {
	return child("ftyp", []byte("iso6"), u32b(0), []byte("cmfc"))
}

func stypBox() []byte {
	return child("styp", []byte("msdh"), u32b(0), []byte("msdh"), []byte("msix"))
}

// mdhdBox is version 0: the timescale sits 20 bytes into the box.
func mdhdBox(timescale uint32) []byte {
	return child("mdhd",
		u32b(0),         // version+flags
		u32b(0), u32b(0), // creation, modification
		u32b(timescale),
		u32b(0),      // duration
		u16b(0x55c4), // language "und"
		u16b(0))
}

func trexBox(defDur, defSize, defFlags uint32) []byte {
	return child("trex",
		u32b(0), // version+flags
		u32b(1), // track id
		u32b(1), // default sample description index
		u32b(defDur), u32b(defSize), u32b(defFlags))
}

func moovBox(defDur, defSize, defFlags uint32) []byte {
	return child("moov",
		child("trak", child("mdia", mdhdBox(fixtureTimescale))),
		child("mvex", trexBox(defDur, defSize, defFlags)))
}

// plainTfhd carries only the default-base-is-moof flag and no optional
// fields.
func plainTfhd() []byte {
	return child("tfhd", u32b(0x020000), u32b(1))
}

type fsample struct {
	dur, size, flags, cto uint32
	data                  []byte
}

// uniformSamples returns n samples of the given duration whose payload is
// size bytes of fill.
func uniformSamples(n int, dur, size uint32, fill byte) []fsample {
	samples := make([]fsample, n)
	for i := range samples {
		data := make([]byte, size)
		for j := range data {
			data[j] = fill + byte(i)
		}
		samples[i] = fsample{dur: dur, size: size, flags: 0x02000000, data: data}
	}
	return samples
}

// fragmentBox assembles one moof+mdat pair. Only the per-sample trun fields
// selected by trunFlags are written; trunFlags must include the
// data-offset-present bit for the fragment to be well formed.
func fragmentBox(seq uint32, baseTime uint64, tfhd []byte, trunFlags uint32, samples []fsample) []byte {
	mfhd := child("mfhd", u32b(0), u32b(seq))
	tfdt := child("tfdt", u32b(0), u32b(uint32(baseTime)))
	var entries, payload []byte
	for _, s := range samples {
		if trunFlags&flagSampleDurationPresent != 0 {
			entries = append(entries, u32b(s.dur)...)
		}
		if trunFlags&flagSampleSizePresent != 0 {
			entries = append(entries, u32b(s.size)...)
		}
		if trunFlags&flagSampleFlagsPresent != 0 {
			entries = append(entries, u32b(s.flags)...)
		}
		if trunFlags&flagSampleCTOPresent != 0 {
			entries = append(entries, u32b(s.cto)...)
		}
		payload = append(payload, s.data...)
	}
	trunSize := 20 + len(entries)
	trafSize := 8 + len(tfhd) + len(tfdt) + trunSize
	moofSize := 8 + len(mfhd) + trafSize
	trun := child("trun", u32b(trunFlags), u32b(uint32(len(samples))), u32b(uint32(moofSize)+8), entries)
	moof := child("moof", mfhd, child("traf", tfhd, tfdt, trun))
	return append(moof, child("mdat", payload)...)
}

func sidxBox(sizes []uint32, durs []uint32) []byte {
	entries := make([]byte, 0, 12*len(sizes))
	for i := range sizes {
		entries = be.AppendUint32(entries, sizes[i]) // reference type 0
		entries = be.AppendUint32(entries, durs[i])
		entries = be.AppendUint32(entries, sidxSAP1)
	}
	return child("sidx",
		u32b(0), // version+flags
		u32b(1), // reference id
		u32b(fixtureTimescale),
		u32b(0), // earliest presentation time
		u32b(0), // first offset
		u16b(0), // reserved
		u16b(uint16(len(sizes))),
		entries)
}

// buildTrack assembles a whole input file: ftyp+moov header, an optional
// sidx covering the fragments, then per fragment an optional styp and the
// moof+mdat pair. Fragment base decode times are contiguous.
func buildTrack(withSidx, withStyp bool, trunFlags uint32, frags ...[]fsample) []byte {
	out := append(ftypBox(), moovBox(40, 8, 0x02000000)...)
	var styp []byte
	if withStyp {
		styp = stypBox()
	}
	var segs [][]byte
	var sizes, durs []uint32
	var baseTime uint64
	for i, fs := range frags {
		frag := fragmentBox(uint32(i+1), baseTime, plainTfhd(), trunFlags, fs)
		seg := append(append([]byte{}, styp...), frag...)
		segs = append(segs, seg)
		var dur uint32
		for _, s := range fs {
			dur += s.dur
		}
		sizes = append(sizes, uint32(len(seg)))
		durs = append(durs, dur)
		baseTime += uint64(dur)
	}
	if withSidx {
		out = append(out, sidxBox(sizes, durs)...)
	}
	for _, seg := range segs {
		out = append(out, seg...)
	}
	return out
}

// mdatPayloads concatenates the payload of every top-level mdat in buf.
func mdatPayloads(buf []byte) []byte {
	var out []byte
	pos := 0
	for pos+8 <= len(buf) {
		size, typ, err := readBoxHeader(buf[pos:])
		if err != nil || pos+size > len(buf) {
			break
		}
		if typ == TypeMdat {
			out = append(out, buf[pos+8:pos+size]...)
		}
		pos += size
	}
	return out
}

// countTopLevel counts top-level boxes of the given type in buf.
func countTopLevel(buf []byte, typ BoxType) int {
	n := 0
	pos := 0
	for pos+8 <= len(buf) {
		size, t, err := readBoxHeader(buf[pos:])
		if err != nil || pos+size > len(buf) {
			break
		}
		if t == typ {
			n++
		}
		pos += size
	}
	return n
}
