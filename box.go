// Package cmaf resegments fragmented ISO Base Media (CMAF) track files into
// segments of a new target average duration.
package cmaf

import (
	"encoding/binary"
	"fmt"
)

var be = binary.BigEndian

// BoxType is a 4-byte box type identifier.
type BoxType [4]byte

func (t BoxType) String() string {
	return string(t[:])
}

// newBoxType creates a BoxType from a 4-character string.
func newBoxType(s string) BoxType {
	var t BoxType
	copy(t[:], s)
	return t
}

// Known box types.
var (
	TypeFtyp = newBoxType("ftyp")
	TypeStyp = newBoxType("styp")
	TypeSidx = newBoxType("sidx")
	TypeEmsg = newBoxType("emsg")
	TypeMoov = newBoxType("moov")
	TypeTrak = newBoxType("trak")
	TypeMdia = newBoxType("mdia")
	TypeMdhd = newBoxType("mdhd")
	TypeMvex = newBoxType("mvex")
	TypeTrex = newBoxType("trex")
	TypeMoof = newBoxType("moof")
	TypeMfhd = newBoxType("mfhd")
	TypeTraf = newBoxType("traf")
	TypeTfhd = newBoxType("tfhd")
	TypeTfdt = newBoxType("tfdt")
	TypeTrun = newBoxType("trun")
	TypeMdat = newBoxType("mdat")
)

// containerPaths are the box paths the walker descends into. Children of any
// other box are left opaque and handled (or passed over) as a whole.
var containerPaths = map[string]bool{
	"moov":           true,
	"moov.trak":      true,
	"moov.trak.mdia": true,
	"moov.mvex":      true,
	"moof":           true,
	"moof.traf":      true,
}

// maxDepth caps box nesting during the walk. Well-formed files stay far
// below it; adversarial sizes fail instead of recursing without bound.
const maxDepth = 16

// visitFunc receives each box visited by walkBoxes: its dotted type path
// from the root (e.g. "moof.traf.trun"), the exact byte range of the box
// including its 8-byte header, and the absolute file offset of the box start.
// Container boxes are visited before their children.
type visitFunc func(path string, box []byte, filePos uint64) error

// walkBoxes decodes the sequence of length-prefixed boxes in buf, which
// starts at absolute file offset filePos, dispatching every box to visit and
// recursing into the known container paths.
func walkBoxes(buf []byte, filePos uint64, path string, depth int, visit visitFunc) error {
	if depth >= maxDepth {
		return fmt.Errorf("box nesting exceeds %d levels at %q", maxDepth, path)
	}
	pos := 0
	for pos < len(buf) {
		size, typ, err := readBoxHeader(buf[pos:])
		if err != nil {
			return fmt.Errorf("at offset %d: %w", filePos+uint64(pos), err)
		}
		if size > len(buf)-pos {
			return fmt.Errorf("box %s at offset %d: size %d exceeds remaining %d bytes",
				typ, filePos+uint64(pos), size, len(buf)-pos)
		}
		boxPath := typ.String()
		if path != "" {
			boxPath = path + "." + boxPath
		}
		if typ == TypeEmsg {
			return unsupportedf(boxPath, "emsg boxes are not supported")
		}
		box := buf[pos : pos+size]
		boxPos := filePos + uint64(pos)
		if err := visit(boxPath, box, boxPos); err != nil {
			return err
		}
		if containerPaths[boxPath] {
			if err := walkBoxes(box[8:], boxPos+8, boxPath, depth+1, visit); err != nil {
				return err
			}
		}
		pos += size
	}
	return nil
}

// readBoxHeader decodes the 8-byte size+type header at the start of buf.
// The returned size is the total box size including the header.
func readBoxHeader(buf []byte) (int, BoxType, error) {
	if len(buf) < 8 {
		return 0, BoxType{}, fmt.Errorf("need at least 8 bytes for a box header, have %d", len(buf))
	}
	size := be.Uint32(buf[0:4])
	var t BoxType
	copy(t[:], buf[4:8])
	if size == 1 {
		return 0, t, unsupportedf(t.String(), "64-bit extended box sizes are not supported")
	}
	if size < 8 {
		return 0, t, fmt.Errorf("box %s: invalid size %d", t, size)
	}
	return int(size), t, nil
}

// findHeaderEnd scans the top-level box list and returns the byte length of
// the leading header: everything before the first sidx, styp, or moof box.
// That prefix is copied into the output verbatim.
func findHeaderEnd(buf []byte) (int, error) {
	pos := 0
	for pos < len(buf) {
		size, typ, err := readBoxHeader(buf[pos:])
		if err != nil {
			return 0, fmt.Errorf("at offset %d: %w", pos, err)
		}
		if size > len(buf)-pos {
			return 0, fmt.Errorf("box %s at offset %d: size %d exceeds remaining %d bytes",
				typ, pos, size, len(buf)-pos)
		}
		if typ == TypeSidx || typ == TypeStyp || typ == TypeMoof {
			break
		}
		pos += size
	}
	return pos, nil
}
