package format

// Problem is a structural problem reported by the validator.
type Problem uint8

const (
	NoProblem Problem = iota
	BrokenMagicNumber
	InvalidVersion
	BrokenArchiveInfo
	InvalidEntryInfoListOffset
	InvalidEntryInfoCount
	BrokenReserved
	BrokenEntryID
	InvalidEntryOffset
	InvalidEntrySize
)

func (p Problem) String() string {
	switch p {
	case NoProblem:
		return "no problem"
	case BrokenMagicNumber:
		return "broken magic number"
	case InvalidVersion:
		return "invalid version"
	case BrokenArchiveInfo:
		return "broken archive info"
	case InvalidEntryInfoListOffset:
		return "invalid entry info list offset"
	case InvalidEntryInfoCount:
		return "invalid entry info count"
	case BrokenReserved:
		return "broken reserved field"
	case BrokenEntryID:
		return "broken entry id"
	case InvalidEntryOffset:
		return "invalid entry offset"
	case InvalidEntrySize:
		return "invalid entry size"
	default:
		return "unknown problem"
	}
}

// Err returns nil for NoProblem and a *FormatError otherwise.
func (p Problem) Err() error {
	if p == NoProblem {
		return nil
	}
	return &FormatError{Problem: p}
}

// ValidateHeader checks the structural invariants of h. The first failing
// check wins.
func ValidateHeader(h Header) Problem {
	switch {
	case h.magic != Magic:
		return BrokenMagicNumber
	case h.Version() != Version:
		return InvalidVersion
	case h.archiveInfo&^0xFF != 0:
		return BrokenArchiveInfo
	case h.tableOffset < HeaderSize:
		return InvalidEntryInfoListOffset
	case h.entryCount < 0:
		return InvalidEntryInfoCount
	case h.reserved != 0:
		return BrokenReserved
	}
	return NoProblem
}

// ValidateEntry checks the structural invariants of e. The first failing
// check wins.
func ValidateEntry(e EntryRecord) Problem {
	switch {
	case e.id == 0:
		return BrokenEntryID
	case e.offset != 0 && e.offset < HeaderSize:
		return InvalidEntryOffset
	case e.size < 0:
		return InvalidEntrySize
	case e.reserved != 0:
		return BrokenReserved
	}
	return NoProblem
}
