package imta

import "github.com/meigma/imta/internal/format"

// Re-export types from internal/format for public API.
type (
	// Header is the fixed-size record at offset zero of an archive.
	Header = format.Header

	// EntryRecord describes the placement of one entry's payload.
	EntryRecord = format.EntryRecord

	// Problem is a structural problem reported by the validator.
	Problem = format.Problem

	// FormatError reports a validator Problem as an error.
	FormatError = format.FormatError
)

// Format constants.
const (
	HeaderSize = format.HeaderSize
	EntrySize  = format.EntrySize
	Version    = format.Version
)

// Magic is the four byte archive signature ("IMTA").
var Magic = format.Magic

// Problem codes.
const (
	NoProblem                  = format.NoProblem
	BrokenMagicNumber          = format.BrokenMagicNumber
	InvalidVersion             = format.InvalidVersion
	BrokenArchiveInfo          = format.BrokenArchiveInfo
	InvalidEntryInfoListOffset = format.InvalidEntryInfoListOffset
	InvalidEntryInfoCount      = format.InvalidEntryInfoCount
	BrokenReserved             = format.BrokenReserved
	BrokenEntryID              = format.BrokenEntryID
	InvalidEntryOffset         = format.InvalidEntryOffset
	InvalidEntrySize           = format.InvalidEntrySize
)

// Constructors, codec and validator re-exported from internal/format.
var (
	NewHeader         = format.NewHeader
	NewEntryRecord    = format.NewEntryRecord
	NewEntryRecordFor = format.NewEntryRecordFor
	EntryID           = format.EntryID

	DecodeHeader = format.DecodeHeader
	EncodeHeader = format.EncodeHeader
	DecodeEntry  = format.DecodeEntry
	EncodeEntry  = format.EncodeEntry
	ReadHeader   = format.ReadHeader
	ReadEntry    = format.ReadEntry

	ValidateHeader = format.ValidateHeader
	ValidateEntry  = format.ValidateEntry
)
