// Package madras models an in-memory object file (ELF/PE/Mach-O) as a graph
// of sections, segments, entries, labels, relocations and pointers, and
// provides a copy-on-write patching session over that graph (see the patch
// subpackage) plus connected-component function extraction (ccextract.go).
package madras

import "fmt"

// ErrCode is the shared numeric error enumeration. BinFile's mutating
// operations return an ErrCode and latch it on the BinFile (see
// GetLastErrorCode); the sentinel values below stand for an unset or
// invalid address, offset or id.
type ErrCode int

const (
	ErrNone ErrCode = iota
	ErrMissingFile
	ErrMissingSection
	ErrMissingBinFile
	ErrBadSectionType
	ErrSectionEmpty
	ErrBadSectionEntrySize
	ErrIncorrectDataType
	ErrHeaderNotFound
	ErrHeaderAlreadyParsed
	ErrSectionNotFound
	ErrLabelMissing
	ErrBadRelocationAddress
	ErrFileNotBeingPatched
	ErrPatchedFileNotFinalised
	ErrPatchedSectionNotCreated
	ErrSectionAlreadyExisting
	ErrInsertListEmpty
	ErrUnableToOpenFile
	ErrFileStreamMissing
	ErrParameterMissing
	ErrFileNameMissing
	ErrSectionDataNotLocal
	ErrSectionSegmentNotFound
	ErrFailedSavingDataToSection
	ErrDriverMissing
	ErrFinaliseFailed
	ErrWriteFailed
)

var errCodeNames = map[ErrCode]string{
	ErrNone:                      "no error",
	ErrMissingFile:               "missing file",
	ErrMissingSection:            "missing section",
	ErrMissingBinFile:            "missing binary file",
	ErrBadSectionType:            "bad section type",
	ErrSectionEmpty:              "section empty",
	ErrBadSectionEntrySize:       "bad section entry size",
	ErrIncorrectDataType:         "incorrect data type",
	ErrHeaderNotFound:            "header not found",
	ErrHeaderAlreadyParsed:       "header already parsed",
	ErrSectionNotFound:           "section not found",
	ErrLabelMissing:              "label missing",
	ErrBadRelocationAddress:      "bad relocation address",
	ErrFileNotBeingPatched:       "file not being patched",
	ErrPatchedFileNotFinalised:   "patched file not finalised",
	ErrPatchedSectionNotCreated:  "patched section not created",
	ErrSectionAlreadyExisting:    "section already existing",
	ErrInsertListEmpty:           "insert list empty",
	ErrUnableToOpenFile:          "unable to open file",
	ErrFileStreamMissing:         "file stream missing",
	ErrParameterMissing:          "parameter missing",
	ErrFileNameMissing:           "file name missing",
	ErrSectionDataNotLocal:       "section data not local",
	ErrSectionSegmentNotFound:    "section segment not found",
	ErrFailedSavingDataToSection: "failed saving data to section",
	ErrDriverMissing:             "format driver missing",
	ErrFinaliseFailed:            "driver finalise failed",
	ErrWriteFailed:               "driver write failed",
}

// String implements fmt.Stringer.
func (e ErrCode) String() string {
	if name, ok := errCodeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("errcode(%d)", int(e))
}

// Error implements the error interface so ErrCode can be returned directly
// or wrapped with github.com/pkg/errors in the driver subpackage.
func (e ErrCode) Error() string { return e.String() }

// Sentinel values returned by getters on failure, per spec.md §7.
const (
	AddressError   int64  = -1
	OffsetError    uint64 = ^uint64(0)
	SectionIDError uint16 = ^uint16(0)
	EntryIDError   uint32 = ^uint32(0)
)

// errorLatch is embedded by BinFile to provide the last_error_code latch.
type errorLatch struct {
	lastError ErrCode
}

// setError latches code and returns it, so call sites can `return e.setError(...)`.
func (l *errorLatch) setError(code ErrCode) ErrCode {
	l.lastError = code
	return code
}

// GetLastErrorCode returns the latched error code and clears the latch, per
// spec.md §7 ("a last_error_code latch cleared by get_last_error_code").
func (l *errorLatch) GetLastErrorCode() ErrCode {
	code := l.lastError
	l.lastError = ErrNone
	return code
}

// PeekLastErrorCode returns the latched code without clearing it, for
// tests and diagnostics that must not disturb §7 recovery-policy state.
func (l *errorLatch) PeekLastErrorCode() ErrCode { return l.lastError }
