package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
)

// ErrorCode represents a bagsplit error code.
type ErrorCode string

const (
	ErrInvalidRequest           ErrorCode = "INVALID_REQUEST"
	ErrInvalidDirectory         ErrorCode = "INVALID_DIRECTORY"
	ErrValidationFailure        ErrorCode = "VALIDATION_FAILURE"
	ErrMetadataMismatch         ErrorCode = "METADATA_MISMATCH"
	ErrDestinationExists        ErrorCode = "DESTINATION_EXISTS"
	ErrMergeInconsistency       ErrorCode = "MERGE_INCONSISTENCY"
	ErrMergeFailed              ErrorCode = "MERGE_FAILED"
	ErrNoSubPackagesFound       ErrorCode = "NO_SUB_PACKAGES_FOUND"
	ErrAmbiguousMetadataPackage ErrorCode = "AMBIGUOUS_METADATA_PACKAGE"
	ErrMetadataPackageExists    ErrorCode = "METADATA_PACKAGE_EXISTS"
	ErrCancelled                ErrorCode = "CANCELLED"
	ErrNotFound                 ErrorCode = "NOT_FOUND"
	ErrInternal                 ErrorCode = "INTERNAL"
)

// BagError represents a structured error with code and details.
type BagError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *BagError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates an error for invalid request parameters.
func NewInvalidRequest(msg string) *BagError {
	return &BagError{
		Code:    ErrInvalidRequest,
		Message: msg,
	}
}

// NewInvalidDirectory creates an error for a missing or non-directory input path.
// role names what the directory was supposed to be ("original bag", "sub-packages").
func NewInvalidDirectory(role, path string) *BagError {
	return &BagError{
		Code:    ErrInvalidDirectory,
		Message: fmt.Sprintf("no such %s directory: %s", role, path),
		Details: map[string]any{"role": role, "path": path},
	}
}

// NewValidationFailure creates an error for one or more packages that failed
// checksum validation.
func NewValidationFailure(paths []string, reason string) *BagError {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	msg := fmt.Sprintf("validation failed for %v", sorted)
	if reason != "" {
		msg += ": " + reason
	}
	return &BagError{
		Code:    ErrValidationFailure,
		Message: msg,
		Details: map[string]any{"paths": sorted},
	}
}

// NewMetadataMismatch creates an error when a sub-package's common metadata
// differs from the first sub-package's. Both full mappings are kept for diagnosis.
func NewMetadataMismatch(first, diverging string, firstMeta, divergingMeta map[string][]string, fields []string) *BagError {
	return &BagError{
		Code:    ErrMetadataMismatch,
		Message: fmt.Sprintf("bag metadata mismatch in bag %s (differs from %s on %v)", diverging, first, fields),
		Details: map[string]any{
			"first":              first,
			"diverging":          diverging,
			"first_metadata":     firstMeta,
			"diverging_metadata": divergingMeta,
			"fields":             fields,
		},
	}
}

// NewDestinationExists creates an error when the merge target is already present.
func NewDestinationExists(path string) *BagError {
	return &BagError{
		Code:    ErrDestinationExists,
		Message: fmt.Sprintf("destination directory exists: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewMergeInconsistency creates an error when the merged manifest disagrees
// with the accumulated sub-package manifests.
func NewMergeInconsistency(path string, unexpected, mismatched []string) *BagError {
	return &BagError{
		Code:    ErrMergeInconsistency,
		Message: fmt.Sprintf("merged bag manifest inconsistent with split manifests: %s", path),
		Details: map[string]any{
			"path":       path,
			"unexpected": unexpected,
			"mismatched": mismatched,
		},
	}
}

// NewMergeFailed creates an error when copying trees failed for some entries.
func NewMergeFailed(src string, offending []string) *BagError {
	return &BagError{
		Code:    ErrMergeFailed,
		Message: fmt.Sprintf("merging %s failed for %d entries", src, len(offending)),
		Details: map[string]any{"source": src, "offending_paths": offending},
	}
}

// NewNoSubPackagesFound creates an error when a directory holds no sub-packages.
func NewNoSubPackagesFound(dir string) *BagError {
	return &BagError{
		Code:    ErrNoSubPackagesFound,
		Message: fmt.Sprintf("no split bags found to join in path %s", dir),
		Details: map[string]any{"path": dir},
	}
}

// NewAmbiguousMetadataPackage creates an error when more than one directory
// claims to be the metadata package.
func NewAmbiguousMetadataPackage(paths []string) *BagError {
	return &BagError{
		Code:    ErrAmbiguousMetadataPackage,
		Message: fmt.Sprintf("more than one metadata bag found: %v", paths),
		Details: map[string]any{"paths": paths},
	}
}

// NewMetadataPackageExists creates an error when a metadata package would be
// regenerated over an existing one.
func NewMetadataPackageExists(path string) *BagError {
	return &BagError{
		Code:    ErrMetadataPackageExists,
		Message: fmt.Sprintf("metadata bag already exists (remove it to regenerate): %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewCancelled creates an error for an operation interrupted by its context.
func NewCancelled(op string) *BagError {
	return &BagError{
		Code:    ErrCancelled,
		Message: fmt.Sprintf("%s cancelled", op),
	}
}

// NewNotFound creates an error for a ledger record that does not exist.
func NewNotFound(what, id string) *BagError {
	return &BagError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found: %s", what, id),
		Details: map[string]any{"id": id},
	}
}

// NewInternal creates an error for unexpected internal errors.
func NewInternal(err error) *BagError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &BagError{
		Code:    ErrInternal,
		Message: msg,
	}
}

// As returns the BagError in err's chain, if any.
func As(err error) (*BagError, bool) {
	var bagErr *BagError
	if stderrors.As(err, &bagErr) {
		return bagErr, true
	}
	return nil, false
}

// Is checks if an error (or anything it wraps) is a BagError with the given code.
func Is(err error, code ErrorCode) bool {
	if bagErr, ok := As(err); ok {
		return bagErr.Code == code
	}
	return false
}
