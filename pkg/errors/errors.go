// Package errors defines the application error type shared by the CLI, the service and
// the catalog.
package errors

import (
	"errors"
	"fmt"

	"github.com/romclass/internal/oracle"
	"github.com/romclass/internal/romclass"
)

// Compilation codes, one per non-OK build result.
const (
	CodeUnknown             = "UNKNOWN_ERROR"
	CodeGeneric             = "GENERIC_ERROR"
	CodeOutOfMemory         = "OUT_OF_MEMORY"
	CodeInvalidBytecode     = "INVALID_BYTECODE"
	CodeInvalidBytecodeSize = "INVALID_BYTECODE_SIZE"
	CodeInvalidAnnotation   = "INVALID_ANNOTATION"
	CodeClassNameMismatch   = "CLASS_NAME_MISMATCH"
	CodeIllegalPackageName  = "ILLEGAL_PACKAGE_NAME"
	CodeLineNumbers         = "LINE_NUMBER_DECOMPRESSION_FAILURE"
	CodeDuplicateName       = "DUPLICATE_NAME"
	CodeInvalidClassType    = "INVALID_CLASS_TYPE"
)

// Service codes.
const (
	CodeReadError    = "READ_ERROR"
	CodeStorageError = "STORAGE_ERROR"
	CodeCatalogError = "CATALOG_ERROR"
	CodeConfigError  = "CONFIG_ERROR"
	CodeInvalidInput = "INVALID_INPUT"
	CodeNotFound     = "NOT_FOUND"
	CodeTimeout      = "TIMEOUT_ERROR"
)

var resultCodes = map[oracle.Result]string{
	oracle.GenericError:                   CodeGeneric,
	oracle.GenericErrorCustomMsg:          CodeGeneric,
	oracle.OutOfMemory:                    CodeOutOfMemory,
	oracle.InvalidBytecode:                CodeInvalidBytecode,
	oracle.InvalidBytecodeSize:            CodeInvalidBytecodeSize,
	oracle.InvalidAnnotation:              CodeInvalidAnnotation,
	oracle.ClassNameMismatch:              CodeClassNameMismatch,
	oracle.IllegalPackageName:             CodeIllegalPackageName,
	oracle.LineNumberDecompressionFailure: CodeLineNumbers,
	oracle.DuplicateName:                  CodeDuplicateName,
	oracle.InvalidClassType:               CodeInvalidClassType,
}

// AppError is an error with a stable code.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any *AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && e.Code == t.Code
}

// New creates an AppError.
func New(code string, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap creates an AppError around err.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Sentinels for errors.Is.
var (
	ErrOutOfMemory     = New(CodeOutOfMemory, "out of memory")
	ErrInvalidBytecode = New(CodeInvalidBytecode, "invalid bytecode")
	ErrReadError       = New(CodeReadError, "cannot read class file")
	ErrStorageError    = New(CodeStorageError, "artifact storage error")
	ErrCatalogError    = New(CodeCatalogError, "catalog error")
	ErrConfigError     = New(CodeConfigError, "configuration error")
	ErrInvalidInput    = New(CodeInvalidInput, "invalid input")
	ErrNotFound        = New(CodeNotFound, "resource not found")
	ErrTimeout         = New(CodeTimeout, "operation timeout")
)

// CodeForResult returns the code of a build result. OK maps to "".
func CodeForResult(r oracle.Result) string {
	if r == oracle.OK {
		return ""
	}
	if code, ok := resultCodes[r]; ok {
		return code
	}
	return CodeUnknown
}

// FromBuild converts a compilation failure into an AppError. Errors that are not
// compilation failures are wrapped as CodeUnknown; nil stays nil.
func FromBuild(err error) *AppError {
	if err == nil {
		return nil
	}
	var be *romclass.BuildError
	if errors.As(err, &be) {
		return Wrap(CodeForResult(be.Code), be.Code.String(), err)
	}
	var oe *oracle.Error
	if errors.As(err, &oe) {
		return Wrap(CodeForResult(oe.Result), oe.Result.String(), err)
	}
	return Wrap(CodeUnknown, "compilation failed", err)
}

// GetErrorCode returns the code of the outermost AppError in err's chain.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage returns the AppError message, or err.Error() for other errors.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
