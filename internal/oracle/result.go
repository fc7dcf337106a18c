package oracle

import "fmt"

// Result is the closed set of outcomes of analysing a class file.
type Result int

const (
	OK Result = iota
	GenericError
	GenericErrorCustomMsg
	OutOfMemory
	InvalidBytecode
	InvalidBytecodeSize
	InvalidAnnotation
	ClassNameMismatch
	IllegalPackageName
	LineNumberDecompressionFailure
	DuplicateName
	InvalidClassType
)

var resultNames = [...]string{
	OK:                             "ok",
	GenericError:                   "generic error",
	GenericErrorCustomMsg:          "generic error",
	OutOfMemory:                    "out of memory",
	InvalidBytecode:                "invalid bytecode",
	InvalidBytecodeSize:            "invalid bytecode size",
	InvalidAnnotation:              "invalid annotation",
	ClassNameMismatch:              "class name mismatch",
	IllegalPackageName:             "illegal package name",
	LineNumberDecompressionFailure: "line number decompression failure",
	DuplicateName:                  "duplicate name",
	InvalidClassType:               "invalid class type",
}

func (r Result) String() string {
	if r >= 0 && int(r) < len(resultNames) {
		return resultNames[r]
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Error carries a non-OK Result and an optional diagnostic message.
type Error struct {
	Result  Result
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Result.String()
	}
	return e.Result.String() + ": " + e.Message
}

// Is matches another *Error with the same Result.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Result == t.Result
}

// Sentinel errors for errors.Is checks.
var (
	ErrGeneric             = &Error{Result: GenericError}
	ErrCustom              = &Error{Result: GenericErrorCustomMsg}
	ErrOutOfMemory         = &Error{Result: OutOfMemory}
	ErrInvalidBytecode     = &Error{Result: InvalidBytecode}
	ErrInvalidBytecodeSize = &Error{Result: InvalidBytecodeSize}
	ErrInvalidAnnotation   = &Error{Result: InvalidAnnotation}
	ErrClassNameMismatch   = &Error{Result: ClassNameMismatch}
	ErrIllegalPackageName  = &Error{Result: IllegalPackageName}
	ErrLineNumbers         = &Error{Result: LineNumberDecompressionFailure}
	ErrDuplicateName       = &Error{Result: DuplicateName}
	ErrInvalidClassType    = &Error{Result: InvalidClassType}
)
