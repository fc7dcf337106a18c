package classfile

import "errors"

var (
	// ErrInvalidFormat is returned when the input is not a well-formed class file.
	ErrInvalidFormat = errors.New("invalid class file format")

	// ErrEmptyInput is returned when the input is empty.
	ErrEmptyInput = errors.New("empty input")

	// ErrTruncated is returned when the input ends inside a structure.
	ErrTruncated = errors.New("truncated class file")

	// ErrInvalidDescriptor is returned for malformed field or method descriptors.
	ErrInvalidDescriptor = errors.New("invalid descriptor")

	// ErrUnknownAnnotationTag is returned for an element_value with an undefined tag.
	ErrUnknownAnnotationTag = errors.New("unknown annotation element tag")

	// ErrUnknownStackMapFrame is returned for frame types in the reserved range.
	ErrUnknownStackMapFrame = errors.New("reserved stack map frame type")
)
