package classfile

import (
	"fmt"
	"strings"
)

// ParseMethodDescriptor splits a method descriptor into one type character per argument
// ('L' for references, including arrays) and the return type character.
func ParseMethodDescriptor(desc string) (args []byte, ret byte, err error) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, 0, fmt.Errorf("%w: method descriptor %q", ErrInvalidDescriptor, desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		c := desc[i]
		end, err := skipFieldType(desc, i)
		if err != nil {
			return nil, 0, err
		}
		if c == '[' {
			c = 'L'
		}
		args = append(args, c)
		i = end
	}
	if i >= len(desc)-1 {
		return nil, 0, fmt.Errorf("%w: method descriptor %q", ErrInvalidDescriptor, desc)
	}
	ret = desc[i+1]
	if ret == '[' {
		ret = 'L'
	}
	if ret != 'V' {
		end, err := skipFieldType(desc, i+1)
		if err != nil || end != len(desc) {
			return nil, 0, fmt.Errorf("%w: method descriptor %q", ErrInvalidDescriptor, desc)
		}
	} else if i+2 != len(desc) {
		return nil, 0, fmt.Errorf("%w: method descriptor %q", ErrInvalidDescriptor, desc)
	}
	return args, ret, nil
}

func skipFieldType(desc string, i int) (int, error) {
	for i < len(desc) && desc[i] == '[' {
		i++
	}
	if i >= len(desc) {
		return 0, fmt.Errorf("%w: truncated type in %q", ErrInvalidDescriptor, desc)
	}
	switch desc[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		semi := strings.IndexByte(desc[i:], ';')
		if semi < 0 {
			return 0, fmt.Errorf("%w: unterminated class type in %q", ErrInvalidDescriptor, desc)
		}
		return i + semi + 1, nil
	}
	return 0, fmt.Errorf("%w: bad type %q in %q", ErrInvalidDescriptor, desc[i], desc)
}

// ArgumentSlots returns the number of stack slots the arguments of desc occupy,
// counting long and double as two.
func ArgumentSlots(desc string) (int, error) {
	args, _, err := ParseMethodDescriptor(desc)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range args {
		if a == 'J' || a == 'D' {
			n += 2
		} else {
			n++
		}
	}
	return n, nil
}

// ReturnChar returns the first character of the return type of a method descriptor, or the
// first character of a field descriptor.
func ReturnChar(desc string) byte {
	if i := strings.LastIndexByte(desc, ')'); i >= 0 {
		if i+1 < len(desc) {
			return desc[i+1]
		}
		return 0
	}
	if desc == "" {
		return 0
	}
	return desc[0]
}

// IsWideType reports whether a field descriptor names a long or double.
func IsWideType(desc string) bool {
	return desc == "J" || desc == "D"
}

// IsReferenceType reports whether a field descriptor names an object or array type.
func IsReferenceType(desc string) bool {
	return desc != "" && (desc[0] == 'L' || desc[0] == '[')
}

// PackageName returns the package portion of a binary class name ("java/lang" for
// "java/lang/String"), or "" for the unnamed package.
func PackageName(className string) string {
	if i := strings.LastIndexByte(className, '/'); i >= 0 {
		return className[:i]
	}
	return ""
}
