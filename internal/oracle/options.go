package oracle

import (
	"encoding/binary"
	"strings"
)

// Options configures what the oracle keeps and checks.
type Options struct {
	PreserveLineNumbers          bool
	PreserveLocalVariables       bool
	PreserveSourceFileName       bool
	PreserveSourceDebugExtension bool

	// BootstrapLoader permits classes in java/ packages.
	BootstrapLoader bool

	// Retransforming keeps every kind of debug information regardless of the Preserve
	// flags. Redefining only affects how the builder reuses interned strings.
	Redefining     bool
	Retransforming bool

	// ExpectedClassName, when set, must equal the declared class name.
	ExpectedClassName string

	// VerifyExcludeAttributes is a semicolon-separated list of attribute names that are
	// treated as absent.
	VerifyExcludeAttributes string

	// ByteOrder is the byte order of multi-byte bytecode operands in the output.
	ByteOrder binary.ByteOrder
}

// DefaultOptions preserves all debug information and emits little-endian bytecode.
func DefaultOptions() Options {
	return Options{
		PreserveLineNumbers:          true,
		PreserveLocalVariables:       true,
		PreserveSourceFileName:       true,
		PreserveSourceDebugExtension: true,
		ByteOrder:                    binary.LittleEndian,
	}
}

func (o *Options) normalize() {
	if o.ByteOrder == nil {
		o.ByteOrder = binary.LittleEndian
	}
	if o.Retransforming {
		o.PreserveLineNumbers = true
		o.PreserveLocalVariables = true
		o.PreserveSourceFileName = true
		o.PreserveSourceDebugExtension = true
	}
}

func (o *Options) excludedAttributes() map[string]bool {
	if o.VerifyExcludeAttributes == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, name := range strings.Split(o.VerifyExcludeAttributes, ";") {
		if name = strings.TrimSpace(name); name != "" {
			out[name] = true
		}
	}
	return out
}
