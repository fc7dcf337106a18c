package service

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/romclass/internal/romclass"
	"github.com/romclass/pkg/config"
)

// BuildOptions converts the compile section of the config into builder options.
func BuildOptions(cc *config.CompileConfig) (romclass.Options, error) {
	opts := romclass.DefaultOptions()
	opts.PreserveLineNumbers = cc.PreserveLineNumbers
	opts.PreserveLocalVariables = cc.PreserveLocalVariables
	opts.PreserveSourceFileName = cc.PreserveSourceFileName
	opts.PreserveSourceDebugExtension = cc.PreserveSourceDebugExtension
	opts.OutOfLineDebugInfo = cc.OutOfLineDebugInfo
	opts.OutOfLineUTF8 = cc.OutOfLineUTF8
	opts.ArenaCapacity = cc.ArenaCapacity
	opts.VerifyExcludeAttributes = cc.VerifyExclude
	opts.BootstrapLoader = cc.BootstrapLoader

	switch cc.ByteOrder {
	case "", "little":
		opts.ByteOrder = binary.LittleEndian
	case "big":
		opts.ByteOrder = binary.BigEndian
	default:
		return opts, fmt.Errorf("unsupported byte order: %s", cc.ByteOrder)
	}
	return opts, nil
}

// OptionsHash fingerprints every option that changes the emitted bytes or whether
// compilation succeeds.
func OptionsHash(o *romclass.Options) string {
	order := "little"
	if o.ByteOrder == binary.BigEndian {
		order = "big"
	}
	h := sha256.New()
	fmt.Fprintf(h, "ln=%t lv=%t sf=%t sde=%t boot=%t redef=%t retrans=%t ool=%t oolutf8=%t order=%s exclude=%q expect=%q bases=%v",
		o.PreserveLineNumbers, o.PreserveLocalVariables, o.PreserveSourceFileName, o.PreserveSourceDebugExtension,
		o.BootstrapLoader, o.Redefining, o.Retransforming, o.OutOfLineDebugInfo, o.OutOfLineUTF8,
		order, o.VerifyExcludeAttributes, o.ExpectedClassName, o.Bases)
	return hex.EncodeToString(h.Sum(nil))
}
