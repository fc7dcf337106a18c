package srp

import "github.com/romclass/internal/classfile"

// KeyProducer hands out keys. The low key ranges are fixed functions of the class file so
// both writer passes agree on them without coordination:
//
//	[0, cpCount)                     Utf8 entries, canonicalized by content
//	[cpCount, 2*cpCount)             NameAndType entries
//	[2*cpCount, +methodCount)        per-method line-number tables
//	[.., +methodCount)               per-method variable tables
//	[..)                             generated keys
type KeyProducer struct {
	cpCount     int
	methodCount int
	canonical   []uint16
	next        Key
}

// NewKeyProducer builds the producer for cf.
func NewKeyProducer(cf *classfile.ClassFile) *KeyProducer {
	p := &KeyProducer{
		cpCount:     len(cf.ConstantPool),
		methodCount: len(cf.Methods),
		canonical:   make([]uint16, len(cf.ConstantPool)),
	}
	seen := make(map[string]uint16)
	for i, e := range cf.ConstantPool {
		if e.Tag != classfile.TagUtf8 {
			continue
		}
		s := string(e.Bytes)
		if first, ok := seen[s]; ok {
			p.canonical[i] = first
			continue
		}
		seen[s] = uint16(i)
		p.canonical[i] = uint16(i)
	}
	p.next = p.firstGenerated()
	return p
}

func (p *KeyProducer) firstGenerated() Key {
	return Key(2*p.cpCount + 2*p.methodCount)
}

// UTF8Key returns the key of the Utf8 entry at cfrIndex. Equal strings share a key.
func (p *KeyProducer) UTF8Key(cfrIndex uint16) Key {
	if int(cfrIndex) < len(p.canonical) && p.canonical[cfrIndex] != 0 {
		return Key(p.canonical[cfrIndex])
	}
	return Key(cfrIndex)
}

// CanonicalUTF8 returns the first constant-pool index holding the same string as cfrIndex.
func (p *KeyProducer) CanonicalUTF8(cfrIndex uint16) uint16 {
	return uint16(p.UTF8Key(cfrIndex))
}

// NASKey returns the key of the NameAndType entry at cfrIndex.
func (p *KeyProducer) NASKey(cfrIndex uint16) Key {
	return Key(p.cpCount + int(cfrIndex))
}

// LineNumberKey returns the key of method methodIndex's compressed line-number table.
func (p *KeyProducer) LineNumberKey(methodIndex int) Key {
	return Key(2*p.cpCount + methodIndex)
}

// VariableInfoKey returns the key of method methodIndex's variable table.
func (p *KeyProducer) VariableInfoKey(methodIndex int) Key {
	return Key(2*p.cpCount + p.methodCount + methodIndex)
}

// GenerateKey returns a fresh key.
func (p *KeyProducer) GenerateKey() Key {
	k := p.next
	p.next++
	return k
}

// Reset restarts key generation so a second pass hands out the same sequence.
func (p *KeyProducer) Reset() {
	p.next = p.firstGenerated()
}

// MaxKey returns one past the highest key handed out so far.
func (p *KeyProducer) MaxKey() int {
	return int(p.next)
}
