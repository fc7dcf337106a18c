// Package oracle analyses a parsed class file ahead of ROM class layout.
//
// An Oracle walks the class in a fixed sequence of phases: header checks, class
// attributes, interfaces, methods, fields, output constant-pool layout and finally
// bytecode fixups. Each phase runs only while the result is still OK, so the first
// failure wins. Methods are rewritten into ROM bytecode as they are walked; operands that
// name the constant pool are recorded as fixups and patched once the output pool exists.
package oracle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/romclass/internal/arena"
	"github.com/romclass/internal/classfile"
	"github.com/romclass/internal/cpmap"
)

const (
	objectClassName = "java/lang/Object"
	initName        = "<init>"
	clinitName      = "<clinit>"
)

// Oracle holds the derived per-class, per-field and per-method facts.
type Oracle struct {
	cf       *classfile.ClassFile
	cp       *cpmap.Map
	arena    *arena.Arena
	opts     Options
	excluded map[string]bool

	result  Result
	message string

	class   ClassInfo
	fields  []FieldInfo
	methods []MethodInfo

	fixupsApplied bool
}

// New analyses cf, recording constant-pool uses in cp and drawing side tables from a.
// On failure the returned error is an *Error.
func New(cf *classfile.ClassFile, cp *cpmap.Map, a *arena.Arena, opts Options) (*Oracle, error) {
	opts.normalize()
	o := &Oracle{
		cf:       cf,
		cp:       cp,
		arena:    a,
		opts:     opts,
		excluded: opts.excludedAttributes(),
	}
	o.run()
	if err := o.Err(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Oracle) run() {
	phases := []func(){
		o.checkHeader,
		o.walkAttributes,
		o.walkInterfaces,
		o.walkMethods,
		o.walkFields,
		o.computeMap,
		o.fixupPhase,
	}
	for _, phase := range phases {
		if o.result != OK {
			return
		}
		phase()
	}
}

// fail records the first failure; later ones are ignored.
func (o *Oracle) fail(r Result, format string, args ...interface{}) {
	if o.result != OK {
		return
	}
	o.result = r
	o.message = fmt.Sprintf(format, args...)
}

func (o *Oracle) failErr(err error) {
	if errors.Is(err, arena.ErrOutOfMemory) {
		o.fail(OutOfMemory, "%v", err)
		return
	}
	o.fail(GenericError, "%v", err)
}

// Result returns the outcome of the analysis.
func (o *Oracle) Result() Result { return o.result }

// Err returns the failure as an *Error, or nil.
func (o *Oracle) Err() error {
	if o.result == OK {
		return nil
	}
	return &Error{Result: o.result, Message: o.message}
}

// ClassFile returns the analysed class file.
func (o *Oracle) ClassFile() *classfile.ClassFile { return o.cf }

// ConstantPool returns the constant-pool map filled in by the analysis.
func (o *Oracle) ConstantPool() *cpmap.Map { return o.cp }

// Options returns the normalized options.
func (o *Oracle) Options() Options { return o.opts }

// Class returns the class-level facts.
func (o *Oracle) Class() *ClassInfo { return &o.class }

// Fields returns per-field facts in declaration order.
func (o *Oracle) Fields() []FieldInfo { return o.fields }

// Methods returns per-method facts in declaration order.
func (o *Oracle) Methods() []MethodInfo { return o.methods }

// Close returns the side tables to the arena. Nothing is returned when an allocation
// failed, since the arena is then discarded as a whole.
func (o *Oracle) Close() {
	if o.arena == nil || o.arena.ShouldFree() {
		return
	}
	for i := range o.methods {
		o.arena.Free(o.methods[i].Code)
	}
	o.methods = nil
	o.fields = nil
}

func (o *Oracle) isExcluded(attr classfile.Attribute) bool {
	if o.excluded == nil {
		return false
	}
	return o.excluded[o.cf.String(attr.Name())]
}

func (o *Oracle) checkHeader() {
	cf := o.cf
	c := &o.class
	c.AccessFlags = cf.AccessFlags

	if cf.Tag(cf.ThisClass) != classfile.TagClass {
		o.fail(GenericError, "this_class %d is not a Class entry", cf.ThisClass)
		return
	}
	c.Name = uint16(cf.Entry(cf.ThisClass).Slot1)
	name := cf.ThisClassName()
	o.cp.Mark(cf.ThisClass)

	if o.opts.ExpectedClassName != "" && o.opts.ExpectedClassName != name {
		o.fail(ClassNameMismatch, "expected %s, found %s", o.opts.ExpectedClassName, name)
		return
	}
	if !o.opts.BootstrapLoader && strings.HasPrefix(name, "java/") {
		o.fail(IllegalPackageName, "prohibited package name: %s", classfile.PackageName(name))
		return
	}

	flags := cf.AccessFlags
	switch {
	case flags.IsInterface() && !flags.IsAbstract():
		o.fail(InvalidClassType, "interface %s is not abstract", name)
		return
	case flags.IsInterface() && flags.IsFinal():
		o.fail(InvalidClassType, "interface %s is final", name)
		return
	case flags.IsAnnotation() && !flags.IsInterface():
		o.fail(InvalidClassType, "annotation %s is not an interface", name)
		return
	case flags.IsFinal() && flags.IsAbstract():
		o.fail(InvalidClassType, "class %s is both final and abstract", name)
		return
	}

	if cf.SuperClass == 0 {
		if name != objectClassName {
			o.fail(GenericError, "class %s has no superclass", name)
		}
		return
	}
	if cf.Tag(cf.SuperClass) != classfile.TagClass {
		o.fail(GenericError, "super_class %d is not a Class entry", cf.SuperClass)
		return
	}
	c.SuperName = uint16(cf.Entry(cf.SuperClass).Slot1)
	o.cp.Mark(cf.SuperClass)
}

func (o *Oracle) markClass(idx uint16, what string) bool {
	if idx == 0 {
		return true
	}
	if o.cf.Tag(idx) != classfile.TagClass {
		o.fail(GenericError, "%s references %s entry %d, expected Class", what, o.cf.Tag(idx), idx)
		return false
	}
	o.cp.Mark(idx)
	return true
}

func (o *Oracle) markClasses(indices []uint16, what string) []uint16 {
	for _, idx := range indices {
		if !o.markClass(idx, what) {
			return nil
		}
	}
	return indices
}

func (o *Oracle) walkAttributes() {
	c := &o.class
	for _, attr := range o.cf.Attributes {
		if o.result != OK {
			return
		}
		if o.isExcluded(attr) {
			continue
		}
		switch a := attr.(type) {
		case *classfile.SourceFileAttribute:
			if o.opts.PreserveSourceFileName {
				c.SourceFile = a.SourceFileIndex
			}
		case *classfile.SourceDebugExtensionAttribute:
			if o.opts.PreserveSourceDebugExtension {
				c.SourceDebugExtension = a.Data
			}
		case *classfile.SignatureAttribute:
			c.Signature = a.SignatureIndex
		case *classfile.InnerClassesAttribute:
			o.walkInnerClasses(a)
		case *classfile.EnclosingMethodAttribute:
			if o.markClass(a.ClassIndex, "EnclosingMethod") {
				c.EnclosingClass = a.ClassIndex
				c.EnclosingMethod = a.MethodIndex
			}
		case *classfile.NestHostAttribute:
			if o.markClass(a.HostClassIndex, "NestHost") {
				c.NestHost = a.HostClassIndex
			}
		case *classfile.NestMembersAttribute:
			c.NestMembers = o.markClasses(a.Classes, "NestMembers")
		case *classfile.PermittedSubclassesAttribute:
			c.PermittedSubclasses = o.markClasses(a.Classes, "PermittedSubclasses")
		case *classfile.RecordAttribute:
			o.walkRecord(a)
		case *classfile.BootstrapMethodsAttribute:
			o.walkBootstrapMethods(a)
		case *classfile.AnnotationsAttribute:
			c.KnownAnnotations |= o.knownAnnotations(a.Annotations, classAnnotations)
			if a.Visible {
				c.Annotations = a
				o.markAnnotations(a.Annotations)
			}
		case *classfile.TypeAnnotationsAttribute:
			if a.Visible {
				c.TypeAnnotations = a
				o.markTypeAnnotations(a.Annotations)
			}
		case *classfile.MarkerAttribute:
			switch a.Marker {
			case classfile.AttrSynthetic:
				c.Synthetic = true
			case classfile.AttrDeprecated:
				c.Deprecated = true
			}
		}
	}
}

func (o *Oracle) walkInnerClasses(a *classfile.InnerClassesAttribute) {
	c := &o.class
	self := o.cf.ThisClassName()
	for _, ic := range a.Classes {
		if !o.markClass(ic.InnerClassInfoIndex, "InnerClasses") || !o.markClass(ic.OuterClassInfoIndex, "InnerClasses") {
			return
		}
		inner := o.cf.ClassName(ic.InnerClassInfoIndex)
		switch {
		case inner == self:
			c.OuterClass = ic.OuterClassInfoIndex
			c.SimpleName = ic.InnerNameIndex
			c.MemberAccessFlags = ic.AccessFlags
		case ic.OuterClassInfoIndex != 0 && o.cf.ClassName(ic.OuterClassInfoIndex) == self:
			c.InnerClasses = append(c.InnerClasses, ic.InnerClassInfoIndex)
		default:
			c.EnclosedInnerClasses = append(c.EnclosedInnerClasses, ic.InnerClassInfoIndex)
		}
	}
}

func (o *Oracle) walkRecord(a *classfile.RecordAttribute) {
	c := &o.class
	c.IsRecord = true
	seen := make(map[string]bool, len(a.Components))
	for _, rc := range a.Components {
		name := o.cf.String(rc.NameIndex)
		if seen[name] {
			o.fail(DuplicateName, "duplicate record component %s", name)
			return
		}
		seen[name] = true

		info := RecordComponentInfo{Name: rc.NameIndex, Descriptor: rc.DescriptorIndex}
		for _, attr := range rc.Attributes {
			if o.isExcluded(attr) {
				continue
			}
			switch ra := attr.(type) {
			case *classfile.SignatureAttribute:
				info.Signature = ra.SignatureIndex
			case *classfile.AnnotationsAttribute:
				if ra.Visible {
					info.Annotations = ra
					o.markAnnotations(ra.Annotations)
				}
			case *classfile.TypeAnnotationsAttribute:
				if ra.Visible {
					info.TypeAnnotations = ra
					o.markTypeAnnotations(ra.Annotations)
				}
			}
		}
		c.RecordComponents = append(c.RecordComponents, info)
	}
}

func (o *Oracle) walkBootstrapMethods(a *classfile.BootstrapMethodsAttribute) {
	for i, bsm := range a.Methods {
		if o.cf.Tag(bsm.MethodRef) != classfile.TagMethodHandle {
			o.fail(GenericError, "bootstrap method %d references %s entry", i, o.cf.Tag(bsm.MethodRef))
			return
		}
		o.cp.Mark(bsm.MethodRef)
		for _, arg := range bsm.Arguments {
			switch o.cf.Tag(arg) {
			case classfile.TagInvalid, classfile.TagUtf8, classfile.TagNameAndType:
				o.fail(GenericError, "bootstrap method %d has invalid argument %d", i, arg)
				return
			}
			o.cp.Mark(arg)
		}
	}
	o.class.BootstrapMethods = a.Methods
}

func (o *Oracle) walkInterfaces() {
	o.class.Interfaces = o.markClasses(o.cf.Interfaces, "interfaces")
}

func (o *Oracle) walkFields() {
	fields, _, err := arena.AllocSlice[FieldInfo](o.arena, len(o.cf.Fields))
	if err != nil {
		o.failErr(err)
		return
	}
	o.fields = fields
	seen := make(map[string]bool, len(o.cf.Fields))
	for i := range o.cf.Fields {
		if o.result != OK {
			return
		}
		f := &o.cf.Fields[i]
		key := o.cf.MemberName(f) + ":" + o.cf.MemberDescriptor(f)
		if seen[key] {
			o.fail(DuplicateName, "duplicate field %s", key)
			return
		}
		seen[key] = true
		o.walkField(f, &o.fields[i])
	}
}

func (o *Oracle) walkField(f *classfile.Member, info *FieldInfo) {
	desc := o.cf.MemberDescriptor(f)
	*info = FieldInfo{
		Name:        f.NameIndex,
		Descriptor:  f.DescriptorIndex,
		AccessFlags: f.AccessFlags,
		Category:    fieldCategory(f.AccessFlags, desc),
		Synthetic:   f.AccessFlags&classfile.AccSynthetic != 0,
	}
	c := &o.class
	switch info.Category {
	case FieldInstance:
		c.InstanceFieldCount++
	case FieldStaticSingle:
		c.SingleScalarStaticCount++
	case FieldStaticObject:
		c.ObjectStaticCount++
	case FieldStaticDouble:
		c.DoubleScalarStaticCount++
	}

	for _, attr := range f.Attributes {
		if o.result != OK {
			return
		}
		if o.isExcluded(attr) {
			continue
		}
		switch a := attr.(type) {
		case *classfile.ConstantValueAttribute:
			if f.AccessFlags.IsStatic() {
				o.markConstantValue(a.ValueIndex, desc, info)
			}
		case *classfile.SignatureAttribute:
			info.Signature = a.SignatureIndex
		case *classfile.AnnotationsAttribute:
			info.KnownAnnotations |= o.knownAnnotations(a.Annotations, fieldAnnotations)
			if a.Visible {
				info.Annotations = a
				o.markAnnotations(a.Annotations)
			}
		case *classfile.TypeAnnotationsAttribute:
			if a.Visible {
				info.TypeAnnotations = a
				o.markTypeAnnotations(a.Annotations)
			}
		case *classfile.MarkerAttribute:
			switch a.Marker {
			case classfile.AttrSynthetic:
				info.Synthetic = true
			case classfile.AttrDeprecated:
				info.Deprecated = true
			}
		}
	}
}

func (o *Oracle) markConstantValue(idx uint16, desc string, info *FieldInfo) {
	var want classfile.Tag
	switch desc {
	case "I", "B", "C", "S", "Z":
		want = classfile.TagInteger
	case "J":
		want = classfile.TagLong
	case "F":
		want = classfile.TagFloat
	case "D":
		want = classfile.TagDouble
	case "Ljava/lang/String;":
		want = classfile.TagString
	default:
		// Other reference types cannot carry a constant value.
		return
	}
	if o.cf.Tag(idx) != want {
		o.fail(GenericError, "constant value %d of field %s is %s, expected %s",
			idx, o.cf.String(info.Name), o.cf.Tag(idx), want)
		return
	}
	info.ConstantValue = idx
	o.cp.Mark(idx)
}

func (o *Oracle) computeMap() {
	if err := o.cp.ComputeMapAndSizes(); err != nil {
		o.failErr(err)
	}
}

func (o *Oracle) fixupPhase() {
	if err := o.ApplyFixups(); err != nil {
		o.failErr(err)
	}
}
