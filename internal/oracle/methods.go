package oracle

import (
	"github.com/romclass/internal/arena"
	"github.com/romclass/internal/classfile"
	"github.com/romclass/internal/cpmap"
)

// Object methods that are final and so never dispatched virtually.
var objectFinalMethods = map[string]bool{
	"getClass()Ljava/lang/Class;": true,
	"notify()V":                   true,
	"notifyAll()V":                true,
	"wait()V":                     true,
	"wait(J)V":                    true,
	"wait(JI)V":                   true,
}

func (o *Oracle) walkMethods() {
	methods, _, err := arena.AllocSlice[MethodInfo](o.arena, len(o.cf.Methods))
	if err != nil {
		o.failErr(err)
		return
	}
	o.methods = methods
	seen := make(map[string]bool, len(o.cf.Methods))
	for i := range o.cf.Methods {
		if o.result != OK {
			return
		}
		m := &o.cf.Methods[i]
		key := o.cf.MemberName(m) + o.cf.MemberDescriptor(m)
		if seen[key] {
			o.fail(DuplicateName, "duplicate method %s", key)
			return
		}
		seen[key] = true
		o.walkMethod(i, m, &o.methods[i])
		if n := o.methods[i].BranchCount; n > o.class.MaxBranchCount {
			o.class.MaxBranchCount = n
		}
	}
}

func (o *Oracle) walkMethod(index int, m *classfile.Member, info *MethodInfo) {
	name := o.cf.MemberName(m)
	desc := o.cf.MemberDescriptor(m)
	args, ret, err := classfile.ParseMethodDescriptor(desc)
	if err != nil {
		o.fail(GenericError, "method %s: %v", name, err)
		return
	}
	*info = MethodInfo{
		Index:       index,
		Name:        m.NameIndex,
		Descriptor:  m.DescriptorIndex,
		AccessFlags: m.AccessFlags,
		ArgTypes:    args,
		ReturnType:  ret,
	}
	info.SendSlots, _ = classfile.ArgumentSlots(desc)
	if !m.AccessFlags.IsStatic() {
		info.SendSlots++
	}

	switch {
	case name == initName:
		info.Flags |= MethodObjectConstructor
	case name == clinitName:
		info.Flags |= MethodClassInitializer
	case name == "finalize" && desc == "()V" && !m.AccessFlags.IsStatic():
		info.Flags |= MethodFinalizer
		o.class.HasFinalizer = true
	}
	if !m.AccessFlags.IsStatic() && !m.AccessFlags.IsPrivate() && name != initName {
		info.Flags |= MethodVTable
	}

	var lvt, lvtt []classfile.LocalVariable
	for _, attr := range m.Attributes {
		if o.result != OK {
			return
		}
		if o.isExcluded(attr) {
			continue
		}
		switch a := attr.(type) {
		case *classfile.CodeAttribute:
			o.walkCodeAttribute(info, a, &lvt, &lvtt)
		case *classfile.ExceptionsAttribute:
			info.ThrownExceptions = o.markClasses(a.Exceptions, "Exceptions")
		case *classfile.SignatureAttribute:
			info.Signature = a.SignatureIndex
			info.Flags |= MethodHasGenericSignature
		case *classfile.AnnotationsAttribute:
			info.KnownAnnotations |= o.knownAnnotations(a.Annotations, methodAnnotations)
			if a.Visible {
				info.Annotations = a
				info.Flags |= MethodHasAnnotations
				o.markAnnotations(a.Annotations)
			}
		case *classfile.ParameterAnnotationsAttribute:
			if a.Visible {
				info.ParameterAnnotations = a
				info.Flags |= MethodHasParameterAnnotations
				o.markParameterAnnotations(a.Parameters)
			}
		case *classfile.TypeAnnotationsAttribute:
			if a.Visible {
				info.TypeAnnotations = a
				info.Flags |= MethodHasTypeAnnotations
				o.markTypeAnnotations(a.Annotations)
			}
		case *classfile.AnnotationDefaultAttribute:
			info.DefaultAnnotation = a
			info.Flags |= MethodHasDefaultAnnotation
			o.markElementValue(&a.Value)
		case *classfile.MethodParametersAttribute:
			info.MethodParameters = a.Parameters
			info.Flags |= MethodHasMethodParameters
		case *classfile.MarkerAttribute:
			if a.Marker == classfile.AttrDeprecated {
				info.Flags |= MethodDeprecated
			}
		}
	}
	if o.result != OK {
		return
	}

	o.buildLocalVariables(info, lvt, lvtt)
	if len(info.ExceptionHandlers) > 0 || len(info.ThrownExceptions) > 0 {
		info.Flags |= MethodHasExceptionInfo
	}
	if info.LineNumberCount > 0 || len(info.LocalVariables) > 0 {
		info.Flags |= MethodHasDebugInfo
	}
}

func (o *Oracle) walkCodeAttribute(info *MethodInfo, code *classfile.CodeAttribute, lvt, lvtt *[]classfile.LocalVariable) {
	if len(code.Code) == 0 || len(code.Code) > 65535 {
		o.fail(InvalidBytecodeSize, "method %s has %d bytes of code", o.cf.String(info.Name), len(code.Code))
		return
	}
	info.MaxStack = code.MaxStack
	info.MaxLocals = code.MaxLocals
	o.classifyShape(info, code.Code)

	for _, h := range code.ExceptionTable {
		if !o.markClass(h.CatchType, "exception handler") {
			return
		}
	}
	info.ExceptionHandlers = code.ExceptionTable

	o.rewriteCode(info, code.Code)
	if o.result != OK {
		return
	}

	var lines []classfile.LineNumber
	for _, attr := range code.Attributes {
		if o.result != OK {
			return
		}
		if o.isExcluded(attr) {
			continue
		}
		switch a := attr.(type) {
		case *classfile.LineNumberTableAttribute:
			lines = append(lines, a.Entries...)
		case *classfile.LocalVariableTableAttribute:
			*lvt = append(*lvt, a.Entries...)
		case *classfile.LocalVariableTypeTableAttribute:
			*lvtt = append(*lvtt, a.Entries...)
		case *classfile.StackMapTableAttribute:
			if info.StackMap == nil {
				o.walkStackMap(info, a)
			}
		case *classfile.TypeAnnotationsAttribute:
			if a.Visible && info.CodeTypeAnnotations == nil {
				info.CodeTypeAnnotations = a
				info.Flags |= MethodHasCodeTypeAnnotations
				o.markTypeAnnotations(a.Annotations)
			}
		}
	}
	if o.opts.PreserveLineNumbers && len(lines) > 0 {
		o.compressLineNumbers(info, lines)
	}
}

// classifyShape inspects the original bytecode for the empty and getter shapes.
func (o *Oracle) classifyShape(info *MethodInfo, code []byte) {
	if len(code) == 1 && code[0] == classfile.OpReturn {
		info.Flags |= MethodEmpty
		return
	}
	if info.AccessFlags.IsStatic() || len(code) != 5 {
		return
	}
	if code[0] != classfile.OpAload0 || code[1] != classfile.OpGetfield {
		return
	}
	ref := uint16(code[2])<<8 | uint16(code[3])
	if o.cf.Tag(ref) != classfile.TagFieldref {
		return
	}
	_, _, fieldDesc := o.cf.MemberRef(ref)
	if code[4] == typedReturn(classfile.ReturnChar(fieldDesc)) {
		info.Flags |= MethodGetter
	}
}

func typedReturn(t byte) byte {
	switch t {
	case 'I', 'B', 'C', 'S', 'Z':
		return classfile.OpIreturn
	case 'J':
		return classfile.OpLreturn
	case 'F':
		return classfile.OpFreturn
	case 'D':
		return classfile.OpDreturn
	case 'L', '[':
		return classfile.OpAreturn
	}
	return 0
}

func (o *Oracle) walkStackMap(info *MethodInfo, a *classfile.StackMapTableAttribute) {
	mark := func(types []classfile.VerificationType) bool {
		for _, vt := range types {
			if vt.Tag != classfile.ItemObject {
				continue
			}
			if _, ok := PrimitiveArrayTag(o.cf.ClassName(vt.Data)); ok {
				continue
			}
			if !o.markClass(vt.Data, "stack map") {
				return false
			}
		}
		return true
	}
	for i := range a.Frames {
		if !mark(a.Frames[i].Locals) || !mark(a.Frames[i].Stack) {
			return
		}
	}
	info.StackMap = a.Frames
	if info.StackMap == nil {
		info.StackMap = []classfile.StackMapFrame{}
	}
	info.Flags |= MethodHasStackMap
}

// PrimitiveArrayTag returns the dedicated verification tag for one-dimensional primitive
// array classes such as "[I".
func PrimitiveArrayTag(className string) (uint8, bool) {
	if len(className) != 2 || className[0] != '[' {
		return 0, false
	}
	switch className[1] {
	case 'Z':
		return 9, true
	case 'B':
		return 10, true
	case 'C':
		return 11, true
	case 'S':
		return 12, true
	case 'I':
		return 13, true
	case 'J':
		return 14, true
	case 'F':
		return 15, true
	case 'D':
		return 16, true
	}
	return 0, false
}

// buildLocalVariables joins LocalVariableTypeTable entries onto their LocalVariableTable
// counterparts, matched on start pc, length and slot. Every type-table entry must have one.
func (o *Oracle) buildLocalVariables(info *MethodInfo, lvt, lvtt []classfile.LocalVariable) {
	locals := make([]LocalVariableInfo, len(lvt))
	for i, lv := range lvt {
		locals[i] = LocalVariableInfo{LocalVariable: lv}
	}
	for _, tv := range lvtt {
		matched := false
		for i := range locals {
			lv := &locals[i]
			if lv.StartPC == tv.StartPC && lv.Length == tv.Length && lv.Index == tv.Index {
				lv.Signature = tv.DescriptorIndex
				matched = true
				break
			}
		}
		if !matched {
			o.fail(GenericErrorCustomMsg,
				"method %s: LocalVariableTypeTable entry %s (slot %d, pc %d) has no matching LocalVariableTable entry",
				o.cf.String(info.Name), o.cf.String(tv.NameIndex), tv.Index, tv.StartPC)
			return
		}
	}
	if o.opts.PreserveLocalVariables {
		info.LocalVariables = locals
	}
}

// isDeclaredPrivateOrFinal reports whether this class declares name+desc as a private or
// final method.
func (o *Oracle) isDeclaredPrivateOrFinal(name, desc string) bool {
	for i := range o.cf.Methods {
		m := &o.cf.Methods[i]
		if m.AccessFlags&(classfile.AccPrivate|classfile.AccFinal) == 0 {
			continue
		}
		if o.cf.MemberName(m) == name && o.cf.MemberDescriptor(m) == desc {
			return true
		}
	}
	return false
}

// virtualUse decides how an invokevirtual of ref is dispatched.
func (o *Oracle) virtualUse(ref uint16) cpmap.UseKind {
	class, name, desc := o.cf.MemberRef(ref)
	switch class {
	case "java/lang/invoke/MethodHandle":
		switch name {
		case "invokeExact":
			return cpmap.UseInvokeHandleExact
		case "invoke", "invokeBasic":
			return cpmap.UseInvokeHandleGeneric
		}
	case "java/lang/invoke/VarHandle":
		if varHandleAccessModes[name] {
			return cpmap.UseInvokeHandleGeneric
		}
	case objectClassName:
		if objectFinalMethods[name+desc] {
			return cpmap.UseInvokeSpecial
		}
	}
	if class == o.cf.ThisClassName() && o.isDeclaredPrivateOrFinal(name, desc) {
		return cpmap.UseInvokeSpecial
	}
	return cpmap.UseInvokeVirtual
}

var varHandleAccessModes = map[string]bool{
	"get": true, "set": true,
	"getVolatile": true, "setVolatile": true,
	"getAcquire": true, "setRelease": true,
	"getOpaque": true, "setOpaque": true,
	"compareAndSet": true, "compareAndExchange": true,
	"compareAndExchangeAcquire": true, "compareAndExchangeRelease": true,
	"weakCompareAndSetPlain": true, "weakCompareAndSet": true,
	"weakCompareAndSetAcquire": true, "weakCompareAndSetRelease": true,
	"getAndSet": true, "getAndSetAcquire": true, "getAndSetRelease": true,
	"getAndAdd": true, "getAndAddAcquire": true, "getAndAddRelease": true,
	"getAndBitwiseOr": true, "getAndBitwiseOrAcquire": true, "getAndBitwiseOrRelease": true,
	"getAndBitwiseAnd": true, "getAndBitwiseAndAcquire": true, "getAndBitwiseAndRelease": true,
	"getAndBitwiseXor": true, "getAndBitwiseXorAcquire": true, "getAndBitwiseXorRelease": true,
}
