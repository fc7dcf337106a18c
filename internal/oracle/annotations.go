package oracle

import (
	"github.com/romclass/internal/classfile"
	"github.com/romclass/internal/cpmap"
)

// AnnotationSet records which annotations with VM meaning are present.
type AnnotationSet uint32

const (
	AnnContended AnnotationSet = 1 << iota
	AnnStable
	AnnNullRestricted
	AnnValueBased
	AnnImplicitlyConstructible
	AnnLooselyConsistentValue
	AnnCallerSensitive
	AnnLambdaFormCompiled
	AnnForceInline
	AnnDontInline
	AnnHidden
	AnnIntrinsicCandidate
	AnnScoped
)

func (s AnnotationSet) Has(a AnnotationSet) bool { return s&a != 0 }

var (
	fieldAnnotations = map[string]AnnotationSet{
		"Ljdk/internal/vm/annotation/Contended;":      AnnContended,
		"Lsun/misc/Contended;":                        AnnContended,
		"Ljdk/internal/vm/annotation/Stable;":         AnnStable,
		"Ljdk/internal/vm/annotation/NullRestricted;": AnnNullRestricted,
	}
	classAnnotations = map[string]AnnotationSet{
		"Ljdk/internal/ValueBased;":                            AnnValueBased,
		"Ljdk/internal/vm/annotation/Contended;":               AnnContended,
		"Lsun/misc/Contended;":                                 AnnContended,
		"Ljdk/internal/vm/annotation/ImplicitlyConstructible;": AnnImplicitlyConstructible,
		"Ljdk/internal/vm/annotation/LooselyConsistentValue;":  AnnLooselyConsistentValue,
	}
	methodAnnotations = map[string]AnnotationSet{
		"Lsun/reflect/CallerSensitive;":                   AnnCallerSensitive,
		"Ljdk/internal/reflect/CallerSensitive;":          AnnCallerSensitive,
		"Ljava/lang/invoke/LambdaForm$Compiled;":          AnnLambdaFormCompiled,
		"Ljdk/internal/vm/annotation/ForceInline;":        AnnForceInline,
		"Ljava/lang/invoke/ForceInline;":                  AnnForceInline,
		"Ljdk/internal/vm/annotation/DontInline;":         AnnDontInline,
		"Ljdk/internal/vm/annotation/Hidden;":             AnnHidden,
		"Ljava/lang/invoke/LambdaForm$Hidden;":            AnnHidden,
		"Ljdk/internal/vm/annotation/IntrinsicCandidate;": AnnIntrinsicCandidate,
		"Ljdk/internal/HotSpotIntrinsicCandidate;":        AnnIntrinsicCandidate,
		"Ljdk/internal/misc/ScopedMemoryAccess$Scoped;":   AnnScoped,
	}
)

// knownAnnotations returns the members of known found among the top-level annotations.
func (o *Oracle) knownAnnotations(anns []classfile.Annotation, known map[string]AnnotationSet) AnnotationSet {
	var set AnnotationSet
	for i := range anns {
		set |= known[o.cf.String(anns[i].TypeIndex)]
	}
	return set
}

// markAnnotations validates every annotation reachable from anns and marks the constants
// they reference. Utf8 references get annotation slots in the output pool.
func (o *Oracle) markAnnotations(anns []classfile.Annotation) {
	for i := range anns {
		if o.result != OK {
			return
		}
		o.markAnnotation(&anns[i])
	}
}

func (o *Oracle) markAnnotation(a *classfile.Annotation) {
	if !o.markAnnotationUTF8(a.TypeIndex) {
		return
	}
	for i := range a.Elements {
		if !o.markAnnotationUTF8(a.Elements[i].NameIndex) {
			return
		}
		o.markElementValue(&a.Elements[i].Value)
	}
}

func (o *Oracle) markAnnotationUTF8(idx uint16) bool {
	if o.cf.Tag(idx) != classfile.TagUtf8 {
		o.fail(InvalidAnnotation, "annotation references non-Utf8 entry %d", idx)
		return false
	}
	o.cp.MarkUse(idx, cpmap.UseAnnotationUTF8)
	return true
}

func (o *Oracle) markElementValue(v *classfile.ElementValue) {
	if o.result != OK {
		return
	}
	var want classfile.Tag
	switch v.Tag {
	case classfile.ElemByte, classfile.ElemChar, classfile.ElemInt, classfile.ElemShort, classfile.ElemBoolean:
		want = classfile.TagInteger
	case classfile.ElemDouble:
		want = classfile.TagDouble
	case classfile.ElemFloat:
		want = classfile.TagFloat
	case classfile.ElemLong:
		want = classfile.TagLong
	case classfile.ElemString, classfile.ElemClass:
		o.markAnnotationUTF8(v.ConstIndex)
		return
	case classfile.ElemEnum:
		if o.markAnnotationUTF8(v.EnumType) {
			o.markAnnotationUTF8(v.EnumConst)
		}
		return
	case classfile.ElemAnnotation:
		if v.Nested == nil {
			o.fail(InvalidAnnotation, "nested annotation missing")
			return
		}
		o.markAnnotation(v.Nested)
		return
	case classfile.ElemArray:
		for i := range v.Values {
			o.markElementValue(&v.Values[i])
		}
		return
	default:
		o.fail(InvalidAnnotation, "unknown element value tag %q", v.Tag)
		return
	}
	if o.cf.Tag(v.ConstIndex) != want {
		o.fail(InvalidAnnotation, "element value %q references %s entry %d", v.Tag, o.cf.Tag(v.ConstIndex), v.ConstIndex)
		return
	}
	o.cp.Mark(v.ConstIndex)
}

func (o *Oracle) markTypeAnnotations(anns []classfile.TypeAnnotation) {
	for i := range anns {
		if o.result != OK {
			return
		}
		o.markAnnotation(&anns[i].Annotation)
	}
}

func (o *Oracle) markParameterAnnotations(params [][]classfile.Annotation) {
	for _, anns := range params {
		o.markAnnotations(anns)
	}
}
