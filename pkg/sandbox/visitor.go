package sandbox

import (
	"fmt"

	"github.com/daimatz/sandbox/pkg/classfile"
)

// classfileCode is a local alias kept so instruction.go doesn't have to
// import classfile directly just to name the type it decodes.
type classfileCode = classfile.CodeAttribute

// JVM opcodes this decoder/encoder needs to name explicitly, either because
// they carry a structured operand (pool index, branch target, local slot)
// or because their width varies. Values are standard JVM bytecode values.
const (
	opBipush          = 0x10
	opSipush          = 0x11
	opLdc             = 0x12
	opLdcW            = 0x13
	opLdc2W           = 0x14
	opIload           = 0x15
	opLload           = 0x16
	opFload           = 0x17
	opDload           = 0x18
	opAload           = 0x19
	opIstore          = 0x36
	opLstore          = 0x37
	opFstore          = 0x38
	opDstore          = 0x39
	opAstore          = 0x3A
	opNewarray        = 0xBC
	opGetstatic       = 0xB2
	opPutstatic       = 0xB3
	opGetfield        = 0xB4
	opPutfield        = 0xB5
	opInvokevirtual   = 0xB6
	opInvokespecial   = 0xB7
	opInvokestatic    = 0xB8
	opInvokeinterface = 0xB9
	opInvokedynamic   = 0xBA
	opNew             = 0xBB
	opAnewarray       = 0xBD
	opCheckcast       = 0xC0
	opInstanceof      = 0xC1
	opMultianewarray  = 0xC5
	opGoto            = 0xA7
	opJsr             = 0xA8
	opRet             = 0xA9
	opIfeq            = 0x99
	opIfne            = 0x9A
	opIflt            = 0x9B
	opIfge            = 0x9C
	opIfgt            = 0x9D
	opIfle            = 0x9E
	opIfIcmpeq        = 0x9F
	opIfIcmpne        = 0xA0
	opIfIcmplt        = 0xA1
	opIfIcmpge        = 0xA2
	opIfIcmpgt        = 0xA3
	opIfIcmple        = 0xA4
	opIfAcmpeq        = 0xA5
	opIfAcmpne        = 0xA6
	opIfnull          = 0xC6
	opIfnonnull       = 0xC7
	opGotoW           = 0xC8
	opJsrW            = 0xC9
	opTableswitch     = 0xAA
	opLookupswitch    = 0xAB
	opIinc            = 0x84
	opWide            = 0xC4
)

// OpAthrow, OpNew and friends are referenced by emitters.go by name, kept
// consistent with the teacher's naming style (Op-prefixed exported
// constants) for the instructions providers/emitters need to recognize.
const (
	OpAthrow           = 0xBF
	OpNew              = opNew
	OpNewarray         = opNewarray
	OpAnewarray        = opAnewarray
	OpMultianewarray   = opMultianewarray
	OpInvokestatic     = opInvokestatic
	OpInvokevirtual    = opInvokevirtual
	OpInvokespecial    = opInvokespecial
	OpInvokeinterface  = opInvokeinterface
	OpInvokedynamic    = opInvokedynamic
	OpReturn           = 0xB1
)

// fixedOperandWidths gives the trailing-operand byte width of every plain
// (no structural operand) opcode this decoder recognizes. Opcodes absent
// from both this map and the structural switch in decodeInstructions are
// rejected as unsupported.
var fixedOperandWidths = map[uint8]int{
	0x00: 0, 0x01: 0, 0x02: 0, 0x03: 0, 0x04: 0, 0x05: 0, 0x06: 0, 0x07: 0, 0x08: 0,
	0x09: 0, 0x0A: 0, 0x0B: 0, 0x0C: 0, 0x0D: 0, 0x0E: 0, 0x0F: 0,
	0x1A: 0, 0x1B: 0, 0x1C: 0, 0x1D: 0, 0x1E: 0, 0x1F: 0, 0x20: 0, 0x21: 0,
	0x22: 0, 0x23: 0, 0x24: 0, 0x25: 0, 0x26: 0, 0x27: 0, 0x28: 0, 0x29: 0,
	0x2A: 0, 0x2B: 0, 0x2C: 0, 0x2D: 0, 0x2E: 0, 0x2F: 0, 0x30: 0, 0x31: 0,
	0x32: 0, 0x33: 0, 0x34: 0, 0x35: 0,
	0x3B: 0, 0x3C: 0, 0x3D: 0, 0x3E: 0, 0x3F: 0, 0x40: 0, 0x41: 0, 0x42: 0,
	0x43: 0, 0x44: 0, 0x45: 0, 0x46: 0, 0x47: 0, 0x48: 0, 0x49: 0, 0x4A: 0,
	0x4B: 0, 0x4C: 0, 0x4D: 0, 0x4E: 0, 0x4F: 0, 0x50: 0, 0x51: 0, 0x52: 0,
	0x53: 0, 0x54: 0, 0x55: 0, 0x56: 0, 0x57: 0, 0x58: 0, 0x59: 0, 0x5A: 0,
	0x5B: 0, 0x5C: 0, 0x5D: 0, 0x5E: 0, 0x5F: 0, 0x60: 0, 0x61: 0, 0x62: 0,
	0x63: 0, 0x64: 0, 0x65: 0, 0x66: 0, 0x67: 0, 0x68: 0, 0x69: 0, 0x6A: 0,
	0x6B: 0, 0x6C: 0, 0x6D: 0, 0x6E: 0, 0x6F: 0, 0x70: 0, 0x71: 0, 0x72: 0,
	0x73: 0, 0x74: 0, 0x75: 0, 0x76: 0, 0x77: 0, 0x78: 0, 0x79: 0, 0x7A: 0,
	0x7B: 0, 0x7C: 0, 0x7D: 0, 0x7E: 0, 0x7F: 0, 0x80: 0, 0x81: 0, 0x82: 0,
	0x83: 0,
	0x85: 0, 0x86: 0, 0x87: 0, 0x88: 0, 0x89: 0, 0x8A: 0, 0x8B: 0, 0x8C: 0,
	0x8D: 0, 0x8E: 0, 0x8F: 0, 0x90: 0, 0x91: 0, 0x92: 0, 0x93: 0, 0x94: 0,
	0x95: 0, 0x96: 0, 0x97: 0, 0x98: 0,
	0xAC: 0, 0xAD: 0, 0xAE: 0, 0xAF: 0, 0xB0: 0, 0xB1: 0,
	0xBE: 0, 0xBF: 0,
	0xC2: 0, 0xC3: 0,
}

// constantPoolView is the narrow read interface instruction decoding needs
// over a class's constant pool; satisfied by poolView below.
type constantPoolView interface {
	resolveFieldref(index uint16) (owner, name, descriptor string, err error)
	resolveMethodref(index uint16) (owner, name, descriptor string, err error)
	resolveInterfaceMethodref(index uint16) (owner, name, descriptor string, err error)
	resolveInvokeDynamic(index uint16) (name, descriptor string, bootstrapIndex uint16, err error)
	resolveClassName(index uint16) (string, error)
	resolveLdcConstant(index uint16) (*ConstantLiteral, error)
}

type poolView struct {
	pool []classfile.ConstantPoolEntry
}

func (p poolView) resolveFieldref(index uint16) (string, string, string, error) {
	ref, err := classfile.ResolveFieldref(p.pool, index)
	if err != nil {
		return "", "", "", err
	}
	return ref.ClassName, ref.FieldName, ref.Descriptor, nil
}

func (p poolView) resolveMethodref(index uint16) (string, string, string, error) {
	ref, err := classfile.ResolveMethodref(p.pool, index)
	if err != nil {
		return "", "", "", err
	}
	return ref.ClassName, ref.MethodName, ref.Descriptor, nil
}

func (p poolView) resolveInterfaceMethodref(index uint16) (string, string, string, error) {
	ref, err := classfile.ResolveInterfaceMethodref(p.pool, index)
	if err != nil {
		return "", "", "", err
	}
	return ref.ClassName, ref.MethodName, ref.Descriptor, nil
}

func (p poolView) resolveInvokeDynamic(index uint16) (string, string, uint16, error) {
	nat, bootstrapIdx, err := classfile.ResolveInvokeDynamic(p.pool, index)
	if err != nil {
		return "", "", 0, err
	}
	return nat.Name, nat.Descriptor, bootstrapIdx, nil
}

func (p poolView) resolveClassName(index uint16) (string, error) {
	return classfile.GetClassName(p.pool, index)
}

// resolveLdcConstant resolves the value an ldc/ldc_w/ldc2_w instruction
// pushes, covering every literal kind the rewriter can re-emit. Method
// handle/type and dynamic constants are rejected: the sandbox has no
// invokedynamic support to resolve them against (spec Non-goals).
func (p poolView) resolveLdcConstant(index uint16) (*ConstantLiteral, error) {
	if int(index) >= len(p.pool) || p.pool[index] == nil {
		return nil, fmt.Errorf("invalid constant pool index %d", index)
	}
	switch c := p.pool[index].(type) {
	case *classfile.ConstantInteger:
		return &ConstantLiteral{Tag: classfile.TagInteger, Int32: c.Value}, nil
	case *classfile.ConstantFloat:
		return &ConstantLiteral{Tag: classfile.TagFloat, Float32: c.Value}, nil
	case *classfile.ConstantLong:
		return &ConstantLiteral{Tag: classfile.TagLong, Int64: c.Value}, nil
	case *classfile.ConstantDouble:
		return &ConstantLiteral{Tag: classfile.TagDouble, Float64: c.Value}, nil
	case *classfile.ConstantString:
		s, err := classfile.GetUtf8(p.pool, c.StringIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving ldc string: %w", err)
		}
		return &ConstantLiteral{Tag: classfile.TagString, String: s}, nil
	case *classfile.ConstantClass:
		name, err := classfile.GetUtf8(p.pool, c.NameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving ldc class literal: %w", err)
		}
		return &ConstantLiteral{Tag: classfile.TagClass, IsClass: true, String: name}, nil
	default:
		return nil, fmt.Errorf("ldc of unsupported constant kind (tag=%d) at index %d", p.pool[index].Tag(), index)
	}
}

// MaterializedClass is the immutable parsed view of a class the visitor
// streams over: header fields plus the decoded member list. It wraps a
// classfile.ClassFile with its members' code pre-decoded into label-
// addressed form.
type MaterializedClass struct {
	Name             string
	SuperName        string
	Interfaces       []string
	AccessFlags      uint16
	MinorVersion     uint16
	MajorVersion     uint16
	Fields           []Member
	Methods          []Member
	BootstrapMethods []classfile.BootstrapMethod
	Raw              *classfile.ClassFile
}

// Member mirrors the spec's Member: a class/name/signature/access tuple
// plus a body. For a field, Code is nil. For a method, Code holds the
// label-addressed instruction list (nil for abstract/native methods prior
// to rewriting).
type Member struct {
	ClassName  string
	MemberName string
	Signature  string
	Access     uint16
	Code       *DecodedCode
	IsField    bool
}

// IsNative reports the ACC_NATIVE bit.
func (m *Member) IsNative() bool { return m.Access&classfile.AccNative != 0 }

// IsFinalizer reports whether this member is finalize()V.
func (m *Member) IsFinalizer() bool { return m.MemberName == "finalize" && m.Signature == "()V" }

// Visitor streams a MaterializedClass, decoding its constant-pool-bound
// raw form once so both the analysis pass (C4 rules) and the rewrite pass
// (C5/C6/C7) see the same structural view.
type Visitor struct {
	resolver *ClassResolver
}

// NewVisitor builds a Visitor bound to the given resolver. Materialize and
// WalkReferences do not consult it; references are recorded by their
// original names.
func NewVisitor(resolver *ClassResolver) *Visitor {
	return &Visitor{resolver: resolver}
}

// Materialize decodes a parsed classfile.ClassFile into a MaterializedClass,
// decoding every method's Code attribute into label-addressed form.
func (v *Visitor) Materialize(cf *classfile.ClassFile) (*MaterializedClass, error) {
	name, err := cf.ClassName()
	if err != nil {
		return nil, fmt.Errorf("materializing class: %w", err)
	}
	pv := poolView{pool: cf.ConstantPool}

	interfaces := make([]string, len(cf.Interfaces))
	for i, idx := range cf.Interfaces {
		ifaceName, err := classfile.GetClassName(cf.ConstantPool, idx)
		if err != nil {
			return nil, fmt.Errorf("resolving interface %d of %s: %w", i, name, err)
		}
		interfaces[i] = ifaceName
	}

	fields := make([]Member, len(cf.Fields))
	for i, f := range cf.Fields {
		fields[i] = Member{ClassName: name, MemberName: f.Name, Signature: f.Descriptor, Access: f.AccessFlags, IsField: true}
	}

	methods := make([]Member, len(cf.Methods))
	for i, m := range cf.Methods {
		member := Member{ClassName: name, MemberName: m.Name, Signature: m.Descriptor, Access: m.AccessFlags}
		if m.Code != nil {
			decoded, err := decodeInstructions(m.Code, pv)
			if err != nil {
				return nil, fmt.Errorf("decoding %s.%s%s: %w", name, m.Name, m.Descriptor, err)
			}
			member.Code = decoded
		}
		methods[i] = member
	}

	return &MaterializedClass{
		Name:             name,
		SuperName:        cf.SuperClassName(),
		Interfaces:       interfaces,
		AccessFlags:      cf.AccessFlags,
		MinorVersion:     cf.MinorVersion,
		MajorVersion:     cf.MajorVersion,
		Fields:           fields,
		Methods:          methods,
		BootstrapMethods: cf.BootstrapMethods,
		Raw:              cf,
	}, nil
}

// WalkReferences visits every field access, method call, dynamic invoke and
// type operation across a class's methods and reports an EntityReference
// for each, recording it into ctx attributed to originClass. This is the
// "reference observed" callback the spec describes, implemented as a
// direct walk rather than a push-based callback interface since every
// current consumer (rules, validator seeding) wants the full list anyway.
func (v *Visitor) WalkReferences(mc *MaterializedClass, ctx *AnalysisContext, originClass string) {
	for _, m := range mc.Methods {
		if m.Code == nil {
			continue
		}
		offset := 0
		for _, instr := range m.Code.Instrs {
			loc := Location{ClassName: mc.Name, MemberName: m.MemberName, InstructionOffset: offset}
			switch instr.Kind {
			case KindFieldAccess:
				ctx.RecordReference(MemberReference(instr.OwnerClass, instr.MemberName, instr.Descriptor), loc, originClass)
			case KindMethodCall:
				ctx.RecordReference(MemberReference(instr.OwnerClass, instr.MemberName, instr.Descriptor), loc, originClass)
			case KindTypeOp:
				ctx.RecordReference(ClassReference(instr.TypeName), loc, originClass)
			case KindDynamicInvoke:
				ctx.RecordReference(ClassReference("java/lang/invoke/MethodHandle"), loc, originClass)
			}
			offset++
		}
	}
	if mc.SuperName != "" {
		ctx.RecordReference(ClassReference(mc.SuperName), Location{ClassName: mc.Name}, originClass)
	}
	for _, iface := range mc.Interfaces {
		ctx.RecordReference(ClassReference(iface), Location{ClassName: mc.Name}, originClass)
	}
}
