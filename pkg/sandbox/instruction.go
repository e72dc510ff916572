package sandbox

import (
	"encoding/binary"
	"fmt"
)

// InstrKind classifies an Instr by which operand shape it carries, mirroring
// the sub-variants the Class/Member Visitor emits (field access, method
// call, dynamic invocation, type operation, branch, constant, generic).
type InstrKind int

const (
	KindPlain InstrKind = iota
	KindConstant
	KindFieldAccess
	KindMethodCall
	KindDynamicInvoke
	KindTypeOp
	KindBranch
	KindSwitch
	KindLocal
	KindLabel
)

// ConstantLiteral is the resolved value of a KindConstant instruction's
// operand, captured at decode time so the code builder re-interns the
// actual value into a fresh constant pool instead of reusing an index into
// the original class's pool (which CodeBuilder never builds against).
type ConstantLiteral struct {
	Tag     uint8 // classfile.Tag* of the original constant pool entry
	IsClass bool  // true: an ldc of a Class literal (Foo.class)
	Int32   int32
	Int64   int64
	Float32 float32
	Float64 float64
	String  string // String/Utf8 text, or the internal class name when IsClass
}

// Instr is one entry of a label-addressed instruction list: the internal
// form the rewriter operates over so that inserting cost-accounting or
// stub instructions never requires hand-adjusting downstream branch offsets
// or exception-table entries. A final layout pass (CodeBuilder) resolves
// labels to concrete byte offsets when serializing.
type Instr struct {
	Kind   InstrKind
	Opcode uint8

	// KindConstant. ConstantIndex is the original pool index, kept only for
	// diagnostics; Literal is what CodeBuilder actually re-interns. A
	// synthetic constant built directly by a definition provider (not
	// decoded from a class file) sets ConstantIndex to 0 and Raw to the
	// literal's UTF-8 bytes instead of populating Literal.
	ConstantIndex uint16
	Literal       *ConstantLiteral
	IntImmediate  int32 // bipush/sipush/iinc increment

	// KindFieldAccess, KindMethodCall
	OwnerClass  string
	MemberName  string
	Descriptor  string
	IsInterface bool // invokeinterface

	// KindDynamicInvoke
	BootstrapIndex uint16

	// KindTypeOp (new, anewarray, checkcast, instanceof, multianewarray)
	TypeName  string
	Dimension uint8 // multianewarray only

	// KindBranch
	Target string // label name

	// KindSwitch
	DefaultTarget string
	LowValue      int32
	CaseValues    []int32
	CaseTargets   []string

	// KindLocal (iload/istore/..., ret and iinc with an explicit index,
	// including their wide forms; the _n short forms stay KindPlain)
	LocalIndex int

	// KindLabel: Opcode/other fields unused; Label names this position so
	// branches can target it.
	Label string

	// Raw carries any trailing operand bytes this decoder doesn't break out
	// structurally (e.g. array-type byte for newarray); re-emitted verbatim.
	Raw []byte
}

// ExceptionRange is a label-addressed exception-table entry: StartLabel and
// EndLabel bound the protected range, HandlerLabel is where control
// transfers, and CatchType is the internal class name of the caught type
// ("" for a catch-all / finally handler).
type ExceptionRange struct {
	StartLabel   string
	EndLabel     string
	HandlerLabel string
	CatchType    string
}

// DecodedCode is the label-addressed form of a CodeAttribute: an
// instruction list plus exception ranges, both referencing symbolic labels
// instead of byte offsets.
type DecodedCode struct {
	MaxStack    uint16
	MaxLocals   uint16
	Instrs      []*Instr
	Exceptions  []*ExceptionRange
}

func labelAt(offset int) string { return fmt.Sprintf("L%d", offset) }

// decodeInstructions turns a raw Code attribute into a label-addressed
// DecodedCode. Every byte offset that's a branch target, exception
// boundary, or handler entry gets a synthetic KindLabel instruction spliced
// in immediately before the instruction at that offset, so downstream
// passes can insert/delete instructions without touching offset arithmetic.
func decodeInstructions(code *classfileCode, pool constantPoolView) (*DecodedCode, error) {
	targets := map[int]bool{}
	bytes := code.Code

	// First pass: decode positionally to discover every branch/switch
	// target offset (needed before we can decide where to splice labels).
	type rawInstr struct {
		offset int
		instr  *Instr
		width  int
	}
	var raw []rawInstr

	pc := 0
	for pc < len(bytes) {
		start := pc
		opcode := bytes[pc]
		pc++
		instr := &Instr{Opcode: opcode, Kind: KindPlain}

		switch opcode {
		case opBipush:
			instr.IntImmediate = int32(int8(bytes[pc]))
			pc++
		case opSipush:
			instr.IntImmediate = int32(int16(binary.BigEndian.Uint16(bytes[pc:])))
			pc += 2
		case opLdc:
			instr.Kind = KindConstant
			instr.ConstantIndex = uint16(bytes[pc])
			pc++
			lit, err := pool.resolveLdcConstant(instr.ConstantIndex)
			if err != nil {
				return nil, fmt.Errorf("decoding ldc at offset %d: %w", start, err)
			}
			instr.Literal = lit
		case opLdcW, opLdc2W:
			instr.Kind = KindConstant
			instr.ConstantIndex = binary.BigEndian.Uint16(bytes[pc:])
			pc += 2
			lit, err := pool.resolveLdcConstant(instr.ConstantIndex)
			if err != nil {
				return nil, fmt.Errorf("decoding ldc_w/ldc2_w at offset %d: %w", start, err)
			}
			instr.Literal = lit
		case opIload, opLload, opFload, opDload, opAload,
			opIstore, opLstore, opFstore, opDstore, opAstore, opRet:
			instr.Kind = KindLocal
			instr.LocalIndex = int(bytes[pc])
			pc++
		case opIinc:
			instr.Kind = KindLocal
			instr.LocalIndex = int(bytes[pc])
			instr.IntImmediate = int32(int8(bytes[pc+1]))
			pc += 2
		case opGetstatic, opPutstatic, opGetfield, opPutfield:
			instr.Kind = KindFieldAccess
			idx := binary.BigEndian.Uint16(bytes[pc:])
			pc += 2
			owner, name, desc, err := pool.resolveFieldref(idx)
			if err != nil {
				return nil, fmt.Errorf("decoding field access at offset %d: %w", start, err)
			}
			instr.OwnerClass, instr.MemberName, instr.Descriptor = owner, name, desc
		case opInvokevirtual, opInvokespecial, opInvokestatic:
			instr.Kind = KindMethodCall
			idx := binary.BigEndian.Uint16(bytes[pc:])
			pc += 2
			owner, name, desc, err := pool.resolveMethodref(idx)
			if err != nil {
				return nil, fmt.Errorf("decoding method call at offset %d: %w", start, err)
			}
			instr.OwnerClass, instr.MemberName, instr.Descriptor = owner, name, desc
		case opInvokeinterface:
			instr.Kind = KindMethodCall
			instr.IsInterface = true
			idx := binary.BigEndian.Uint16(bytes[pc:])
			pc += 2
			pc += 2 // count byte + reserved zero byte
			owner, name, desc, err := pool.resolveInterfaceMethodref(idx)
			if err != nil {
				return nil, fmt.Errorf("decoding interface method call at offset %d: %w", start, err)
			}
			instr.OwnerClass, instr.MemberName, instr.Descriptor = owner, name, desc
		case opInvokedynamic:
			instr.Kind = KindDynamicInvoke
			idx := binary.BigEndian.Uint16(bytes[pc:])
			pc += 2
			pc += 2 // reserved zero bytes
			name, desc, bootstrapIdx, err := pool.resolveInvokeDynamic(idx)
			if err != nil {
				return nil, fmt.Errorf("decoding invokedynamic at offset %d: %w", start, err)
			}
			instr.MemberName, instr.Descriptor, instr.BootstrapIndex = name, desc, bootstrapIdx
		case opNew, opAnewarray, opCheckcast, opInstanceof:
			instr.Kind = KindTypeOp
			idx := binary.BigEndian.Uint16(bytes[pc:])
			pc += 2
			name, err := pool.resolveClassName(idx)
			if err != nil {
				return nil, fmt.Errorf("decoding type op at offset %d: %w", start, err)
			}
			instr.TypeName = name
		case opMultianewarray:
			instr.Kind = KindTypeOp
			idx := binary.BigEndian.Uint16(bytes[pc:])
			pc += 2
			instr.Dimension = bytes[pc]
			pc++
			name, err := pool.resolveClassName(idx)
			if err != nil {
				return nil, fmt.Errorf("decoding multianewarray at offset %d: %w", start, err)
			}
			instr.TypeName = name
		case opNewarray:
			instr.Raw = []byte{bytes[pc]}
			pc++
		case opGoto, opJsr, opIfeq, opIfne, opIflt, opIfge, opIfgt, opIfle,
			opIfIcmpeq, opIfIcmpne, opIfIcmplt, opIfIcmpge, opIfIcmpgt, opIfIcmple,
			opIfAcmpeq, opIfAcmpne, opIfnull, opIfnonnull:
			instr.Kind = KindBranch
			offset := int32(int16(binary.BigEndian.Uint16(bytes[pc:])))
			pc += 2
			targetOffset := start + int(offset)
			instr.Target = labelAt(targetOffset)
			targets[targetOffset] = true
		case opGotoW, opJsrW:
			instr.Kind = KindBranch
			offset := int32(binary.BigEndian.Uint32(bytes[pc:]))
			pc += 4
			targetOffset := start + int(offset)
			instr.Target = labelAt(targetOffset)
			targets[targetOffset] = true
		case opTableswitch:
			pc = alignPC(start, pc)
			defaultOffset := int32(binary.BigEndian.Uint32(bytes[pc:]))
			pc += 4
			low := int32(binary.BigEndian.Uint32(bytes[pc:]))
			pc += 4
			high := int32(binary.BigEndian.Uint32(bytes[pc:]))
			pc += 4
			instr.Kind = KindSwitch
			instr.LowValue = low
			instr.DefaultTarget = labelAt(start + int(defaultOffset))
			targets[start+int(defaultOffset)] = true
			for v := low; v <= high; v++ {
				off := int32(binary.BigEndian.Uint32(bytes[pc:]))
				pc += 4
				instr.CaseValues = append(instr.CaseValues, v)
				target := start + int(off)
				instr.CaseTargets = append(instr.CaseTargets, labelAt(target))
				targets[target] = true
			}
		case opLookupswitch:
			pc = alignPC(start, pc)
			defaultOffset := int32(binary.BigEndian.Uint32(bytes[pc:]))
			pc += 4
			npairs := int32(binary.BigEndian.Uint32(bytes[pc:]))
			pc += 4
			instr.Kind = KindSwitch
			instr.DefaultTarget = labelAt(start + int(defaultOffset))
			targets[start+int(defaultOffset)] = true
			for i := int32(0); i < npairs; i++ {
				match := int32(binary.BigEndian.Uint32(bytes[pc:]))
				pc += 4
				off := int32(binary.BigEndian.Uint32(bytes[pc:]))
				pc += 4
				instr.CaseValues = append(instr.CaseValues, match)
				target := start + int(off)
				instr.CaseTargets = append(instr.CaseTargets, labelAt(target))
				targets[target] = true
			}
		case opWide:
			// wide iload/istore/... (u2 index) or wide iinc (u2 index, s2 const)
			widened := bytes[pc]
			pc++
			instr.Kind = KindLocal
			instr.LocalIndex = int(binary.BigEndian.Uint16(bytes[pc:]))
			pc += 2
			if widened == opIinc {
				instr.IntImmediate = int32(int16(binary.BigEndian.Uint16(bytes[pc:])))
				pc += 2
			}
			instr.Opcode = widened
		default:
			width, ok := fixedOperandWidths[opcode]
			if !ok {
				return nil, fmt.Errorf("decoding: unsupported opcode 0x%02X at offset %d", opcode, start)
			}
			if width > 0 {
				instr.Raw = append([]byte(nil), bytes[pc:pc+width]...)
			}
			pc += width
		}

		raw = append(raw, rawInstr{offset: start, instr: instr, width: pc - start})
	}

	for _, h := range code.ExceptionHandlers {
		targets[int(h.StartPC)] = true
		targets[int(h.EndPC)] = true
		targets[int(h.HandlerPC)] = true
	}

	var instrs []*Instr
	for _, ri := range raw {
		if targets[ri.offset] {
			instrs = append(instrs, &Instr{Kind: KindLabel, Label: labelAt(ri.offset)})
		}
		instrs = append(instrs, ri.instr)
	}
	// A branch/handler/exception-range boundary may point one past the end
	// of the code array (e.g. a try block ending at method exit).
	if targets[len(bytes)] {
		instrs = append(instrs, &Instr{Kind: KindLabel, Label: labelAt(len(bytes))})
	}

	var ranges []*ExceptionRange
	for _, h := range code.ExceptionHandlers {
		catchType := ""
		if h.CatchType != 0 {
			name, err := pool.resolveClassName(h.CatchType)
			if err != nil {
				return nil, fmt.Errorf("decoding exception handler catch type: %w", err)
			}
			catchType = name
		}
		ranges = append(ranges, &ExceptionRange{
			StartLabel:   labelAt(int(h.StartPC)),
			EndLabel:     labelAt(int(h.EndPC)),
			HandlerLabel: labelAt(int(h.HandlerPC)),
			CatchType:    catchType,
		})
	}

	return &DecodedCode{
		MaxStack:   code.MaxStack,
		MaxLocals:  code.MaxLocals,
		Instrs:     instrs,
		Exceptions: ranges,
	}, nil
}

func alignPC(instrStart, pc int) int {
	// tableswitch/lookupswitch pad to the next 4-byte boundary measured
	// from the start of the code array.
	for pc%4 != 0 {
		pc++
	}
	return pc
}
