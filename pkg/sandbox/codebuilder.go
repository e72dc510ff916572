package sandbox

import (
	"fmt"

	"github.com/daimatz/sandbox/pkg/classfile"
)

// CodeBuilder lays out a label-addressed DecodedCode into concrete
// class-file bytes, resolving branch targets and switch padding with a
// fixed-point pass (Design Notes §9) and interning every constant-pool
// reference an instruction needs through a shared PoolBuilder.
type CodeBuilder struct {
	pool *classfile.PoolBuilder
}

// NewCodeBuilder builds a CodeBuilder that interns constants into pool.
func NewCodeBuilder(pool *classfile.PoolBuilder) *CodeBuilder {
	return &CodeBuilder{pool: pool}
}

type laidOutInstr struct {
	instr  *Instr
	offset int
	width  int
}

// Build serializes code into a classfile.CodeAttribute.
func (b *CodeBuilder) Build(code *DecodedCode) (*classfile.CodeAttribute, error) {
	layout, err := b.layout(code.Instrs)
	if err != nil {
		return nil, err
	}

	labelOffsets := map[string]int{}
	totalLen := 0
	for _, li := range layout {
		if li.instr.Kind == KindLabel {
			labelOffsets[li.instr.Label] = li.offset
		}
		totalLen = li.offset + li.width
	}

	out := make([]byte, totalLen)
	for _, li := range layout {
		if li.instr.Kind == KindLabel {
			continue
		}
		if err := b.encode(out, li, labelOffsets); err != nil {
			return nil, err
		}
	}

	handlers := make([]classfile.ExceptionHandler, len(code.Exceptions))
	for i, rg := range code.Exceptions {
		start, ok := labelOffsets[rg.StartLabel]
		if !ok {
			return nil, fmt.Errorf("exception range start label %s not found", rg.StartLabel)
		}
		end, ok := labelOffsets[rg.EndLabel]
		if !ok {
			return nil, fmt.Errorf("exception range end label %s not found", rg.EndLabel)
		}
		handler, ok := labelOffsets[rg.HandlerLabel]
		if !ok {
			return nil, fmt.Errorf("exception range handler label %s not found", rg.HandlerLabel)
		}
		var catchIdx uint16
		if rg.CatchType != "" {
			catchIdx = b.pool.Class(rg.CatchType)
		}
		handlers[i] = classfile.ExceptionHandler{
			StartPC:   uint16(start),
			EndPC:     uint16(end),
			HandlerPC: uint16(handler),
			CatchType: catchIdx,
		}
	}

	return &classfile.CodeAttribute{
		MaxStack:          code.MaxStack,
		MaxLocals:         code.MaxLocals,
		Code:              out,
		ExceptionHandlers: handlers,
	}, nil
}

// layout assigns byte offsets to every instruction via fixed-point
// iteration: switch alignment padding depends on an instruction's own
// offset, which depends on cumulative widths of everything before it,
// which can itself depend on earlier switches' padding. The iteration
// converges because padding only ever shrinks the search space (0-3 bytes
// per switch) and nothing upstream of a switch depends on what comes after
// it.
func (b *CodeBuilder) layout(instrs []*Instr) ([]laidOutInstr, error) {
	layout := make([]laidOutInstr, len(instrs))
	for i, in := range instrs {
		layout[i] = laidOutInstr{instr: in}
	}

	for iteration := 0; iteration < 8; iteration++ {
		offset := 0
		changed := false
		for i := range layout {
			if layout[i].offset != offset {
				changed = true
			}
			layout[i].offset = offset
			width, err := b.instrWidth(layout[i].instr, offset)
			if err != nil {
				return nil, err
			}
			if layout[i].width != width {
				changed = true
			}
			layout[i].width = width
			offset += width
		}
		if !changed {
			return layout, nil
		}
	}
	return nil, fmt.Errorf("code layout did not converge (switch padding oscillation)")
}

func (b *CodeBuilder) instrWidth(instr *Instr, offset int) (int, error) {
	switch instr.Kind {
	case KindLabel:
		return 0, nil
	case KindConstant:
		idx := b.constantIndexFor(instr)
		if instr.Opcode == opLdc2W {
			return 3, nil
		}
		if idx > 0xFF {
			return 3, nil
		}
		return 2, nil
	case KindLocal:
		wide := instr.LocalIndex > 0xFF
		if instr.Opcode == opIinc {
			if wide {
				return 6, nil // wide prefix + opcode + u2 index + s2 const
			}
			return 3, nil
		}
		if wide {
			return 4, nil // wide prefix + opcode + u2 index
		}
		return 2, nil
	case KindFieldAccess, KindMethodCall:
		if instr.IsInterface {
			return 5, nil
		}
		return 3, nil
	case KindDynamicInvoke:
		return 0, fmt.Errorf("invokedynamic is not supported by the rewriter")
	case KindTypeOp:
		if instr.Opcode == OpMultianewarray {
			return 4, nil
		}
		if instr.Opcode == OpNewarray {
			return 2, nil
		}
		return 3, nil
	case KindBranch:
		return 3, nil
	case KindSwitch:
		padding := (4 - (offset+1)%4) % 4
		base := 1 + padding + 12 // opcode + pad + default/low/high or default/npairs
		if instr.Opcode == opTableswitch {
			count := 0
			if len(instr.CaseValues) > 0 {
				count = len(instr.CaseValues)
			}
			return base + count*4, nil
		}
		// lookupswitch has no low/high words: default/npairs only
		return base - 4 + len(instr.CaseValues)*8, nil
	case KindPlain:
		if instr.Opcode == opBipush {
			return 2, nil
		}
		if instr.Opcode == opSipush {
			return 3, nil
		}
		if instr.Opcode == opNewarray {
			return 2, nil
		}
		return 1 + len(instr.Raw), nil
	default:
		return 0, fmt.Errorf("unknown instruction kind for opcode 0x%02X", instr.Opcode)
	}
}

// constantIndexFor resolves (interning if necessary) the constant-pool
// index an instruction's constant operand needs. Calling pool methods here
// and again in encode is safe: PoolBuilder dedups by value so the second
// call returns the identical index instead of growing the pool again.
//
// A decoded ldc/ldc_w/ldc2_w instruction never reuses its original class's
// pool index directly — CodeBuilder writes against a brand new pool, so
// the instruction's resolved Literal (populated at decode time, and
// updated in place by RemapCallEmitter for class literals) is always
// re-interned. The only exception is the synthetic string literal
// convention definition providers use to build a "throw new X(message)"
// body without a real constant pool to intern against up front.
func (b *CodeBuilder) constantIndexFor(instr *Instr) int {
	if instr.Literal == nil {
		return int(b.pool.StringConst(string(instr.Raw)))
	}
	lit := instr.Literal
	switch {
	case lit.IsClass:
		return int(b.pool.Class(lit.String))
	case lit.Tag == classfile.TagString:
		return int(b.pool.StringConst(lit.String))
	case lit.Tag == classfile.TagInteger:
		return int(b.pool.IntegerConst(lit.Int32))
	case lit.Tag == classfile.TagFloat:
		return int(b.pool.FloatConst(lit.Float32))
	case lit.Tag == classfile.TagLong:
		return int(b.pool.LongConst(lit.Int64))
	case lit.Tag == classfile.TagDouble:
		return int(b.pool.DoubleConst(lit.Float64))
	default:
		return int(b.pool.StringConst(lit.String))
	}
}

func (b *CodeBuilder) encode(out []byte, li laidOutInstr, labels map[string]int) error {
	instr := li.instr
	pc := li.offset
	put16 := func(at int, v uint16) { out[at] = byte(v >> 8); out[at+1] = byte(v) }

	switch instr.Kind {
	case KindConstant:
		idx := b.constantIndexFor(instr)
		if li.width == 2 {
			out[pc] = opLdc
			out[pc+1] = byte(idx)
		} else {
			opcode := instr.Opcode
			if opcode != opLdc2W {
				opcode = opLdcW
			}
			out[pc] = opcode
			put16(pc+1, uint16(idx))
		}
	case KindLocal:
		if li.width == 4 || li.width == 6 {
			out[pc] = opWide
			out[pc+1] = instr.Opcode
			put16(pc+2, uint16(instr.LocalIndex))
			if li.width == 6 {
				put16(pc+4, uint16(int16(instr.IntImmediate)))
			}
			return nil
		}
		out[pc] = instr.Opcode
		out[pc+1] = byte(instr.LocalIndex)
		if instr.Opcode == opIinc {
			out[pc+2] = byte(int8(instr.IntImmediate))
		}
	case KindFieldAccess:
		idx := b.resolveOrInternFieldref(instr)
		out[pc] = instr.Opcode
		put16(pc+1, idx)
	case KindMethodCall:
		idx := b.resolveOrInternMethodref(instr)
		out[pc] = instr.Opcode
		put16(pc+1, idx)
		if instr.IsInterface {
			out[pc+3] = byte(countDescriptorSlots(instr.Descriptor) + 1)
			out[pc+4] = 0
		}
	case KindTypeOp:
		out[pc] = instr.Opcode
		if instr.Opcode == OpNewarray {
			if len(instr.Raw) != 1 {
				return fmt.Errorf("newarray instruction missing array-type operand")
			}
			out[pc+1] = instr.Raw[0]
			return nil
		}
		idx := b.pool.Class(instr.TypeName)
		put16(pc+1, idx)
		if instr.Opcode == OpMultianewarray {
			out[pc+3] = instr.Dimension
		}
	case KindBranch:
		target, ok := labels[instr.Target]
		if !ok {
			return fmt.Errorf("branch target label %s not found", instr.Target)
		}
		rel := int32(target - pc)
		out[pc] = instr.Opcode
		put16(pc+1, uint16(int16(rel)))
	case KindSwitch:
		return b.encodeSwitch(out, li, labels)
	case KindPlain:
		out[pc] = instr.Opcode
		switch instr.Opcode {
		case opBipush:
			out[pc+1] = byte(int8(instr.IntImmediate))
		case opSipush:
			put16(pc+1, uint16(int16(instr.IntImmediate)))
		case opNewarray:
			if len(instr.Raw) != 1 {
				return fmt.Errorf("newarray instruction missing array-type operand")
			}
			out[pc+1] = instr.Raw[0]
		default:
			copy(out[pc+1:], instr.Raw)
		}
	default:
		return fmt.Errorf("cannot encode instruction kind for opcode 0x%02X", instr.Opcode)
	}
	return nil
}

func (b *CodeBuilder) encodeSwitch(out []byte, li laidOutInstr, labels map[string]int) error {
	instr := li.instr
	pc := li.offset
	out[pc] = instr.Opcode
	padStart := pc + 1
	padEnd := pc + 1 + (4-(pc+1)%4)%4
	for i := padStart; i < padEnd; i++ {
		out[i] = 0
	}
	cursor := padEnd

	defaultTarget, ok := labels[instr.DefaultTarget]
	if !ok {
		return fmt.Errorf("switch default target label %s not found", instr.DefaultTarget)
	}
	put32At := func(at int, v int32) {
		out[at] = byte(v >> 24)
		out[at+1] = byte(v >> 16)
		out[at+2] = byte(v >> 8)
		out[at+3] = byte(v)
	}
	put32At(cursor, int32(defaultTarget-pc))
	cursor += 4

	if instr.Opcode == opTableswitch {
		low := instr.LowValue
		high := low
		if len(instr.CaseValues) > 0 {
			high = instr.CaseValues[len(instr.CaseValues)-1]
		}
		put32At(cursor, low)
		cursor += 4
		put32At(cursor, high)
		cursor += 4
		for _, targetLabel := range instr.CaseTargets {
			target, ok := labels[targetLabel]
			if !ok {
				return fmt.Errorf("switch case target label %s not found", targetLabel)
			}
			put32At(cursor, int32(target-pc))
			cursor += 4
		}
		return nil
	}

	put32At(cursor, int32(len(instr.CaseValues)))
	cursor += 4
	for i, val := range instr.CaseValues {
		put32At(cursor, val)
		cursor += 4
		target, ok := labels[instr.CaseTargets[i]]
		if !ok {
			return fmt.Errorf("switch case target label %s not found", instr.CaseTargets[i])
		}
		put32At(cursor, int32(target-pc))
		cursor += 4
	}
	return nil
}

func (b *CodeBuilder) resolveOrInternFieldref(instr *Instr) uint16 {
	return b.pool.Fieldref(instr.OwnerClass, instr.MemberName, instr.Descriptor)
}

func (b *CodeBuilder) resolveOrInternMethodref(instr *Instr) uint16 {
	if instr.IsInterface {
		return b.pool.InterfaceMethodref(instr.OwnerClass, instr.MemberName, instr.Descriptor)
	}
	return b.pool.Methodref(instr.OwnerClass, instr.MemberName, instr.Descriptor)
}

// countDescriptorSlots counts the local-variable slots a method
// descriptor's parameters occupy (long/double take 2), used to fill in
// invokeinterface's count operand.
func countDescriptorSlots(descriptor string) int {
	count := 0
	i := 1 // skip '('
	for i < len(descriptor) && descriptor[i] != ')' {
		switch descriptor[i] {
		case 'J', 'D':
			count += 2
			i++
		case 'L':
			for i < len(descriptor) && descriptor[i] != ';' {
				i++
			}
			i++
			count++
		case '[':
			for i < len(descriptor) && descriptor[i] == '[' {
				i++
			}
			if i < len(descriptor) && descriptor[i] == 'L' {
				for i < len(descriptor) && descriptor[i] != ';' {
					i++
				}
				i++
			} else {
				i++
			}
			count++
		default:
			count++
			i++
		}
	}
	return count
}
