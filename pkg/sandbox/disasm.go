package sandbox

import "fmt"

// opcodeMnemonics names a subset of the opcodes the decoder recognizes;
// any opcode missing from it renders through mnemonic's UNKNOWN(0x..)
// fallback. It is the table disassemble below renders diagnostics from,
// grounded in
// chazu-maggie's bytecode.Opcode.String()/GetOpcodeInfo fallback-to-UNKNOWN
// shape.
var opcodeMnemonics = map[uint8]string{
	0x00: "nop", 0x01: "aconst_null", 0x02: "iconst_m1", 0x03: "iconst_0",
	0x04: "iconst_1", 0x05: "iconst_2", 0x06: "iconst_3", 0x07: "iconst_4",
	0x08: "iconst_5", 0x09: "lconst_0", 0x0A: "lconst_1", 0x0B: "fconst_0",
	0x0C: "fconst_1", 0x0D: "fconst_2", 0x0E: "dconst_0", 0x0F: "dconst_1",
	opBipush: "bipush", opSipush: "sipush", opLdc: "ldc", opLdcW: "ldc_w",
	0x14: "ldc2_w",
	opIload: "iload", opLload: "lload", opFload: "fload", opDload: "dload", opAload: "aload",
	0x1A: "iload_0", 0x1B: "iload_1", 0x1C: "iload_2", 0x1D: "iload_3",
	0x2A: "aload_0", 0x2B: "aload_1", 0x2C: "aload_2", 0x2D: "aload_3",
	opIstore: "istore", opLstore: "lstore", opFstore: "fstore", opDstore: "dstore", opAstore: "astore",
	opNewarray: "newarray", opAnewarray: "anewarray", opMultianewarray: "multianewarray", opNew: "new",
	opGetstatic: "getstatic", opPutstatic: "putstatic", opGetfield: "getfield", opPutfield: "putfield",
	opInvokevirtual: "invokevirtual", opInvokespecial: "invokespecial",
	opInvokestatic: "invokestatic", opInvokeinterface: "invokeinterface", opInvokedynamic: "invokedynamic",
	opCheckcast: "checkcast", opInstanceof: "instanceof",
	opGoto: "goto", opJsr: "jsr", opRet: "ret",
	opIfeq: "ifeq", opIfne: "ifne", opIflt: "iflt", opIfge: "ifge", opIfgt: "ifgt", opIfle: "ifle",
	opIfIcmpeq: "if_icmpeq", opIfIcmpne: "if_icmpne", opIfIcmplt: "if_icmplt", opIfIcmpge: "if_icmpge",
	opIfIcmpgt: "if_icmpgt", opIfIcmple: "if_icmple", opIfAcmpeq: "if_acmpeq", opIfAcmpne: "if_acmpne",
	opIfnull: "ifnull", opIfnonnull: "ifnonnull", opGotoW: "goto_w", opJsrW: "jsr_w",
	opTableswitch: "tableswitch", opLookupswitch: "lookupswitch", opIinc: "iinc", opWide: "wide",
	0xAC: "ireturn", 0xAD: "lreturn", 0xAE: "freturn", 0xAF: "dreturn", 0xB0: "areturn",
	OpReturn: "return", OpAthrow: "athrow",
}

// mnemonic returns opcode's JVM instruction name, or a hex placeholder for
// an opcode not in opcodeMnemonics.
func mnemonic(opcode uint8) string {
	if name, ok := opcodeMnemonics[opcode]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", opcode)
}

// disassemble renders a one-line disassembly of instr, in the style rule
// diagnostics attach to an ERROR-severity instruction-scoped message so the
// offending site is legible without a separate disassembler.
func disassemble(instr *Instr) string {
	switch instr.Kind {
	case KindFieldAccess, KindMethodCall:
		return fmt.Sprintf("%s %s.%s:%s", mnemonic(instr.Opcode), instr.OwnerClass, instr.MemberName, instr.Descriptor)
	case KindDynamicInvoke:
		return fmt.Sprintf("%s %s:%s", mnemonic(instr.Opcode), instr.MemberName, instr.Descriptor)
	case KindTypeOp:
		return fmt.Sprintf("%s %s", mnemonic(instr.Opcode), instr.TypeName)
	case KindBranch:
		return fmt.Sprintf("%s -> %s", mnemonic(instr.Opcode), instr.Target)
	case KindConstant:
		if instr.Literal != nil {
			return fmt.Sprintf("%s #%v", mnemonic(instr.Opcode), instr.Literal.String)
		}
		return mnemonic(instr.Opcode)
	default:
		return mnemonic(instr.Opcode)
	}
}
