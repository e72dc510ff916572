package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// ByteWriter accumulates a big-endian class-file byte stream.
type ByteWriter struct {
	buf bytes.Buffer
}

func NewByteWriter() *ByteWriter { return &ByteWriter{} }

func (w *ByteWriter) U8(v uint8)   { w.buf.WriteByte(v) }
func (w *ByteWriter) U16(v uint16) { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *ByteWriter) U32(v uint32) { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *ByteWriter) Bytes(b []byte) {
	w.buf.Write(b)
}
func (w *ByteWriter) Len() int       { return w.buf.Len() }
func (w *ByteWriter) Bytes_() []byte { return w.buf.Bytes() }

// PoolBuilder assembles a fresh, 1-indexed constant pool, interning entries
// by value so repeated references (e.g. many calls to the same injected
// runtime method) share one slot.
type PoolBuilder struct {
	entries []ConstantPoolEntry
	index   map[string]uint16
}

// NewPoolBuilder creates an empty pool builder. Index 0 is reserved, as in
// the class-file format itself.
func NewPoolBuilder() *PoolBuilder {
	return &PoolBuilder{entries: []ConstantPoolEntry{nil}, index: make(map[string]uint16)}
}

func (p *PoolBuilder) add(key string, e ConstantPoolEntry) uint16 {
	idx := uint16(len(p.entries))
	p.entries = append(p.entries, e)
	switch e.(type) {
	case *ConstantLong, *ConstantDouble:
		// 8-byte constants occupy two constant-pool slots.
		p.entries = append(p.entries, nil)
	}
	if key != "" {
		p.index[key] = idx
	}
	return idx
}

func (p *PoolBuilder) Utf8(s string) uint16 {
	key := "u:" + s
	if idx, ok := p.index[key]; ok {
		return idx
	}
	return p.add(key, &ConstantUtf8{Value: s})
}

func (p *PoolBuilder) Class(internalName string) uint16 {
	key := "c:" + internalName
	if idx, ok := p.index[key]; ok {
		return idx
	}
	nameIdx := p.Utf8(internalName)
	return p.add(key, &ConstantClass{NameIndex: nameIdx})
}

func (p *PoolBuilder) StringConst(s string) uint16 {
	key := "s:" + s
	if idx, ok := p.index[key]; ok {
		return idx
	}
	valIdx := p.Utf8(s)
	return p.add(key, &ConstantString{StringIndex: valIdx})
}

func (p *PoolBuilder) IntegerConst(v int32) uint16 {
	key := fmt.Sprintf("i:%d", v)
	if idx, ok := p.index[key]; ok {
		return idx
	}
	return p.add(key, &ConstantInteger{Value: v})
}

func (p *PoolBuilder) LongConst(v int64) uint16 {
	key := fmt.Sprintf("l:%d", v)
	if idx, ok := p.index[key]; ok {
		return idx
	}
	return p.add(key, &ConstantLong{Value: v})
}

func (p *PoolBuilder) FloatConst(v float32) uint16 {
	key := fmt.Sprintf("f:%d", math.Float32bits(v))
	if idx, ok := p.index[key]; ok {
		return idx
	}
	return p.add(key, &ConstantFloat{Value: v})
}

func (p *PoolBuilder) DoubleConst(v float64) uint16 {
	key := fmt.Sprintf("d:%d", math.Float64bits(v))
	if idx, ok := p.index[key]; ok {
		return idx
	}
	return p.add(key, &ConstantDouble{Value: v})
}

func (p *PoolBuilder) NameAndType(name, descriptor string) uint16 {
	key := "nt:" + name + ":" + descriptor
	if idx, ok := p.index[key]; ok {
		return idx
	}
	nameIdx := p.Utf8(name)
	descIdx := p.Utf8(descriptor)
	return p.add(key, &ConstantNameAndType{NameIndex: nameIdx, DescriptorIndex: descIdx})
}

func (p *PoolBuilder) Fieldref(className, name, descriptor string) uint16 {
	key := "fr:" + className + "." + name + ":" + descriptor
	if idx, ok := p.index[key]; ok {
		return idx
	}
	classIdx := p.Class(className)
	natIdx := p.NameAndType(name, descriptor)
	return p.add(key, &ConstantFieldref{ClassIndex: classIdx, NameAndTypeIndex: natIdx})
}

func (p *PoolBuilder) Methodref(className, name, descriptor string) uint16 {
	key := "mr:" + className + "." + name + ":" + descriptor
	if idx, ok := p.index[key]; ok {
		return idx
	}
	classIdx := p.Class(className)
	natIdx := p.NameAndType(name, descriptor)
	return p.add(key, &ConstantMethodref{ClassIndex: classIdx, NameAndTypeIndex: natIdx})
}

func (p *PoolBuilder) InterfaceMethodref(className, name, descriptor string) uint16 {
	key := "imr:" + className + "." + name + ":" + descriptor
	if idx, ok := p.index[key]; ok {
		return idx
	}
	classIdx := p.Class(className)
	natIdx := p.NameAndType(name, descriptor)
	return p.add(key, &ConstantInterfaceMethodref{ClassIndex: classIdx, NameAndTypeIndex: natIdx})
}

// Entries returns the built, 1-indexed constant pool (index 0 is nil).
func (p *PoolBuilder) Entries() []ConstantPoolEntry { return p.entries }

// Count is the constant_pool_count a class file header would record.
func (p *PoolBuilder) Count() uint16 { return uint16(len(p.entries)) }

func writeConstantPool(w *ByteWriter, pool []ConstantPoolEntry) error {
	w.U16(uint16(len(pool)))
	for i := 1; i < len(pool); i++ {
		entry := pool[i]
		if entry == nil {
			continue // second slot of a Long/Double
		}
		w.U8(entry.Tag())
		switch c := entry.(type) {
		case *ConstantUtf8:
			b := []byte(c.Value)
			w.U16(uint16(len(b)))
			w.Bytes(b)
		case *ConstantInteger:
			w.U32(uint32(c.Value))
		case *ConstantFloat:
			w.U32(math.Float32bits(c.Value))
		case *ConstantLong:
			w.U32(uint32(c.Value >> 32))
			w.U32(uint32(c.Value))
		case *ConstantDouble:
			bits := math.Float64bits(c.Value)
			w.U32(uint32(bits >> 32))
			w.U32(uint32(bits))
		case *ConstantClass:
			w.U16(c.NameIndex)
		case *ConstantString:
			w.U16(c.StringIndex)
		case *ConstantFieldref:
			w.U16(c.ClassIndex)
			w.U16(c.NameAndTypeIndex)
		case *ConstantMethodref:
			w.U16(c.ClassIndex)
			w.U16(c.NameAndTypeIndex)
		case *ConstantInterfaceMethodref:
			w.U16(c.ClassIndex)
			w.U16(c.NameAndTypeIndex)
		case *ConstantNameAndType:
			w.U16(c.NameIndex)
			w.U16(c.DescriptorIndex)
		case *ConstantInvokeDynamic:
			w.U16(c.BootstrapMethodAttrIndex)
			w.U16(c.NameAndTypeIndex)
		default:
			return fmt.Errorf("writer: unsupported constant pool entry at index %d (tag=%d)", i, entry.Tag())
		}
	}
	return nil
}

func writeCodeAttribute(pool *PoolBuilder, code *CodeAttribute) []byte {
	body := NewByteWriter()
	body.U16(code.MaxStack)
	body.U16(code.MaxLocals)
	body.U32(uint32(len(code.Code)))
	body.Bytes(code.Code)
	body.U16(uint16(len(code.ExceptionHandlers)))
	for _, h := range code.ExceptionHandlers {
		body.U16(h.StartPC)
		body.U16(h.EndPC)
		body.U16(h.HandlerPC)
		body.U16(h.CatchType)
	}
	body.U16(0) // no nested attributes (LineNumberTable etc. are not reproduced)
	return body.Bytes_()
}

func writeMember(w *ByteWriter, pool *PoolBuilder, accessFlags uint16, name, descriptor string, code *CodeAttribute) {
	w.U16(accessFlags)
	w.U16(pool.Utf8(name))
	w.U16(pool.Utf8(descriptor))
	if code == nil {
		w.U16(0)
		return
	}
	w.U16(1)
	w.U16(pool.Utf8("Code"))
	codeBytes := writeCodeAttribute(pool, code)
	w.U32(uint32(len(codeBytes)))
	w.Bytes(codeBytes)
}

// RewrittenClass is the post-rewrite representation handed to WriteClassFile:
// a fresh pool plus the header/member data to serialize against it. Members
// carry already-resolved names/descriptors and finished Code attributes;
// WriteClassFile does not perform any further name resolution.
type RewrittenClass struct {
	MinorVersion uint16
	MajorVersion uint16
	Pool         *PoolBuilder
	AccessFlags  uint16
	ThisClass    string
	SuperClass   string // "" for java/lang/Object
	Interfaces   []string
	Fields       []FieldInfo
	Methods      []MethodInfo
}

// WriteClassFile serializes a RewrittenClass into standard class-file bytes.
func WriteClassFile(rc *RewrittenClass) ([]byte, error) {
	w := NewByteWriter()
	w.U32(classMagic)
	w.U16(rc.MinorVersion)
	w.U16(rc.MajorVersion)

	thisIdx := rc.Pool.Class(rc.ThisClass)
	var superIdx uint16
	if rc.SuperClass != "" {
		superIdx = rc.Pool.Class(rc.SuperClass)
	}
	ifaceIdxs := make([]uint16, len(rc.Interfaces))
	for i, iface := range rc.Interfaces {
		ifaceIdxs[i] = rc.Pool.Class(iface)
	}
	// Intern the member names/descriptors and the "Code" attribute name
	// before the pool is written, so writeMember only looks them up.
	for _, f := range rc.Fields {
		rc.Pool.Utf8(f.Name)
		rc.Pool.Utf8(f.Descriptor)
	}
	for _, m := range rc.Methods {
		rc.Pool.Utf8(m.Name)
		rc.Pool.Utf8(m.Descriptor)
		if m.Code != nil {
			rc.Pool.Utf8("Code")
		}
	}

	if err := writeConstantPool(w, rc.Pool.Entries()); err != nil {
		return nil, err
	}

	w.U16(rc.AccessFlags)
	w.U16(thisIdx)
	w.U16(superIdx)

	w.U16(uint16(len(ifaceIdxs)))
	for _, idx := range ifaceIdxs {
		w.U16(idx)
	}

	w.U16(uint16(len(rc.Fields)))
	for _, f := range rc.Fields {
		writeMember(w, rc.Pool, f.AccessFlags, f.Name, f.Descriptor, nil)
	}

	w.U16(uint16(len(rc.Methods)))
	for _, m := range rc.Methods {
		writeMember(w, rc.Pool, m.AccessFlags, m.Name, m.Descriptor, m.Code)
	}

	w.U16(0) // no class-level attributes on rewritten output
	return w.Bytes_(), nil
}
