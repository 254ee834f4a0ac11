package vm

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ImageMagic tags serialized bytecode images.
const ImageMagic = "TBC"

// ImageVersion is bumped whenever the wire layout changes.
const ImageVersion = 1

// imagePrefix is the canonical encoding of the image map header followed by
// key 1 and the magic string.
var imagePrefix = []byte{0xa3, 0x01, 0x60 | byte(len(ImageMagic)), 'T', 'B', 'C'}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type wireImage struct {
	Magic   string    `cbor:"1,keyasint"`
	Version int       `cbor:"2,keyasint"`
	Code    *wireCode `cbor:"3,keyasint"`
}

type wireCode struct {
	Name       string          `cbor:"1,keyasint"`
	Source     string          `cbor:"2,keyasint,omitempty"`
	Ops        []byte          `cbor:"3,keyasint"`
	Operands   []int64         `cbor:"4,keyasint"`
	Constants  []wireValue     `cbor:"5,keyasint,omitempty"`
	NumLocals  int             `cbor:"6,keyasint"`
	NumParams  int             `cbor:"7,keyasint"`
	LocalNames []string        `cbor:"8,keyasint,omitempty"`
	Ranges     []wireRange     `cbor:"9,keyasint,omitempty"`
	Aux        []wireJumpTable `cbor:"10,keyasint,omitempty"`
	Commands   []wireCommand   `cbor:"11,keyasint,omitempty"`
	MaxStack   int             `cbor:"12,keyasint"`
}

type wireValue struct {
	Kind   uint8     `cbor:"1,keyasint"`
	Int    int64     `cbor:"2,keyasint,omitempty"`
	Double float64   `cbor:"3,keyasint"`
	Str    string    `cbor:"4,keyasint,omitempty"`
	Code   *wireCode `cbor:"5,keyasint,omitempty"`
}

type wireRange struct {
	Start   int   `cbor:"1,keyasint"`
	End     int   `cbor:"2,keyasint"`
	Handler int   `cbor:"3,keyasint"`
	Kind    uint8 `cbor:"4,keyasint"`
}

type wireJumpTable struct {
	Entries map[string]int64 `cbor:"1,keyasint"`
}

type wireCommand struct {
	PCStart  int `cbor:"1,keyasint"`
	PCEnd    int `cbor:"2,keyasint"`
	SrcStart int `cbor:"3,keyasint"`
	SrcEnd   int `cbor:"4,keyasint"`
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// IsImage reports whether data starts like a serialized image.
func IsImage(data []byte) bool {
	return bytes.HasPrefix(data, imagePrefix)
}

// MarshalImage serializes a bytecode object, including nested code
// constants, to canonical CBOR. Equal objects encode to identical bytes.
func MarshalImage(c *BytecodeObject) ([]byte, error) {
	wc, err := toWire(c)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(&wireImage{Magic: ImageMagic, Version: ImageVersion, Code: wc})
}

func toWire(c *BytecodeObject) (*wireCode, error) {
	wc := &wireCode{
		Name:       c.Name,
		Source:     c.Source,
		Ops:        make([]byte, len(c.Instructions)),
		Operands:   make([]int64, len(c.Instructions)),
		NumLocals:  c.NumLocals,
		NumParams:  c.NumParams,
		LocalNames: c.LocalNames,
		MaxStack:   c.MaxStackDepth,
	}
	for i, in := range c.Instructions {
		wc.Ops[i] = byte(in.Op)
		wc.Operands[i] = in.Operand
	}
	for _, v := range c.Constants {
		wv, err := valueToWire(v)
		if err != nil {
			return nil, err
		}
		wc.Constants = append(wc.Constants, wv)
	}
	for _, r := range c.ExceptionRanges {
		wc.Ranges = append(wc.Ranges, wireRange{r.PCStart, r.PCEnd, r.HandlerPC, uint8(r.Kind)})
	}
	for _, t := range c.AuxData {
		wc.Aux = append(wc.Aux, wireJumpTable{Entries: t.Entries})
	}
	for _, loc := range c.Commands {
		wc.Commands = append(wc.Commands, wireCommand(loc))
	}
	return wc, nil
}

func valueToWire(v Value) (wireValue, error) {
	wv := wireValue{Kind: uint8(v.Kind())}
	switch v.Kind() {
	case KindUnset:
	case KindString:
		wv.Str = v.s
	case KindInt:
		wv.Int = v.i
	case KindDouble:
		wv.Double = v.f
	case KindCode:
		code := v.Code()
		if code == nil {
			return wv, fmt.Errorf("vm: marshal image: nil code constant")
		}
		wc, err := toWire(code)
		if err != nil {
			return wv, err
		}
		wv.Code = wc
	case KindError:
		e := v.Err()
		wv.Int = int64(e.Kind)
		wv.Str = e.Message
	default:
		return wv, fmt.Errorf("vm: marshal image: unsupported value kind %s", v.Kind())
	}
	return wv, nil
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// UnmarshalImage decodes an image produced by MarshalImage. The decoded
// object and every nested code constant are validated and re-analysed; an
// image whose recorded stack depth disagrees with the analysis is rejected.
func UnmarshalImage(data []byte) (*BytecodeObject, error) {
	var img wireImage
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("vm: unmarshal image: %w", err)
	}
	if img.Magic != ImageMagic {
		return nil, fmt.Errorf("vm: unmarshal image: bad magic %q", img.Magic)
	}
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("vm: unmarshal image: unsupported version %d", img.Version)
	}
	if img.Code == nil {
		return nil, fmt.Errorf("vm: unmarshal image: missing code")
	}
	return fromWire(img.Code)
}

func fromWire(wc *wireCode) (*BytecodeObject, error) {
	if len(wc.Ops) != len(wc.Operands) {
		return nil, fmt.Errorf("vm: unmarshal image: %d opcodes but %d operands", len(wc.Ops), len(wc.Operands))
	}
	c := &BytecodeObject{
		Name:       wc.Name,
		Source:     wc.Source,
		NumLocals:  wc.NumLocals,
		NumParams:  wc.NumParams,
		LocalNames: wc.LocalNames,
	}
	c.Instructions = make([]Instruction, len(wc.Ops))
	for i, op := range wc.Ops {
		c.Instructions[i] = Instruction{Op: Opcode(op), Operand: wc.Operands[i]}
	}
	for _, wv := range wc.Constants {
		v, err := valueFromWire(wv)
		if err != nil {
			return nil, err
		}
		c.Constants = append(c.Constants, v)
	}
	for _, r := range wc.Ranges {
		c.ExceptionRanges = append(c.ExceptionRanges, ExceptionRange{r.Start, r.End, r.Handler, RangeKind(r.Kind)})
	}
	for _, t := range wc.Aux {
		entries := t.Entries
		if entries == nil {
			entries = map[string]int64{}
		}
		c.AuxData = append(c.AuxData, JumpTable{Entries: entries})
	}
	for _, loc := range wc.Commands {
		c.Commands = append(c.Commands, CommandLocation(loc))
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("vm: unmarshal image %q: %w", c.Name, err)
	}
	depth, err := StackDepth(c)
	if err != nil {
		return nil, fmt.Errorf("vm: unmarshal image %q: %w", c.Name, err)
	}
	if depth != wc.MaxStack {
		return nil, fmt.Errorf("vm: unmarshal image %q: recorded stack depth %d, computed %d", c.Name, wc.MaxStack, depth)
	}
	c.MaxStackDepth = depth
	return c, nil
}

func valueFromWire(wv wireValue) (Value, error) {
	switch Kind(wv.Kind) {
	case KindUnset:
		return Unset, nil
	case KindString:
		return String(wv.Str), nil
	case KindInt:
		return Int(wv.Int), nil
	case KindDouble:
		return Double(wv.Double), nil
	case KindCode:
		if wv.Code == nil {
			return Unset, fmt.Errorf("vm: unmarshal image: code constant without body")
		}
		code, err := fromWire(wv.Code)
		if err != nil {
			return Unset, err
		}
		return CodeValue(code), nil
	case KindError:
		return ErrorValue(&RuntimeError{Kind: ErrorKind(wv.Int), Message: wv.Str}), nil
	}
	return Unset, fmt.Errorf("vm: unmarshal image: unknown value kind %d", wv.Kind)
}
