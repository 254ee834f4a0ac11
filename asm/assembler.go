package asm

import (
	"errors"
	"strconv"
	"strings"

	"github.com/chazu/tbc/vm"
)

// Assemble parses an assembly listing into a validated bytecode object.
//
// It accepts both the hand-written form (labels, unsized mnemonics, literal
// operands, dot directives) and the listing produced by Disassemble. Any
// failure is reported as a *MalformedAssembly; no partial object is
// returned.
func Assemble(text string) (*vm.BytecodeObject, error) {
	toks, err := Tokenize(text)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	obj, err := p.parseUnit(false)
	if err != nil {
		var ma *MalformedAssembly
		if errors.As(err, &ma) {
			return nil, ma
		}
		return nil, &MalformedAssembly{Reason: err.Error()}
	}
	return obj, nil
}

// ---------------------------------------------------------------------------
// Parser state
// ---------------------------------------------------------------------------

type section int

const (
	secNone section = iota
	secLocals
	secConstants
	secAux
	secRanges
	secCommands
)

type parser struct {
	toks []Token
	pos  int
}

type tableEntry struct {
	key    string
	target Token
}

type pendingInstr struct {
	line     int
	mnemonic string
	family   string
	op       vm.Opcode // valid when sized
	sized    bool
	args     []Token
	constIdx int          // pool index of a literal push, or -1
	table    []tableEntry // hand-form jumpTable entries
	auxIdx   int          // aux slot reserved for a hand-form jumpTable
}

type pendingRange struct {
	line                int
	kind                vm.RangeKind
	start, end, handler Token
}

type commandDirective struct {
	line int
	pc   int
	text string
}

// unit accumulates one bytecode object; nested code constants get their own.
type unit struct {
	nested bool

	name      string
	nameSet   bool
	source    string
	sourceSet bool

	numParams  int
	numLocals  int
	localNames []string

	consts []vm.Value
	instrs []*pendingInstr
	labels map[string]int
	ranges []pendingRange
	aux    []vm.JumpTable

	commands      []vm.CommandLocation
	commandsBlock bool
	directives    []commandDirective

	section section
}

func newUnit(nested bool) *unit {
	return &unit{nested: nested, labels: make(map[string]int)}
}

func (p *parser) peek() Token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() Token {
	t := p.toks[p.pos]
	if t.Kind != TokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) atEOL() bool {
	k := p.peek().Kind
	return k == TokenNewline || k == TokenEOF
}

func (p *parser) expectEOL() error {
	if !p.atEOL() {
		t := p.peek()
		return errorf(t.Line, "unexpected %s", t)
	}
	if p.peek().Kind == TokenNewline {
		p.next()
	}
	return nil
}

func (p *parser) skipLine() {
	for !p.atEOL() {
		p.next()
	}
	if p.peek().Kind == TokenNewline {
		p.next()
	}
}

func (p *parser) expect(kind TokenKind, text string) (Token, error) {
	t := p.next()
	if t.Kind != kind || (text != "" && t.Text != text) {
		want := kind.String()
		if text != "" {
			want = strconv.Quote(text)
		}
		return t, errorf(t.Line, "expected %s, got %s", want, t)
	}
	return t, nil
}

func (p *parser) expectInt() (int64, Token, error) {
	t := p.next()
	if t.Kind != TokenWord {
		return 0, t, errorf(t.Line, "expected integer, got %s", t)
	}
	n, err := strconv.ParseInt(t.Text, 10, 64)
	if err != nil {
		return 0, t, errorf(t.Line, "expected integer, got %s", t)
	}
	return n, t, nil
}

// expectName accepts a bare word or a quoted string.
func (p *parser) expectName() (Token, error) {
	t := p.next()
	if t.Kind != TokenWord && t.Kind != TokenString {
		return t, errorf(t.Line, "expected name, got %s", t)
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// Units and lines
// ---------------------------------------------------------------------------

func (p *parser) parseUnit(nested bool) (*vm.BytecodeObject, error) {
	u := newUnit(nested)
	for {
		t := p.peek()
		switch {
		case t.Kind == TokenEOF:
			if nested {
				return nil, errorf(t.Line, "missing closing }")
			}
			return u.build()
		case t.Kind == TokenNewline:
			p.next()
			continue
		case t.is(TokenPunct, "}"):
			if !nested {
				return nil, errorf(t.Line, "unexpected }")
			}
			p.next()
			return u.build()
		}
		if err := p.parseLine(u); err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseLine(u *unit) error {
	if u.section != secNone {
		handled, err := p.parseEntry(u)
		if err != nil || handled {
			return err
		}
		u.section = secNone
	}

	t := p.peek()
	if t.Kind == TokenWord {
		switch t.Text {
		case "ByteCode":
			return p.parseHeader(u)
		case "Source":
			p.next()
			s, err := p.expect(TokenString, "")
			if err != nil {
				return err
			}
			u.source, u.sourceSet = s.Text, true
			return p.expectEOL()
		case "Locals":
			return p.parseLocalsHeader(u)
		case "Constants":
			return p.parseSectionHeader(u, secConstants, "Constants")
		case "Aux":
			return p.parseSectionHeader(u, secAux, "Aux", "data")
		case "Exception":
			return p.parseSectionHeader(u, secRanges, "Exception", "ranges")
		case "Commands":
			u.commandsBlock = true
			return p.parseSectionHeader(u, secCommands, "Commands")
		case "Command":
			// Group header; the spans come from the Commands block.
			p.skipLine()
			return nil
		}
		if strings.HasPrefix(t.Text, ".") {
			return p.parseDirective(u)
		}
	}
	return p.parseInstruction(u)
}

func (p *parser) parseHeader(u *unit) error {
	p.next()
	name, err := p.expect(TokenString, "")
	if err != nil {
		return err
	}
	u.name, u.nameSet = name.Text, true
	// The remaining counters are informational.
	p.skipLine()
	return nil
}

// Locals N (params P):
func (p *parser) parseLocalsHeader(u *unit) error {
	p.next()
	n, _, err := p.expectInt()
	if err != nil {
		return err
	}
	if _, err := p.expect(TokenPunct, "("); err != nil {
		return err
	}
	if _, err := p.expect(TokenWord, "params"); err != nil {
		return err
	}
	params, t, err := p.expectInt()
	if err != nil {
		return err
	}
	if _, err := p.expect(TokenPunct, ")"); err != nil {
		return err
	}
	if _, err := p.expect(TokenPunct, ":"); err != nil {
		return err
	}
	if params > n || n < 0 || params < 0 {
		return errorf(t.Line, "bad locals header: %d locals, %d params", n, params)
	}
	u.numLocals, u.numParams = int(n), int(params)
	u.section = secLocals
	return p.expectEOL()
}

func (p *parser) parseSectionHeader(u *unit, sec section, words ...string) error {
	for _, w := range words {
		if _, err := p.expect(TokenWord, w); err != nil {
			return err
		}
	}
	if _, _, err := p.expectInt(); err != nil {
		return err
	}
	if _, err := p.expect(TokenPunct, ":"); err != nil {
		return err
	}
	u.section = sec
	return p.expectEOL()
}

// ---------------------------------------------------------------------------
// Section entries
// ---------------------------------------------------------------------------

func (p *parser) parseEntry(u *unit) (bool, error) {
	t := p.peek()
	if u.section == secLocals {
		if t.Kind != TokenWord || !strings.HasPrefix(t.Text, "%v") {
			return false, nil
		}
		p.next()
		slot, err := strconv.Atoi(t.Text[2:])
		if err != nil || slot < 0 {
			return true, errorf(t.Line, "bad local slot %s", t)
		}
		name, err := p.expect(TokenString, "")
		if err != nil {
			return true, err
		}
		for len(u.localNames) <= slot {
			u.localNames = append(u.localNames, "")
		}
		u.localNames[slot] = name.Text
		return true, p.expectEOL()
	}

	if t.Kind != TokenWord || !p.peekAt(1).is(TokenPunct, ":") || !isInteger(t.Text) {
		return false, nil
	}
	switch u.section {
	case secConstants:
		return true, p.parseConstantEntry(u)
	case secAux:
		return true, p.parseAuxEntry(u)
	case secRanges:
		return true, p.parseRangeEntry(u)
	case secCommands:
		return true, p.parseCommandEntries(u)
	}
	return false, nil
}

// I: int|double|string|unset|code|error ...
func (p *parser) parseConstantEntry(u *unit) error {
	idx, t, _ := p.expectInt()
	p.next() // ':'
	if int(idx) != len(u.consts) {
		return errorf(t.Line, "constant %d out of order (expected %d)", idx, len(u.consts))
	}
	kind, err := p.expect(TokenWord, "")
	if err != nil {
		return err
	}
	var v vm.Value
	switch kind.Text {
	case "int":
		w, err := p.expect(TokenWord, "")
		if err != nil {
			return err
		}
		n, ok := parseIntLiteral(w.Text)
		if !ok {
			return errorf(w.Line, "bad integer constant %s", w)
		}
		v = vm.Int(n)
	case "double":
		w, err := p.expect(TokenWord, "")
		if err != nil {
			return err
		}
		f, err := strconv.ParseFloat(w.Text, 64)
		if err != nil {
			return errorf(w.Line, "bad double constant %s", w)
		}
		v = vm.Double(f)
	case "string":
		s, err := p.expect(TokenString, "")
		if err != nil {
			return err
		}
		v = vm.String(s.Text)
	case "unset":
		v = vm.Unset
	case "code":
		code, err := p.parseNestedCode()
		if err != nil {
			return err
		}
		v = vm.CodeValue(code)
	case "error":
		kw, err := p.expect(TokenWord, "")
		if err != nil {
			return err
		}
		ek, ok := vm.ParseErrorKind(kw.Text)
		if !ok {
			return errorf(kw.Line, "unknown error kind %s", kw)
		}
		msg, err := p.expect(TokenString, "")
		if err != nil {
			return err
		}
		v = vm.ErrorValue(&vm.RuntimeError{Kind: ek, Message: msg.Text})
	default:
		return errorf(kind.Line, "unknown constant kind %s", kind)
	}
	u.consts = append(u.consts, v)
	return p.expectEOL()
}

// parseNestedCode reads "{" NEWLINE listing "}".
func (p *parser) parseNestedCode() (*vm.BytecodeObject, error) {
	if _, err := p.expect(TokenPunct, "{"); err != nil {
		return nil, err
	}
	if err := p.expectEOL(); err != nil {
		return nil, err
	}
	return p.parseUnit(true)
}

// I: jumptable "key"=+off ...
func (p *parser) parseAuxEntry(u *unit) error {
	idx, t, _ := p.expectInt()
	p.next() // ':'
	if int(idx) != len(u.aux) {
		return errorf(t.Line, "aux entry %d out of order (expected %d)", idx, len(u.aux))
	}
	if _, err := p.expect(TokenWord, "jumptable"); err != nil {
		return err
	}
	table := vm.JumpTable{Entries: make(map[string]int64)}
	for !p.atEOL() {
		key, err := p.expectName()
		if err != nil {
			return err
		}
		if _, err := p.expect(TokenPunct, "="); err != nil {
			return err
		}
		off, err := p.expect(TokenWord, "")
		if err != nil {
			return err
		}
		n, ok := parseOffset(off.Text)
		if !ok {
			return errorf(off.Line, "bad jump table offset %s", off)
		}
		if _, dup := table.Entries[key.Text]; dup {
			return errorf(key.Line, "duplicate jump table key %q", key.Text)
		}
		table.Entries[key.Text] = n
	}
	u.aux = append(u.aux, table)
	return p.expectEOL()
}

// I: catch|finally [A, B) -> H
func (p *parser) parseRangeEntry(u *unit) error {
	_, t, _ := p.expectInt()
	p.next() // ':'
	kw, err := p.expect(TokenWord, "")
	if err != nil {
		return err
	}
	kind, ok := rangeKind(kw.Text)
	if !ok {
		return errorf(kw.Line, "unknown range kind %s", kw)
	}
	if _, err := p.expect(TokenPunct, "["); err != nil {
		return err
	}
	start := p.next()
	if _, err := p.expect(TokenPunct, ","); err != nil {
		return err
	}
	end := p.next()
	if _, err := p.expect(TokenPunct, ")"); err != nil {
		return err
	}
	if _, err := p.expect(TokenWord, "->"); err != nil {
		return err
	}
	handler := p.next()
	u.ranges = append(u.ranges, pendingRange{line: t.Line, kind: kind, start: start, end: end, handler: handler})
	return p.expectEOL()
}

// I: pc A-B, src X-Y [J: pc ...]  (inclusive ends)
func (p *parser) parseCommandEntries(u *unit) error {
	for !p.atEOL() {
		if _, _, err := p.expectInt(); err != nil {
			return err
		}
		if _, err := p.expect(TokenPunct, ":"); err != nil {
			return err
		}
		if _, err := p.expect(TokenWord, "pc"); err != nil {
			return err
		}
		pcs, err := p.expect(TokenWord, "")
		if err != nil {
			return err
		}
		if _, err := p.expect(TokenPunct, ","); err != nil {
			return err
		}
		if _, err := p.expect(TokenWord, "src"); err != nil {
			return err
		}
		srcs, err := p.expect(TokenWord, "")
		if err != nil {
			return err
		}
		a, b, ok := parseSpan(pcs.Text)
		if !ok {
			return errorf(pcs.Line, "bad pc span %s", pcs)
		}
		x, y, ok := parseSpan(srcs.Text)
		if !ok {
			return errorf(srcs.Line, "bad source span %s", srcs)
		}
		u.commands = append(u.commands, vm.CommandLocation{PCStart: a, PCEnd: b + 1, SrcStart: x, SrcEnd: y + 1})
	}
	return p.expectEOL()
}

// ---------------------------------------------------------------------------
// Directives
// ---------------------------------------------------------------------------

func (p *parser) parseDirective(u *unit) error {
	d := p.next()
	switch d.Text {
	case ".proc":
		name, err := p.expectName()
		if err != nil {
			return err
		}
		if len(u.localNames) > 0 {
			return errorf(d.Line, ".proc must precede local declarations")
		}
		u.name, u.nameSet = name.Text, true
		for !p.atEOL() {
			param, err := p.expect(TokenWord, "")
			if err != nil {
				return err
			}
			if err := u.declareLocal(param); err != nil {
				return err
			}
		}
		u.numParams = len(u.localNames)
	case ".local":
		if p.atEOL() {
			return errorf(d.Line, ".local requires a name")
		}
		for !p.atEOL() {
			name, err := p.expect(TokenWord, "")
			if err != nil {
				return err
			}
			if err := u.declareLocal(name); err != nil {
				return err
			}
		}
	case ".source":
		s, err := p.expect(TokenString, "")
		if err != nil {
			return err
		}
		u.source, u.sourceSet = s.Text, true
	case ".command":
		s, err := p.expect(TokenString, "")
		if err != nil {
			return err
		}
		u.directives = append(u.directives, commandDirective{line: d.Line, pc: len(u.instrs), text: s.Text})
	case ".catch", ".finally":
		kind := vm.RangeCatch
		if d.Text == ".finally" {
			kind = vm.RangeFinally
		}
		var refs [3]Token
		for i := range refs {
			if p.atEOL() {
				return errorf(d.Line, "%s requires start, end and handler", d.Text)
			}
			refs[i] = p.next()
		}
		u.ranges = append(u.ranges, pendingRange{line: d.Line, kind: kind, start: refs[0], end: refs[1], handler: refs[2]})
	default:
		return errorf(d.Line, "unknown directive %s", d.Text)
	}
	return p.expectEOL()
}

func (u *unit) declareLocal(t Token) error {
	if isInteger(t.Text) || strings.HasPrefix(t.Text, "%") {
		return errorf(t.Line, "bad local name %s", t)
	}
	for _, n := range u.localNames {
		if n == t.Text {
			return errorf(t.Line, "duplicate local %q", t.Text)
		}
	}
	u.localNames = append(u.localNames, t.Text)
	return nil
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

var families = func() map[string]bool {
	m := make(map[string]bool)
	for _, f := range vm.Families() {
		m[f] = true
	}
	return m
}()

func (p *parser) parseInstruction(u *unit) error {
	t := p.peek()

	// (N) pc marker
	if t.is(TokenPunct, "(") {
		p.next()
		n, nt, err := p.expectInt()
		if err != nil {
			return err
		}
		if _, err := p.expect(TokenPunct, ")"); err != nil {
			return err
		}
		if int(n) != len(u.instrs) {
			return errorf(nt.Line, "pc marker (%d) does not match instruction index %d", n, len(u.instrs))
		}
		t = p.peek()
	}

	// label:
	if t.Kind == TokenWord && p.peekAt(1).is(TokenPunct, ":") {
		if isInteger(t.Text) || strings.HasPrefix(t.Text, "+") || strings.HasPrefix(t.Text, "-") {
			return errorf(t.Line, "bad label name %s", t)
		}
		if _, dup := u.labels[t.Text]; dup {
			return errorf(t.Line, "duplicate label %q", t.Text)
		}
		u.labels[t.Text] = len(u.instrs)
		p.next()
		p.next()
		if p.atEOL() {
			return p.expectEOL()
		}
		t = p.peek()
	}

	if t.Kind != TokenWord {
		return errorf(t.Line, "expected instruction, got %s", t)
	}
	p.next()
	in := &pendingInstr{line: t.Line, mnemonic: t.Text, constIdx: -1, auxIdx: -1}
	if op, ok := vm.LookupOpcode(t.Text); ok {
		in.op, in.sized, in.family = op, true, vm.GetOpcodeInfo(op).Family
	} else if families[t.Text] {
		in.family = t.Text
	} else {
		return errorf(t.Line, "unknown opcode %q", t.Text)
	}

	switch {
	case in.family == "push":
		if err := p.parsePushOperand(u, in); err != nil {
			return err
		}
	case in.family == "jumpTable" && !in.sized:
		if err := p.parseTableOperand(u, in); err != nil {
			return err
		}
	default:
		for !p.atEOL() {
			in.args = append(in.args, p.next())
		}
	}
	u.instrs = append(u.instrs, in)
	return p.expectEOL()
}

// parsePushOperand handles literals and nested code. For sized pushes an
// integer operand is a pool index; for unsized pushes it is a literal.
func (p *parser) parsePushOperand(u *unit, in *pendingInstr) error {
	t := p.peek()
	switch {
	case t.is(TokenPunct, "{"):
		code, err := p.parseNestedCode()
		if err != nil {
			return err
		}
		u.consts = append(u.consts, vm.CodeValue(code))
		in.constIdx = len(u.consts) - 1
		return nil
	case t.Kind == TokenString:
		p.next()
		in.constIdx = u.intern(vm.String(t.Text))
	case t.Kind == TokenWord:
		p.next()
		if in.sized && isInteger(t.Text) {
			in.args = []Token{t}
		} else {
			in.constIdx = u.intern(literal(t.Text))
		}
	default:
		return errorf(t.Line, "%s requires an operand", in.mnemonic)
	}
	return nil
}

// jumpTable key=target ...
func (p *parser) parseTableOperand(u *unit, in *pendingInstr) error {
	for !p.atEOL() {
		key, err := p.expectName()
		if err != nil {
			return err
		}
		if _, err := p.expect(TokenPunct, "="); err != nil {
			return err
		}
		target, err := p.expect(TokenWord, "")
		if err != nil {
			return err
		}
		for _, e := range in.table {
			if e.key == key.Text {
				return errorf(key.Line, "duplicate jump table key %q", key.Text)
			}
		}
		in.table = append(in.table, tableEntry{key: key.Text, target: target})
	}
	u.aux = append(u.aux, vm.JumpTable{Entries: make(map[string]int64)})
	in.auxIdx = len(u.aux) - 1
	return nil
}

func (u *unit) intern(v vm.Value) int {
	for i, c := range u.consts {
		if c.Equal(v) {
			return i
		}
	}
	u.consts = append(u.consts, v)
	return len(u.consts) - 1
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

func (u *unit) build() (*vm.BytecodeObject, error) {
	name := u.name
	if !u.nameSet {
		name = "main"
		if u.nested {
			name = "lambda"
		}
	}
	b := vm.NewBuilder(name)

	for pc, in := range u.instrs {
		op, operand, err := u.resolve(pc, in)
		if err != nil {
			return nil, err
		}
		b.Emit(op, operand)
	}

	if err := u.resolveCommands(); err != nil {
		return nil, err
	}

	b.SetSource(u.source)
	b.SetNumParams(u.numParams)
	for slot, n := range u.localNames {
		b.SetLocalName(slot, n)
	}
	b.ReserveLocals(u.numLocals)
	for _, c := range u.consts {
		b.AddConstant(c)
	}
	for _, r := range u.ranges {
		er, err := u.resolveRange(r)
		if err != nil {
			return nil, err
		}
		b.AddRange(er)
	}
	for _, t := range u.aux {
		b.AddJumpTable(t)
	}
	for _, c := range u.commands {
		b.AddCommand(c)
	}

	obj, err := b.Build()
	if err != nil {
		var se *vm.StackError
		if errors.As(err, &se) && se.PC >= 0 && se.PC < len(u.instrs) {
			return nil, errorf(u.instrs[se.PC].line, "%s", se.Reason)
		}
		return nil, &MalformedAssembly{Reason: err.Error()}
	}
	return obj, nil
}

func (u *unit) resolve(pc int, in *pendingInstr) (vm.Opcode, int64, error) {
	var info vm.OpcodeInfo
	if in.sized {
		info = vm.GetOpcodeInfo(in.op)
	} else {
		for _, w := range []int{0, 1, 4} {
			if op, ok := vm.Sized(in.family, w); ok {
				info = vm.GetOpcodeInfo(op)
				break
			}
		}
	}

	var operand int64
	switch {
	case info.Operand == vm.OperandNone:
		if len(in.args) > 0 {
			return 0, 0, errorf(in.line, "%s takes no operand", in.mnemonic)
		}
		if in.sized {
			return in.op, 0, nil
		}
		op, _ := vm.Sized(in.family, 0)
		return op, 0, nil

	case in.constIdx >= 0:
		operand = int64(in.constIdx)

	case in.auxIdx >= 0:
		table := u.aux[in.auxIdx]
		for _, e := range in.table {
			target, err := u.jumpTarget(pc, e.target)
			if err != nil {
				return 0, 0, err
			}
			table.Entries[e.key] = int64(target)
		}
		operand = int64(in.auxIdx)

	default:
		if len(in.args) != 1 {
			return 0, 0, errorf(in.line, "%s requires exactly one operand", in.mnemonic)
		}
		arg := in.args[0]
		var err error
		switch info.Operand {
		case vm.OperandConst:
			operand, err = u.index(arg, len(u.consts), "constant")
		case vm.OperandAux:
			operand, err = u.index(arg, len(u.aux), "aux")
		case vm.OperandLocal:
			operand, err = u.slot(arg)
		case vm.OperandCount:
			n, ok := parseIntLiteral(arg.Text)
			if !ok || n < 0 || arg.Kind != TokenWord {
				err = errorf(arg.Line, "bad count %s", arg)
			}
			operand = n
		case vm.OperandOffset:
			var off int
			off, err = u.jumpTarget(pc, arg)
			operand = int64(off)
		}
		if err != nil {
			return 0, 0, err
		}
	}

	if in.sized {
		if !vm.OperandFits(info.Operand, info.Width, operand) {
			return 0, 0, errorf(in.line, "operand %d does not fit %s", operand, in.mnemonic)
		}
		return in.op, operand, nil
	}
	for _, w := range []int{1, 4} {
		op, ok := vm.Sized(in.family, w)
		if ok && vm.OperandFits(info.Operand, w, operand) {
			return op, operand, nil
		}
	}
	return 0, 0, errorf(in.line, "operand %d out of range for %s", operand, in.mnemonic)
}

func (u *unit) index(t Token, n int, what string) (int64, error) {
	i, ok := parseIntLiteral(t.Text)
	if !ok || t.Kind != TokenWord {
		return 0, errorf(t.Line, "bad %s index %s", what, t)
	}
	if i < 0 || i >= int64(n) {
		return 0, errorf(t.Line, "%s index %d out of range (%d entries)", what, i, n)
	}
	return i, nil
}

func (u *unit) slot(t Token) (int64, error) {
	if t.Kind == TokenWord {
		if rest, ok := strings.CutPrefix(t.Text, "%v"); ok {
			if n, err := strconv.Atoi(rest); err == nil && n >= 0 {
				return int64(n), nil
			}
			return 0, errorf(t.Line, "bad local %s", t)
		}
		if isInteger(t.Text) {
			n, _ := strconv.ParseInt(t.Text, 10, 64)
			if n < 0 {
				return 0, errorf(t.Line, "bad local %s", t)
			}
			return n, nil
		}
	}
	for i, n := range u.localNames {
		if n == t.Text && n != "" {
			return int64(i), nil
		}
	}
	return 0, errorf(t.Line, "unknown local %s", t)
}

// jumpTarget returns the offset from the instruction after pc to the
// target named by t: a label or a signed relative offset.
func (u *unit) jumpTarget(pc int, t Token) (int, error) {
	if t.Kind != TokenWord {
		return 0, errorf(t.Line, "bad jump target %s", t)
	}
	if off, ok := parseOffset(t.Text); ok {
		return int(off), nil
	}
	target, ok := u.labels[t.Text]
	if !ok {
		return 0, errorf(t.Line, "undefined label %q", t.Text)
	}
	return target - (pc + 1), nil
}

// pcRef resolves a range bound: a label or an absolute pc.
func (u *unit) pcRef(t Token) (int, error) {
	if t.Kind == TokenWord {
		if isInteger(t.Text) {
			n, _ := strconv.Atoi(t.Text)
			return n, nil
		}
		if pc, ok := u.labels[t.Text]; ok {
			return pc, nil
		}
	}
	return 0, errorf(t.Line, "undefined label %s", t)
}

func (u *unit) resolveRange(r pendingRange) (vm.ExceptionRange, error) {
	start, err := u.pcRef(r.start)
	if err != nil {
		return vm.ExceptionRange{}, err
	}
	end, err := u.pcRef(r.end)
	if err != nil {
		return vm.ExceptionRange{}, err
	}
	handler, err := u.pcRef(r.handler)
	if err != nil {
		return vm.ExceptionRange{}, err
	}
	n := len(u.instrs)
	if start < 0 || start > end || end > n || handler < 0 || handler > n {
		return vm.ExceptionRange{}, errorf(r.line, "bad exception range [%d, %d) -> %d", start, end, handler)
	}
	return vm.ExceptionRange{PCStart: start, PCEnd: end, HandlerPC: handler, Kind: r.kind}, nil
}

// resolveCommands turns .command directives into source map entries. When
// no .source is given the source is the command texts joined by newlines.
func (u *unit) resolveCommands() error {
	if len(u.directives) == 0 {
		return nil
	}
	if u.commandsBlock {
		return errorf(u.directives[0].line, ".command cannot be combined with a Commands block")
	}
	if !u.sourceSet {
		texts := make([]string, len(u.directives))
		for i, d := range u.directives {
			texts[i] = d.text
		}
		u.source = strings.Join(texts, "\n")
	}
	cursor := 0
	for i, d := range u.directives {
		at := strings.Index(u.source[cursor:], d.text)
		if at < 0 {
			return errorf(d.line, "command text %q not found in source", d.text)
		}
		start := cursor + at
		end := len(u.instrs)
		if i+1 < len(u.directives) {
			end = u.directives[i+1].pc
		}
		u.commands = append(u.commands, vm.CommandLocation{
			PCStart: d.pc, PCEnd: end,
			SrcStart: start, SrcEnd: start + len(d.text),
		})
		cursor = start + len(d.text)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Literals
// ---------------------------------------------------------------------------

func isInteger(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func parseIntLiteral(s string) (int64, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	neg := false
	t := s
	if strings.HasPrefix(t, "-") {
		neg, t = true, t[1:]
	}
	if hex, ok := strings.CutPrefix(strings.ToLower(t), "0x"); ok {
		if n, err := strconv.ParseInt(hex, 16, 64); err == nil {
			if neg {
				n = -n
			}
			return n, true
		}
	}
	return 0, false
}

// literal interprets a bare push operand: integer, float, or string.
func literal(s string) vm.Value {
	if n, ok := parseIntLiteral(s); ok {
		return vm.Int(n)
	}
	if strings.ContainsAny(s, "0123456789") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return vm.Double(f)
		}
	}
	return vm.String(s)
}

// parseOffset parses a signed relative offset written +N or -N.
func parseOffset(s string) (int64, bool) {
	if len(s) < 2 || (s[0] != '+' && s[0] != '-') {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseSpan parses "A-B" with non-negative A; B may be -1 for empty spans
// starting at 0.
func parseSpan(s string) (int, int, bool) {
	a, b, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, false
	}
	x, err := strconv.Atoi(a)
	if err != nil || x < 0 {
		return 0, 0, false
	}
	y, err := strconv.Atoi(b)
	if err != nil {
		return 0, 0, false
	}
	return x, y, true
}

func rangeKind(s string) (vm.RangeKind, bool) {
	switch s {
	case "catch":
		return vm.RangeCatch, true
	case "finally":
		return vm.RangeFinally, true
	}
	return 0, false
}
