// Package server implements a language server for tbc assembly listings.
package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/tbc/asm"
	"github.com/chazu/tbc/vm"
)

const lspName = "tbc-lsp"

var log = commonlog.GetLogger("tbc.lsp")

// directives maps assembler directives to their hover text.
var directives = map[string]string{
	".proc":    "`.proc name [param ...]` names the object and declares its parameters",
	".local":   "`.local name ...` declares named local slots after the parameters",
	".source":  "`.source \"text\"` sets the source text the command map points into",
	".command": "`.command \"text\"` starts a command grouping at the current pc",
	".catch":   "`.catch start end handler` protects [start, end) with a catch range",
	".finally": "`.finally start end handler` protects [start, end) with a finally range",
}

// LspServer serves diagnostics, hover and completion for .tasm documents.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Infof("%s %s initializing", lspName, s.version)

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	r, ok := findLabel(text, word)
	if !ok {
		return nil, nil
	}
	return []protocol.Location{{URI: uri, Range: r}}, nil
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := diagnose(text)
	log.Debugf("%s: %d diagnostics", uri, len(diagnostics))

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// --- Document analysis ---

// diagnose assembles text and reports the failure, if any, on its line.
func diagnose(text string) []protocol.Diagnostic {
	_, err := asm.Assemble(text)
	if err == nil {
		return []protocol.Diagnostic{}
	}

	var line uint32
	var msg = err.Error()
	var ma *asm.MalformedAssembly
	if errors.As(err, &ma) {
		msg = ma.Reason
		if ma.Line > 0 {
			line = uint32(ma.Line - 1)
		}
	}
	lines := strings.Split(text, "\n")
	var width uint32
	if int(line) < len(lines) {
		width = uint32(utf8.RuneCountInString(lines[line]))
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	return []protocol.Diagnostic{{
		Range: protocol.Range{
			Start: protocol.Position{Line: line, Character: 0},
			End:   protocol.Position{Line: line, Character: width},
		},
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	}}
}

// mnemonics returns every sized mnemonic and unsized family, sorted.
func mnemonics() []string {
	seen := make(map[string]bool)
	for _, op := range vm.AllOpcodes() {
		seen[op.String()] = true
	}
	for _, f := range vm.Families() {
		seen[f] = true
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func complete(prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)

	if strings.HasPrefix(prefix, ".") {
		names := make([]string, 0, len(directives))
		for name := range directives {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if strings.HasPrefix(name, lowerPrefix) {
				kind := protocol.CompletionItemKindKeyword
				detail := "directive"
				nameCopy := name
				items = append(items, protocol.CompletionItem{
					Label:      name,
					Kind:       &kind,
					Detail:     &detail,
					InsertText: &nameCopy,
				})
			}
		}
		return items
	}

	for _, name := range mnemonics() {
		if strings.HasPrefix(strings.ToLower(name), lowerPrefix) {
			kind := protocol.CompletionItemKindFunction
			detail := describeMnemonic(name)
			nameCopy := name
			items = append(items, protocol.CompletionItem{
				Label:      name,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &nameCopy,
			})
		}
	}
	return items
}

// describeMnemonic summarizes the operand and stack effect of a mnemonic.
func describeMnemonic(name string) string {
	if op, ok := vm.LookupOpcode(name); ok {
		return describeOpcode(op)
	}
	var variants []string
	for _, op := range vm.AllOpcodes() {
		if vm.GetOpcodeInfo(op).Family == name {
			variants = append(variants, op.String())
		}
	}
	if len(variants) == 0 {
		return ""
	}
	first, _ := vm.LookupOpcode(variants[0])
	return fmt.Sprintf("%s (encodes as %s)", describeOpcode(first), strings.Join(variants, ", "))
}

func describeOpcode(op vm.Opcode) string {
	info := vm.GetOpcodeInfo(op)
	pops := fmt.Sprint(info.Pop)
	switch op {
	case vm.OpInvoke1, vm.OpInvoke4:
		pops = "argc+1"
	case vm.OpStrcat1, vm.OpStrcat4:
		pops = "count"
	}
	if info.Operand == vm.OperandNone {
		return fmt.Sprintf("no operand, pops %s, pushes %d", pops, info.Push)
	}
	return fmt.Sprintf("%s operand, pops %s, pushes %d", info.Operand, pops, info.Push)
}

func hover(word string) *protocol.Hover {
	var value string
	if doc, ok := directives[word]; ok {
		value = doc
	} else if desc := describeMnemonic(word); desc != "" {
		value = fmt.Sprintf("**%s**\n\n%s", word, desc)
	} else {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: value,
		},
	}
}

// findLabel locates the definition "name:" of a label.
func findLabel(text, name string) (protocol.Range, bool) {
	for i, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimLeftFunc(line, unicode.IsSpace)
		if rest, ok := strings.CutPrefix(trimmed, name); ok && strings.HasPrefix(rest, ":") && !strings.HasPrefix(rest, "::") {
			col := uint32(utf8.RuneCountInString(line) - utf8.RuneCountInString(trimmed))
			return protocol.Range{
				Start: protocol.Position{Line: uint32(i), Character: col},
				End:   protocol.Position{Line: uint32(i), Character: col + uint32(utf8.RuneCountInString(name))},
			}, true
		}
	}
	return protocol.Range{}, false
}

// --- Text helpers ---

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.' || ch == ':'
}

func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the word
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	if start == col {
		return ""
	}
	return line[start:col]
}

func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}
	if start == end {
		return ""
	}
	// A trailing colon belongs to a label definition, not the name.
	return strings.TrimRight(line[start:end], ":")
}

func boolPtr(b bool) *bool {
	return &b
}
