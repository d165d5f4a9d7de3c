package errors

import (
	"fmt"
	"strings"
)

// ErrorType classifies where in the bytecode→machine-code pipeline an
// error originated.
type ErrorType int

const (
	SyntaxError ErrorType = iota
	LexicalError
	SemanticError
)

// BytecodeOffset locates an error within a function's instruction
// stream. It replaces the teacher's lexer.Position (a source-text
// line/column pair) since this module consumes already-decoded
// []opcodes.Instruction rather than source text — bytecode decoding is
// an external collaborator (DESIGN.md), so the only position a JIT-level
// error can name is an instruction index.
type BytecodeOffset struct {
	Instruction int
	FuncName    string
}

// Error represents one problem encountered while compiling a function.
type Error struct {
	Type     ErrorType      `json:"type"`
	Message  string         `json:"message"`
	Position BytecodeOffset `json:"position"`
	Source   string         `json:"source,omitempty"`
}

// NewSyntaxError reports a malformed instruction stream (e.g. an operand
// time-class combination the decoder itself should never produce).
func NewSyntaxError(message string, pos BytecodeOffset) *Error {
	return &Error{
		Type:     SyntaxError,
		Message:  message,
		Position: pos,
	}
}

// NewLexicalError reports a problem recognizing an opcode at all (an
// opcode value outside the registered set).
func NewLexicalError(message string, pos BytecodeOffset) *Error {
	return &Error{
		Type:     LexicalError,
		Message:  message,
		Position: pos,
	}
}

// NewSemanticError reports a problem with an otherwise well-formed
// instruction the compiler cannot specialize (spec.md's "unsupported
// bytecode" cases that aren't already funneled through
// jit.ErrUnsupportedBytecode).
func NewSemanticError(message string, pos BytecodeOffset) *Error {
	return &Error{
		Type:     SemanticError,
		Message:  message,
		Position: pos,
	}
}

// String renders the error with its instruction position.
func (e *Error) String() string {
	var typeStr string
	switch e.Type {
	case SyntaxError:
		typeStr = "Syntax Error"
	case LexicalError:
		typeStr = "Lexical Error"
	case SemanticError:
		typeStr = "Semantic Error"
	}

	if e.Position.FuncName != "" {
		return fmt.Sprintf("%s in %s at instruction %d: %s",
			typeStr, e.Position.FuncName, e.Position.Instruction, e.Message)
	}
	return fmt.Sprintf("%s at instruction %d: %s",
		typeStr, e.Position.Instruction, e.Message)
}

// Error 实现 error 接口
func (e *Error) Error() string {
	return e.String()
}

// WithSource 添加源代码上下文
func (e *Error) WithSource(source string) *Error {
	e.Source = source
	return e
}

// ErrorList 错误列表
type ErrorList []*Error

// Add 添加错误
func (el *ErrorList) Add(err *Error) {
	*el = append(*el, err)
}

// AddSyntaxError 添加语法错误
func (el *ErrorList) AddSyntaxError(message string, pos BytecodeOffset) {
	el.Add(NewSyntaxError(message, pos))
}

// AddLexicalError 添加词法错误
func (el *ErrorList) AddLexicalError(message string, pos BytecodeOffset) {
	el.Add(NewLexicalError(message, pos))
}

// AddSemanticError 添加语义错误
func (el *ErrorList) AddSemanticError(message string, pos BytecodeOffset) {
	el.Add(NewSemanticError(message, pos))
}

// HasErrors 检查是否有错误
func (el ErrorList) HasErrors() bool {
	return len(el) > 0
}

// Count 返回错误数量
func (el ErrorList) Count() int {
	return len(el)
}

// String 返回所有错误的字符串表示
func (el ErrorList) String() string {
	var builder strings.Builder
	for i, err := range el {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(err.String())
	}
	return builder.String()
}

// Error 实现 error 接口
func (el ErrorList) Error() string {
	return el.String()
}

// FilterByType 按类型过滤错误
func (el ErrorList) FilterByType(errorType ErrorType) ErrorList {
	var filtered ErrorList
	for _, err := range el {
		if err.Type == errorType {
			filtered = append(filtered, err)
		}
	}
	return filtered
}

// GetSyntaxErrors 获取语法错误
func (el ErrorList) GetSyntaxErrors() ErrorList {
	return el.FilterByType(SyntaxError)
}

// GetLexicalErrors 获取词法错误
func (el ErrorList) GetLexicalErrors() ErrorList {
	return el.FilterByType(LexicalError)
}

// GetSemanticErrors 获取语义错误
func (el ErrorList) GetSemanticErrors() ErrorList {
	return el.FilterByType(SemanticError)
}

// ErrorReporter 错误报告器
type ErrorReporter struct {
	errors ErrorList
	source string
}

// NewErrorReporter 创建新的错误报告器
func NewErrorReporter(source string) *ErrorReporter {
	return &ErrorReporter{
		errors: make(ErrorList, 0),
		source: source,
	}
}

// Report 报告错误
func (er *ErrorReporter) Report(err *Error) {
	if er.source != "" {
		err.WithSource(er.source)
	}
	er.errors.Add(err)
}

// ReportSyntaxError 报告语法错误
func (er *ErrorReporter) ReportSyntaxError(message string, pos BytecodeOffset) {
	er.Report(NewSyntaxError(message, pos))
}

// ReportLexicalError 报告词法错误
func (er *ErrorReporter) ReportLexicalError(message string, pos BytecodeOffset) {
	er.Report(NewLexicalError(message, pos))
}

// ReportSemanticError 报告语义错误
func (er *ErrorReporter) ReportSemanticError(message string, pos BytecodeOffset) {
	er.Report(NewSemanticError(message, pos))
}

// GetErrors 获取所有错误
func (er *ErrorReporter) GetErrors() ErrorList {
	return er.errors
}

// HasErrors 检查是否有错误
func (er *ErrorReporter) HasErrors() bool {
	return er.errors.HasErrors()
}

// Clear 清除所有错误
func (er *ErrorReporter) Clear() {
	er.errors = make(ErrorList, 0)
}

// GetErrorCount 获取错误数量
func (er *ErrorReporter) GetErrorCount() int {
	return er.errors.Count()
}

// PrintFormatted renders the error together with the disassembled
// instruction lines around it, when Source (one instruction's textual
// disassembly per line, as debug.go's DisassembleMachineCode produces)
// is available.
func (e *Error) PrintFormatted() string {
	if e.Source == "" {
		return e.String()
	}

	lines := strings.Split(e.Source, "\n")
	if e.Position.Instruction < 0 || e.Position.Instruction >= len(lines) {
		return e.String()
	}

	var builder strings.Builder
	builder.WriteString(e.String())
	builder.WriteString("\n")

	errorLine := lines[e.Position.Instruction]
	builder.WriteString(fmt.Sprintf("  %d | %s\n", e.Position.Instruction, errorLine))
	builder.WriteString("      | ^\n")

	return builder.String()
}
