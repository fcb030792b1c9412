// Package vm implements the stack-based bytecode interpreter: a
// fetch-decode-execute loop over a compiled chunk.Chunk, a value
// stack, string interning, and the globals table.
package vm

import (
	"fmt"
	"io"

	"loxvm/internal/chunk"
	"loxvm/internal/compiler"
	"loxvm/internal/hashtable"
	"loxvm/internal/value"
)

// stackMax bounds the value stack. Running past it is a runtime
// error, not a crash: untrusted scripts must not be able to take down
// the host process.
const stackMax = 256

// InterpretResult classifies how Interpret finished, mapping directly
// onto the CLI's exit codes (64 usage / 65 compile error / 70 runtime
// error is handled by cmd/lox; this package only distinguishes
// compile-time from run-time failure).
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// VM executes one chunk at a time. Strings and globals persist across
// calls to Interpret on the same VM, which is what lets a REPL define
// a variable on one line and read it back on the next.
type VM struct {
	chunk *chunk.Chunk
	ip    int

	stack    []value.Value
	strings  *hashtable.Table
	globals  *hashtable.Table

	stdout io.Writer
	stderr io.Writer
}

func New(stdout, stderr io.Writer) *VM {
	return &VM{
		stack:   make([]value.Value, 0, stackMax),
		strings: hashtable.New(),
		globals: hashtable.New(),
		stdout:  stdout,
		stderr:  stderr,
	}
}

// Globals exposes the globals table so the CLI can seed it from, and
// snapshot it to, a persistence backend.
func (vm *VM) Globals() *hashtable.Table {
	return vm.globals
}

// Intern exposes the VM's string table to the CLI so that persisted
// global values restored from a backend share the same identity rules
// as strings the VM allocates itself.
func (vm *VM) Intern(chars string) *value.ObjString {
	return vm.internString(chars)
}

// Interpret compiles and runs one program (or REPL line) against this
// VM's persistent state.
func (vm *VM) Interpret(source string) InterpretResult {
	ch, ok := compiler.Compile(source, vm.stderr, vm.internString)
	if !ok {
		return InterpretCompileError
	}
	return vm.InterpretChunk(ch)
}

// Compile compiles source without running it, for callers (the CLI's
// --disassemble flag) that need to inspect the bytecode before
// deciding whether, or how, to execute it.
func (vm *VM) Compile(source string) (*chunk.Chunk, bool) {
	return compiler.Compile(source, vm.stderr, vm.internString)
}

// InterpretChunk runs an already-compiled chunk against this VM's
// persistent state.
func (vm *VM) InterpretChunk(ch *chunk.Chunk) InterpretResult {
	vm.chunk = ch
	vm.ip = 0
	vm.stack = vm.stack[:0]

	return vm.run()
}

func (vm *VM) run() InterpretResult {
	for {
		if len(vm.stack) > stackMax {
			return vm.runtimeError(errStackOverflow)
		}

		op := chunk.OpCode(vm.readByte())

		switch op {
		case chunk.OpConstant:
			vm.push(vm.readConstant())

		case chunk.OpNil:
			vm.push(value.NilValue())
		case chunk.OpTrue:
			vm.push(value.BoolValue(true))
		case chunk.OpFalse:
			vm.push(value.BoolValue(false))

		case chunk.OpPop:
			if _, err := vm.pop(); err != nil {
				return vm.runtimeError(err)
			}

		case chunk.OpGetLocal:
			slot := vm.readByte()
			vm.push(vm.stack[slot])

		case chunk.OpSetLocal:
			slot := vm.readByte()
			v, err := vm.peek(0)
			if err != nil {
				return vm.runtimeError(err)
			}
			vm.stack[slot] = v

		case chunk.OpGetGlobal:
			name := vm.readConstant().Obj
			v, ok := vm.globals.Get(name)
			if !ok {
				return vm.runtimeErrorf("Undefined variable '%s'.", name.Chars)
			}
			vm.push(v)

		case chunk.OpDefineGlobal:
			name := vm.readConstant().Obj
			v, err := vm.pop()
			if err != nil {
				return vm.runtimeError(err)
			}
			vm.globals.Set(name, v)

		case chunk.OpSetGlobal:
			name := vm.readConstant().Obj
			v, err := vm.peek(0)
			if err != nil {
				return vm.runtimeError(err)
			}
			if isNew := vm.globals.Set(name, v); isNew {
				vm.globals.Delete(name)
				return vm.runtimeErrorf("Undefined variable '%s'.", name.Chars)
			}

		case chunk.OpEqual:
			b, err1 := vm.pop()
			a, err2 := vm.pop()
			if err := firstErr(err1, err2); err != nil {
				return vm.runtimeError(err)
			}
			vm.push(value.BoolValue(value.Equal(a, b)))

		case chunk.OpGreater:
			if res := vm.binaryNumberOp(func(a, b float64) value.Value {
				return value.BoolValue(a > b)
			}); res != InterpretOK {
				return res
			}
		case chunk.OpLess:
			if res := vm.binaryNumberOp(func(a, b float64) value.Value {
				return value.BoolValue(a < b)
			}); res != InterpretOK {
				return res
			}

		case chunk.OpAdd:
			if res := vm.add(); res != InterpretOK {
				return res
			}
		case chunk.OpSubtract:
			if res := vm.binaryNumberOp(func(a, b float64) value.Value {
				return value.NumberValue(a - b)
			}); res != InterpretOK {
				return res
			}
		case chunk.OpMultiply:
			if res := vm.binaryNumberOp(func(a, b float64) value.Value {
				return value.NumberValue(a * b)
			}); res != InterpretOK {
				return res
			}
		case chunk.OpDivide:
			if res := vm.binaryNumberOp(func(a, b float64) value.Value {
				return value.NumberValue(a / b)
			}); res != InterpretOK {
				return res
			}

		case chunk.OpNot:
			v, err := vm.pop()
			if err != nil {
				return vm.runtimeError(err)
			}
			vm.push(value.BoolValue(v.IsFalsey()))

		case chunk.OpNegate:
			v, err := vm.peek(0)
			if err != nil {
				return vm.runtimeError(err)
			}
			if !v.IsNumber() {
				return vm.runtimeErrorf("Operand must be a number.")
			}
			vm.pop()
			vm.push(value.NumberValue(-v.Num))

		case chunk.OpPrint:
			v, err := vm.pop()
			if err != nil {
				return vm.runtimeError(err)
			}
			fmt.Fprintln(vm.stdout, v.String())

		case chunk.OpJump:
			offset := vm.readShort()
			vm.ip += offset

		case chunk.OpJumpIfFalse:
			offset := vm.readShort()
			v, err := vm.peek(0)
			if err != nil {
				return vm.runtimeError(err)
			}
			if v.IsFalsey() {
				vm.ip += offset
			}

		case chunk.OpLoop:
			offset := vm.readShort()
			vm.ip -= offset

		case chunk.OpReturn:
			return InterpretOK

		default:
			return vm.runtimeErrorf("Unknown opcode %d.", byte(op))
		}
	}
}

// --- fetch helpers ---

func (vm *VM) readByte() byte {
	b := vm.chunk.Code[vm.ip]
	vm.ip++
	return b
}

func (vm *VM) readShort() int {
	hi := vm.readByte()
	lo := vm.readByte()
	return int(hi)<<8 | int(lo)
}

func (vm *VM) readConstant() value.Value {
	return vm.chunk.Constants[vm.readByte()]
}

// --- stack ---

var errStackUnderflow = fmt.Errorf("stack underflow")
var errStackOverflow = fmt.Errorf("Stack overflow.")

func (vm *VM) push(v value.Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() (value.Value, error) {
	if len(vm.stack) == 0 {
		return value.Value{}, errStackUnderflow
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

func (vm *VM) peek(distance int) (value.Value, error) {
	idx := len(vm.stack) - 1 - distance
	if idx < 0 {
		return value.Value{}, errStackUnderflow
	}
	return vm.stack[idx], nil
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// --- arithmetic ---

func (vm *VM) binaryNumberOp(op func(a, b float64) value.Value) InterpretResult {
	b, errB := vm.peek(0)
	a, errA := vm.peek(1)
	if err := firstErr(errA, errB); err != nil {
		return vm.runtimeError(err)
	}
	if !a.IsNumber() || !b.IsNumber() {
		return vm.runtimeErrorf("Operands must be numbers.")
	}
	vm.pop()
	vm.pop()
	vm.push(op(a.Num, b.Num))
	return InterpretOK
}

// add implements `+`, which overloads number addition and string
// concatenation, interning the result the same way any other string
// literal would be interned.
func (vm *VM) add() InterpretResult {
	b, errB := vm.peek(0)
	a, errA := vm.peek(1)
	if err := firstErr(errA, errB); err != nil {
		return vm.runtimeError(err)
	}

	switch {
	case a.IsNumber() && b.IsNumber():
		vm.pop()
		vm.pop()
		vm.push(value.NumberValue(a.Num + b.Num))
	case a.IsString() && b.IsString():
		vm.pop()
		vm.pop()
		vm.push(value.ObjValue(vm.internString(a.AsString() + b.AsString())))
	default:
		return vm.runtimeErrorf("Operands must be two numbers or two strings.")
	}
	return InterpretOK
}

// internString returns the canonical *ObjString for chars, allocating
// and registering a new one only if it is not already interned.
func (vm *VM) internString(chars string) *value.ObjString {
	hash := value.HashString(chars)
	if existing := vm.strings.FindString(chars, hash); existing != nil {
		return existing
	}
	obj := &value.ObjString{Chars: chars, Hash: hash}
	vm.strings.Set(obj, value.NilValue())
	return obj
}

// --- errors ---

func (vm *VM) runtimeErrorf(format string, args ...interface{}) InterpretResult {
	return vm.runtimeError(fmt.Errorf(format, args...))
}

// runtimeError writes the book's exact two-line diagnostic and resets
// the stack, leaving the VM usable for the next Interpret call (the
// REPL keeps running after a runtime error).
func (vm *VM) runtimeError(err error) InterpretResult {
	line := 0
	if vm.ip-1 >= 0 && vm.ip-1 < len(vm.chunk.Lines) {
		line = vm.chunk.Lines[vm.ip-1]
	}
	fmt.Fprintf(vm.stderr, "%s\n[line %d] in script\n", errMessage(err), line)
	vm.stack = vm.stack[:0]
	return InterpretRuntimeError
}

func errMessage(err error) string {
	if err == errStackUnderflow {
		return "Stack underflow."
	}
	if err == errStackOverflow {
		return errStackOverflow.Error()
	}
	return err.Error()
}
