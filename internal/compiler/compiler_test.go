package compiler

import (
	"bytes"
	"strings"
	"testing"

	"loxvm/internal/chunk"
	"loxvm/internal/hashtable"
	"loxvm/internal/value"
)

// testInterner mimics the VM's own find-or-insert string table so
// tests exercise the same identity rules production code relies on.
func testInterner(strings *hashtable.Table) func(string) *value.ObjString {
	return func(chars string) *value.ObjString {
		hash := value.HashString(chars)
		if existing := strings.FindString(chars, hash); existing != nil {
			return existing
		}
		obj := &value.ObjString{Chars: chars, Hash: hash}
		strings.Set(obj, value.NilValue())
		return obj
	}
}

func compile(t *testing.T, src string) (*chunk.Chunk, string) {
	t.Helper()
	var errs bytes.Buffer
	ch, ok := Compile(src, &errs, testInterner(hashtable.New()))
	if !ok && errs.Len() == 0 {
		t.Fatal("compilation failed but no diagnostics were written")
	}
	return ch, errs.String()
}

func TestCompileArithmeticEmitsExpectedOps(t *testing.T) {
	ch, errs := compile(t, "1 + 2 * 3;")
	if errs != "" {
		t.Fatalf("unexpected errors: %s", errs)
	}

	want := []chunk.OpCode{
		chunk.OpConstant, // 1
		chunk.OpConstant, // 2
		chunk.OpConstant, // 3
		chunk.OpMultiply,
		chunk.OpAdd,
		chunk.OpPop,
		chunk.OpReturn,
	}
	assertOps(t, ch, want)
}

func TestCompileVarDeclarationGlobal(t *testing.T) {
	ch, errs := compile(t, `var a = 1; print a;`)
	if errs != "" {
		t.Fatalf("unexpected errors: %s", errs)
	}
	assertOps(t, ch, []chunk.OpCode{
		chunk.OpConstant,
		chunk.OpDefineGlobal,
		chunk.OpGetGlobal,
		chunk.OpPrint,
		chunk.OpReturn,
	})
}

func TestCompileLocalsUseSlotOps(t *testing.T) {
	ch, errs := compile(t, `{ var a = 1; print a; }`)
	if errs != "" {
		t.Fatalf("unexpected errors: %s", errs)
	}
	assertOps(t, ch, []chunk.OpCode{
		chunk.OpConstant,
		chunk.OpGetLocal,
		chunk.OpPrint,
		chunk.OpPop,
		chunk.OpReturn,
	})
}

func TestCompileIfElseEmitsJumps(t *testing.T) {
	ch, errs := compile(t, `if (true) { print 1; } else { print 2; }`)
	if errs != "" {
		t.Fatalf("unexpected errors: %s", errs)
	}
	var buf bytes.Buffer
	ch.Disassemble(&buf, "test")
	out := buf.String()
	if !strings.Contains(out, "OP_JUMP_IF_FALSE") || !strings.Contains(out, "OP_JUMP") {
		t.Fatalf("expected jump instructions in:\n%s", out)
	}
}

func TestCompileWhileEmitsLoop(t *testing.T) {
	ch, errs := compile(t, `var i = 0; while (i < 3) { i = i + 1; }`)
	if errs != "" {
		t.Fatalf("unexpected errors: %s", errs)
	}
	var buf bytes.Buffer
	ch.Disassemble(&buf, "test")
	if !strings.Contains(buf.String(), "OP_LOOP") {
		t.Fatalf("expected OP_LOOP in:\n%s", buf.String())
	}
}

func TestCompileInternsGlobalNamesAndStringLiterals(t *testing.T) {
	strings := hashtable.New()
	var errs bytes.Buffer
	ch, ok := Compile(`var a = "foo"; print a;`, &errs, testInterner(strings))
	if !ok {
		t.Fatalf("compile failed: %s", errs.String())
	}

	var nameConsts, stringConsts []*value.ObjString
	for _, c := range ch.Constants {
		if c.IsString() {
			if c.AsString() == "a" {
				nameConsts = append(nameConsts, c.Obj)
			}
			if c.AsString() == "foo" {
				stringConsts = append(stringConsts, c.Obj)
			}
		}
	}

	if len(nameConsts) != 2 {
		t.Fatalf("expected 2 constant-pool entries for name 'a' (define + read), got %d", len(nameConsts))
	}
	if nameConsts[0] != nameConsts[1] {
		t.Fatal("identifierConstant must return the same interned *ObjString for repeated references to the same name")
	}
	if len(stringConsts) != 1 {
		t.Fatalf("expected 1 constant-pool entry for string literal 'foo', got %d", len(stringConsts))
	}

	// The interning table itself must report the same pointer for
	// content it has already seen, confirming parseString and
	// identifierConstant both round-tripped through it rather than
	// allocating independently.
	if found := strings.FindString("a", value.HashString("a")); found != nameConsts[0] {
		t.Fatal("compiled name constant was not routed through the shared intern table")
	}
	if found := strings.FindString("foo", value.HashString("foo")); found != stringConsts[0] {
		t.Fatal("compiled string literal was not routed through the shared intern table")
	}
}

func TestCompileErrorUnterminatedBlock(t *testing.T) {
	_, ok := Compile(`{ var a = 1;`, &bytes.Buffer{}, testInterner(hashtable.New()))
	if ok {
		t.Fatal("expected compile failure for unterminated block")
	}
}

func TestCompileErrorSelfReferencingLocalInitializer(t *testing.T) {
	_, errs := compile(t, `{ var a = a; }`)
	if !strings.Contains(errs, "Can't read local variable in its own initializer.") {
		t.Fatalf("expected self-reference error, got: %s", errs)
	}
}

func TestCompileErrorMessageFormat(t *testing.T) {
	_, errs := compile(t, `print 1`)
	want := "Expect ';' after value."
	if !strings.Contains(errs, "[line 1] Error at end: "+want) {
		t.Fatalf("unexpected error format: %q", errs)
	}
}

func TestCompileAndOrShortCircuit(t *testing.T) {
	ch, errs := compile(t, `print false and 1; print true or 2;`)
	if errs != "" {
		t.Fatalf("unexpected errors: %s", errs)
	}
	var buf bytes.Buffer
	ch.Disassemble(&buf, "test")
	out := buf.String()
	if strings.Count(out, "OP_JUMP_IF_FALSE") < 2 {
		t.Fatalf("expected jumps for both and/or, got:\n%s", out)
	}
}

func assertOps(t *testing.T, ch *chunk.Chunk, want []chunk.OpCode) {
	t.Helper()
	got := extractOps(ch)
	if len(got) != len(want) {
		t.Fatalf("op count = %d, want %d\ngot:  %v\nwant: %v", len(got), len(want), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("op %d = %s, want %s\ngot:  %v\nwant: %v", i, got[i], want[i], got, want)
		}
	}
}

// extractOps walks the code stream pulling out opcodes only, skipping
// operand bytes, for order-of-instruction assertions that do not care
// about operand values.
func extractOps(ch *chunk.Chunk) []chunk.OpCode {
	var ops []chunk.OpCode
	for i := 0; i < len(ch.Code); {
		op := chunk.OpCode(ch.Code[i])
		ops = append(ops, op)
		switch op {
		case chunk.OpConstant, chunk.OpGetLocal, chunk.OpSetLocal,
			chunk.OpGetGlobal, chunk.OpDefineGlobal, chunk.OpSetGlobal:
			i += 2
		case chunk.OpJump, chunk.OpJumpIfFalse, chunk.OpLoop:
			i += 3
		default:
			i++
		}
	}
	return ops
}
