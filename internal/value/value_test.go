package value

import "testing"

func TestIsFalsey(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{NilValue(), true},
		{BoolValue(false), true},
		{BoolValue(true), false},
		{NumberValue(0), false},
		{NumberValue(1), false},
		{ObjValue(&ObjString{Chars: ""}), false},
	}
	for _, c := range cases {
		if got := c.v.IsFalsey(); got != c.want {
			t.Errorf("IsFalsey(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestEqualStringsByIdentity(t *testing.T) {
	a := &ObjString{Chars: "hi"}
	b := &ObjString{Chars: "hi"}

	if !Equal(ObjValue(a), ObjValue(a)) {
		t.Error("same pointer should be equal")
	}
	if Equal(ObjValue(a), ObjValue(b)) {
		t.Error("distinct pointers with equal content must not compare equal without interning")
	}
}

func TestEqualAcrossTypes(t *testing.T) {
	if Equal(NumberValue(0), BoolValue(false)) {
		t.Error("values of different types must never be equal")
	}
	if Equal(NilValue(), BoolValue(false)) {
		t.Error("nil must not equal false")
	}
}

func TestNumberFormatting(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{3, "3.0"},
		{3.5, "3.5"},
		{0, "0.0"},
		{-12, "-12.0"},
		{1e21, "1e+21"},
	}
	for _, c := range cases {
		if got := NumberValue(c.in).String(); got != c.want {
			t.Errorf("String(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestHashStringFNV1a(t *testing.T) {
	if HashString("") != 2166136261 {
		t.Errorf("empty string hash = %d, want FNV offset basis", HashString(""))
	}
	if HashString("a") == HashString("b") {
		t.Error("distinct single-byte strings should not collide trivially")
	}
}
