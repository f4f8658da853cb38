package primitive

import "testing"

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Primitive
		want bool
	}{
		{"equal strings", String("foo"), String("foo"), true},
		{"different strings", String("foo"), String("bar"), false},
		{"equal integers", Integer(42), Integer(42), true},
		{"doubles within tolerance", Double(1.0000000), Double(1.00000005), true},
		{"doubles outside tolerance", Double(1.0), Double(1.01), false},
		{"equal bytes", Bytes([]byte("abc")), Bytes([]byte("abc")), true},
		{"different kinds never equal", Integer(1), String("1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHashConsistentWithEqual(t *testing.T) {
	a := Double(1.0000000)
	b := Double(1.00000005)
	if !a.Equal(b) {
		t.Fatalf("precondition: expected a.Equal(b)")
	}
	if a.Hash() != b.Hash() {
		t.Errorf("Hash() must agree with Equal(): %d != %d", a.Hash(), b.Hash())
	}
}

func TestBytesImmutableOnConstruction(t *testing.T) {
	src := []byte{1, 2, 3}
	p := Bytes(src)
	src[0] = 0xff
	got, _ := p.AsBytes()
	if got[0] != 1 {
		t.Errorf("Bytes() did not copy input: got %v", got)
	}
}

func TestToJSONProjection(t *testing.T) {
	if v := Integer(30).ToJSON(); v != int64(30) {
		t.Errorf("Integer ToJSON = %v (%T), want int64(30)", v, v)
	}
	if v := String("x").ToJSON(); v != "x" {
		t.Errorf("String ToJSON = %v, want x", v)
	}
	if v := Bytes([]byte("ab")).ToJSON(); v != "YWI=" {
		t.Errorf("Bytes ToJSON = %v, want base64", v)
	}
}

func TestDbKeyValidation(t *testing.T) {
	if _, ok := NewDbKey("", String("x")); ok {
		t.Errorf("empty key name must be rejected")
	}
	if _, ok := NewDbKey("   ", String("x")); ok {
		t.Errorf("whitespace-only key name must be rejected")
	}
	if _, ok := NewDbKey("Id", String("x")); !ok {
		t.Errorf("valid key name must be accepted")
	}
}

func TestDbKeyOrdering(t *testing.T) {
	k1, _ := NewDbKey("a", String("x"))
	k2, _ := NewDbKey("a", String("y"))
	k3, _ := NewDbKey("b", String("a"))
	if !k1.Less(k2) {
		t.Errorf("expected k1 < k2 by value")
	}
	if !k2.Less(k3) {
		t.Errorf("expected k2 < k3 by name")
	}
}
