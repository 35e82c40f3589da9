package source

import "testing"

func TestElementRef(t *testing.T) {
	var zero ElementRef
	if !zero.IsZero() {
		t.Error("zero ref should report IsZero")
	}
	if zero.String() != "<none>" {
		t.Errorf("zero ref string = %q", zero.String())
	}

	ref := ElementRef{Sender: ":1.42", Path: "/org/a11y/atspi/accessible/7"}
	if ref.IsZero() {
		t.Error("populated ref should not be zero")
	}
	other := ElementRef{Sender: ":1.42", Path: "/org/a11y/atspi/accessible/7"}
	if ref != other {
		t.Error("identical refs should compare equal")
	}
	different := ElementRef{Sender: ":1.42", Path: "/org/a11y/atspi/accessible/8"}
	if ref == different {
		t.Error("distinct refs should not compare equal")
	}
}

func TestEventKindString(t *testing.T) {
	tests := []struct {
		kind EventKind
		want string
	}{
		{FocusGained, "focus-gained"},
		{FocusLost, "focus-lost"},
		{TextChanged, "text-changed"},
		{EventKind(99), "unknown"},
	}
	for _, test := range tests {
		if got := test.kind.String(); got != test.want {
			t.Errorf("kind %d = %q, want %q", test.kind, got, test.want)
		}
	}
}
