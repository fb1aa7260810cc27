package internal

import "testing"

func TestFingerprint(t *testing.T) {
	for _, tt := range []struct {
		name string
		a, b string
		same bool
	}{
		{name: "same key", a: "0:abcdef", b: "0:abcdef", same: true},
		{name: "different key", a: "0:abcdef", b: "0:abcdeg", same: false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			fa, fb := Fingerprint(tt.a), Fingerprint(tt.b)
			if (fa == fb) != tt.same {
				t.Errorf("Fingerprint(%q) = %q, Fingerprint(%q) = %q, wanted same=%v", tt.a, fa, tt.b, fb, tt.same)
			}
			if fa == tt.a {
				t.Errorf("fingerprint leaked the key: %q", fa)
			}
		})
	}

	if got := Fingerprint(""); got != "" {
		t.Errorf("empty key should have an empty fingerprint, got %q", got)
	}
}

func TestSHA256sum(t *testing.T) {
	const want = "2652bdba8fb4d2ab39ef28d8534d7694c557a4ae146c1e9237bd8d950280500e"
	if got := SHA256sum("hunter0"); got != want {
		t.Errorf("SHA256sum(hunter0) = %s, want %s", got, want)
	}
}
