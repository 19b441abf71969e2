package format

import "testing"

func TestEscape(t *testing.T) {
	if got := EscapeMD("a_b*c"); got != `a\_b\*c` {
		t.Fatalf("EscapeMD = %q", got)
	}
	if got := EscapeMDV2("v1.2 (beta)!"); got != `v1\.2 \(beta\)\!` {
		t.Fatalf("EscapeMDV2 = %q", got)
	}
}
