package fragment

import (
	"testing"

	"piiindex/internal/keyderiv"
)

func byTag(pairs []Pair, tag keyderiv.Tag) []string {
	var out []string
	for _, p := range pairs {
		if p.Tag == tag {
			out = append(out, p.Fragment)
		}
	}
	return out
}

func TestEnumerateEq(t *testing.T) {
	pairs := Enumerate("arjun", 3)
	eq := byTag(pairs, keyderiv.Eq)
	if len(eq) != 1 || eq[0] != "arjun" {
		t.Fatalf("expected single eq fragment 'arjun', got %v", eq)
	}
}

func TestEnumeratePrefixes(t *testing.T) {
	pairs := Enumerate("arjun", 3)
	pre := byTag(pairs, keyderiv.Pre)
	want := []string{"a", "ar", "arj", "arju", "arjun"}
	if len(pre) != len(want) {
		t.Fatalf("expected %d prefixes, got %d: %v", len(want), len(pre), pre)
	}
	for i, w := range want {
		if pre[i] != w {
			t.Fatalf("prefix %d: expected %q, got %q", i, w, pre[i])
		}
	}
}

func TestEnumerateSuffixes(t *testing.T) {
	pairs := Enumerate("kumar", 3)
	suf := byTag(pairs, keyderiv.Suf)
	want := []string{"r", "ar", "mar", "umar", "kumar"}
	if len(suf) != len(want) {
		t.Fatalf("expected %d suffixes, got %d: %v", len(want), len(suf), suf)
	}
	for i, w := range want {
		if suf[i] != w {
			t.Fatalf("suffix %d: expected %q, got %q", i, w, suf[i])
		}
	}
}

func TestEnumerateGrams(t *testing.T) {
	pairs := Enumerate("gmail", 3)
	grams := byTag(pairs, keyderiv.Gram(3))
	want := []string{"gma", "mai", "ail"}
	if len(grams) != len(want) {
		t.Fatalf("expected %d grams, got %d: %v", len(want), len(grams), grams)
	}
	for i, w := range want {
		if grams[i] != w {
			t.Fatalf("gram %d: expected %q, got %q", i, w, grams[i])
		}
	}
}

func TestEnumerateShortValueNoGrams(t *testing.T) {
	pairs := Enumerate("ab", 3)
	if len(byTag(pairs, keyderiv.Gram(3))) != 0 {
		t.Fatal("expected no 3-grams for a 2-rune value")
	}
}

func TestEnumerateEmpty(t *testing.T) {
	if pairs := Enumerate("", 3); pairs != nil {
		t.Fatalf("expected nil for empty value, got %v", pairs)
	}
}

func TestCountMatchesEnumerate(t *testing.T) {
	for _, v := range []string{"a", "ab", "arjun", "x@gmail.com"} {
		n := len([]rune(v))
		got := len(Enumerate(v, 3))
		want := Count(n, 3)
		if got != want {
			t.Fatalf("Count(%d,3)=%d but Enumerate produced %d fragments for %q", n, want, got, v)
		}
	}
}

func TestQueryFragmentsEq(t *testing.T) {
	pairs, ok := QueryFragments(Eq, "arjun", 3)
	if !ok || len(pairs) != 1 || pairs[0].Tag != keyderiv.Eq || pairs[0].Fragment != "arjun" {
		t.Fatalf("unexpected eq query fragments: %v ok=%v", pairs, ok)
	}
}

func TestQueryFragmentsStartsWith(t *testing.T) {
	pairs, ok := QueryFragments(StartsWith, "Ar", 3)
	if !ok || len(pairs) != 1 || pairs[0].Tag != keyderiv.Pre || pairs[0].Fragment != "Ar" {
		t.Fatalf("unexpected startsWith query fragments: %v ok=%v", pairs, ok)
	}
}

func TestQueryFragmentsEndsWith(t *testing.T) {
	pairs, ok := QueryFragments(EndsWith, "mar", 3)
	if !ok || len(pairs) != 1 || pairs[0].Tag != keyderiv.Suf || pairs[0].Fragment != "ram" {
		t.Fatalf("unexpected endsWith query fragments: %v ok=%v", pairs, ok)
	}
}

func TestQueryFragmentsContainsTooShort(t *testing.T) {
	_, ok := QueryFragments(Contains, "oo", 3)
	if ok {
		t.Fatal("expected ok=false for a contains query shorter than K")
	}
}

func TestQueryFragmentsContains(t *testing.T) {
	pairs, ok := QueryFragments(Contains, "gmai", 3)
	if !ok {
		t.Fatal("expected ok=true")
	}
	want := []string{"gma", "mai"}
	if len(pairs) != len(want) {
		t.Fatalf("expected %d gram pairs, got %d: %v", len(want), len(pairs), pairs)
	}
	for i, w := range want {
		if pairs[i].Fragment != w {
			t.Fatalf("gram %d: expected %q, got %q", i, w, pairs[i].Fragment)
		}
	}
}

func TestSubstringCompleteness(t *testing.T) {
	v := "priya.sharma@example.com"
	pairs := Enumerate(v, 3)
	grams := make(map[string]bool)
	for _, p := range pairs {
		if p.Tag == keyderiv.Gram(3) {
			grams[p.Fragment] = true
		}
	}
	runes := []rune(v)
	for i := 0; i+3 <= len(runes); i++ {
		sub := string(runes[i : i+3])
		if !grams[sub] {
			t.Fatalf("expected substring %q to be indexed as a gram", sub)
		}
	}
}
