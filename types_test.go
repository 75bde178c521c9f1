package federation

import "testing"

func TestParseAttachment(t *testing.T) {
	cases := []struct {
		in    string
		flags string
		ids   []string
		fail  bool
	}{
		{in: "hb1-abc", flags: "h", ids: []string{"b1-abc"}},
		{in: "hsb1-abc,b2-def", flags: "hs", ids: []string{"b1-abc", "b2-def"}},
		{in: "hstb1,b2,b3", flags: "hst", ids: []string{"b1", "b2", "b3"}},
		// The id itself starts with a flag character; the comma count
		// disambiguates.
		{in: "hthumb-1", flags: "h", ids: []string{"thumb-1"}},
		{in: "sthigh,tiny", flags: "st", ids: []string{"high", "tiny"}},
		{in: "hsb1", flags: "h", ids: []string{"sb1"}},
		{in: "", fail: true},
		{in: "xb1", fail: true},
		{in: "hb1,b2", fail: true},
		{in: "hs,", fail: true},
	}

	for _, c := range cases {
		att, err := ParseAttachment(c.in)
		if c.fail {
			if err == nil {
				t.Fatalf("ParseAttachment(%q): expected error, got %+v", c.in, att)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseAttachment(%q) failed: %v", c.in, err)
		}
		if att.Flags != c.flags {
			t.Fatalf("ParseAttachment(%q): flags %q, want %q", c.in, att.Flags, c.flags)
		}
		if len(att.VariantIDs) != len(c.ids) {
			t.Fatalf("ParseAttachment(%q): %d ids, want %d", c.in, len(att.VariantIDs), len(c.ids))
		}
		for i, id := range c.ids {
			if att.VariantIDs[i] != id {
				t.Fatalf("ParseAttachment(%q): id[%d] = %q, want %q", c.in, i, att.VariantIDs[i], id)
			}
		}
		if att.String() != c.in {
			t.Fatalf("round trip of %q produced %q", c.in, att.String())
		}
	}
}

func TestAttachmentVariant(t *testing.T) {
	att, err := ParseAttachment("hsb1,b2")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if id, ok := att.Variant(VariantSD); !ok || id != "b2" {
		t.Fatalf("expected sd variant b2, got %q ok=%v", id, ok)
	}
	if _, ok := att.Variant(VariantThumb); ok {
		t.Fatalf("thumb variant should not be offered")
	}
}

func TestTypeTag(t *testing.T) {
	typ, sub := ParseTypeTag("REACT:LIKE")
	if typ != "REACT" || sub != "LIKE" {
		t.Fatalf("got %q/%q", typ, sub)
	}
	typ, sub = ParseTypeTag("POST")
	if typ != "POST" || sub != "" {
		t.Fatalf("got %q/%q", typ, sub)
	}

	tag, err := ComposeTypeTag("REACT", "LIKE")
	if err != nil || tag != "REACT:LIKE" {
		t.Fatalf("compose: %q, %v", tag, err)
	}
	if _, err := ComposeTypeTag("REACT", "LI:KE"); err == nil {
		t.Fatalf("expected error for colon in subtype")
	}
	if _, err := ComposeTypeTag("", ""); err == nil {
		t.Fatalf("expected error for empty type")
	}
}

func TestIsIDTag(t *testing.T) {
	valid := []string{"alice.example.com", "example.com", "a-b.example.io"}
	invalid := []string{"", "example", "EXAMPLE.com", ".example.com", "-a.example.com", "a..com", "a_b.example.com"}

	for _, s := range valid {
		if !IsIDTag(s) {
			t.Fatalf("IsIDTag(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if IsIDTag(s) {
			t.Fatalf("IsIDTag(%q) = true, want false", s)
		}
	}
}

func TestAPIHost(t *testing.T) {
	if APIHost("alice.example.com") != "cl-o.alice.example.com" {
		t.Fatalf("unexpected api host: %q", APIHost("alice.example.com"))
	}
}
