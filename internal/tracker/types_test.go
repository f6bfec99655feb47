package tracker

import (
	"encoding/json"
	"testing"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"Not Applied", NotApplied},
		{"not_applied", NotApplied},
		{"NOTAPPLIED", NotApplied},
		{"applied", Applied},
		{" Interview ", Interview},
		{"offer", Offer},
		{"REJECTED", Rejected},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		if err != nil {
			t.Errorf("ParseStatus(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStatus(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseStatus("ghosted"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestStatusJSON(t *testing.T) {
	b, err := json.Marshal(map[string]Status{"s": Interview})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"s":"Interview"}` {
		t.Errorf("got %s", b)
	}

	var out map[string]Status
	if err := json.Unmarshal([]byte(`{"s":"Not Applied"}`), &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out["s"] != NotApplied {
		t.Errorf("got %v, want Not Applied", out["s"])
	}
}

func TestKey(t *testing.T) {
	if Key("Acme") != Key("ACME ") || Key("  acme") != "acme" {
		t.Errorf("keys differ: %q %q", Key("Acme"), Key("ACME "))
	}
}

func TestNextStep(t *testing.T) {
	want := map[Status]string{
		NotApplied: "Apply",
		Applied:    "Follow Up",
		Interview:  "Prepare",
		Offer:      "Follow Up",
		Rejected:   "Apply",
	}
	for s, w := range want {
		if got := s.NextStep(); got != w {
			t.Errorf("%v.NextStep() = %q, want %q", s, got, w)
		}
	}
}

func TestParseSourceKind(t *testing.T) {
	if k, err := ParseSourceKind("Call"); err != nil || k != Call {
		t.Errorf("ParseSourceKind(Call) = %q, %v", k, err)
	}
	if k, err := ParseSourceKind("EMAIL"); err != nil || k != Email {
		t.Errorf("ParseSourceKind(EMAIL) = %q, %v", k, err)
	}
	if _, err := ParseSourceKind("manual"); err == nil {
		t.Error("manual must not parse as an evidence source")
	}
}
