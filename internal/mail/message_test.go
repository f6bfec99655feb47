package mail

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/jobtrack/internal/tracker"
)

func TestReadEML_Multipart(t *testing.T) {
	m, err := ReadEML("testdata/multipart.eml")
	if err != nil {
		t.Fatalf("ReadEML: %v", err)
	}
	if m.Subject != "Next steps – Globex" {
		t.Errorf("Subject = %q", m.Subject)
	}
	if !strings.Contains(m.From, "jane@globex.com") {
		t.Errorf("From = %q", m.From)
	}
	if m.ID != "abc123@globex.com" {
		t.Errorf("ID = %q", m.ID)
	}
	want := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	if !m.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", m.Date, want)
	}
	if !strings.Contains(m.Body, "onsite interview at Globex.") || strings.Contains(m.Body, "HTML version") {
		t.Errorf("Body = %q, want the plain part", m.Body)
	}

	in := m.Input("")
	if in.Kind != tracker.Email || in.Sender != m.From || in.Subject != m.Subject || in.Text != m.Body {
		t.Errorf("Input = %+v", in)
	}
}

func TestParseEML_HTMLOnly(t *testing.T) {
	raw := "From: a@b.com\r\nSubject: hi\r\nContent-Type: text/html\r\n\r\n" +
		"<html><body><p>Thank you for applying to <b>Initech</b>.</p>" +
		"<blockquote type=\"cite\">old thread</blockquote></body></html>"
	m, err := ParseEML(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseEML: %v", err)
	}
	if !strings.Contains(m.Body, "Thank you for applying to") || strings.Contains(m.Body, "old thread") {
		t.Errorf("Body = %q", m.Body)
	}
}

func TestParseEML_Base64(t *testing.T) {
	// "Unfortunately we will not move forward." wrapped over two lines.
	raw := "From: a@b.com\r\nSubject: update\r\nContent-Type: text/plain\r\n" +
		"Content-Transfer-Encoding: base64\r\n\r\n" +
		"VW5mb3J0dW5hdGVseSB3ZSB3aWxs\r\nIG5vdCBtb3ZlIGZvcndhcmQu\r\n"
	m, err := ParseEML(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseEML: %v", err)
	}
	if m.Body != "Unfortunately we will not move forward." {
		t.Errorf("Body = %q", m.Body)
	}
}

func TestParseEML_NoBody(t *testing.T) {
	raw := "From: a@b.com\r\nSubject: x\r\nContent-Type: image/png\r\n\r\nxxxx"
	if _, err := ParseEML(strings.NewReader(raw)); !errors.Is(err, ErrNoBody) {
		t.Errorf("err = %v, want ErrNoBody", err)
	}
}
