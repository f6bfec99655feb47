// Package mail turns email messages, fetched from Gmail or read from .eml
// files, into evidence input.
package mail

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/kalambet/jobtrack/internal/evidence"
	"github.com/kalambet/jobtrack/internal/tracker"
)

// ErrNoBody is returned when a message has neither a text nor an HTML part.
var ErrNoBody = errors.New("message has no readable body")

// Message is an email reduced to what the tracker needs.
type Message struct {
	ID      string
	From    string
	Subject string
	Date    time.Time
	Body    string
}

// Input builds extractor input for m. company may be empty.
func (m Message) Input(company string) evidence.Input {
	return evidence.Input{
		Kind:    tracker.Email,
		Text:    m.Body,
		Company: company,
		Sender:  m.From,
		Subject: m.Subject,
	}
}

// ReadEML parses an RFC 5322 message file.
func ReadEML(path string) (*Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	msg, err := ParseEML(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return msg, nil
}

// ParseEML parses a raw message. The plain text part is preferred; an HTML
// part is converted to text when there is no plain one.
func ParseEML(r io.Reader) (*Message, error) {
	m, err := mail.ReadMessage(r)
	if err != nil {
		return nil, err
	}
	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(m.Header.Get("Subject"))
	if err != nil {
		subject = m.Header.Get("Subject")
	}
	from, err := dec.DecodeHeader(m.Header.Get("From"))
	if err != nil {
		from = m.Header.Get("From")
	}
	out := &Message{
		ID:      strings.Trim(m.Header.Get("Message-Id"), "<>"),
		From:    from,
		Subject: subject,
	}
	if d, ok := parseDate(m.Header.Get("Date")); ok {
		out.Date = d
	}

	var parts bodyParts
	if err := parts.collect(m.Header.Get("Content-Type"), m.Header.Get("Content-Transfer-Encoding"), m.Body); err != nil {
		return nil, err
	}
	out.Body, err = parts.text()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// bodyParts holds the first text/plain and text/html bodies found.
type bodyParts struct {
	plain, html string
}

func (b *bodyParts) add(mediaType, content string) {
	switch mediaType {
	case "text/plain":
		if b.plain == "" {
			b.plain = content
		}
	case "text/html":
		if b.html == "" {
			b.html = content
		}
	}
}

func (b *bodyParts) text() (string, error) {
	if s := strings.TrimSpace(b.plain); s != "" {
		return s, nil
	}
	if b.html != "" {
		s, err := evidence.HTMLToText(b.html)
		if err != nil {
			return "", err
		}
		if s != "" {
			return s, nil
		}
	}
	return "", ErrNoBody
}

func (b *bodyParts) collect(contentType, encoding string, r io.Reader) error {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}
	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(r, params["boundary"])
		for {
			p, err := mr.NextRawPart()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading multipart body: %w", err)
			}
			if err := b.collect(p.Header.Get("Content-Type"), p.Header.Get("Content-Transfer-Encoding"), p); err != nil {
				return err
			}
		}
	}
	if mediaType != "text/plain" && mediaType != "text/html" {
		return nil
	}
	data, err := io.ReadAll(decodeTransfer(encoding, r))
	if err != nil {
		return fmt.Errorf("decoding %s part: %w", mediaType, err)
	}
	b.add(mediaType, string(data))
	return nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, stripNewlines{r})
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	}
	return r
}

// stripNewlines drops CR and LF so wrapped base64 decodes.
type stripNewlines struct{ r io.Reader }

func (s stripNewlines) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	n = copy(p, bytes.ReplaceAll(bytes.ReplaceAll(p[:n], []byte("\r"), nil), []byte("\n"), nil))
	return n, err
}
