package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// Attachment is one file attached to an alarm mail.
type Attachment struct {
	Filename string
	Data     []byte
}

// Attachments walks every part of a raw RFC 5322 message and returns the
// parts whose Content-Disposition is attachment and that carry a filename.
func Attachments(raw []byte) ([]Attachment, error) {
	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer r.Close()

	var out []Attachment
	for {
		part, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return out, fmt.Errorf("read message part: %w", err)
		}
		if part == nil {
			continue
		}

		h, ok := part.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		disp, _, _ := h.ContentDisposition()
		if !strings.EqualFold(disp, "attachment") {
			continue
		}
		filename, _ := h.Filename()
		if strings.TrimSpace(filename) == "" {
			continue
		}

		data, err := io.ReadAll(part.Body)
		if err != nil {
			return out, fmt.Errorf("read attachment %s: %w", filename, err)
		}
		out = append(out, Attachment{Filename: filename, Data: data})
	}
	return out, nil
}
