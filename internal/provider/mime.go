// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provider

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/supportdesk/mailhook/internal/models"
)

// maxPartBytes caps how much of a single MIME part is buffered.
const maxPartBytes = 25 * 1024 * 1024

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// mimeMessage is the best-effort result of reading a raw RFC 5322 message.
// This is not a full RFC 2045 implementation: unreadable parts are skipped.
type mimeMessage struct {
	Subject     string
	From        string
	FromName    string
	To          []string
	MessageID   string
	InReplyTo   string
	References  string
	Date        string
	TextBody    string
	HTMLBody    string
	Attachments []models.Attachment
}

// parseMIME reads a raw message into its headers, first text/plain and
// text/html bodies, and attachments.
func parseMIME(provider string, raw []byte) (*mimeMessage, error) {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read mime message: %w", err)
	}
	defer mr.Close()

	msg := &mimeMessage{
		MessageID:  mr.Header.Get("Message-Id"),
		InReplyTo:  mr.Header.Get("In-Reply-To"),
		References: strings.Join(mr.Header.Values("References"), " "),
		Date:       mr.Header.Get("Date"),
	}
	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = mr.Header.Get("Subject")
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
		msg.FromName = from[0].Name
	} else {
		msg.From, msg.FromName = parseAddress(mr.Header.Get("From"))
	}
	if to, err := mr.Header.AddressList("To"); err == nil {
		for _, a := range to {
			msg.To = append(msg.To, a.Address)
		}
	} else if v := mr.Header.Get("To"); v != "" {
		msg.To = []string{v}
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Debug("stopping mime walk on unreadable part", "provider", provider, "error", err)
			break
		}

		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, err := io.ReadAll(io.LimitReader(part.Body, maxPartBytes))
			if err != nil {
				slog.Debug("skipping unreadable inline part", "provider", provider, "error", err)
				continue
			}
			switch {
			case contentType == "text/html" && msg.HTMLBody == "":
				msg.HTMLBody = string(body)
			case (contentType == "text/plain" || contentType == "") && msg.TextBody == "":
				msg.TextBody = string(body)
			}
		case *gomail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			body, err := io.ReadAll(io.LimitReader(part.Body, maxPartBytes))
			if err != nil {
				slog.Debug("attachment part unreadable, keeping empty buffer",
					"provider", provider,
					"filename", filename,
					"error", err,
				)
				body = []byte{}
			}
			msg.Attachments = append(msg.Attachments, models.Attachment{
				Filename:    filename,
				ContentType: contentType,
				Content:     body,
				Size:        len(body),
			})
		}
	}

	return msg, nil
}

// parseHeaderBlock reads a raw header block such as SendGrid's "headers"
// field. The block does not need a trailing blank line.
func parseHeaderBlock(block string) (textproto.Header, error) {
	block = strings.TrimRight(block, "\r\n") + "\r\n\r\n"
	return textproto.ReadHeader(bufio.NewReader(strings.NewReader(block)))
}
