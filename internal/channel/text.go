package channel

import (
	"strings"

	"paychat/internal/domain"
)

// messageText is the plain-text body of a chat message.
func messageText(msg domain.ChatMessage) string {
	if msg.Text != "" {
		return msg.Text
	}
	if len(msg.Attachments) > 0 {
		return msg.Attachments[0].Text
	}
	return ""
}

// splitText cuts text into chunks of at most maxLen bytes, preferring line
// breaks and never splitting a UTF-8 sequence.
func splitText(text string, maxLen int) []string {
	var chunks []string
	for len(text) > maxLen {
		cut := strings.LastIndex(text[:maxLen], "\n")
		if cut < maxLen/2 {
			cut = maxLen
			for cut > 0 && !isRuneStart(text[cut]) {
				cut--
			}
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
