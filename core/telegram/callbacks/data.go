// Package callbacks parses inline button data and routes callback queries by key.
package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// ParseData splits Telebot's "\f<unique>|<payload>" encoding. Data without
// the marker is treated the same way, so plain "key|payload" also parses.
func ParseData(data string) (string, string) {
	raw := strings.TrimPrefix(data, "\f")
	raw = strings.TrimPrefix(raw, `\f`)
	unique, payload, _ := strings.Cut(raw, "|")
	return strings.TrimSpace(unique), payload
}

// Key returns cb.Unique if present; otherwise parses it from Data.
func Key(cb *tele.Callback) string {
	if cb == nil {
		return ""
	}
	if cb.Unique != "" {
		return cb.Unique
	}
	k, _ := ParseData(cb.Data)
	return k
}

// Payload returns the part of Data after the key.
func Payload(cb *tele.Callback) string {
	if cb == nil {
		return ""
	}
	if cb.Unique != "" {
		return cb.Data
	}
	_, p := ParseData(cb.Data)
	return p
}

// Data encodes key and payload the way Telebot buttons do.
func Data(key, payload string) string {
	if payload == "" {
		return "\f" + key
	}
	return "\f" + key + "|" + payload
}
