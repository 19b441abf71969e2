package callbacks

import (
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// PayloadInt64 parses the callback payload as int64.
func PayloadInt64(cb *tele.Callback) (int64, error) {
	return strconv.ParseInt(Payload(cb), 10, 64)
}

// PayloadInt parses the callback payload as int.
func PayloadInt(cb *tele.Callback) (int, error) {
	return strconv.Atoi(Payload(cb))
}

// PayloadParts splits the callback payload using sep.
func PayloadParts(cb *tele.Callback, sep string) ([]string, error) {
	p := Payload(cb)
	if p == "" {
		return nil, strconv.ErrSyntax
	}
	return strings.Split(p, sep), nil
}

// PayloadTwoInt64 parses a payload like "123|456" into two int64 values.
func PayloadTwoInt64(cb *tele.Callback, sep string) (int64, int64, error) {
	parts, err := PayloadParts(cb, sep)
	if err != nil {
		return 0, 0, err
	}
	if len(parts) != 2 {
		return 0, 0, strconv.ErrSyntax
	}
	a, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}
