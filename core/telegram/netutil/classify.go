package netutil

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"regexp"

	tele "gopkg.in/telebot.v4"
)

// Class is a short failure category used in logs and retry decisions.
type Class string

const (
	ClassNone    Class = ""
	ClassTimeout Class = "timeout"
	ClassFlood   Class = "flood"
	ClassDNS     Class = "dns"
	ClassDial    Class = "dial"
	ClassTLS     Class = "tls"
	Class5xx     Class = "http_5xx"
	Class4xx     Class = "http_4xx"
	ClassUnknown Class = "unknown"
)

// classifiers run in order; the first non-empty class wins.
var classifiers = []func(error) Class{
	func(err error) Class {
		if errors.Is(err, context.DeadlineExceeded) {
			return ClassTimeout
		}
		return ClassNone
	},
	func(err error) Class {
		if _, ok := RetryAfter(err); ok {
			return ClassFlood
		}
		return ClassNone
	},
	func(err error) Class {
		var dnsErr *net.DNSError
		switch {
		case !errors.As(err, &dnsErr):
			return ClassNone
		case dnsErr.IsTimeout:
			return ClassTimeout
		default:
			return ClassDNS
		}
	},
	func(err error) Class {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ClassTimeout
		}
		return ClassNone
	},
	func(err error) Class {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return ClassDial
		}
		return ClassNone
	},
	func(err error) Class {
		var alert tls.AlertError
		if errors.As(err, &alert) {
			return ClassTLS
		}
		return ClassNone
	},
	func(err error) Class {
		switch code := statusCode(err); {
		case code >= 500:
			return Class5xx
		case code >= 400:
			return Class4xx
		}
		return ClassNone
	},
}

// Classify maps err to its failure class. A nil error has ClassNone.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	for _, p := range classifiers {
		if c := p(err); c != ClassNone {
			return c
		}
	}
	return ClassUnknown
}

// Transient reports whether c is worth another attempt.
func (c Class) Transient() bool {
	switch c {
	case ClassTimeout, ClassFlood, ClassDial, ClassDNS:
		return true
	}
	return false
}

func statusCode(err error) int {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var groupErr tele.GroupError
	if errors.As(err, &groupErr) {
		return http.StatusBadRequest
	}
	return 0
}

var tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)

// Redact hides bot tokens that net/http embeds in request URLs.
func Redact(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}
