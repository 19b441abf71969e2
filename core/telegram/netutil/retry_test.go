package netutil

import (
	"errors"
	"net"
	"net/url"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func TestShouldRetry(t *testing.T) {
	dial := &url.Error{Op: "Post", URL: "https://api.telegram.org", Err: &net.OpError{Op: "dial", Err: errors.New("refused")}}
	if !ShouldRetry(dial) {
		t.Fatal("dial errors are transient")
	}
	if ShouldRetry(errors.New("telegram: bad request (400)")) || ShouldRetry(nil) {
		t.Fatal("permanent errors must not be retried")
	}
	flood := tele.FloodError{RetryAfter: 3}
	if !ShouldRetry(flood) {
		t.Fatal("flood errors are retried")
	}
	if d, ok := RetryAfter(flood); !ok || d != 3*time.Second {
		t.Fatalf("RetryAfter = %v, %v", d, ok)
	}
}
