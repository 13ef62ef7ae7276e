package service

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

const base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// bytes at or above this value are rejected so every character is equally likely
const base62Cutoff = 256 - 256%len(base62Chars)

func randomCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)

	buf := make([]byte, length*2)
	for b.Len() < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, c := range buf {
			if int(c) >= base62Cutoff {
				continue
			}
			b.WriteByte(base62Chars[int(c)%len(base62Chars)])
			if b.Len() == length {
				break
			}
		}
	}
	return b.String(), nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return 0, fmt.Errorf("empty duration")
	}

	// time.ParseDuration has no day unit.
	if strings.HasSuffix(s, "d") {
		days := s[:len(s)-1]
		var d int
		if _, err := fmt.Sscanf(days, "%d", &d); err != nil {
			return 0, err
		}
		return time.Duration(d) * 24 * time.Hour, nil
	}

	return time.ParseDuration(s)
}
