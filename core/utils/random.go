package utils

import (
	"crypto/rand"
	"fmt"
	"time"
)

const randAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandString returns n characters drawn from crypto/rand.
func RandString(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("rand string length must be positive")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	for i, b := range buf {
		buf[i] = randAlphabet[int(b)%len(randAlphabet)]
	}
	return string(buf), nil
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
