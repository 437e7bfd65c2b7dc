package invitecodes

import (
	"crypto/rand"
	"io"
)

// codeAlphabet avoids characters that are easy to misread (O/0, I/1).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Generate returns a random code formatted XXXX-XXXX-XXXX.
func Generate() (string, error) {
	const n = 12
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(buf[0:4]) + "-" + string(buf[4:8]) + "-" + string(buf[8:12]), nil
}
