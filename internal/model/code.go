package model

import "crypto/rand"

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CompletionCodeLength is fixed; codes are compared verbatim.
const CompletionCodeLength = 6

// NewCompletionCode generates the short secret a driver must present
// to close out a request. The alphabet skips easily confused glyphs
// (0/O, 1/I) because the recipient reads the code out loud.
func NewCompletionCode() string {
	buf := make([]byte, CompletionCodeLength)
	if _, err := rand.Read(buf); err != nil {
		panic("model: crypto/rand unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}
