package logger

// RedactSecret masks a credential for safe logging, keeping just enough of
// the prefix to correlate entries: "1//0abcdef..." → "1//0***".
// Short values (≤8 chars) are fully masked.
func RedactSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***"
}
