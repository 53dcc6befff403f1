package server

import "strings"

// acceptMatches reports whether the value of an Accept request header is
// satisfied by mimeType. Wildcards work on both sides: a header of
// "text/*" matches "text/plain", and a stored mime of "application/*"
// matches a header of "application/json".
func acceptMatches(header, mimeType string) bool {
	if strings.Contains(header, mimeType) || strings.Contains(header, "*/*") {
		return true
	}
	if strings.HasSuffix(mimeType, "/*") {
		base := strings.TrimSuffix(mimeType, "/*")
		return strings.HasPrefix(header, base) || strings.HasPrefix(header, base+"/")
	}
	if strings.HasSuffix(header, "/*") {
		base := strings.TrimSuffix(header, "/*")
		return strings.HasPrefix(mimeType, base) || strings.HasPrefix(mimeType, base+"/")
	}
	return false
}
