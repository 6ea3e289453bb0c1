// Package mrl implements the Media Resource Locator conventions of §6:
// every path crossing a component boundary is an RFC 3986 URL with a
// scheme. Local files use file:// plus an absolute, URL-encoded path;
// on Windows the drive letter becomes the leading path segment.
package mrl

import (
	"net/url"
	"path"
	"strings"
)

// safeChars are never percent-encoded outside the host segment:
// [A-Za-z0-9._~/-]. The host segment additionally leaves '@' and ':'
// unescaped so user-info and port survive verbatim.
func isSafe(b byte, allowAt bool) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '.' || b == '_' || b == '~' || b == '/' || b == '-':
		return true
	case allowAt && (b == '@' || b == ':'):
		return true
	}
	return false
}

func percentEncode(s string, allowAt bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isSafe(c, allowAt) {
			b.WriteByte(c)
		} else {
			b.WriteString("%")
			b.WriteString(strings.ToUpper(hexByte(c)))
		}
	}
	return b.String()
}

func hexByte(c byte) string {
	const hex = "0123456789ABCDEF"
	return string([]byte{hex[c>>4], hex[c&0x0f]})
}

// EncodeLocal builds a file:// MRL from an absolute filesystem path. A
// leading Windows drive letter ("C:\...") is turned into a leading path
// segment ("/C:/...") per §6.
func EncodeLocal(absPath string) string {
	p := filepath2slash(absPath)
	if len(p) >= 2 && p[1] == ':' {
		p = "/" + p
	}
	encoded := encodePath(p)
	if !strings.HasPrefix(encoded, "/") {
		encoded = "/" + encoded
	}
	return "file://" + encoded
}

func filepath2slash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// encodePath percent-encodes each path segment, leaving a leading
// Windows drive segment ("/C:/...") as is.
func encodePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		if i == 1 && segments[0] == "" && len(s) == 2 && s[1] == ':' &&
			((s[0] >= 'A' && s[0] <= 'Z') || (s[0] >= 'a' && s[0] <= 'z')) {
			continue
		}
		segments[i] = percentEncode(s, false)
	}
	return strings.Join(segments, "/")
}

// Encode builds a scheme://host[:port]/path MRL, percent-encoding the
// host and path segments independently (the host keeps '@' and ':'
// unescaped for user-info and port).
func Encode(scheme, host string, port int, path_ string) string {
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(percentEncode(host, true))
	if port != 0 {
		b.WriteString(":")
		b.WriteString(itoa(port))
	}
	if path_ != "" && !strings.HasPrefix(path_, "/") {
		b.WriteString("/")
	}
	b.WriteString(encodePath(path_))
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Decode parses an MRL back into its scheme, host, port and decoded path.
// It is the left inverse of Encode/EncodeLocal: encode(decode(mrl)) ==
// mrl for every well-formed mrl (§8 round-trip property), because
// url.Parse/url.URL.String already implement RFC 3986 percent-decoding
// and re-encoding with the same safe-character set semantics we target.
func Decode(m string) (scheme, host string, port int, decodedPath string, err error) {
	u, err := url.Parse(m)
	if err != nil {
		return "", "", 0, "", err
	}
	scheme = u.Scheme
	host = u.Hostname()
	if u.User != nil {
		host = u.User.String() + "@" + host
	}
	if p := u.Port(); p != "" {
		port = atoi(p)
	}
	decodedPath = u.Path
	return scheme, host, port, decodedPath, nil
}

func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0
		}
		n = n*10 + int(s[i]-'0')
	}
	return n
}

// Scheme returns the scheme component of an MRL ("file", "smb", ...).
func Scheme(m string) string {
	if i := strings.Index(m, "://"); i >= 0 {
		return m[:i]
	}
	return ""
}

// defaultPorts maps a scheme to the port considered equivalent to "no
// port specified" for MatchesMountpoint purposes (§4.1: "default SMB
// port 445 is equivalent to absent port").
var defaultPorts = map[string]int{
	"smb": 445,
}

// normalizedPort collapses a scheme's default port and an absent port to
// the same comparable value (0).
func normalizedPort(scheme string, port int) int {
	if d, ok := defaultPorts[scheme]; ok && port == d {
		return 0
	}
	return port
}

// MatchesMountpoint performs the case-insensitive, scheme-aware mountpoint
// comparison of §4.1: candidate matches mountpoint when scheme, host and
// normalised port are equal and mountpoint's path is a path-segment
// prefix of candidate's path. It returns the matched prefix length in
// path segments, or -1 if no match.
func MatchesMountpoint(candidate, mountpoint string) int {
	cs, ch, cp, cpath, err := Decode(candidate)
	if err != nil {
		return -1
	}
	ms, mh, mp, mpath, err := Decode(mountpoint)
	if err != nil {
		return -1
	}
	if i := strings.LastIndex(ch, "@"); i >= 0 {
		ch = ch[i+1:]
	}
	if i := strings.LastIndex(mh, "@"); i >= 0 {
		mh = mh[i+1:]
	}
	if !strings.EqualFold(cs, ms) || !strings.EqualFold(ch, mh) {
		return -1
	}
	if normalizedPort(cs, cp) != normalizedPort(ms, mp) {
		return -1
	}
	candSegs := splitPath(cpath)
	mountSegs := splitPath(mpath)
	if len(mountSegs) > len(candSegs) {
		return -1
	}
	for i, seg := range mountSegs {
		if !strings.EqualFold(seg, candSegs[i]) {
			return -1
		}
	}
	return len(mountSegs)
}

func splitPath(p string) []string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}
