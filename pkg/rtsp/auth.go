package rtsp

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// authState is the auth_state sum type spec.md's data model names
// (`{none | basic{credentials} | digest{realm,nonce,qop,credentials}}`),
// realized as an interface over three concrete states rather than a
// tagged union, the idiomatic Go substitute.
type authState interface {
	// authorize returns the Authorization header value for one request,
	// or "" if nothing should be sent yet (none state).
	authorize(method, url string) string
}

type noneAuth struct{}

func (noneAuth) authorize(string, string) string { return "" }

type basicAuth struct {
	user, password string
}

func (b basicAuth) authorize(string, string) string {
	enc := base64.StdEncoding.EncodeToString([]byte(b.user + ":" + b.password))
	return "Basic " + enc
}

type digestAuth struct {
	user, password string
	realm, nonce   string
	qop            string
}

// authorize builds the Authorization header value. qop is accepted on
// the challenge but never echoed back and never folded into the response
// hash — no cnonce/nc are emitted — matching the literal digest vectors.
func (d digestAuth) authorize(method, url string) string {
	response := DigestResponse(d.user, d.realm, d.password, url, method, d.nonce)
	return fmt.Sprintf(`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		d.user, d.realm, d.nonce, url, response)
}

// ha1 computes MD5(user:realm:password), RFC 2617 §3.2.2.2.
func ha1(user, realm, password string) string {
	return md5Hex(user + ":" + realm + ":" + password)
}

// ha2 computes MD5(method:uri), the non-auth-int form, RFC 2617 §3.2.2.3.
func ha2(method, uri string) string {
	return md5Hex(method + ":" + uri)
}

// DigestResponse computes the RFC 2617 digest response hash
// MD5(HA1:nonce:HA2), matching spec.md §8's two literal test vectors
// (plain digest, no qop/cnonce/nc folded into the hash).
func DigestResponse(user, realm, password, uri, method, nonce string) string {
	h1 := ha1(user, realm, password)
	h2 := ha2(method, uri)
	return md5Hex(h1 + ":" + nonce + ":" + h2)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// DigestChallenge is a parsed "WWW-Authenticate: Digest ..." header.
type DigestChallenge struct {
	Realm string
	Nonce string
	Qop   string
	Stale string
}

// ParseDigestChallenge parses a WWW-Authenticate header value into its
// scheme and key="value" parameters, e.g.
// `Digest realm="X", nonce="Y", stale=FALSE` per spec.md §8.
func ParseDigestChallenge(header string) (DigestChallenge, bool) {
	const prefix = "Digest "
	if !strings.HasPrefix(header, prefix) {
		return DigestChallenge{}, false
	}
	params := parseAuthParams(header[len(prefix):])
	return DigestChallenge{
		Realm: params["realm"],
		Nonce: params["nonce"],
		Qop:   params["qop"],
		Stale: params["stale"],
	}, true
}

// parseAuthParams parses the comma-separated key=value / key="value" list
// that follows an auth scheme name.
func parseAuthParams(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.IndexByte(part, '=')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(part[:idx])
		val := strings.TrimSpace(part[idx+1:])
		val = strings.Trim(val, `"`)
		out[key] = val
	}
	return out
}
