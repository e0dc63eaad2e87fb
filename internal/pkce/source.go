package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"math/big"
)

const (
	MethodS256 = "S256"

	// RFC 7636 section 4.1 bounds for the code verifier.
	MinVerifierLength     = 43
	MaxVerifierLength     = 128
	DefaultVerifierLength = 64
)

// unreserved is the RFC 3986 unreserved character set.
const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

// Source produces the random values of an authorization flow.
// The zero value generates verifiers of DefaultVerifierLength.
type Source struct {
	VerifierLength int
}

func (p Source) randBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)

	return b
}

func (p Source) randString(n int, letters string) string {
	ret := make([]byte, n)
	for i := range n {
		num, _ := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		ret[i] = letters[num.Int64()]
	}

	return string(ret)
}

func (p Source) verifierLength() int {
	switch {
	case p.VerifierLength == 0:
		return DefaultVerifierLength
	case p.VerifierLength < MinVerifierLength:
		return MinVerifierLength
	case p.VerifierLength > MaxVerifierLength:
		return MaxVerifierLength
	default:
		return p.VerifierLength
	}
}

// GenerateVerifier returns a code verifier drawn uniformly from the unreserved set.
func (p Source) GenerateVerifier() string {
	return p.randString(p.verifierLength(), unreserved)
}

// ChallengeFrom computes the S256 code challenge of verifier.
func ChallengeFrom(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))

	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (p Source) PKCE() PKCE {
	verifier := p.GenerateVerifier()

	return PKCE{
		Verifier:  verifier,
		Challenge: ChallengeFrom(verifier),
		Method:    MethodS256,
	}
}

// State returns an anti-CSRF state value with 256 bits of entropy.
func (p Source) State() string {
	return base64.RawURLEncoding.EncodeToString(p.randBytes(32))
}

func (p Source) SessionID() string {
	return base64.RawURLEncoding.EncodeToString(p.randBytes(32))
}

// MaxStateLength bounds the state values accepted back from a callback.
const MaxStateLength = 128

// IsWellFormedState reports whether s could have been produced by State:
// non-empty, bounded, and base64url without padding.
func IsWellFormedState(s string) bool {
	if s == "" || len(s) > MaxStateLength {
		return false
	}
	for i := range len(s) {
		c := s[i]
		isAlnum := ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9')
		if !isAlnum && c != '-' && c != '_' {
			return false
		}
	}

	return true
}

// IsValidVerifier reports whether v has a valid length and only unreserved characters.
func IsValidVerifier(v string) bool {
	if len(v) < MinVerifierLength || len(v) > MaxVerifierLength {
		return false
	}
	for i := range len(v) {
		c := v[i]
		isAlnum := ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9')
		if !isAlnum && c != '-' && c != '.' && c != '_' && c != '~' {
			return false
		}
	}

	return true
}
