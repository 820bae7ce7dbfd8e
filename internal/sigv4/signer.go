// Package sigv4 computes AWS Signature Version 4 request signatures.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rpattn/marketsync/internal/domain"
)

const (
	// Algorithm is the signing algorithm identifier.
	Algorithm = "AWS4-HMAC-SHA256"
	// ScopeTerminator closes both the credential scope and the key chain.
	ScopeTerminator = "aws4_request"

	HeaderAuthorization = "authorization"
	HeaderDate          = "x-amz-date"
	HeaderHost          = "host"

	timeFormat = "20060102T150405Z"
	dateFormat = "20060102"
)

// Signer holds the static signing credentials for one region/service pair.
type Signer struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Service         string
}

// Input is everything that gets bound into one signature.
type Input struct {
	Method  string
	Host    string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    []byte
	Time    time.Time
}

// Output carries the signature and the intermediate strings it was derived from.
type Output struct {
	CanonicalRequest string
	StringToSign     string
	CredentialScope  string
	SignedHeaders    string
	PayloadHash      string
	Signature        string
	// Headers contains every signed header plus Authorization, keyed by lowercase name.
	Headers map[string]string
}

// Sign derives the request signature. It is deterministic for a fixed Input.
func (s *Signer) Sign(in Input) (Output, error) {
	if err := s.check(in); err != nil {
		return Output{}, err
	}

	ts := in.Time.UTC()
	amzDate := ts.Format(timeFormat)
	date := ts.Format(dateFormat)

	headers := make(map[string]string, len(in.Headers)+2)
	for name, value := range in.Headers {
		headers[strings.ToLower(strings.TrimSpace(name))] = canonicalHeaderValue(value)
	}
	if in.Host != "" {
		headers[HeaderHost] = canonicalHeaderValue(in.Host)
	}
	headers[HeaderDate] = amzDate
	delete(headers, HeaderAuthorization)

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var canonicalHeaders strings.Builder
	for _, name := range names {
		canonicalHeaders.WriteString(name)
		canonicalHeaders.WriteByte(':')
		canonicalHeaders.WriteString(headers[name])
		canonicalHeaders.WriteByte('\n')
	}
	signedHeaders := strings.Join(names, ";")

	payloadHash := hashHex(in.Body)
	canonicalRequest := strings.Join([]string{
		strings.ToUpper(in.Method),
		canonicalURI(in.Path),
		canonicalQuery(in.Query),
		canonicalHeaders.String(),
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{date, s.Region, s.Service, ScopeTerminator}, "/")
	stringToSign := strings.Join([]string{
		Algorithm,
		amzDate,
		scope,
		hashHex([]byte(canonicalRequest)),
	}, "\n")

	key := s.signingKey(date)
	signature := hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))

	out := make(map[string]string, len(headers)+1)
	for name, value := range headers {
		out[name] = value
	}
	out[HeaderAuthorization] = fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		Algorithm, s.AccessKeyID, scope, signedHeaders, signature)

	return Output{
		CanonicalRequest: canonicalRequest,
		StringToSign:     stringToSign,
		CredentialScope:  scope,
		SignedHeaders:    signedHeaders,
		PayloadHash:      payloadHash,
		Signature:        signature,
		Headers:          out,
	}, nil
}

func (s *Signer) check(in Input) error {
	switch {
	case s == nil:
		return &domain.SigningError{Field: "signer", Reason: "is nil"}
	case strings.TrimSpace(s.AccessKeyID) == "":
		return &domain.SigningError{Field: "access key id", Reason: "is empty"}
	case s.SecretAccessKey == "":
		return &domain.SigningError{Field: "secret access key", Reason: "is empty"}
	case strings.TrimSpace(s.Region) == "":
		return &domain.SigningError{Field: "region", Reason: "is empty"}
	case strings.TrimSpace(s.Service) == "":
		return &domain.SigningError{Field: "service", Reason: "is empty"}
	case strings.TrimSpace(in.Method) == "":
		return &domain.SigningError{Field: "method", Reason: "is empty"}
	case in.Path != "" && !strings.HasPrefix(in.Path, "/"):
		return &domain.SigningError{Field: "path", Reason: "must be absolute"}
	case in.Time.IsZero():
		return &domain.SigningError{Field: "time", Reason: "is zero"}
	}
	return nil
}

// signingKey runs the four step HMAC chain date -> region -> service -> terminator.
func (s *Signer) signingKey(date string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+s.SecretAccessKey), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(s.Region))
	kService := hmacSHA256(kRegion, []byte(s.Service))
	return hmacSHA256(kService, []byte(ScopeTerminator))
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
