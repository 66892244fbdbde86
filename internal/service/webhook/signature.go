package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// SignatureScheme is the only scheme whose entries are checked; others in
	// the header are ignored.
	SignatureScheme = "v1"

	DefaultTolerance = 20 * time.Second
)

type signedHeader struct {
	timestamp  int64
	signatures [][]byte
}

// parseSignatureHeader parses "t=<unix>,v1=<hex>[,v1=<hex>...]".
// Undecodable v1 values are skipped rather than failing the whole header.
func parseSignatureHeader(header string) (signedHeader, error) {
	var (
		sh           signedHeader
		hasTimestamp bool
	)

	for pair := range strings.SplitSeq(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}

		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return signedHeader{}, verificationError(ErrMalformedHeader, "invalid timestamp")
			}
			sh.timestamp = ts
			hasTimestamp = true
		case SignatureScheme:
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			sh.signatures = append(sh.signatures, sig)
		}
	}

	if !hasTimestamp {
		return signedHeader{}, verificationError(ErrMalformedHeader, "no timestamp")
	}
	if len(sh.signatures) == 0 {
		return signedHeader{}, verificationError(ErrMalformedHeader, "no "+SignatureScheme+" signatures")
	}
	return sh, nil
}

// ComputeSignature returns HMAC-SHA256(secret, "<timestamp>.<payload>").
func ComputeSignature(timestamp int64, payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// GenerateTestHeader builds a signature header for payload as the platform
// would send it.
func GenerateTestHeader(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	sig := ComputeSignature(ts, payload, secret)
	return fmt.Sprintf("t=%d,%s=%s", ts, SignatureScheme, hex.EncodeToString(sig))
}

type Verifier struct {
	now func() time.Time
}

func NewVerifier(now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{now: now}
}

// VerifySignature checks sigHeader against payload and returns the decoded
// event. A non-positive tolerance disables the timestamp check.
func (v *Verifier) VerifySignature(payload []byte, sigHeader, secret string, tolerance time.Duration) (Event, error) {
	if strings.TrimSpace(sigHeader) == "" {
		return Event{}, verificationError(ErrMissingSignature, "")
	}

	header, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return Event{}, err
	}

	expected := ComputeSignature(header.timestamp, payload, secret)

	matched := false
	for _, sig := range header.signatures {
		// keep comparing after a match so timing does not reveal its position
		if hmac.Equal(expected, sig) {
			matched = true
		}
	}
	if !matched {
		return Event{}, verificationError(ErrSignatureMismatch, "")
	}

	if tolerance > 0 && !withinTolerance(header.timestamp, v.now().Unix(), tolerance) {
		return Event{}, verificationError(ErrTimestampOutOfTolerance,
			fmt.Sprintf("timestamp %d is more than %s from %d", header.timestamp, tolerance, v.now().Unix()))
	}

	event, err := parseEvent(payload)
	if err != nil {
		return Event{}, verificationError(ErrMalformedPayload, err.Error())
	}
	return event, nil
}

// withinTolerance compares in whole seconds. Converting an arbitrary signed
// timestamp to a time.Duration saturates and would let far-future values pass.
func withinTolerance(ts, now int64, tolerance time.Duration) bool {
	tol := int64(tolerance / time.Second)
	return ts >= now-tol && ts <= now+tol
}
