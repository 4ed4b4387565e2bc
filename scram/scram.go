// Package scram implements the client side of SCRAM-SHA-256 (RFC 5802 /
// RFC 7677), the SASL mechanism PostgreSQL uses for password
// authentication since version 10.
//
// The primitives (SHA-256, HMAC-SHA-256, PBKDF2) come from the standard
// library rather than a hand-rolled implementation: the state machine is
// the part worth owning, not the hashing.
package scram

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const (
	clientKeyLabel = "Client Key"
	serverKeyLabel = "Server Key"
	nonceBytes     = 18
)

// Client drives the four-message SCRAM-SHA-256 exchange for one
// authentication attempt. It is not reusable across attempts.
type Client struct {
	username string
	password string

	clientNonce     string
	clientFirstBare string
	serverFirstMsg  string
	serverNonce     string
	salt            []byte
	iterations      int
	saltedPassword  [32]byte
	authMessage     string
}

// New creates a SCRAM client for the given username/password pair.
// The client nonce is drawn from crypto/rand.
func New(username, password string) (*Client, error) {
	nonce, err := randomNonce()
	if err != nil {
		return nil, fmt.Errorf("scram: generate nonce: %w", err)
	}
	return &Client{username: username, password: password, clientNonce: nonce}, nil
}

func randomNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// FirstMessage builds the client-first-message carried inside
// SASLInitialResponse: "n,,n=<user>,r=<nonce>".
func (c *Client) FirstMessage() []byte {
	c.clientFirstBare = fmt.Sprintf("n=%s,r=%s", escapeName(c.username), c.clientNonce)
	return []byte("n,," + c.clientFirstBare)
}

// escapeName applies the SCRAM saslprep-lite escaping for ',' and '='
// required by RFC 5802 §5.1.
func escapeName(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	s = strings.ReplaceAll(s, ",", "=2C")
	return s
}

// FinalMessage consumes the server-first-message (the payload of
// AuthenticationSASLContinue) and returns the client-final-message to
// send as the SASLResponse.
func (c *Client) FinalMessage(serverFirst []byte) ([]byte, error) {
	c.serverFirstMsg = string(serverFirst)

	var nonce, saltB64 string
	iterations := -1
	for _, part := range strings.Split(c.serverFirstMsg, ",") {
		switch {
		case strings.HasPrefix(part, "r="):
			nonce = part[2:]
		case strings.HasPrefix(part, "s="):
			saltB64 = part[2:]
		case strings.HasPrefix(part, "i="):
			n, err := strconv.Atoi(part[2:])
			if err != nil {
				return nil, fmt.Errorf("scram: invalid iteration count: %w", err)
			}
			iterations = n
		}
	}
	if nonce == "" || saltB64 == "" || iterations <= 0 {
		return nil, fmt.Errorf("scram: malformed server-first-message %q", c.serverFirstMsg)
	}
	if !strings.HasPrefix(nonce, c.clientNonce) {
		return nil, fmt.Errorf("scram: server nonce does not extend client nonce")
	}

	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, fmt.Errorf("scram: invalid salt encoding: %w", err)
	}

	c.serverNonce = nonce
	c.salt = salt
	c.iterations = iterations
	c.saltedPassword = pbkdf2HMACSHA256([]byte(c.password), salt, iterations)

	clientFinalWithoutProof := "c=biws,r=" + c.serverNonce
	c.authMessage = c.clientFirstBare + "," + c.serverFirstMsg + "," + clientFinalWithoutProof

	clientKey := hmacSHA256(c.saltedPassword[:], []byte(clientKeyLabel))
	storedKey := sha256.Sum256(clientKey)
	clientSignature := hmacSHA256(storedKey[:], []byte(c.authMessage))

	proof := make([]byte, len(clientKey))
	for i := range proof {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}

	final := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof)
	return []byte(final), nil
}

// VerifyServerFinal checks the "v=<signature>" payload of
// AuthenticationSASLFinal against the expected server signature,
// completing mutual authentication.
func (c *Client) VerifyServerFinal(serverFinal []byte) error {
	msg := string(serverFinal)
	sigB64, ok := strings.CutPrefix(msg, "v=")
	if !ok {
		return fmt.Errorf("scram: malformed server-final-message %q", msg)
	}
	got, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("scram: invalid server signature encoding: %w", err)
	}

	serverKey := hmacSHA256(c.saltedPassword[:], []byte(serverKeyLabel))
	want := hmacSHA256(serverKey, []byte(c.authMessage))

	if !hmac.Equal(got, want) {
		return fmt.Errorf("scram: server signature mismatch")
	}
	return nil
}

func hmacSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// pbkdf2HMACSHA256 is PBKDF2 with HMAC-SHA-256 as the PRF and dkLen fixed
// at 32 bytes (RFC 5802's "Hi" function), which is all SCRAM-SHA-256
// needs.
func pbkdf2HMACSHA256(password, salt []byte, iterations int) [32]byte {
	mac := hmac.New(sha256.New, password)
	mac.Write(salt)
	mac.Write([]byte{0, 0, 0, 1})
	u := mac.Sum(nil)

	var result [32]byte
	copy(result[:], u)

	prev := u
	for i := 1; i < iterations; i++ {
		mac.Reset()
		mac.Write(prev)
		u = mac.Sum(nil)
		for j := range result {
			result[j] ^= u[j]
		}
		prev = u
	}
	return result
}
