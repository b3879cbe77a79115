package oauth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

const testKeyID = "test-key-id"

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	return privateKey
}

func createTestJWT(t *testing.T, privateKey *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	return createTestJWTWithKid(t, privateKey, testKeyID, claims)
}

func createTestJWTWithKid(t *testing.T, privateKey *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	tokenString, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("Failed to sign JWT: %v", err)
	}

	return tokenString
}

// mockJWKSServer serves a JWKS document and counts requests.
type mockJWKSServer struct {
	*httptest.Server
	hits atomic.Int32
	keys atomic.Value // map[string]*rsa.PublicKey
}

func createMockJWKSServer(t *testing.T, publicKey *rsa.PublicKey) *mockJWKSServer {
	t.Helper()

	m := &mockJWKSServer{}
	m.setKeys(map[string]*rsa.PublicKey{testKeyID: publicKey})

	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.hits.Add(1)

		var keys []map[string]interface{}
		for kid, pub := range m.keys.Load().(map[string]*rsa.PublicKey) {
			keys = append(keys, map[string]interface{}{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"keys": keys})
	}))
	t.Cleanup(m.Close)

	return m
}

func (m *mockJWKSServer) setKeys(keys map[string]*rsa.PublicKey) {
	m.keys.Store(keys)
}
