package security

import (
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a credential cannot be verified or decoded.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a credential verifies but its exp is not in the future.
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the payload of a collab bearer credential as issued by the main application.
type Claims struct {
	jwt.RegisteredClaims
	UserID            int64    `json:"id"`
	Username          string   `json:"username,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	EditableProjects  []int64  `json:"editableProjects,omitempty"`
	EditableProposals []int64  `json:"editableProposals,omitempty"`
}

// AuthorizedIDs returns the identifier set carried by the named authorization claim, or nil for unknown names.
func (c *Claims) AuthorizedIDs(claim string) []int64 {
	switch claim {
	case "editableProjects":
		return c.EditableProjects
	case "editableProposals":
		return c.EditableProposals
	default:
		return nil
	}
}

// Verifier checks credential signatures against a public key that is loaded once and never re-read.
type Verifier struct {
	key    crypto.PublicKey
	parser *jwt.Parser
}

// NewVerifier returns a Verifier for key. issuer and audience are enforced only when non-empty.
// now may be nil; it exists so tests can pin the clock used for exp checks.
func NewVerifier(key crypto.PublicKey, issuer, audience string, now func() time.Time) (*Verifier, error) {
	alg := KeyAlg(key)
	if alg == "" {
		return nil, ErrInvalidKey
	}
	methods := []string{alg}
	switch alg {
	case "RS256":
		methods = []string{"RS256", "RS384", "RS512"}
	case "ES256", "ES384", "ES512":
		methods = []string{alg}
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	if now != nil {
		opts = append(opts, jwt.WithTimeFunc(now))
	}
	return &Verifier{key: key, parser: jwt.NewParser(opts...)}, nil
}

// Verify parses tokenString and returns its claims.
// It returns ErrTokenExpired for an otherwise valid but expired credential and ErrInvalidToken for everything else.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	if claims.UserID == 0 && claims.Subject != "" {
		id, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil {
			return nil, ErrInvalidToken
		}
		claims.UserID = id
	}
	return claims, nil
}

// Issuer signs collab credentials. The service itself never issues; cmd/devtoken and tests do.
type Issuer struct {
	key      crypto.Signer
	issuer   string
	audience string
	now      func() time.Time
}

// NewIssuer returns an Issuer that signs with key (RS256, ES256/384/512 or EdDSA by key type).
func NewIssuer(key crypto.Signer, issuer, audience string) *Issuer {
	return &Issuer{key: key, issuer: issuer, audience: audience, now: time.Now}
}

// Issue signs claims valid for ttl from now and returns the credential and its expiry.
// A negative ttl yields an already expired credential.
func (i *Issuer) Issue(claims Claims, ttl time.Duration) (string, time.Time, error) {
	method, err := signingMethod(i.key.Public())
	if err != nil {
		return "", time.Time{}, err
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := i.now().UTC()
	expiresAt := now.Add(ttl)
	claims.ID = jti
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	if claims.Subject == "" && claims.UserID != 0 {
		claims.Subject = strconv.FormatInt(claims.UserID, 10)
	}
	if i.issuer != "" {
		claims.Issuer = i.issuer
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}
	token, err := jwt.NewWithClaims(method, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func signingMethod(pub crypto.PublicKey) (jwt.SigningMethod, error) {
	switch KeyAlg(pub) {
	case "RS256":
		return jwt.SigningMethodRS256, nil
	case "ES256":
		return jwt.SigningMethodES256, nil
	case "ES384":
		return jwt.SigningMethodES384, nil
	case "ES512":
		return jwt.SigningMethodES512, nil
	case "EdDSA":
		return jwt.SigningMethodEdDSA, nil
	default:
		return nil, ErrInvalidKey
	}
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
