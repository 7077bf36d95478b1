package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/cybersemics/treecrdt-sub003/ids"
)

// coseSign1 mirrors RFC 8152's COSE_Sign1 structure: a CBOR array of
// [protected, unprotected, payload, signature]. fxamacker/cbor's `toarray`
// struct tag encodes/decodes a Go struct as a CBOR array in field order,
// which is what lets this stay a plain struct instead of hand-rolled array
// indexing.
type coseSign1 struct {
	_         struct{} `cbor:",toarray"`
	Protected []byte
	Unprotected map[string]interface{}
	Payload   []byte
	Signature []byte
}

// protectedHeader is the COSE protected header, CBOR-encoded into
// coseSign1.Protected as a bstr-wrapped map. alg -8 is EdDSA per RFC 8152 §8.2.
type protectedHeader struct {
	Alg int `cbor:"1,keyasint"`
}

const coseAlgEdDSA = -8

// cwtClaims is the CWT claims set (RFC 8392) carrying the capability grants
// this module defines as a private claim.
type cwtClaims struct {
	Issuer          string       `cbor:"1,keyasint,omitempty"`
	Subject         string       `cbor:"2,keyasint,omitempty"`
	Audience        string       `cbor:"3,keyasint,omitempty"`
	ExpiresAt       int64        `cbor:"4,keyasint,omitempty"`
	IssuedAt        int64        `cbor:"6,keyasint,omitempty"`
	ConfirmationKey []byte       `cbor:"8,keyasint,omitempty"`
	Caps            []wireCap    `cbor:"-260,keyasint,omitempty"`
}

type wireScope struct {
	DocID    string      `cbor:"1,keyasint"`
	Root     []byte      `cbor:"2,keyasint"`
	MaxDepth *uint32     `cbor:"3,keyasint,omitempty"`
	Exclude  [][]byte    `cbor:"4,keyasint,omitempty"`
}

type wireCap struct {
	Res     wireScope `cbor:"1,keyasint"`
	Actions []string  `cbor:"2,keyasint"`
}

var (
	ErrMalformedToken    = errors.New("auth: malformed capability token")
	ErrUntrustedIssuer   = errors.New("auth: token issuer is not trusted")
	ErrSignatureMismatch = errors.New("auth: token signature verification failed")
	ErrUnsupportedAlg    = errors.New("auth: unsupported COSE algorithm")
)

const tokenIDDomain = "treecrdt/tokenid/v1"

// TokenRef derives the 16-byte proofRef identifying a token by content,
// mirroring ids.DeriveOpRef's construction for the op log.
func TokenRef(tokenBytes []byte) ids.OpRef {
	h := blake3.New()
	_, _ = h.Write([]byte(tokenIDDomain))
	_, _ = h.Write(tokenBytes)
	digest := h.Sum(nil)
	var ref ids.OpRef
	copy(ref[:], digest[:ids.OpRefLen])
	return ref
}

// sigStructure builds the COSE Sig_structure ("Signature1" context, RFC
// 8152 §4.4) that is actually signed: a 4-element CBOR array of
// [context, body_protected, external_aad, payload].
func sigStructure(protected, payload []byte) ([]byte, error) {
	return cbor.Marshal([]interface{}{
		"Signature1",
		protected,
		[]byte{},
		payload,
	})
}

// IssueCapabilityToken builds, signs, and CBOR-encodes a capability token.
// issuerPriv signs; the token embeds issuer (base58 ReplicaId), the
// confirmation key (the replica the token is issued to), and the capability
// grants.
func IssueCapabilityToken(issuerPriv ed25519.PrivateKey, issuer, audience string, confirmationKey ids.ReplicaId, caps []Capability, issuedAt, expiresAt int64) ([]byte, error) {
	header, err := cbor.Marshal(protectedHeader{Alg: coseAlgEdDSA})
	if err != nil {
		return nil, fmt.Errorf("%w: encode protected header: %v", ErrMalformedToken, err)
	}

	claims := cwtClaims{
		Issuer:          issuer,
		Audience:        audience,
		ExpiresAt:       expiresAt,
		IssuedAt:        issuedAt,
		ConfirmationKey: confirmationKey[:],
		Caps:            toWireCaps(caps),
	}
	payload, err := cbor.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("%w: encode claims: %v", ErrMalformedToken, err)
	}

	toSign, err := sigStructure(header, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: build sig structure: %v", ErrMalformedToken, err)
	}
	sig := ed25519.Sign(issuerPriv, toSign)

	env := coseSign1{Protected: header, Payload: payload, Signature: sig}
	return cbor.Marshal(env)
}

// ParseCapabilityToken decodes the COSE_Sign1 CBOR envelope, verifies the
// Ed25519 signature against trust, and decodes the CWT claims payload.
func ParseCapabilityToken(tokenBytes []byte, trust *TrustSet, issuerReplica ids.ReplicaId) (*CapabilityToken, error) {
	var env coseSign1
	if err := cbor.Unmarshal(tokenBytes, &env); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", ErrMalformedToken, err)
	}

	var header protectedHeader
	if err := cbor.Unmarshal(env.Protected, &header); err != nil {
		return nil, fmt.Errorf("%w: decode protected header: %v", ErrMalformedToken, err)
	}
	if header.Alg != coseAlgEdDSA {
		return nil, fmt.Errorf("%w: alg %d", ErrUnsupportedAlg, header.Alg)
	}

	pub, ok := trust.PublicKey(issuerReplica)
	if !ok {
		return nil, ErrUntrustedIssuer
	}

	toVerify, err := sigStructure(env.Protected, env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: build sig structure: %v", ErrMalformedToken, err)
	}
	if !ed25519.Verify(pub, toVerify, env.Signature) {
		return nil, ErrSignatureMismatch
	}

	var claims cwtClaims
	if err := cbor.Unmarshal(env.Payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: decode claims: %v", ErrMalformedToken, err)
	}

	var confKey ids.ReplicaId
	copy(confKey[:], claims.ConfirmationKey)

	return &CapabilityToken{
		Audience:        claims.Audience,
		ConfirmationKey: confKey,
		Caps:            fromWireCaps(claims.Caps),
		ExpiresAt:       claims.ExpiresAt,
		IssuedAt:        claims.IssuedAt,
		raw:             tokenBytes,
	}, nil
}

func toWireCaps(caps []Capability) []wireCap {
	out := make([]wireCap, len(caps))
	for i, c := range caps {
		exclude := make([][]byte, len(c.Res.Exclude))
		for j, n := range c.Res.Exclude {
			b := make([]byte, ids.NodeIDLen)
			copy(b, n[:])
			exclude[j] = b
		}
		actions := make([]string, len(c.Actions))
		for j, a := range c.Actions {
			actions[j] = string(a)
		}
		root := make([]byte, ids.NodeIDLen)
		copy(root, c.Res.Root[:])
		out[i] = wireCap{
			Res:     wireScope{DocID: c.Res.DocID, Root: root, MaxDepth: c.Res.MaxDepth, Exclude: exclude},
			Actions: actions,
		}
	}
	return out
}

func fromWireCaps(wire []wireCap) []Capability {
	out := make([]Capability, len(wire))
	for i, w := range wire {
		var root ids.NodeId
		copy(root[:], w.Res.Root)
		exclude := make([]ids.NodeId, len(w.Res.Exclude))
		for j, b := range w.Res.Exclude {
			copy(exclude[j][:], b)
		}
		actions := make([]Action, len(w.Actions))
		for j, a := range w.Actions {
			actions[j] = Action(a)
		}
		out[i] = Capability{
			Res:     Scope{DocID: w.Res.DocID, Root: root, MaxDepth: w.Res.MaxDepth, Exclude: exclude},
			Actions: actions,
		}
	}
	return out
}
