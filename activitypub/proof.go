package activitypub

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log"
	"strings"

	"github.com/deemkeen/loxodon/domain"
)

// RsaProofVerifier checks attached object integrity proofs. The signing
// key is resolved through the actor document named by the proof's
// verification method, so a cached actor avoids any network access.
type RsaProofVerifier struct {
	Resolver Resolver
}

type wireProof struct {
	Type               string `json:"type"`
	VerificationMethod string `json:"verificationMethod"`
	ProofValue         string `json:"proofValue"`
}

// VerifyProof returns true when at least one attached proof validates
// against the activity's signing bytes.
func (v *RsaProofVerifier) VerifyProof(ctx context.Context, activity *domain.Activity) bool {
	if len(activity.Proofs) == 0 {
		return false
	}

	payload, err := signingBytes(activity.Raw)
	if err != nil {
		log.Printf("Proof: failed to build signing bytes for %s: %v", activity.Id, err)
		return false
	}
	digest := sha256.Sum256(payload)

	for _, raw := range activity.Proofs {
		var proof wireProof
		if err := json.Unmarshal(raw, &proof); err != nil {
			continue
		}
		if proof.VerificationMethod == "" || proof.ProofValue == "" {
			continue
		}

		key, err := v.resolveKey(ctx, proof.VerificationMethod)
		if err != nil {
			log.Printf("Proof: failed to resolve key %s: %v", proof.VerificationMethod, err)
			continue
		}

		sig, err := base64.StdEncoding.DecodeString(proof.ProofValue)
		if err != nil {
			continue
		}

		if rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig) == nil {
			return true
		}
	}

	return false
}

func (v *RsaProofVerifier) resolveKey(ctx context.Context, verificationMethod string) (*rsa.PublicKey, error) {
	ownerURI := strings.Split(verificationMethod, "#")[0]

	actor, err := v.Resolver.ResolveActor(ctx, ownerURI)
	if err != nil {
		return nil, err
	}

	return ParsePublicKey(actor.PublicKey.PublicKeyPem)
}

// signingBytes re-encodes the activity without its proof field, with keys
// sorted, which is what json.Marshal of a map produces.
func signingBytes(raw json.RawMessage) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	delete(doc, "proof")
	return json.Marshal(doc)
}
