package activitypub

import (
	"context"
	"log"

	"github.com/deemkeen/loxodon/domain"
)

// VerifyActivity establishes that an activity really originates from its
// claimed author. Activities carrying integrity proofs are checked
// cryptographically without touching the network; everything else is
// re-fetched from its origin and compared against the inbound copy.
//
// Returns the trusted representation to continue with. When the origin
// serves the full activity, that fetched copy replaces the inbound one so
// the embedded object cannot have been tampered with in transit. Some
// servers serve only the content object instead; then the inbound activity
// is kept and the object identifiers are cross-checked.
func (p *Processor) VerifyActivity(ctx context.Context, activity *domain.Activity) (*domain.Activity, bool) {
	if len(activity.Proofs) > 0 {
		log.Printf("Verify: checking %s with attached proof(s)", activity.Id)
		if p.Proofs != nil && p.Proofs.VerifyProof(ctx, activity) {
			return activity, true
		}
		log.Printf("Verify: proof(s) on %s did not validate", activity.Id)
		return nil, false
	}

	if activity.Id == "" {
		return nil, false
	}

	log.Printf("Verify: checking %s with network lookup", activity.Id)

	fetched, err := p.Resolver.ResolveObject(ctx, activity.Id)
	if err != nil {
		log.Printf("Verify: lookup of %s failed: %v", activity.Id, err)
		return nil, false
	}

	if remote, parseErr := domain.ParseActivity(fetched); parseErr == nil && remote.Type == activity.Type {
		if remote.Id != activity.Id {
			log.Printf("Verify: local and remote activity id mismatch for %s", activity.Id)
			return nil, false
		}

		remoteOrigin := domain.Origin(remote.Id)
		if remoteOrigin == "" || remoteOrigin != domain.Origin(remote.Actor.Id) {
			log.Printf("Verify: remote activity and actor origin mismatch for %s", activity.Id)
			return nil, false
		}

		return remote, true
	}

	// Origin served the content object rather than the activity. Keep the
	// inbound activity but insist the object identifiers line up.
	fetchedId := objectId(fetched)
	if fetchedId == "" || fetchedId != activity.Object.Id {
		log.Printf("Verify: lookup returned object with id mismatch for %s", activity.Id)
		return nil, false
	}

	return activity, true
}
