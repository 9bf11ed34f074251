package ledger

import (
	"strings"

	"github.com/caseledger/casecore/pkg/constant"
)

// AuthorityLevel is the integer authority derived from (actorKind,
// authorityProof) per spec.md §4.4.
type AuthorityLevel int

const (
	AuthoritySystemAutomated  AuthorityLevel = 1
	AuthorityHumanVerifier    AuthorityLevel = 2
	AuthorityHumanAdmin       AuthorityLevel = 3
	AuthorityExecutiveOverride AuthorityLevel = 4
)

// DeriveAuthority computes the AuthorityLevel for an actor. SYSTEM is always
// level 1. For HUMAN actors the authorityProof prefix selects the level:
// "EXEC:" -> 4, "ADMIN:" -> 3, anything else -> 2 (verifier).
func DeriveAuthority(kind ActorKind, authorityProof string) AuthorityLevel {
	if kind == ActorSystem {
		return AuthoritySystemAutomated
	}

	switch {
	case strings.HasPrefix(authorityProof, "EXEC:"):
		return AuthorityExecutiveOverride
	case strings.HasPrefix(authorityProof, "ADMIN:"):
		return AuthorityHumanAdmin
	default:
		return AuthorityHumanVerifier
	}
}

// ValidateSupersession enforces spec.md §3 invariant 3: a commit C may
// supersede a commit T only if authority(C) >= authority(T), SYSTEM may
// never supersede HUMAN, and equal authority requires explicit escalation
// (modeled here as "equal HUMAN authority is never permitted without a
// strictly higher proof" — casecore has no separate escalation-proof
// channel, so equal-authority HUMAN-over-HUMAN supersession is rejected
// outright, which is the strict reading of "forbidden without explicit
// escalation").
func ValidateSupersession(supersedingKind ActorKind, supersedingProof string, supersededKind ActorKind, supersededProof string) error {
	supersedingLevel := DeriveAuthority(supersedingKind, supersedingProof)
	supersededLevel := DeriveAuthority(supersededKind, supersededProof)

	if supersedingKind == ActorSystem && supersededKind == ActorHuman {
		return constant.ErrSystemCannotSupersedeHumanAuthority
	}

	if supersedingLevel < supersededLevel {
		return constant.ErrInsufficientAuthorityForSupersession
	}

	if supersedingLevel == supersededLevel {
		return constant.ErrEqualAuthoritySupersessionEscalation
	}

	return nil
}
