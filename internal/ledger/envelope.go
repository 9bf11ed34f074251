package ledger

// Envelope is the versioned payload wrapper every ledger commit carries
// (spec.md §4.6, §6). V1 is additive-only: future versions must remain
// backward compatible, and unrecognized versions are preserved opaquely
// rather than rejected, so that older processes replaying a newer ledger
// do not choke on events they don't yet understand.
type Envelope struct {
	EnvelopeVersion int            `json:"envelopeVersion"`
	Domain          string         `json:"domain"`
	Event           string         `json:"event"`
	Data            map[string]any `json:"data"`
}

// EnvelopeV1 is the only version casecore currently produces.
const EnvelopeV1 = 1

// NewEnvelope builds a V1 envelope.
func NewEnvelope(domain, event string, data map[string]any) Envelope {
	return Envelope{
		EnvelopeVersion: EnvelopeV1,
		Domain:          domain,
		Event:           event,
		Data:            data,
	}
}

// IsValidEnvelope is the type guard from spec.md §4.6: any envelope with a
// positive version and non-empty domain/event is considered
// replayable. Envelopes from versions this build doesn't recognize are
// still "valid" shape-wise (additive evolution) — callers that must
// special-case fields should check EnvelopeVersion directly.
func IsValidEnvelope(e Envelope) bool {
	return e.EnvelopeVersion > 0 && e.Domain != "" && e.Event != ""
}
