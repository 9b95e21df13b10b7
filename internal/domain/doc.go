// Package domain models seismic observations, the events they are clustered
// into, and the notification intents derived from those events.
//
// # Observations
//
// An [Observation] is one unit of raw evidence. Its [SourceKind] discriminates
// between unofficial short posts and official agency reports; the location
// signal, explicit quake parameters and alert level are optional and filled
// only by the sources able to state them. Observations are immutable after
// normalization and are applied at most once.
//
// A [ResolvedObservation] adds the resolved coordinate, toponym and, for
// unofficial posts, the credibility score and language consistency flag.
//
// # Events
//
// An [Event] is a clustered hypothesis of one physical earthquake. Its
// [EventState] moves Candidate -> Confirmed, and Retracted is terminal.
// [DisseminationState] only ever advances:
//
//	NotSent < Preliminary < Confirmed < WarningIssued
//
// Advancing from WarningIssued to Confirmed is a no-op.
//
// # Felt radius
//
// The felt radius in kilometres follows the empirical attenuation fit
//
//	min(800, exp(0.666*M + 1.2) * depth^0.2)
//
// with depth defaulting to 10 km. Unofficial events never carry a numeric
// magnitude; their radius is derived from a qualitative [IntensityLevel]
// guess instead. See [FeltRadius] and [IntensityLevel.MagnitudeGuess].
//
// # Identifiers
//
// Observation and notification ids are deterministic SHA-256 hashes of their
// identifying fields, so replays and re-deliveries collapse onto the same id.
// Event ids are random UUIDs assigned at creation. See [HashID].
package domain
