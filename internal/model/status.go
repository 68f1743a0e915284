package model

import "github.com/rotisserie/eris"

// Status is the single pipeline state of a record. Stages select records by
// status; a record only ever advances along its domain's sequence or is reset
// one step back by the retry policy.
type Status string

const (
	StatusIngested            Status = "ingested"
	StatusWorkplaceBatched    Status = "llm_batches_generated"
	StatusWorkplaceClassified Status = "workplace_classified"
	StatusLocationBatched     Status = "location_batches_generated"
	StatusLocationClassified  Status = "location_classified"
	StatusGeocoded            Status = "geocoded"
	StatusEmbedded            Status = "embedded"

	// Terminal failure and invalidity states. Records are never deleted.
	StatusInvalid         Status = "invalid"
	StatusInvalidNonUS    Status = "invalid - non-us-location"
	StatusFailedWorkplace Status = "failed - llm-workplace-generation"
	StatusFailedLocation  Status = "failed - llm-location-generation"
)

// transitions is the validated state machine for record statuses. Rollbacks
// performed by the retry policy are listed explicitly; anything absent here is
// a programming error, not a runtime condition.
var transitions = map[Status][]Status{
	StatusIngested:            {StatusWorkplaceBatched},
	StatusWorkplaceBatched:    {StatusWorkplaceClassified, StatusIngested, StatusFailedWorkplace},
	StatusWorkplaceClassified: {StatusLocationBatched, StatusLocationClassified},
	StatusLocationBatched:     {StatusLocationClassified, StatusWorkplaceClassified, StatusFailedLocation, StatusInvalidNonUS},
	StatusLocationClassified:  {StatusGeocoded, StatusInvalid},
	StatusGeocoded:            {StatusEmbedded},
}

// CanTransition reports whether from -> to is a legal record status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates a status change and returns the new status.
func Transition(from, to Status) (Status, error) {
	if !CanTransition(from, to) {
		return from, eris.Errorf("model: illegal status transition %q -> %q", from, to)
	}
	return to, nil
}

// Terminal reports whether no stage will ever move the record again.
func (s Status) Terminal() bool {
	switch s {
	case StatusEmbedded, StatusInvalid, StatusInvalidNonUS, StatusFailedWorkplace, StatusFailedLocation:
		return true
	}
	return false
}

// Domain identifies one of the three independent enrichment domains, each of
// which runs the same generate/submit/poll/apply batch lifecycle.
type Domain string

const (
	DomainWorkplace Domain = "workplace"
	DomainLocation  Domain = "location"
	DomainEmbedding Domain = "embedding"
)

// EntryStatus is the record status a domain's generator selects on.
func (d Domain) EntryStatus() Status {
	switch d {
	case DomainWorkplace:
		return StatusIngested
	case DomainLocation:
		return StatusWorkplaceClassified
	default:
		return StatusGeocoded
	}
}

// GeneratedStatus is the status records carry while a batch is outstanding.
func (d Domain) GeneratedStatus() Status {
	switch d {
	case DomainWorkplace:
		return StatusWorkplaceBatched
	case DomainLocation:
		return StatusLocationBatched
	default:
		return StatusGeocoded
	}
}

// SuccessStatus is the status written when a result applies cleanly.
func (d Domain) SuccessStatus() Status {
	switch d {
	case DomainWorkplace:
		return StatusWorkplaceClassified
	case DomainLocation:
		return StatusLocationClassified
	default:
		return StatusEmbedded
	}
}

// FailureStatus is the terminal status after the retry budget is spent.
func (d Domain) FailureStatus() Status {
	switch d {
	case DomainWorkplace:
		return StatusFailedWorkplace
	case DomainLocation:
		return StatusFailedLocation
	default:
		// The embedding domain has no retry counter and no terminal failure
		// status; failed lines are simply re-selected on the next pass.
		return ""
	}
}

// MaxDomainRetries is the per-domain budget before a record is escalated to a
// terminal failure status and invalidated.
const MaxDomainRetries = 3

// EscalateOutcome is the result of routing one record failure through the
// retry policy.
type EscalateOutcome struct {
	Status Status
	Valid  bool
}

// Escalate decides between a single-step rollback and permanent failure.
// retries is the counter value after incrementing for the current failure.
func Escalate(d Domain, retries int) EscalateOutcome {
	if retries >= MaxDomainRetries {
		return EscalateOutcome{Status: d.FailureStatus(), Valid: false}
	}
	return EscalateOutcome{Status: d.EntryStatus(), Valid: true}
}
