package domain

// OutcomeKind is the result class of processing one event.
type OutcomeKind string

const (
	OutcomeCredited         OutcomeKind = "credited"
	OutcomeAlreadyProcessed OutcomeKind = "already_processed"
	OutcomeRejected         OutcomeKind = "rejected"
	OutcomeDeferred         OutcomeKind = "deferred"
	// OutcomeIgnored acknowledges an event that needs no action.
	OutcomeIgnored OutcomeKind = "ignored"
)

// OutcomeReason qualifies Rejected and Deferred outcomes.
type OutcomeReason string

const (
	ReasonMissingAccount     OutcomeReason = "missing_account"
	ReasonInvalidAmount      OutcomeReason = "invalid_amount"
	ReasonInvalidCurrency    OutcomeReason = "invalid_currency"
	ReasonCurrencyMismatch   OutcomeReason = "currency_mismatch"
	ReasonMalformedObject    OutcomeReason = "malformed_object"
	ReasonStorageUnavailable OutcomeReason = "storage_unavailable"
)

// Outcome drives the HTTP acknowledgement of a delivery.
type Outcome struct {
	Kind   OutcomeKind
	Reason OutcomeReason
	// Balance is the account balance after a credit, when known.
	Balance int64
}

func Credited(balance int64) Outcome {
	return Outcome{Kind: OutcomeCredited, Balance: balance}
}

func AlreadyProcessed() Outcome {
	return Outcome{Kind: OutcomeAlreadyProcessed}
}

func Rejected(reason OutcomeReason) Outcome {
	return Outcome{Kind: OutcomeRejected, Reason: reason}
}

func Deferred(reason OutcomeReason) Outcome {
	return Outcome{Kind: OutcomeDeferred, Reason: reason}
}

func Ignored() Outcome {
	return Outcome{Kind: OutcomeIgnored}
}

// Retryable reports whether the sender should redeliver.
func (o Outcome) Retryable() bool {
	return o.Kind == OutcomeDeferred
}
