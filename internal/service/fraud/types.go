package fraud

// SignalKind identifies which evaluator produced a signal
type SignalKind string

const (
	SignalLocation    SignalKind = "location"
	SignalIPAddress   SignalKind = "ipAddress"
	SignalTransaction SignalKind = "transaction"
	SignalCardDetails SignalKind = "cardDetails"
)

// String returns the wire name of the signal
func (k SignalKind) String() string {
	return string(k)
}

// Signal is one evaluator's verdict with the evidence behind it
type Signal struct {
	Kind           SignalKind `json:"signal"`
	PotentialFraud bool       `json:"potentialFraud"`
	Details        []string   `json:"details"`
}

// ScoreResponse holds exactly one signal per evaluator, in evaluation order
type ScoreResponse struct {
	Signals []Signal `json:"signals"`
}

// Signal returns the signal of the given kind
func (r *ScoreResponse) Signal(kind SignalKind) (Signal, bool) {
	for _, s := range r.Signals {
		if s.Kind == kind {
			return s, true
		}
	}
	return Signal{}, false
}

// Flagged reports whether any signal indicates potential fraud
func (r *ScoreResponse) Flagged() bool {
	for _, s := range r.Signals {
		if s.PotentialFraud {
			return true
		}
	}
	return false
}

// FlaggedKinds lists the kinds that indicate potential fraud
func (r *ScoreResponse) FlaggedKinds() []SignalKind {
	var kinds []SignalKind
	for _, s := range r.Signals {
		if s.PotentialFraud {
			kinds = append(kinds, s.Kind)
		}
	}
	return kinds
}

// signalBuilder accumulates evidence for one signal
type signalBuilder struct {
	kind    SignalKind
	fraud   bool
	details []string
}

func newSignal(kind SignalKind) *signalBuilder {
	return &signalBuilder{kind: kind, details: make([]string, 0, 4)}
}

func (b *signalBuilder) flag(details ...string) {
	b.fraud = true
	b.details = append(b.details, details...)
}

func (b *signalBuilder) note(details ...string) {
	b.details = append(b.details, details...)
}

func (b *signalBuilder) build() Signal {
	return Signal{Kind: b.kind, PotentialFraud: b.fraud, Details: b.details}
}
