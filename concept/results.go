package concept

// Classification is the outcome of asking whether an entity falls under a concept.
type Classification struct {
	Entity    Entity  `json:"entity"`
	Verdict   Verdict `json:"verdict"`
	Rationale string  `json:"rationale"`
}

// CounterexampleProposal is the opponent's claim that an entity belongs to the
// concept's extension even though the current definition misclassifies it.
type CounterexampleProposal struct {
	Counterexample string `json:"counterexample"`
	Rationale      string `json:"rationale"`
}

// CounterexampleValidation records whether a counterexample defeats the definition.
type CounterexampleValidation struct {
	Counterexample string  `json:"counterexample"`
	Description    string  `json:"description"`
	Verdict        Verdict `json:"verdict"`
	Rationale      string  `json:"rationale"`
}

// DefinitionRevision is a proposed new definition. It has no effect until
// the caller applies it.
type DefinitionRevision struct {
	Counterexample string `json:"counterexample"`
	Description    string `json:"description"`
	Definition     string `json:"definition"`
	Rationale      string `json:"rationale"`
}

// Apply commits the revision, returning the revised concept.
func (r DefinitionRevision) Apply(c Concept) (Concept, error) {
	return c.WithDefinition(r.Definition)
}
