package rr

// Split halves a too-large packet per spec.md §4.3: a query packet splits
// its Answers (known-answer list) and sets TC on the first half; an answer
// packet splits its Answers and recomputes each half's Additionals from
// the surviving answers' own suggested companions. It returns the second
// half, or nil if the packet could not be reduced further (a single
// answer, or no answers at all); a nil result is not an error, and the
// transport then sends nothing further.
func (p *Packet) Split() *Packet {
	if len(p.Answers) < 2 {
		return nil
	}
	mid := len(p.Answers) / 2
	first := p.Answers[:mid]
	second := p.Answers[mid:]

	rest := &Packet{
		Header:    p.Header,
		Questions: p.Questions,
		Answers:   second,
	}
	p.Answers = first

	if p.IsAnswer() {
		p.Additionals = companionsFor(first)
		rest.Additionals = companionsFor(second)
	} else {
		p.Header.TC = true
		rest.Header.TC = false
	}
	return rest
}

// companionsFor flattens the Additional suggestions carried by each answer
// in answers, skipping records already present among the answers
// themselves.
func companionsFor(answers []*Record) []*Record {
	present := make(map[uint32]bool, len(answers))
	for _, r := range answers {
		present[r.Hash()] = true
	}
	var out []*Record
	for _, r := range answers {
		for _, companion := range r.Additional {
			h := companion.Hash()
			if present[h] {
				continue
			}
			present[h] = true
			out = append(out, companion)
		}
	}
	return out
}
