package intelligence

// analyzeConsensus counts, per document type, the methods voting for it
// with confidence above the vote floor. Failed methods do not vote; a
// desconocido verdict above the floor votes like any other type. The best type is the one with most votes, then highest average
// confidence; ties keep the type that was voted first.
func analyzeConsensus(results MethodResultSet, cfg ArbitrationConfig) ConsensusAnalysis {
	type tally struct {
		confidences []float64
		methods     []Method
	}

	var order []DocumentType
	votes := make(map[DocumentType]*tally)
	total := 0

	for _, m := range resultOrder {
		r, ok := results[m]
		if !ok || r.Failed() || r.Confidence <= cfg.VoteFloor {
			continue
		}
		t, seen := votes[r.Type]
		if !seen {
			t = &tally{}
			votes[r.Type] = t
			order = append(order, r.Type)
		}
		t.confidences = append(t.confidences, r.Confidence)
		t.methods = append(t.methods, m)
		total++
	}

	analysis := ConsensusAnalysis{
		Stats:        make(map[DocumentType]ConsensusStats, len(votes)),
		TotalMethods: total,
	}

	for _, dt := range order {
		t := votes[dt]
		sum, maxConf := 0.0, 0.0
		for _, c := range t.confidences {
			sum += c
			maxConf = max(maxConf, c)
		}
		analysis.Stats[dt] = ConsensusStats{
			VoteCount:         len(t.confidences),
			VotePercentage:    float64(len(t.confidences)) / float64(total),
			AvgConfidence:     sum / float64(len(t.confidences)),
			MaxConfidence:     maxConf,
			SupportingMethods: t.methods,
		}
	}

	for _, dt := range order {
		if analysis.Best == "" {
			analysis.Best = dt
			continue
		}
		cur, best := analysis.Stats[dt], analysis.Stats[analysis.Best]
		if cur.VoteCount > best.VoteCount ||
			(cur.VoteCount == best.VoteCount && cur.AvgConfidence > best.AvgConfidence) {
			analysis.Best = dt
		}
	}

	if analysis.Best != "" {
		best := analysis.Stats[analysis.Best]
		analysis.Strong = best.VoteCount >= cfg.StrongConsensusVotes && best.AvgConfidence >= cfg.StrongConsensusAvg
	}
	return analysis
}
