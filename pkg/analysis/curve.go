package analysis

// CurveResult bundles the parameters extracted from one transfer curve.
type CurveResult struct {
	Gm    []float64 // Transconductance per sample (S)
	MaxGm float64
	Vt    ThresholdResult
	SS    SSResult
}

// AnalyzeCurve runs transconductance, threshold and subthreshold swing
// extraction on one curve swept along the gate voltage.
func AnalyzeCurve(vgs, ids []float64) CurveResult {
	gm := Transconductance(ids, vgs, DefaultGmOptions())

	var maxGm float64
	if len(gm) > 0 {
		maxGm = gm[argmax(gm)]
	}

	return CurveResult{
		Gm:    gm,
		MaxGm: maxGm,
		Vt:    ThresholdVoltage(gm, vgs, ids),
		SS:    SubthresholdSwing(ids, vgs),
	}
}
