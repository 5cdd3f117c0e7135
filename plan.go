package cmaf

// SegmentPlan is one planned output segment: samples
// [StartSample, EndSample) starting at decode time StartTime with total
// duration Dur. Consecutive plans tile the sample timeline exactly.
type SegmentPlan struct {
	StartSample int
	EndSample   int // exclusive
	StartTime   uint64
	Dur         uint32
}

// PlanSegments partitions the sample sequence into segments whose average
// duration approaches targetMs milliseconds at the given timescale. A
// segment closes only once its accumulated duration strictly exceeds the
// proportional target threshold, and the triggering sample opens the next
// segment, so segments land at or slightly above the target rather than
// under it. The final segment covers whatever remains and may be shorter
// than one full target duration.
func PlanSegments(samples []Sample, timescale uint32, targetMs float64) []SegmentPlan {
	if len(samples) == 0 {
		return nil
	}
	var plans []SegmentPlan
	segmentNr := 1
	startNr := 0
	startTime := samples[0].Start
	var accTime uint64
	for i, sample := range samples {
		accTime += uint64(sample.Dur)
		if i > startNr && float64(accTime)*1000 > float64(segmentNr)*targetMs*float64(timescale) {
			end := samples[i-1]
			endTime := end.Start + uint64(end.Dur)
			plans = append(plans, SegmentPlan{
				StartSample: startNr,
				EndSample:   i,
				StartTime:   startTime,
				Dur:         uint32(endTime - startTime),
			})
			startNr = i
			startTime = sample.Start
			segmentNr++
		}
	}
	// The loop only ever closes a segment at a triggering sample, which is
	// itself deferred, so at least one sample always remains here.
	end := samples[len(samples)-1]
	endTime := end.Start + uint64(end.Dur)
	plans = append(plans, SegmentPlan{
		StartSample: startNr,
		EndSample:   len(samples),
		StartTime:   startTime,
		Dur:         uint32(endTime - startTime),
	})
	return plans
}
