package sample

// Downsample reduces samples to at most maxPoints entries by simple decimation.
// Destination-based: reuses dst if it has sufficient capacity, otherwise allocates new.
// maxPoints <= 0 disables decimation and copies everything.
func Downsample(dst []Sample, samples []Sample, maxPoints int) []Sample {
	if maxPoints <= 0 || len(samples) <= maxPoints {
		if cap(dst) >= len(samples) {
			dst = dst[:len(samples)]
			copy(dst, samples)
			return dst
		}
		result := make([]Sample, len(samples))
		copy(result, samples)
		return result
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]Sample, 0, maxPoints)
	}

	// Keep the newest sample so live views end on the latest reading
	if maxPoints == 1 {
		return append(dst, samples[len(samples)-1])
	}
	step := float64(len(samples)-1) / float64(maxPoints-1)

	for i := range maxPoints {
		idx := int(float64(i)*step + 0.5)
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		dst = append(dst, samples[idx])
	}

	return dst
}
