package weather

// NormalizeLon maps a longitude into the given convention. Applying it to an
// already normalized value returns the value unchanged.
func NormalizeLon(lon float64, conv LonConvention) float64 {
	switch conv {
	case Lon360:
		if lon >= 0 {
			return lon
		}
		return lon + 360
	default:
		if lon > 180 {
			return lon - 360
		}
		return lon
	}
}

// Normalize converts the box into the convention a model's subset stage
// expects. Each longitude bound is converted independently; latitude passes
// through. A nil box stays nil (global).
//
// Boxes that wrap (ulx > lrx once converted) are rejected rather than split.
func (b *BBox) Normalize(conv LonConvention) (*BBox, error) {
	if b == nil {
		return nil, nil
	}
	if b.LRY >= b.ULY {
		return nil, invalidf("bbox south %v must be below north %v", b.LRY, b.ULY)
	}

	out := &BBox{
		ULX: NormalizeLon(b.ULX, conv),
		ULY: b.ULY,
		LRX: NormalizeLon(b.LRX, conv),
		LRY: b.LRY,
	}
	if out.ULX > out.LRX {
		return nil, invalidf("bbox wraps the %s meridian (ulx %v > lrx %v); split the request", wrapMeridian(conv), out.ULX, out.LRX)
	}
	return out, nil
}

func wrapMeridian(conv LonConvention) string {
	if conv == Lon360 {
		return "0°"
	}
	return "180°"
}
