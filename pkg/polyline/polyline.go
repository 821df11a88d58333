// Package polyline implements the polyline5 encoding used by OSRM and
// Google services for compact route shapes.
// The algorithm is documented at:
// https://developers.google.com/maps/documentation/utilities/polylinealgorithm
package polyline

import (
	"math"
	"strings"
)

// precision is the standard polyline5 scaling factor (5 decimal places).
const precision = 1e5

// Decode unpacks a polyline5 string into GeoJSON positions, one
// [longitude, latitude] pair per point. The wire format stores latitude
// first; the axis swap happens here so callers only ever see GeoJSON
// order.
func Decode(encoded string) [][]float64 {
	if encoded == "" {
		return nil
	}

	positions := make([][]float64, 0, len(encoded)/4)
	index := 0
	lat := 0
	lon := 0

	for index < len(encoded) {
		latDelta, next := decodeValue(encoded, index)
		index = next
		lat += latDelta

		lonDelta, next := decodeValue(encoded, index)
		index = next
		lon += lonDelta

		positions = append(positions, []float64{
			float64(lon) / precision,
			float64(lat) / precision,
		})
	}

	return positions
}

// decodeValue reads one zigzag-encoded delta starting at index and
// returns it with the index of the next unread byte.
func decodeValue(encoded string, index int) (int, int) {
	shift := 0
	result := 0

	for index < len(encoded) {
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), index
	}
	return result >> 1, index
}

// Encode packs GeoJSON positions ([longitude, latitude] pairs) into a
// polyline5 string. Ordinates beyond the first two (altitude) are
// ignored; positions with fewer than two ordinates are skipped.
func Encode(positions [][]float64) string {
	var sb strings.Builder
	prevLat := 0
	prevLon := 0

	for _, pos := range positions {
		if len(pos) < 2 {
			continue
		}
		lat := int(math.Round(pos[1] * precision))
		lon := int(math.Round(pos[0] * precision))

		encodeValue(&sb, lat-prevLat)
		encodeValue(&sb, lon-prevLon)

		prevLat = lat
		prevLon = lon
	}

	return sb.String()
}

// encodeValue writes one delta in zigzag 5-bit chunks.
func encodeValue(sb *strings.Builder, value int) {
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}

	for value >= 0x20 {
		sb.WriteByte(byte((value&0x1f)|0x20) + 63)
		value >>= 5
	}
	sb.WriteByte(byte(value) + 63)
}
