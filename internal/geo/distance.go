package geo

import (
	"math"
	"sort"

	"github.com/shenikar/emergency_response_system/internal/models"
)

// EarthRadiusMeters - средний радиус Земли
const EarthRadiusMeters = 6371000.0

// DistanceMeters возвращает расстояние по большому кругу между двумя точками (формула гаверсинуса)
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLon := degreesToRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(degreesToRadians(lat1))*math.Cos(degreesToRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// ValidPoint проверяет, что координаты конечны и лежат в допустимых пределах
func ValidPoint(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Rank линейно ранжирует учреждения по удалённости от точки и возвращает первые limit.
// При равных расстояниях порядок определяется идентификатором учреждения.
func Rank(lat, lon float64, facilities []*models.Facility, limit int) []models.RankedFacility {
	ranked := make([]models.RankedFacility, 0, len(facilities))
	for _, f := range facilities {
		ranked = append(ranked, models.RankedFacility{
			Facility:       f,
			DistanceMeters: DistanceMeters(lat, lon, f.Latitude, f.Longitude),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].DistanceMeters != ranked[j].DistanceMeters {
			return ranked[i].DistanceMeters < ranked[j].DistanceMeters
		}
		return ranked[i].Facility.ID.String() < ranked[j].Facility.ID.String()
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
