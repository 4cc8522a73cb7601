package query

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Sort directions as understood by $sort.
const (
	Ascending  = 1
	Descending = -1
)

// OrderDirection converts "asc" to Ascending and everything else to Descending.
// Values other than "asc" and "desc" are logged as a warning.
func OrderDirection(order string, logger *zap.Logger) int {
	switch strings.TrimSpace(order) {
	case "asc":
		return Ascending
	case "desc":
		return Descending
	default:
		if logger != nil {
			logger.Warn("unexpected sort order, using desc", zap.String("order", order))
		}
		return Descending
	}
}

// BuildSort returns a single key sort on field.
func BuildSort(field, order string, logger *zap.Logger) bson.D {
	return bson.D{{Key: field, Value: OrderDirection(order, logger)}}
}
