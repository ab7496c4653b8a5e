package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/maltedev/retail-scraper/internal/models"
)

var (
	numberPattern       = regexp.MustCompile(`\d+\.?\d*`)
	integerPattern      = regexp.MustCompile(`\d+`)
	deliveryDaysPattern = regexp.MustCompile(`(?i)(\d+)\s*(?:-\s*)?(?:business\s+)?days?`)

	priceStripper = strings.NewReplacer("$", "", ",", "", "€", "", "£", "", "USD", "")

	outOfStockMarkers = []string{"out of stock", "unavailable", "sold out"}
	limitedMarkers    = []string{"limited", "only"}
)

// NormalizePrice parses strings such as "$1,299.00", "19.99 USD" or
// "$19.99 - $29.99" (lower bound of a range). It returns nil when no number
// is present.
func NormalizePrice(text string) *float64 {
	if text == "" {
		return nil
	}

	clean := priceStripper.Replace(text)
	if i := strings.Index(clean, "-"); i >= 0 {
		clean = strings.TrimSpace(clean[:i])
	}

	match := numberPattern.FindString(clean)
	if match == "" {
		return nil
	}

	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return nil
	}
	return &v
}

// Availability is the structured form of a stock status string.
type Availability struct {
	InStock  *bool
	Quantity *int
	Status   string
}

func ParseAvailability(text *string) Availability {
	if text == nil || *text == "" {
		return Availability{Status: models.StockUnknown}
	}

	lower := strings.ToLower(*text)

	for _, marker := range outOfStockMarkers {
		if strings.Contains(lower, marker) {
			inStock, qty := false, 0
			return Availability{InStock: &inStock, Quantity: &qty, Status: models.StockOutOfStock}
		}
	}

	inStock := true
	for _, marker := range limitedMarkers {
		if strings.Contains(lower, marker) {
			return Availability{InStock: &inStock, Quantity: firstInt(*text), Status: models.StockLimited}
		}
	}

	return Availability{InStock: &inStock, Status: models.StockInStock}
}

// NormalizeRating returns the first number in text when it lies in [0, 5].
func NormalizeRating(text string) *float64 {
	match := numberPattern.FindString(text)
	if match == "" {
		return nil
	}

	v, err := strconv.ParseFloat(match, 64)
	if err != nil || v < 0 || v > 5 {
		return nil
	}
	return &v
}

// ParseCount returns the first integer in text, ignoring thousands
// separators ("1,234 ratings" is 1234).
func ParseCount(text string) *int {
	return firstInt(strings.ReplaceAll(text, ",", ""))
}

// ParseDeliveryDays understands "Arrives in 3 days" and "2-day shipping".
func ParseDeliveryDays(text string) *int {
	m := deliveryDaysPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

func IsFreeShipping(text string) bool {
	return strings.Contains(strings.ToLower(text), "free")
}

func firstInt(text string) *int {
	match := integerPattern.FindString(text)
	if match == "" {
		return nil
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return nil
	}
	return &n
}
