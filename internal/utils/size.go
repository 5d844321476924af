package utils

import (
	"strconv"
	"strings"
)

const byteUnitStep = 1024

var byteUnitLabels = [...]string{"b", "kb", "mb", "gb", "tb", "pb"}

// FormatFileSize renders a byte count with a lower-case unit, e.g. "512b", "1.5kb", "20kb".
// Values under ten keep one decimal place; negative counts render as "0b".
func FormatFileSize(bytes int64) string {
	if bytes < byteUnitStep {
		return strconv.FormatInt(max(bytes, 0), 10) + byteUnitLabels[0]
	}
	scaled := float64(bytes)
	unitIndex := 0
	for scaled >= byteUnitStep && unitIndex < len(byteUnitLabels)-1 {
		scaled /= byteUnitStep
		unitIndex++
	}
	precision := 0
	if scaled < 10 {
		precision = 1
	}
	formatted := strings.TrimSuffix(strconv.FormatFloat(scaled, 'f', precision, 64), ".0")
	return formatted + byteUnitLabels[unitIndex]
}
