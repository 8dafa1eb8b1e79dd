// Package metrics holds the Prometheus collectors exported by the workers.
package metrics

const namespace = "marina"

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
