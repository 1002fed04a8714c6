package pipeline

import "strings"

const (
	fieldSeparator = ","
	valueSeparator = "|"
	commaStandIn   = ";"
)

// formatHeader returns the header row for the given method names.
func formatHeader(names []string) string {
	fields := make([]string, 0, len(names)+2)
	fields = append(fields, "HOST")
	fields = append(fields, names...)
	fields = append(fields, "CHAIN")
	return strings.Join(fields, fieldSeparator)
}

// formatRow returns a data row: host, one field per method with its values
// joined by "|", then the chain. Commas inside values become ";" so the
// row splits on commas unambiguously.
func formatRow(host string, results [][]string, chain []string) string {
	fields := make([]string, 0, len(results)+len(chain)+1)
	fields = append(fields, sanitize(host))
	for _, values := range results {
		clean := make([]string, len(values))
		for i, v := range values {
			clean[i] = sanitize(v)
		}
		fields = append(fields, strings.Join(clean, valueSeparator))
	}
	for _, fp := range chain {
		fields = append(fields, sanitize(fp))
	}
	return strings.Join(fields, fieldSeparator)
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, fieldSeparator, commaStandIn)
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}
