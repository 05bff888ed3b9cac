package models

// timestampLayout matches the upstream contract consumed by existing callers.
const timestampLayout = "2006-01-02 15:04:05"

// FormattedRecord is the API-facing projection of a Record.
type FormattedRecord struct {
	Name           string `json:"name"`
	Domain         string `json:"domain"`
	ServiceLicence string `json:"service_licence"`
	LastUpdate     string `json:"last_update"`
	IsHistorical   bool   `json:"is_historical"`
}

// Format projects a stored record into its API shape.
func Format(r *Record) FormattedRecord {
	return FormattedRecord{
		Name:           r.CompanyName,
		Domain:         r.Domain,
		ServiceLicence: r.ServiceLicence,
		LastUpdate:     r.UpdatedAt.Format(timestampLayout),
		IsHistorical:   r.IsHistorical,
	}
}

// FormatAll projects a record list, never returning nil so responses always
// serialize data as an array.
func FormatAll(records []*Record) []FormattedRecord {
	out := make([]FormattedRecord, 0, len(records))
	for _, r := range records {
		out = append(out, Format(r))
	}
	return out
}

// SearchResponse is the envelope every query endpoint returns. Status 0 means
// the lookup ran; an empty Data is a successful "nothing registered" answer,
// not an error.
type SearchResponse struct {
	Status       int               `json:"status"`
	ErrorMessage string            `json:"error_message"`
	Data         []FormattedRecord `json:"data"`
}
