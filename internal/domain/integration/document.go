package integration

import "strings"

const (
	// IndividualDocumentLength is the digit count of a CPF
	IndividualDocumentLength = 11
	// CompanyDocumentLength is the digit count of a CNPJ
	CompanyDocumentLength = 14
)

// NormalizeDocument keeps only the ASCII digits of a tax document.
func NormalizeDocument(document string) string {
	var b strings.Builder
	b.Grow(len(document))
	for _, r := range document {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsConsumerDefault reports whether a document is too short to identify a
// customer. Such orders belong to the anonymous final consumer.
func IsConsumerDefault(document string) bool {
	return len(NormalizeDocument(document)) < IndividualDocumentLength
}

// IsValidDocument accepts CPF and CNPJ digit counts.
func IsValidDocument(document string) bool {
	n := len(NormalizeDocument(document))
	return n == IndividualDocumentLength || n == CompanyDocumentLength
}

// SameDocument compares two documents by their normalized digits
func SameDocument(a, b string) bool {
	na := NormalizeDocument(a)
	return na != "" && na == NormalizeDocument(b)
}
