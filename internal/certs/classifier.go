// Package certs derives certificate health and certificate-transparency
// anomaly state from stored check metadata.
//
// Classification is a pure function over a monitor's most recent
// certificate-bearing check result and its most recent CT scan. The two
// classifications are reported side by side and never merged.
package certs

import "vigil/internal/storage"

// CertState is the health classification of a served certificate.
type CertState string

const (
	CertExpired      CertState = "expired"
	CertExpiringSoon CertState = "expiringSoon"
	CertHealthy      CertState = "healthy"
	CertUnknown      CertState = "unknown"
)

// CTState is the certificate-transparency anomaly classification.
type CTState string

const (
	CTUnexpected CTState = "unexpected"
	CTNew        CTState = "new"
	CTHealthy    CTState = "healthy"
	CTError      CTState = "error"
	CTDisabled   CTState = "disabled"
)

// expiringSoonDays is the inclusive upper bound for the expiringSoon window.
const expiringSoonDays = 30

// Classification pairs the two independent states for reporting.
type Classification struct {
	Certificate CertState `json:"certificate"`
	CT          CTState   `json:"ct"`
}

// ClassifyCertificate classifies certificate health from days-until-expiry.
// A nil value means no certificate info has been recorded yet.
func ClassifyCertificate(daysUntilExpiry *int) CertState {
	if daysUntilExpiry == nil {
		return CertUnknown
	}

	switch {
	case *daysUntilExpiry < 0:
		return CertExpired
	case *daysUntilExpiry <= expiringSoonDays:
		return CertExpiringSoon
	default:
		return CertHealthy
	}
}

// ClassifyCT classifies certificate-transparency state from the latest scan.
// A nil scan means CT scanning has never run for the monitor.
//
// Unexpected certificates take precedence over newly observed ones.
func ClassifyCT(scan *storage.CTScanResult) CTState {
	if scan == nil {
		return CTDisabled
	}

	if !scan.Succeeded {
		return CTError
	}

	switch {
	case scan.UnexpectedCertificates > 0:
		return CTUnexpected
	case scan.NewCertificates > 0:
		return CTNew
	default:
		return CTHealthy
	}
}

// Classify combines both classifications for a monitor. Either input may be
// nil; absence of data is a valid terminal state, not an error.
func Classify(latest *storage.CheckResult, scan *storage.CTScanResult) Classification {
	var days *int
	if latest != nil {
		days = latest.CertDaysUntilExpiry
	}

	return Classification{
		Certificate: ClassifyCertificate(days),
		CT:          ClassifyCT(scan),
	}
}
