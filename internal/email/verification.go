package email

import (
	"fmt"
	"strings"
	"time"
)

// VerificationSubject is the subject line of every verification mail.
const VerificationSubject = "Kode Verifikasi Portal Magang UNSIKA"

// wib is Western Indonesia Time. A fixed zone keeps rendering independent
// of the host tzdata.
var wib = time.FixedZone("WIB", 7*60*60)

var indonesianMonths = [...]string{
	"Jan", "Feb", "Mar", "Apr", "Mei", "Jun",
	"Jul", "Agu", "Sep", "Okt", "Nov", "Des",
}

// Verification holds the per-user inputs of a verification mail.
// A zero ExpiresAt omits the expiry line.
type Verification struct {
	Name      string
	Code      string
	ExpiresAt time.Time
}

// ComposeVerification builds the verification message. It performs no I/O
// and reads no clock, so identical inputs yield identical messages.
func ComposeVerification(from, to string, v Verification) *Message {
	return &Message{
		From:    from,
		To:      to,
		Subject: VerificationSubject,
		Body:    verificationBody(v),
	}
}

func verificationBody(v Verification) string {
	name := strings.TrimSpace(v.Name)
	if name == "" {
		name = "pengguna"
	}

	lines := []string{
		fmt.Sprintf("Halo %s,", name),
		"",
		"Berikut kode verifikasi akun Portal Magang UNSIKA Anda:",
		fmt.Sprintf("Kode: %s", v.Code),
	}
	if !v.ExpiresAt.IsZero() {
		lines = append(lines, fmt.Sprintf("Berlaku hingga: %s (WIB)", FormatExpiry(v.ExpiresAt)))
	}
	lines = append(lines,
		"",
		"Masukkan kode ini pada halaman verifikasi untuk mengaktifkan akun Anda.",
		"Jika Anda tidak meminta kode ini, abaikan email ini.",
		"",
		"Terima kasih.",
	)

	return strings.Join(lines, "\n")
}

// FormatExpiry renders t in WIB using the Indonesian medium date and short
// time style, e.g. "19 Okt 2026, 21.30".
func FormatExpiry(t time.Time) string {
	t = t.In(wib)
	return fmt.Sprintf("%d %s %d, %02d.%02d",
		t.Day(), indonesianMonths[t.Month()-1], t.Year(), t.Hour(), t.Minute())
}
