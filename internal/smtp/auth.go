package smtp

import "encoding/base64"

// LoginCredentials holds the username and password for AUTH LOGIN.
type LoginCredentials struct {
	Username string
	Password string
}

// Enabled returns true if both username and password are set.
func (c LoginCredentials) Enabled() bool {
	return c.Username != "" && c.Password != ""
}

// responses returns the two base64 lines sent after the server's 334
// challenges: username first, then password.
func (c LoginCredentials) responses() (string, string) {
	return base64.StdEncoding.EncodeToString([]byte(c.Username)),
		base64.StdEncoding.EncodeToString([]byte(c.Password))
}
