package types

// redactedPlaceholder replaces secret values anywhere they would be printed.
const redactedPlaceholder = "***REDACTED***"

// SecretString holds credentials (the provider token, the database URL) so
// they cannot leak through fmt verbs or JSON encoding: both paths yield the
// redacted placeholder. Unmask returns the plaintext and is the only way
// out; call it at the point of use, never earlier.
type SecretString string

func (s SecretString) String() string {
	return redactedPlaceholder
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// Unmask returns the raw secret for handing to a driver or an Authorization
// header.
func (s SecretString) Unmask() string {
	return string(s)
}
