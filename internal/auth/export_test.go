package auth

// SwapPasswordVerifier replaces the password check used by Login until the
// returned restore func runs.
func SwapPasswordVerifier(fn func(hash, password string) bool) (restore func()) {
	prev := verifyPassword
	verifyPassword = fn
	return func() { verifyPassword = prev }
}

var AbsentUserHash = absentUserHash
