package models

// LoginResult is the outcome of a login attempt that was not rejected.
// It is a sealed variant type: a login either establishes a session
// immediately, or parks in an awaiting-second-factor state that the caller
// completes with a separate OTP verification. Rejections travel on the
// error path (ErrInvalidCredentials, LockedOutError, ErrPasswordExpired).
type LoginResult interface {
	loginResult()
}

// SessionEstablished is a fully authenticated login.
type SessionEstablished struct {
	Session *Session
	Member  *Member
}

// AwaitingOTP means the password was accepted and a one-time code was sent;
// the session is not created until the code is verified. EmailHint is a
// masked form of the delivery address, safe to show.
type AwaitingOTP struct {
	EmailHint string
}

func (SessionEstablished) loginResult() {}
func (AwaitingOTP) loginResult()        {}
