package models

// User represents a stored user record. The handle is the primary key and is
// immutable once created. Password holds the salted hash, or "" for a
// passwordless account; Salt is "" exactly when Password is "".
type User struct {
	Handle   string `json:"handle" dynamodbav:"handle"`
	Name     string `json:"name" dynamodbav:"name"`
	Password string `json:"-" dynamodbav:"password"`
	Salt     string `json:"-" dynamodbav:"salt"`
	Enabled  bool   `json:"enabled" dynamodbav:"enabled"`
	Admin    bool   `json:"admin" dynamodbav:"admin"`
	Created  int64  `json:"created" dynamodbav:"created"` // epoch milliseconds
}

// UserViewModel is the public projection returned by the list endpoint.
// Password only reports whether one is set, never the hash.
type UserViewModel struct {
	Handle   string `json:"handle"`
	Name     string `json:"name"`
	Created  int64  `json:"created"`
	Avatar   string `json:"avatar"`
	Password bool   `json:"password"`
}

// Invitation represents a registration invitation code record.
type Invitation struct {
	Code    string `json:"code" dynamodbav:"code"`
	Used    bool   `json:"used" dynamodbav:"used"`
	UsedBy  string `json:"used_by,omitempty" dynamodbav:"used_by"`
	UsedAt  int64  `json:"used_at,omitempty" dynamodbav:"used_at"`
	Created int64  `json:"created" dynamodbav:"created"`
}

// LoginRequest represents login request payload
type LoginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

// RegisterRequest represents registration request payload
type RegisterRequest struct {
	Handle          string `json:"handle"`
	Name            string `json:"name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	InvitationCode  string `json:"invitationCode,omitempty"`
}

// RecoverStep1Request asks for a recovery code to be issued for a handle.
type RecoverStep1Request struct {
	Handle string `json:"handle"`
}

// RecoverStep2Request redeems a recovery code. An empty NewPassword clears the
// password, producing a passwordless account.
type RecoverStep2Request struct {
	Handle      string `json:"handle"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword,omitempty"`
}

// MeResponse is the current-user projection for authenticated sessions.
type MeResponse struct {
	Handle  string `json:"handle"`
	Name    string `json:"name"`
	Admin   bool   `json:"admin"`
	Enabled bool   `json:"enabled"`
}
