package dto

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken  string     `json:"access_token"`
	ExpiresInSec int64      `json:"expires_in_sec"`
	Me           MeResponse `json:"me"`
}

type MeResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type LogoutResponse struct {
	OK bool `json:"ok"`
}
