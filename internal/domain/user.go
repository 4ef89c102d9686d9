package domain

// UserRole 定义用户角色类型
type UserRole string

const (
	UserRoleAdmin UserRole = "admin" // 店铺管理员
)

// User 已认证的管理员身份，由令牌解析得到并显式传入管理操作
type User struct {
	Username string   `json:"username"`
	Role     UserRole `json:"role"`
}

// IsAdmin 判断用户是否为管理员
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == UserRoleAdmin
}

// LoginRequest 管理员登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录成功的响应
type LoginResponse struct {
	User        *User  `json:"user"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}
