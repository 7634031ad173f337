package handlers

import "github.com/gin-gonic/gin"

// AdminLogin is the panel sign-in. It issues the same tokens as Login but
// only for admin accounts.
func AdminLogin(d *Deps) gin.HandlerFunc {
	return login(d, "POST /api/v1/auth/admin/login", true)
}
